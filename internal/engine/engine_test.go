package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	"github.com/JakeFAU/cne-results-crawler/internal/dispatcher"
	"github.com/JakeFAU/cne-results-crawler/internal/navigator"
	queuememory "github.com/JakeFAU/cne-results-crawler/internal/queue/memory"
	"github.com/JakeFAU/cne-results-crawler/internal/storage/memory"
	"github.com/JakeFAU/cne-results-crawler/internal/worker"
)

const base = "https://api.example"

type treeFetcher map[string]string

func (t treeFetcher) FetchNavigation(_ context.Context, url, _, _ string) []json.RawMessage {
	var items []json.RawMessage
	_ = json.Unmarshal([]byte(t[strings.TrimPrefix(url, base+"/actas-documentos/01/")]), &items)
	if items == nil {
		items = []json.RawMessage{}
	}
	return items
}

type countingBuilder struct {
	calls atomic.Int64
}

func (b *countingBuilder) Build(_ context.Context, item crawler.WorkItem) crawler.Record {
	b.calls.Add(1)
	rec := crawler.Record{StationID: item.StationID}
	rec.Candidates = []crawler.CandidateResult{{Votes: item.StationID}}
	rec.ComputeTotals()
	return rec
}

func tree() treeFetcher {
	return treeFetcher{
		"01/municipios":    `[{"id_municipio":"01","municipio":"A"},{"id_municipio":"02","municipio":"B"}]`,
		"01/01/00/zonas":   `[{"cod_zona":"01"}]`,
		"01/02/00/zonas":   `[{"cod_zona":"02"}]`,
		"01/01/01/puestos": `[{"id_puesto":"1","puesto":"C1"}]`,
		"01/02/02/puestos": `[{"id_puesto":"2","puesto":"C2"}]`,
		"01/01/01/1/mesas": `[{"numero":1},{"numero":2},{"numero":3}]`,
		"01/02/02/2/mesas": `[{"numero":4},{"numero":5}]`,
	}
}

type fixture struct {
	store    *memory.RecordStore
	builder  *countingBuilder
	counters *crawler.RunCounters
}

func newEngine(f fixture, queueDepth, workers int) *Engine {
	q := queuememory.NewQueue(queueDepth)
	runners := make([]dispatcher.Runner, 0, workers)
	for i := 0; i < workers; i++ {
		runners = append(runners, worker.New(q, f.store, f.builder, nil, nil, f.counters, worker.Config{}, zap.NewNop()))
	}
	nav := navigator.New(navigator.Config{
		BaseAPI:     base,
		Level:       "01",
		Departments: []navigator.Department{{ID: "01", Name: "Atlantida"}},
	}, tree(), f.store, q, f.counters, zap.NewNop())
	return New("run-test", nav, q, dispatcher.New(q, runners, nil), f.counters, nil, zap.NewNop())
}

func TestRunPersistsEveryStation(t *testing.T) {
	t.Parallel()

	f := fixture{store: memory.NewRecordStore(), builder: &countingBuilder{}, counters: &crawler.RunCounters{}}
	summary, err := newEngine(f, 2, 3).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, "run-test", summary.RunID)
	require.Equal(t, 5, f.store.Len())
	require.Equal(t, 5, summary.Navigator.Enqueued)
	require.Equal(t, int64(5), summary.Stations.Persisted)
	require.Zero(t, summary.Stations.Dropped)
	for id := int64(1); id <= 5; id++ {
		rec, ok := f.store.Get(id)
		require.True(t, ok)
		require.True(t, rec.TotalsConsistent())
	}
}

func TestSecondRunMakesNoUpstreamCalls(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore()
	first := fixture{store: store, builder: &countingBuilder{}, counters: &crawler.RunCounters{}}
	_, err := newEngine(first, 10, 2).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(5), first.builder.calls.Load())

	second := fixture{store: store, builder: &countingBuilder{}, counters: &crawler.RunCounters{}}
	summary, err := newEngine(second, 10, 2).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.builder.calls.Load())
	require.Equal(t, 5, summary.Navigator.Skipped)
	require.Equal(t, 5, store.Len())
	require.Equal(t, 5, store.Upserts())
}

type stuckWalker struct{}

func (stuckWalker) Walk(ctx context.Context) (navigator.Stats, error) {
	<-ctx.Done()
	return navigator.Stats{Departments: 1}, ctx.Err()
}

type recordingPool struct {
	stopped atomic.Bool
}

func (p *recordingPool) Run(ctx context.Context) {
	<-ctx.Done()
	p.stopped.Store(true)
}

func TestRunStopsPoolOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	pool := &recordingPool{}

	summary, err := New("run-x", stuckWalker{}, queuememory.NewQueue(1), pool, nil, nil, nil).Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "discover stations")
	require.True(t, pool.stopped.Load(), "pool must have returned before Run")
	require.Equal(t, 1, summary.Navigator.Departments)
}

func TestEngineExposesRunState(t *testing.T) {
	t.Parallel()

	counters := &crawler.RunCounters{}
	counters.Persisted.Add(3)
	e := New("run-state", stuckWalker{}, queuememory.NewQueue(1), &recordingPool{}, counters, nil, nil)
	require.False(t, e.Ready())
	require.True(t, e.StartedAt().IsZero())
	require.Equal(t, "run-state", e.RunID())
	require.Equal(t, int64(3), e.Counters().Persisted)
	require.Zero(t, e.QueueDepth())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _ = e.Run(ctx)
		close(done)
	}()
	require.Eventually(t, e.Ready, time.Second, 5*time.Millisecond)
	require.False(t, e.StartedAt().IsZero())
	cancel()
	<-done
}
