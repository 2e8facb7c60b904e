package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	pubmemory "github.com/JakeFAU/cne-results-crawler/internal/publisher/memory"
	queuememory "github.com/JakeFAU/cne-results-crawler/internal/queue/memory"
	"github.com/JakeFAU/cne-results-crawler/internal/storage/memory"
)

type fakeBuilder struct {
	mu    sync.Mutex
	built []int64
}

func (b *fakeBuilder) Build(_ context.Context, item crawler.WorkItem) crawler.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.built = append(b.built, item.StationID)
	rec := crawler.Record{StationID: item.StationID}
	rec.Audit.Status = crawler.AuditPublished
	rec.Candidates = []crawler.CandidateResult{{Votes: 10}, {Votes: 5}}
	rec.Stats.BlankVotes = 1
	rec.ComputeTotals()
	return rec
}

func (b *fakeBuilder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.built)
}

type failingStore struct {
	*memory.RecordStore
	upsertErr error
	existsErr error
}

func (s failingStore) Exists(ctx context.Context, id int64) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.RecordStore.Exists(ctx, id)
}

func (s failingStore) Upsert(ctx context.Context, rec crawler.Record) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.RecordStore.Upsert(ctx, rec)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("topic not found")
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func enqueueAll(t *testing.T, q *queuememory.Queue, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, q.Enqueue(context.Background(), crawler.WorkItem{StationID: id}))
	}
}

func TestWorkerPersistsAndPublishes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queuememory.NewQueue(4)
	store := memory.NewRecordStore()
	builder := &fakeBuilder{}
	pub := pubmemory.New()
	counters := &crawler.RunCounters{}
	now := time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)

	w := New(q, store, builder, pub, fixedClock{t: now}, counters,
		Config{Topic: "results", RunID: "run-1"}, zap.NewNop())
	enqueueAll(t, q, 11, 12)
	go w.Run(ctx)

	require.NoError(t, q.Join(ctx))
	require.Equal(t, 2, store.Len())
	rec, ok := store.Get(11)
	require.True(t, ok)
	require.Equal(t, int64(16), rec.Stats.TotalVotes)
	require.Equal(t, int64(2), counters.Persisted.Load())

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "results", msgs[0].Topic)
	require.Equal(t, Notification{
		RunID:      "run-1",
		StationID:  11,
		Status:     "Publicada",
		ValidVotes: 15,
		TotalVotes: 16,
		UpdatedAt:  now,
	}, msgs[0].Payload)
}

func TestWorkerSkipsPersistedStations(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queuememory.NewQueue(4)
	store := memory.NewRecordStore()
	require.NoError(t, store.Upsert(ctx, crawler.Record{StationID: 5}))
	builder := &fakeBuilder{}
	counters := &crawler.RunCounters{}

	w := New(q, store, builder, nil, nil, counters, Config{}, zap.NewNop())
	enqueueAll(t, q, 5, 6)
	go w.Run(ctx)

	require.NoError(t, q.Join(ctx))
	require.Equal(t, 1, builder.count(), "no upstream calls for a persisted station")
	require.Equal(t, int64(1), counters.Skipped.Load())
	require.Equal(t, int64(1), counters.Persisted.Load())
}

func TestWorkerDropsOnUpsertFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queuememory.NewQueue(4)
	store := failingStore{RecordStore: memory.NewRecordStore(), upsertErr: errors.New("disk full")}
	counters := &crawler.RunCounters{}
	pub := pubmemory.New()

	w := New(q, store, &fakeBuilder{}, pub, nil, counters, Config{Topic: "results"}, zap.NewNop())
	enqueueAll(t, q, 1, 2, 3)
	go w.Run(ctx)

	require.NoError(t, q.Join(ctx))
	require.Equal(t, int64(3), counters.Dropped.Load())
	require.Zero(t, counters.Persisted.Load())
	require.Empty(t, pub.Messages())
	require.Zero(t, q.Pending(), "dropped items are never re-enqueued")
}

func TestWorkerProceedsWhenExistenceCheckFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queuememory.NewQueue(1)
	inner := memory.NewRecordStore()
	store := failingStore{RecordStore: inner, existsErr: errors.New("database is locked")}

	w := New(q, store, &fakeBuilder{}, failingPublisher{}, nil, nil, Config{Topic: "results"}, zap.NewNop())
	enqueueAll(t, q, 9)
	go w.Run(ctx)

	require.NoError(t, q.Join(ctx))
	require.Equal(t, 1, inner.Len(), "publish failures do not undo persistence")
}

func TestWorkerPausesBeforeEachItem(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queuememory.NewQueue(2)
	builder := &fakeBuilder{}
	w := New(q, memory.NewRecordStore(), builder, nil, nil, nil,
		Config{PauseMin: 40 * time.Millisecond, PauseMax: 60 * time.Millisecond}, zap.NewNop())
	enqueueAll(t, q, 1, 2)

	start := time.Now()
	go w.Run(ctx)
	require.NoError(t, q.Join(ctx))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 2, builder.count())
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	w := New(q, memory.NewRecordStore(), &fakeBuilder{}, nil, nil, nil, Config{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	w := New(q, memory.NewRecordStore(), &fakeBuilder{}, nil, nil, nil, Config{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}
