package assets

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/storage/memory"
)

type fakeGetter struct {
	mu    sync.Mutex
	calls map[string]int
	body  []byte
	err   error
}

func (g *fakeGetter) Get(_ context.Context, url string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string]int)
	}
	g.calls[url]++
	if g.err != nil {
		return nil, g.err
	}
	return g.body, nil
}

func (g *fakeGetter) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func TestDownloadIsIdempotent(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	getter := &fakeGetter{body: []byte("%PDF")}
	store := New(blobs, getter, zap.NewNop())
	ctx := context.Background()

	name, ok := store.Download(ctx, "https://cdn.example/doc.pdf?sig=1", "scans/pdf", "HND_2025_JRV_00042.pdf")
	require.True(t, ok)
	require.Equal(t, "HND_2025_JRV_00042.pdf", name)
	require.Equal(t, 1, getter.total())

	name, ok = store.Download(ctx, "https://cdn.example/doc.pdf?sig=2", "scans/pdf", "HND_2025_JRV_00042.pdf")
	require.True(t, ok)
	require.Equal(t, "HND_2025_JRV_00042.pdf", name)
	require.Equal(t, 1, getter.total(), "second call must not touch the network")

	data, ok := blobs.Object("scans/pdf/HND_2025_JRV_00042.pdf")
	require.True(t, ok)
	require.Equal(t, "%PDF", string(data))
	require.Equal(t, 1, blobs.Writes())
}

func TestDownloadEmptyURL(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{body: []byte("x")}
	store := New(memory.NewBlobStore(), getter, nil)

	name, ok := store.Download(context.Background(), "  ", "party_logos", "Partido_1.png")
	require.False(t, ok)
	require.Empty(t, name)
	require.Zero(t, getter.total())
}

func TestDownloadFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	store := New(blobs, &fakeGetter{err: errors.New("status 403")}, zap.NewNop())
	_, ok := store.Download(context.Background(), "https://cdn.example/logo.png", "party_logos", "Partido_1.png")
	require.False(t, ok)

	store = New(blobs, &fakeGetter{body: nil}, zap.NewNop())
	_, ok = store.Download(context.Background(), "https://cdn.example/logo.png", "party_logos", "Partido_1.png")
	require.False(t, ok)
	require.Zero(t, blobs.Writes())
}

func TestDownloadRefetchesEmptyObject(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(context.Background(), "party_logos/Cand_1_001.png", "image/png", bytes.NewReader(nil))
	require.NoError(t, err)

	getter := &fakeGetter{body: []byte("png")}
	store := New(blobs, getter, zap.NewNop())
	_, ok := store.Download(context.Background(), "https://cdn.example/c.png", "party_logos", "Cand_1_001.png")
	require.True(t, ok)
	require.Equal(t, 1, getter.total())
}

func TestContentType(t *testing.T) {
	t.Parallel()

	require.Equal(t, "application/pdf", contentType("a.PDF"))
	require.Equal(t, "image/png", contentType("Partido_1.png"))
	require.Equal(t, "application/octet-stream", contentType("blob"))
}
