package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	blob "github.com/JakeFAU/cne-results-crawler/internal/storage"
)

const testBucket = "cne-assets"

func newTestStore(t *testing.T, prefix string, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: testBucket, Prefix: prefix})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads.Add(1)
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", testBucket))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "%PDF-1.4")
		assert.Contains(t, string(body), "application/pdf")
		assert.Contains(t, string(body), "results/2025/scans/pdf/HND_2025_JRV_00042.pdf")

		fmt.Fprintf(w, `{"name":"results/2025/scans/pdf/HND_2025_JRV_00042.pdf","bucket":%q,"size":"8"}`, testBucket)
	})
	store := newTestStore(t, "/results/2025/", handler)

	uri, err := store.PutObject(context.Background(), "scans/pdf/HND_2025_JRV_00042.pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "gs://cne-assets/results/2025/scans/pdf/HND_2025_JRV_00042.pdf", uri)
	assert.Equal(t, int32(1), uploads.Load())
}

func TestPutObjectReportsServerErrors(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := store.PutObject(context.Background(), "party_logos/Partido_1.png", "image/png", strings.NewReader("png"))
	require.Error(t, err)
}

func TestSizeReadsObjectAttributes(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch {
		case strings.HasSuffix(r.URL.Path, "/o/party_logos/Partido_1.png"):
			fmt.Fprintf(w, `{"name":"party_logos/Partido_1.png","bucket":%q,"size":"2048"}`, testBucket)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":404,"message":"No such object"}}`)
		}
	})
	store := newTestStore(t, "", handler)

	size, err := store.Size(context.Background(), "party_logos/Partido_1.png")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), size)

	_, err = store.Size(context.Background(), "party_logos/Partido_9.png")
	require.ErrorIs(t, err, blob.ErrNotFound)
}

func TestNewAndPathValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: testBucket})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.EqualError(t, err, "bucket name is required")

	store, err := New(client, Config{Bucket: testBucket})
	require.NoError(t, err)
	_, err = store.Size(context.Background(), "  ")
	require.EqualError(t, err, "path is required")
}
