package crawler

import (
	"context"
	"encoding/json"
	"time"
)

// RecordStore is the dedup/persistence boundary shared by the navigator and workers.
type RecordStore interface {
	Exists(ctx context.Context, stationID int64) (bool, error)
	Upsert(ctx context.Context, record Record) error
	Close() error
}

// ExistenceChecker is the read-only half of RecordStore.
type ExistenceChecker interface {
	Exists(ctx context.Context, stationID int64) (bool, error)
}

// Queue provides bounded enqueue/dequeue semantics for work items.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, error)
	// Done marks one previously dequeued item as finished.
	Done()
}

// Enqueuer is the producer side of a Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, item WorkItem) error
}

// DataFetcher issues data calls; ok is false when the upstream has nothing to contribute.
type DataFetcher interface {
	Fetch(ctx context.Context, method string, url string, body any) (payload json.RawMessage, ok bool)
}

// NavigationFetcher lists the child nodes of a hierarchy level. It never fails;
// an unreachable branch comes back empty. Level is a low-cardinality name
// (municipalities, zones, centers, stations); label identifies the branch in logs.
type NavigationFetcher interface {
	FetchNavigation(ctx context.Context, url string, level string, label string) []json.RawMessage
}

// Getter downloads a binary resource in a single attempt.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// AssetDownloader stores remote media under a deterministic filename.
type AssetDownloader interface {
	Download(ctx context.Context, url string, folder string, filename string) (string, bool)
}

// RecordBuilder assembles a best-effort Record for a work item.
type RecordBuilder interface {
	Build(ctx context.Context, item WorkItem) Record
}

// Publisher pushes record notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
