// Package engine orchestrates one crawl: it starts the worker pool, walks the
// hierarchy, waits for the queue to drain, and stops the pool.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	"github.com/JakeFAU/cne-results-crawler/internal/navigator"
)

// Walker produces work items; navigator.Navigator satisfies it.
type Walker interface {
	Walk(ctx context.Context) (navigator.Stats, error)
}

// Pool consumes work items until its context is cancelled.
type Pool interface {
	Run(ctx context.Context)
}

// Joiner waits for every enqueued item to be marked done.
type Joiner interface {
	Join(ctx context.Context) error
	Len() int
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	RunID     string                   `json:"run_id"`
	StartedAt time.Time                `json:"started_at"`
	Elapsed   time.Duration            `json:"elapsed"`
	Navigator navigator.Stats          `json:"navigator"`
	Stations  crawler.CountersSnapshot `json:"stations"`
}

// Engine wires the producer, the queue, and the pool together.
type Engine struct {
	runID    string
	walker   Walker
	queue    Joiner
	pool     Pool
	counters *crawler.RunCounters
	clock    crawler.Clock
	logger   *zap.Logger

	mu      sync.RWMutex
	started time.Time
	ready   bool
}

// New constructs an Engine.
func New(
	runID string,
	walker Walker,
	queue Joiner,
	pool Pool,
	counters *crawler.RunCounters,
	clock crawler.Clock,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counters == nil {
		counters = &crawler.RunCounters{}
	}
	return &Engine{
		runID:    runID,
		walker:   walker,
		queue:    queue,
		pool:     pool,
		counters: counters,
		clock:    clock,
		logger:   logger,
	}
}

// Run executes one crawl. Workers are cancelled only after the queue has
// drained, or when ctx itself is cancelled.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	started := e.now()
	summary := Summary{RunID: e.runID, StartedAt: started}
	e.mu.Lock()
	e.started = started
	e.ready = true
	e.mu.Unlock()

	poolCtx, stopPool := context.WithCancel(ctx)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		e.pool.Run(poolCtx)
	}()

	stats, err := e.walker.Walk(ctx)
	summary.Navigator = stats
	if err == nil {
		e.logger.Info("hierarchy traversed; processing job queue",
			zap.Int("enqueued", stats.Enqueued),
			zap.Int("skipped", stats.Skipped),
		)
		if joinErr := e.queue.Join(ctx); joinErr != nil {
			err = fmt.Errorf("drain queue: %w", joinErr)
		}
	} else {
		err = fmt.Errorf("discover stations: %w", err)
	}

	stopPool()
	<-poolDone

	summary.Stations = e.counters.Snapshot()
	summary.Elapsed = e.now().Sub(started)
	e.logger.Info("run finished",
		zap.String("run_id", e.runID),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Int64("persisted", summary.Stations.Persisted),
		zap.Int64("dropped", summary.Stations.Dropped),
		zap.Int64("skipped", summary.Stations.Skipped),
		zap.Error(err),
	)
	return summary, err
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock.Now()
}

// RunID identifies this run.
func (e *Engine) RunID() string { return e.runID }

// StartedAt is zero until Run is called.
func (e *Engine) StartedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

// Ready reports whether Run has started.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Counters snapshots the live station counters.
func (e *Engine) Counters() crawler.CountersSnapshot {
	return e.counters.Snapshot()
}

// QueueDepth reports items waiting for a worker.
func (e *Engine) QueueDepth() int {
	return e.queue.Len()
}
