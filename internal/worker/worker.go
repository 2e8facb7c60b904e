// Package worker implements the per-station processing loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	"github.com/JakeFAU/cne-results-crawler/internal/metrics"
	"github.com/JakeFAU/cne-results-crawler/internal/telemetry"
)

// Config controls Worker behavior.
type Config struct {
	// PauseMin and PauseMax bound the random pause taken before each item.
	PauseMin time.Duration
	PauseMax time.Duration
	// Topic receives one notification per persisted record when set.
	Topic string
	RunID string
}

// Notification is published after a record is persisted.
type Notification struct {
	RunID      string    `json:"run_id"`
	StationID  int64     `json:"id_jrv"`
	Status     string    `json:"estado_acta"`
	ValidVotes int64     `json:"votos_validos"`
	TotalVotes int64     `json:"votos_totales"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Worker consumes queue items, builds records, and persists them.
type Worker struct {
	queue     crawler.Queue
	store     crawler.RecordStore
	builder   crawler.RecordBuilder
	publisher crawler.Publisher
	clock     crawler.Clock
	counters  *crawler.RunCounters
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher and counters may be nil.
func New(
	queue crawler.Queue,
	store crawler.RecordStore,
	builder crawler.RecordBuilder,
	publisher crawler.Publisher,
	clock crawler.Clock,
	counters *crawler.RunCounters,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counters == nil {
		counters = &crawler.RunCounters{}
	}
	if cfg.PauseMax < cfg.PauseMin {
		cfg.PauseMax = cfg.PauseMin
	}
	return &Worker{
		queue:     queue,
		store:     store,
		builder:   builder,
		publisher: publisher,
		clock:     clock,
		counters:  counters,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.WorkItem) {
	defer w.queue.Done()
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := telemetry.Tracer().Start(ctx, "station.process",
		trace.WithAttributes(attribute.Int64("id_jrv", item.StationID)))
	defer span.End()

	logger := w.logger.With(zap.Int64("id_jrv", item.StationID))

	if err := crawler.Pause(ctx, crawler.RandomDuration(w.cfg.PauseMin, w.cfg.PauseMax)); err != nil {
		logger.Debug("worker pause interrupted", zap.Error(err))
		return
	}

	exists, err := w.store.Exists(ctx, item.StationID)
	if err != nil {
		logger.Warn("existence re-check failed", zap.Error(err))
	}
	if exists {
		w.counters.Skipped.Add(1)
		metrics.ObserveStation("skipped")
		span.SetAttributes(attribute.Bool("skipped", true))
		logger.Debug("station persisted by another worker")
		return
	}

	record := w.builder.Build(ctx, item)
	if err := w.store.Upsert(ctx, record); err != nil {
		w.counters.Dropped.Add(1)
		metrics.ObserveStation("dropped")
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		logger.Error("failed to persist station; dropping item", zap.Error(err))
		return
	}
	w.counters.Persisted.Add(1)
	metrics.ObserveStation("persisted")
	logger.Info("station persisted",
		zap.String("department", record.Geography.DepartmentName),
		zap.String("status", string(record.Audit.Status)),
		zap.Int64("valid_votes", record.Stats.ValidVotes),
		zap.Int64("total_votes", record.Stats.TotalVotes),
	)

	w.publish(ctx, record, logger)
}

func (w *Worker) publish(ctx context.Context, record crawler.Record, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	msg := Notification{
		RunID:      w.cfg.RunID,
		StationID:  record.StationID,
		Status:     string(record.Audit.Status),
		ValidVotes: record.Stats.ValidVotes,
		TotalVotes: record.Stats.TotalVotes,
		UpdatedAt:  w.now(),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, msg)
	if err != nil {
		logger.Warn("record notification failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("record notification published", zap.String("message_id", id))
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}
