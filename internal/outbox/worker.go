// Package outbox delivers registry events written to the transactional
// outbox.
package outbox

//go:generate mockgen -destination=mocks/publisher.go -package=mocks propledger/internal/outbox Publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	registrymetrics "propledger/internal/registry/metrics"
	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
)

const (
	DefaultInterval  = time.Second
	DefaultBatchSize = 100
)

// Publisher delivers a batch of events. A batch is either delivered in full
// or reported as failed; partial deliveries are retried whole.
type Publisher interface {
	Publish(ctx context.Context, events []models.Event) error
}

// Worker polls the outbox and hands pending events to a publisher. Delivery
// is at least once; consumers dedupe on the event ID.
type Worker struct {
	outbox    ports.Outbox
	publisher Publisher
	logger    *slog.Logger
	metrics   *registrymetrics.Metrics
	interval  time.Duration
	batchSize int
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *registrymetrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func NewWorker(outbox ports.Outbox, publisher Publisher, opts ...Option) *Worker {
	w := &Worker{
		outbox:    outbox,
		publisher: publisher,
		logger:    slog.New(slog.DiscardHandler),
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains the outbox every interval until ctx is cancelled. Delivery
// failures are logged and retried on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		for {
			n, err := w.Drain(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.ErrorContext(ctx, "outbox delivery failed", "error", err)
				break
			}
			if n < w.batchSize || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain delivers one batch and returns how many events it published.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	events, err := w.outbox.PendingEvents(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}
	w.metrics.SetPending(len(events))
	if len(events) == 0 {
		return 0, nil
	}

	if err := w.publisher.Publish(ctx, events); err != nil {
		w.metrics.RecordPublishFailure()
		return 0, fmt.Errorf("publish %d events: %w", len(events), err)
	}

	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	if err := w.outbox.MarkPublished(ctx, ids); err != nil {
		return 0, fmt.Errorf("mark events published: %w", err)
	}
	w.metrics.RecordPublished(len(events))
	w.logger.DebugContext(ctx, "outbox events delivered", "count", len(events))
	return len(events), nil
}
