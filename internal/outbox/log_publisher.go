package outbox

import (
	"context"
	"log/slog"

	"propledger/internal/registry/models"
)

// LogPublisher writes events to a structured logger. It is used when no
// broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, events []models.Event) error {
	for _, e := range events {
		attrs := []any{
			"event_id", e.ID,
			"event_type", e.Type,
			"aggregate", e.AggregateKey(),
			"actor", e.Actor,
			"occurred_at", e.OccurredAt,
		}
		if e.RequestID != "" {
			attrs = append(attrs, "request_id", e.RequestID)
		}
		if e.Amount != nil {
			attrs = append(attrs, "amount_wei", e.Amount.String())
		}
		for k, v := range e.Attributes {
			attrs = append(attrs, k, v)
		}
		p.logger.InfoContext(ctx, "registry event", attrs...)
	}
	return nil
}
