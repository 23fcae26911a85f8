package app

import (
	"context"
	"log/slog"
)

// eventEmitter publishes domain events on a single exchange. A failed publish is
// logged and never fails the operation that produced the event.
type eventEmitter struct {
	publisher Publisher
	exchange  string
	logger    *slog.Logger
}

func (e eventEmitter) emit(ctx context.Context, routingKey string, body interface{}) {
	if e.publisher == nil || e.exchange == "" {
		return
	}
	if err := e.publisher.Publish(ctx, e.exchange, routingKey, body); err != nil {
		e.logger.Warn("event publish failed", "exchange", e.exchange, "routing_key", routingKey, "error", err)
	}
}
