// Package events carries state changes out to the UI: an in-memory feed
// served by the API and an optional Redis channel the app subscribes to.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"prativedak/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Fanout delivers to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit stamps and publishes an event, logging instead of returning the
// error so state machines never stall on the feed.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, t model.EventType, sessionID string, data any) {
	if p == nil {
		return
	}
	ev := model.Event{Type: t, Timestamp: time.Now().UTC(), SessionID: sessionID, Data: data}
	if err := p.Publish(ctx, ev); err != nil && logger != nil {
		logger.Warn("event publish failed", "type", t, "session_id", sessionID, "error", err)
	}
}
