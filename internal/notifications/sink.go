package notifications

import (
	"context"
	"log/slog"
	"time"

	"fieldsync/internal/logging"
	"fieldsync/internal/syncer"
)

const deliveryBudget = 15 * time.Second

// EventSink forwards alert-worthy hub events to a notification Service.
// Delivery happens off the publisher's goroutine so a slow ntfy endpoint
// never stalls a sync pass.
type EventSink struct {
	svc    Service
	logger *slog.Logger
}

// NewEventSink wires a Service to the event hub. A nil service disables
// the sink.
func NewEventSink(svc Service, logger *slog.Logger) *EventSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &EventSink{svc: svc, logger: logger}
}

// Append implements syncer.EventSink.
func (s *EventSink) Append(evt syncer.Event) {
	if s == nil || s.svc == nil {
		return
	}
	switch evt.Type {
	case syncer.EventSyncFailed:
		go s.deliver("item parked", func(ctx context.Context) error {
			return s.svc.NotifyItemParked(ctx, evt.ItemID, string(evt.Kind), evt.Error)
		})
	case syncer.EventSyncCompleted:
		if evt.Failed == 0 {
			return
		}
		go s.deliver("pass completed", func(ctx context.Context) error {
			return s.svc.NotifyPassCompleted(ctx, evt.Synced, evt.Failed, evt.Remaining)
		})
	}
}

func (s *EventSink) deliver(label string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryBudget)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.logger.Warn("notification delivery failed",
			logging.String("notification", label),
			logging.Error(err),
		)
	}
}
