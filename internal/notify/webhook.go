package notify

import (
	"context"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/webhooks"
)

// WebhookSink enqueues outbound webhook deliveries for subscribed URLs.
type WebhookSink struct {
	Publisher *webhooks.Publisher
}

func (s WebhookSink) Name() string { return "webhook" }

func (s WebhookSink) Send(ctx context.Context, ev Event) error {
	if ev.Type == DriverLocation {
		return nil
	}
	data := map[string]any{"bookingId": ev.BookingID, "actor": ev.Actor, "booking": ev.Booking}
	for k, v := range ev.Data {
		data[k] = v
	}
	return s.Publisher.Emit(ctx, ev.Type, data)
}
