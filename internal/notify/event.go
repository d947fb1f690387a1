// Package notify fans committed booking changes out to live listeners,
// outbound webhooks and the AMQP event bus. Delivery is best-effort: a
// failing sink is logged and counted, never reported to the caller.
package notify

import (
	"context"
	"time"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

// Event types published for booking changes.
const (
	BookingCreated          = "booking.created"
	BookingStageChanged     = "booking.stage_changed"
	BookingStatusChanged    = "booking.status_changed"
	BookingLegAssigned      = "booking.leg_assigned"
	BookingLegUnassigned    = "booking.leg_unassigned"
	BookingLegAdvanced      = "booking.leg_advanced"
	BookingPaymentRequested = "booking.payment_requested"
	BookingPaymentPaid      = "booking.payment_paid"
	BookingCancelled        = "booking.cancelled"

	// DriverLocation is live-only: brokers carry it, webhooks and AMQP do not.
	DriverLocation = "driver.location"
)

// EventTypes lists the booking events a webhook subscription may name.
var EventTypes = []string{
	BookingCreated, BookingStageChanged, BookingStatusChanged,
	BookingLegAssigned, BookingLegUnassigned, BookingLegAdvanced,
	BookingPaymentRequested, BookingPaymentPaid, BookingCancelled,
}

type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	BookingID string         `json:"bookingId"`
	Actor     model.Actor    `json:"actor"`
	Booking   *model.Booking `json:"booking,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	TS        time.Time      `json:"ts"`
}

// Notifier receives committed changes.
type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// Sink is one delivery target inside a Fanout.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
