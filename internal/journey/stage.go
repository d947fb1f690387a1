// Package journey holds the booking journey rules: stage progression, the
// two driver legs and the service payment checkpoint. Every function here
// mutates a *model.Booking in place and appends to its journal; callers are
// expected to run them inside a single atomic store update.
package journey

import (
	"time"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

// Stages is the fixed journey order.
var Stages = []model.Stage{
	model.StageBookingConfirmed,
	model.StageDriverEnRoute,
	model.StageCarPickedUp,
	model.StageAtGarage,
	model.StageServiceInProgress,
	model.StageDriverReturning,
	model.StageDelivered,
}

var progress = map[model.Stage]int{
	model.StageBookingConfirmed:  14,
	model.StageDriverEnRoute:     28,
	model.StageCarPickedUp:       42,
	model.StageAtGarage:          57,
	model.StageServiceInProgress: 72,
	model.StageDriverReturning:   86,
	model.StageDelivered:         100,
}

var stageMessages = map[model.Stage]string{
	model.StageBookingConfirmed:  "Booking confirmed",
	model.StageDriverEnRoute:     "Driver is on the way to collect the car",
	model.StageCarPickedUp:       "Car picked up",
	model.StageAtGarage:          "Car dropped at the garage",
	model.StageServiceInProgress: "Service in progress",
	model.StageDriverReturning:   "Driver is returning the car",
	model.StageDelivered:         "Car delivered",
}

var validStatus = map[model.Status]bool{
	model.StatusPending:    true,
	model.StatusInProgress: true,
	model.StatusCompleted:  true,
	model.StatusCancelled:  true,
}

// Index returns the position of s in the journey, or -1.
func Index(s model.Stage) int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Progress returns the percentage shown for s.
func Progress(s model.Stage) int { return progress[s] }

// ValidStage reports whether s is part of the journey.
func ValidStage(s model.Stage) bool { return Index(s) >= 0 }

// ValidStatus reports whether s is one of the allowed statuses.
func ValidStatus(s model.Status) bool { return validStatus[s] }

// NewBooking builds the initial record for a confirmed booking.
func NewBooking(id string, req model.BookingRequest, by string, now time.Time) model.Booking {
	b := model.Booking{
		ID:                   id,
		Customer:             req.Customer,
		Vehicle:              req.Vehicle,
		PickupAddress:        req.PickupAddress,
		PickupTime:           req.PickupTime,
		Garage:               req.Garage,
		ServiceType:          req.ServiceType,
		Notes:                req.Notes,
		EndToEnd:             req.EndToEnd,
		CurrentStage:         model.StageBookingConfirmed,
		OverallProgress:      Progress(model.StageBookingConfirmed),
		Status:               model.StatusPending,
		ServicePaymentStatus: model.PaymentNone,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	appendEntry(&b, stageMessages[model.StageBookingConfirmed], by, now)
	return b
}

// ApplyStageChange moves the booking to requested. Backwards moves need
// allowRegression and never touch status. Landing on delivered always sets
// status completed, including a repeat edit of a delivered booking.
func ApplyStageChange(b *model.Booking, requested model.Stage, message string, allowRegression bool, by string, now time.Time) error {
	to := Index(requested)
	if to < 0 {
		return with(ErrUnknownStage, string(b.CurrentStage), string(requested))
	}
	from := Index(b.CurrentStage)
	if to < from && !allowRegression {
		return with(ErrRegressionNotAllowed, string(b.CurrentStage), string(requested))
	}
	if requested == model.StageDelivered && b.PaymentState() != model.PaymentPaid {
		return with(ErrDeliveryRequiresPayment, string(b.PaymentState()), string(model.PaymentPaid))
	}
	b.CurrentStage = requested
	b.OverallProgress = Progress(requested)
	switch {
	case requested == model.StageDelivered:
		b.Status = model.StatusCompleted
	case to > from && b.Status == model.StatusPending:
		b.Status = model.StatusInProgress
	}
	if message == "" {
		message = stageMessages[requested]
	}
	appendEntry(b, message, by, now)
	return nil
}

// AdvanceStageTo applies a forward-only stage change. It reports false when
// the booking is already at or past requested.
func AdvanceStageTo(b *model.Booking, requested model.Stage, message, by string, now time.Time) (bool, error) {
	if Index(requested) <= Index(b.CurrentStage) {
		return false, nil
	}
	if err := ApplyStageChange(b, requested, message, false, by, now); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyStatusChange sets the coarse status from the allowed set. Beyond
// membership in that set, completed is only accepted once the booking is
// delivered and paid, so a completed booking always satisfies the delivery
// rule. Cancelling through a status edit also records the cancellation so the
// booking becomes terminal.
func ApplyStatusChange(b *model.Booking, requested model.Status, message, by string, now time.Time) error {
	if !ValidStatus(requested) {
		return with(ErrInvalidStatus, string(b.Status), string(requested))
	}
	if requested == model.StatusCompleted &&
		(b.CurrentStage != model.StageDelivered || b.PaymentState() != model.PaymentPaid) {
		return with(ErrCompletionRequiresDelivery, string(b.CurrentStage), string(model.StageDelivered))
	}
	if requested == model.StatusCancelled {
		reason := message
		if reason == "" {
			reason = "Cancelled by operator"
		}
		return Cancel(b, reason, by, now)
	}
	prev := b.Status
	b.Status = requested
	if message == "" {
		message = "Status changed from " + string(prev) + " to " + string(requested)
	}
	appendEntry(b, message, by, now)
	return nil
}

// Cancel marks the booking terminal.
func Cancel(b *model.Booking, reason, by string, now time.Time) error {
	if b.Cancellation != nil {
		return ErrBookingCancelled
	}
	if reason == "" {
		reason = "No reason given"
	}
	b.Status = model.StatusCancelled
	b.Cancellation = &model.Cancellation{CancelledAt: now, Reason: reason}
	appendEntry(b, "Booking cancelled: "+reason, by, now)
	return nil
}

func appendEntry(b *model.Booking, message, by string, now time.Time) {
	b.Updates = append(b.Updates, model.JournalEntry{
		Stage:     b.CurrentStage,
		Timestamp: now,
		Message:   message,
		UpdatedBy: by,
	})
	b.UpdatedAt = now
}
