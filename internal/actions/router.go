package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/journey"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/logger"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/metrics"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/notify"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/payment"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/store"
)

// Request is one action invocation against a booking. IfVersion, when
// non-zero, must equal the stored version.
type Request struct {
	BookingID string
	Actor     model.Actor
	Action    Action
	IfVersion int
}

type Router struct {
	Store    store.BookingStore
	Payments payment.Provider
	Notifier notify.Notifier
	Log      *logger.Logger
	Now      func() time.Time
	NewID    func() string
}

func NewRouter(s store.BookingStore, p payment.Provider, n notify.Notifier, log *logger.Logger) *Router {
	if n == nil {
		n = notify.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Router{
		Store:    s,
		Payments: p,
		Notifier: n,
		Log:      log,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    uuid.NewString,
	}
}

// Create starts a booking's lifecycle at booking_confirmed/pending.
func (r *Router) Create(ctx context.Context, actor model.Actor, req model.BookingRequest) (model.Booking, error) {
	if actor.Role != model.RoleAdmin && actor.Role != model.RoleSystem {
		return model.Booking{}, journey.Withf(journey.ErrForbidden, "%s may not create bookings", roleName(actor.Role))
	}
	b := journey.NewBooking(r.NewID(), req, by(actor), r.Now())
	created, err := r.Store.CreateBooking(ctx, b)
	if err != nil {
		return model.Booking{}, fmt.Errorf("create booking: %w", err)
	}
	r.Log.Info("booking created", "bookingId", created.ID, "actor", actor.ID)
	r.Notifier.Publish(ctx, r.event(notify.BookingCreated, actor, created, nil))
	return created, nil
}

// Execute runs one action. Rejections leave the record untouched; no-op
// re-deliveries return the current record without writing or notifying.
func (r *Router) Execute(ctx context.Context, req Request) (out model.Booking, err error) {
	if req.Action == nil {
		return model.Booking{}, journey.Withf(journey.ErrInvalidInput, "action is required")
	}
	name := req.Action.Name()
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(journey.CodeOf(err))
			if outcome == "" {
				outcome = "error"
			}
		}
		metrics.ObserveAction(name, outcome, time.Since(start))
		log := r.Log.With("bookingId", req.BookingID, "action", name, "actor", req.Actor.ID, "role", req.Actor.Role)
		switch journey.KindOf(err) {
		case "":
			if err != nil {
				log.Error("action failed", "error", err)
			} else {
				log.Debug("action applied", "version", out.Version)
			}
		case journey.KindCollaborator:
			log.Warn("action rejected", "code", outcome, "error", err)
		default:
			log.Info("action rejected", "code", outcome)
		}
	}()

	cur, err := r.Store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return model.Booking{}, storeError(err, req.BookingID)
	}
	if cur.Cancellation != nil {
		return model.Booking{}, journey.ErrBookingCancelled
	}
	if err := req.Action.validate(); err != nil {
		return model.Booking{}, err
	}
	if err := precheck(&cur, req); err != nil {
		return model.Booking{}, err
	}

	var pending *journey.PendingPayment
	if a, ok := req.Action.(RequestPayment); ok {
		if pending, err = r.createPaymentRequest(ctx, &cur, a); err != nil {
			return model.Booking{}, err
		}
	}

	now := r.Now()
	var before model.Booking
	changed := false
	updated, err := r.Store.UpdateBooking(ctx, req.BookingID, func(b *model.Booking) error {
		changed = false
		if err := precheck(b, req); err != nil {
			return err
		}
		before = b.Clone()
		ok, err := apply(b, req, pending, now)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrSkipWrite
		}
		changed = true
		return nil
	})
	if err != nil {
		if pending != nil {
			r.Log.Warn("payment request created but not recorded", "bookingId", req.BookingID, "requestId", pending.RequestID)
		}
		return model.Booking{}, storeError(err, req.BookingID)
	}
	if changed {
		r.publish(ctx, req, &before, updated)
	}
	return updated, nil
}

// precheck runs before any mutation and again against the locked snapshot.
// A cancelled booking is rejected ahead of every other check.
func precheck(b *model.Booking, req Request) error {
	if b.Cancellation != nil {
		return journey.ErrBookingCancelled
	}
	if err := authorize(req.Actor, b, req.Action); err != nil {
		return err
	}
	if req.IfVersion != 0 && req.IfVersion != b.Version {
		return journey.Withf(journey.ErrVersionConflict, "booking is at version %d, not %d", b.Version, req.IfVersion)
	}
	return nil
}

// createPaymentRequest checks the gate against the snapshot and asks the
// provider for a link. Nothing is written here; the caller records the link
// after re-validating.
func (r *Router) createPaymentRequest(ctx context.Context, b *model.Booking, a RequestPayment) (*journey.PendingPayment, error) {
	if err := journey.CheckPaymentRequest(b, a.AmountMinor); err != nil {
		return nil, err
	}
	if r.Payments == nil {
		return nil, journey.Withf(journey.ErrPaymentProviderFailed, "no payment provider configured")
	}
	pr, err := r.Payments.CreatePaymentRequest(ctx, a.AmountMinor, map[string]string{
		"bookingId":      b.ID,
		"idempotencyKey": fmt.Sprintf("%s:%d", b.ID, b.Version),
	})
	if err != nil {
		return nil, journey.Wrap(journey.ErrPaymentProviderFailed, err)
	}
	return &journey.PendingPayment{RequestID: pr.ID, AmountMinor: a.AmountMinor, URL: pr.URL}, nil
}

// apply composes the journey operations for one action. It reports false
// when the action was already satisfied.
func apply(b *model.Booking, req Request, pending *journey.PendingPayment, now time.Time) (bool, error) {
	who := by(req.Actor)
	switch a := req.Action.(type) {
	case EditStage:
		return true, journey.ApplyStageChange(b, a.Stage, a.Message, a.AllowRegression, who, now)

	case EditStatus:
		return true, journey.ApplyStatusChange(b, a.Status, a.Message, who, now)

	case AssignLeg:
		if l := b.Leg(a.Leg); l != nil && l.DriverID == a.DriverID {
			return false, nil
		}
		return true, journey.Assign(b, a.Leg, a.DriverID, who, now)

	case UnassignLeg:
		return true, journey.Unassign(b, a.Leg, who, now)

	case AdvanceLeg:
		changed, err := journey.AdvanceLeg(b, a.Leg, a.Event, who, now)
		if err != nil || !changed {
			return changed, err
		}
		if st, ok := journey.StageForEvent(b, a.Leg, a.Event); ok {
			if _, err := journey.AdvanceStageTo(b, st, "", who, now); err != nil {
				return false, err
			}
		}
		return true, nil

	case RequestPayment:
		if pending == nil {
			return false, journey.Withf(journey.ErrPaymentProviderFailed, "payment request missing")
		}
		if err := journey.RequestPayment(b, *pending, who, now); err != nil {
			return false, err
		}
		if _, err := journey.AdvanceStageTo(b, model.StageServiceInProgress, "", who, now); err != nil {
			return false, err
		}
		return true, nil

	case MarkPaid:
		if a.RequestID != "" && a.RequestID != b.ServicePaymentRequestID {
			return false, journey.Withf(journey.ErrInvalidInput, "payment request %s does not belong to booking %s", a.RequestID, b.ID)
		}
		return journey.MarkPaid(b, who, now)

	case Cancel:
		return true, journey.Cancel(b, a.Reason, who, now)
	}
	return false, journey.Withf(journey.ErrInvalidInput, "unsupported action %T", req.Action)
}

// publish emits the action's own event plus stage/status change events for
// whatever the composition moved.
func (r *Router) publish(ctx context.Context, req Request, before *model.Booking, after model.Booking) {
	primary := req.Action.eventType()
	data := map[string]any{
		"action":        req.Action.Name(),
		"previousStage": before.CurrentStage,
		"stage":         after.CurrentStage,
		"status":        after.Status,
		"progress":      after.OverallProgress,
	}
	switch a := req.Action.(type) {
	case AssignLeg:
		data["leg"], data["driverId"] = a.Leg, a.DriverID
	case UnassignLeg:
		data["leg"] = a.Leg
	case AdvanceLeg:
		data["leg"], data["event"] = a.Leg, a.Event
	case RequestPayment:
		data["amountMinor"], data["paymentUrl"] = after.ServicePaymentAmount, after.ServicePaymentURL
	case Cancel:
		if after.Cancellation != nil {
			data["reason"] = after.Cancellation.Reason
		}
	}
	r.Notifier.Publish(ctx, r.event(primary, req.Actor, after, data))

	if primary != notify.BookingStageChanged && before.CurrentStage != after.CurrentStage {
		r.Notifier.Publish(ctx, r.event(notify.BookingStageChanged, req.Actor, after, map[string]any{
			"previousStage": before.CurrentStage, "stage": after.CurrentStage, "progress": after.OverallProgress,
		}))
	}
	if primary != notify.BookingStatusChanged && primary != notify.BookingCancelled && before.Status != after.Status {
		r.Notifier.Publish(ctx, r.event(notify.BookingStatusChanged, req.Actor, after, map[string]any{
			"previousStatus": before.Status, "status": after.Status,
		}))
	}
}

func (r *Router) event(eventType string, actor model.Actor, b model.Booking, data map[string]any) notify.Event {
	return notify.Event{
		ID:        "evt_" + r.NewID(),
		Type:      eventType,
		BookingID: b.ID,
		Actor:     actor,
		Booking:   &b,
		Data:      data,
		TS:        r.Now(),
	}
}

func storeError(err error, id string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return journey.Withf(journey.ErrBookingNotFound, "booking %s not found", id)
	case errors.Is(err, store.ErrConflict):
		return journey.Wrap(journey.ErrVersionConflict, err)
	}
	return err
}

// by is the journal's updatedBy value.
func by(actor model.Actor) string {
	if actor.ID == "" {
		return string(actor.Role)
	}
	return actor.ID
}
