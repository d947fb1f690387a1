package journey

import (
	"fmt"
	"time"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

var legEvents = []model.LegEvent{model.LegStart, model.LegArrive, model.LegCollect, model.LegComplete}

var legNames = map[model.LegRole]string{
	model.LegPickup: "Pickup",
	model.LegReturn: "Return",
}

var eventMessages = map[model.LegEvent]string{
	model.LegStart:    "driver started the trip",
	model.LegArrive:   "driver arrived",
	model.LegCollect:  "driver collected the car",
	model.LegComplete: "driver completed the leg",
}

// stage reached when a leg event lands; absent pairs leave the stage alone
var eventStages = map[model.LegRole]map[model.LegEvent]model.Stage{
	model.LegPickup: {
		model.LegStart:    model.StageDriverEnRoute,
		model.LegCollect:  model.StageCarPickedUp,
		model.LegComplete: model.StageAtGarage,
	},
	model.LegReturn: {
		model.LegStart:    model.StageDriverReturning,
		model.LegComplete: model.StageDelivered,
	},
}

// ValidLeg reports whether role names a leg.
func ValidLeg(role model.LegRole) bool { _, ok := legNames[role]; return ok }

// ValidEvent reports whether ev is a leg event.
func ValidEvent(ev model.LegEvent) bool { return eventIndex(ev) >= 0 }

// StageForEvent returns the stage a leg event moves b to. On an end-to-end
// booking the pickup driver's complete is the hand-back, so it lands on
// delivered.
func StageForEvent(b *model.Booking, role model.LegRole, ev model.LegEvent) (model.Stage, bool) {
	if b.EndToEnd && role == model.LegPickup && ev == model.LegComplete {
		return model.StageDelivered, true
	}
	st, ok := eventStages[role][ev]
	return st, ok
}

func eventIndex(ev model.LegEvent) int {
	for i, e := range legEvents {
		if e == ev {
			return i
		}
	}
	return -1
}

func eventField(a *model.LegAssignment, ev model.LegEvent) **time.Time {
	switch ev {
	case model.LegStart:
		return &a.StartedAt
	case model.LegArrive:
		return &a.ArrivedAt
	case model.LegCollect:
		return &a.CollectedAt
	case model.LegComplete:
		return &a.CompletedAt
	}
	return nil
}

// lastEvent is the furthest event recorded on a, or "assigned".
func lastEvent(a *model.LegAssignment) string {
	last := "assigned"
	for _, ev := range legEvents {
		if *eventField(a, ev) != nil {
			last = string(ev)
		}
	}
	return last
}

// checkReturnGate enforces that the return leg only moves after the car has
// reached the garage and the service is paid.
func checkReturnGate(b *model.Booking) error {
	if b.PickupDriver == nil || b.PickupDriver.CompletedAt == nil {
		cur := "unassigned"
		if b.PickupDriver != nil {
			cur = lastEvent(b.PickupDriver)
		}
		return with(ErrReturnRequiresPickupComplete, cur, string(model.LegComplete))
	}
	if b.PaymentState() != model.PaymentPaid {
		return with(ErrReturnRequiresPayment, string(b.PaymentState()), string(model.PaymentPaid))
	}
	return nil
}

// Assign gives role to driverID. Assignment is auto-accepted.
func Assign(b *model.Booking, role model.LegRole, driverID, by string, now time.Time) error {
	if !ValidLeg(role) {
		return with(ErrUnknownLeg, "", string(role))
	}
	if driverID == "" {
		return Withf(ErrInvalidInput, "driverId is required")
	}
	if cur := b.Leg(role); cur != nil {
		return with(ErrLegAlreadyAssigned, cur.DriverID, driverID)
	}
	if role == model.LegReturn {
		if b.EndToEnd {
			return with(ErrNoReturnLeg, "end_to_end", string(role))
		}
		if err := checkReturnGate(b); err != nil {
			return err
		}
	}
	b.SetLeg(role, &model.LegAssignment{DriverID: driverID, AssignedAt: now, AcceptedAt: now})
	appendEntry(b, fmt.Sprintf("%s driver %s assigned", legNames[role], driverID), by, now)
	return nil
}

// Unassign frees role as long as the driver has not started.
func Unassign(b *model.Booking, role model.LegRole, by string, now time.Time) error {
	if !ValidLeg(role) {
		return with(ErrUnknownLeg, "", string(role))
	}
	cur := b.Leg(role)
	if cur == nil {
		return with(ErrNoDriverAssigned, "unassigned", string(role))
	}
	if cur.StartedAt != nil {
		return with(ErrLegAlreadyStarted, lastEvent(cur), "unassigned")
	}
	b.SetLeg(role, nil)
	appendEntry(b, fmt.Sprintf("%s driver %s unassigned", legNames[role], cur.DriverID), by, now)
	return nil
}

// AdvanceLeg records ev on role. Re-sending a recorded event reports
// changed=false and leaves the booking untouched. Intermediate events may be
// skipped but never recorded after a later one.
func AdvanceLeg(b *model.Booking, role model.LegRole, ev model.LegEvent, by string, now time.Time) (changed bool, err error) {
	if !ValidLeg(role) {
		return false, with(ErrUnknownLeg, "", string(role))
	}
	idx := eventIndex(ev)
	if idx < 0 {
		return false, with(ErrUnknownEvent, "", string(ev))
	}
	a := b.Leg(role)
	if a == nil {
		return false, with(ErrNoDriverAssigned, "unassigned", string(ev))
	}
	field := eventField(a, ev)
	if *field != nil {
		return false, nil
	}
	for _, later := range legEvents[idx+1:] {
		if *eventField(a, later) != nil {
			return false, with(ErrLegOutOfOrder, lastEvent(a), string(ev))
		}
	}
	if ev != model.LegStart && a.StartedAt == nil {
		return false, with(ErrLegOutOfOrder, lastEvent(a), string(ev))
	}
	if role == model.LegReturn && (ev == model.LegStart || ev == model.LegComplete) {
		if err := checkReturnGate(b); err != nil {
			return false, err
		}
	}
	if b.EndToEnd && role == model.LegPickup && ev == model.LegComplete && b.PaymentState() != model.PaymentPaid {
		return false, with(ErrDeliveryRequiresPayment, string(b.PaymentState()), string(model.PaymentPaid))
	}
	t := now
	*field = &t
	appendEntry(b, fmt.Sprintf("%s leg: %s", legNames[role], eventMessages[ev]), by, now)
	return true, nil
}
