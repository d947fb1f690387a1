package actions

import (
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/journey"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

// authorize decides from the actor's role and the record's own fields.
// Admins may do anything; drivers act only on their own legs; the system
// actor only confirms payments.
func authorize(actor model.Actor, b *model.Booking, a Action) error {
	switch actor.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleSystem:
		if _, ok := a.(MarkPaid); ok {
			return nil
		}
	case model.RoleDriver:
		if actor.ID == "" {
			break
		}
		switch a := a.(type) {
		case AssignLeg:
			if a.DriverID != actor.ID {
				return journey.Withf(journey.ErrForbidden, "drivers may only assign themselves")
			}
			return nil
		case UnassignLeg:
			return ownLeg(actor, b, a.Leg)
		case AdvanceLeg:
			return ownLeg(actor, b, a.Leg)
		}
	}
	return journey.Withf(journey.ErrForbidden, "%s may not %s", roleName(actor.Role), a.Name())
}

func ownLeg(actor model.Actor, b *model.Booking, leg model.LegRole) error {
	if l := b.Leg(leg); l == nil || l.DriverID != actor.ID {
		return journey.Withf(journey.ErrNotAssignedDriver, "driver %s does not hold the %s leg", actor.ID, leg)
	}
	return nil
}

// CanView reports whether actor may read b.
func CanView(actor model.Actor, b *model.Booking) bool {
	switch actor.Role {
	case model.RoleAdmin, model.RoleSystem:
		return true
	case model.RoleDriver:
		return actor.ID != "" && (b.HeldBy(actor.ID) || b.Claimable(model.LegPickup) || b.Claimable(model.LegReturn))
	}
	return false
}

func roleName(r model.Role) string {
	if r == "" {
		return "anonymous"
	}
	return string(r)
}
