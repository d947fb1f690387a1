// Package actions executes booking journey actions: it authorizes the
// caller, composes the journey rules into one atomic store update and
// publishes the committed result.
package actions

import (
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/journey"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/notify"
)

// Action is one of EditStage, EditStatus, AssignLeg, UnassignLeg,
// AdvanceLeg, RequestPayment, MarkPaid or Cancel.
type Action interface {
	Name() string
	// eventType is the notification published when the action commits.
	eventType() string
	// validate checks the payload alone; it never sees the record.
	validate() error
}

type EditStage struct {
	Stage           model.Stage
	Message         string
	AllowRegression bool
}

type EditStatus struct {
	Status  model.Status
	Message string
}

type AssignLeg struct {
	Leg      model.LegRole
	DriverID string
}

type UnassignLeg struct {
	Leg model.LegRole
}

type AdvanceLeg struct {
	Leg   model.LegRole
	Event model.LegEvent
}

type RequestPayment struct {
	AmountMinor int64
}

// MarkPaid records the service payment. RequestID, when set, must match the
// booking's outstanding payment request.
type MarkPaid struct {
	RequestID string
}

type Cancel struct {
	Reason string
}

func (EditStage) Name() string      { return "editStage" }
func (EditStatus) Name() string     { return "editStatus" }
func (AssignLeg) Name() string      { return "assignLeg" }
func (UnassignLeg) Name() string    { return "unassignLeg" }
func (AdvanceLeg) Name() string     { return "advanceLeg" }
func (RequestPayment) Name() string { return "requestPayment" }
func (MarkPaid) Name() string       { return "markPaid" }
func (Cancel) Name() string         { return "cancel" }

func (EditStage) eventType() string      { return notify.BookingStageChanged }
func (EditStatus) eventType() string     { return notify.BookingStatusChanged }
func (AssignLeg) eventType() string      { return notify.BookingLegAssigned }
func (UnassignLeg) eventType() string    { return notify.BookingLegUnassigned }
func (AdvanceLeg) eventType() string     { return notify.BookingLegAdvanced }
func (RequestPayment) eventType() string { return notify.BookingPaymentRequested }
func (MarkPaid) eventType() string       { return notify.BookingPaymentPaid }
func (Cancel) eventType() string         { return notify.BookingCancelled }

func (a EditStage) validate() error {
	if !journey.ValidStage(a.Stage) {
		return journey.Withf(journey.ErrUnknownStage, "unknown stage %q", a.Stage)
	}
	return nil
}

func (a EditStatus) validate() error {
	if !journey.ValidStatus(a.Status) {
		return journey.Withf(journey.ErrInvalidStatus, "invalid status %q", a.Status)
	}
	return nil
}

func (a AssignLeg) validate() error {
	if !journey.ValidLeg(a.Leg) {
		return journey.Withf(journey.ErrUnknownLeg, "unknown leg %q", a.Leg)
	}
	if a.DriverID == "" {
		return journey.Withf(journey.ErrInvalidInput, "driverId is required")
	}
	return nil
}

func (a UnassignLeg) validate() error {
	if !journey.ValidLeg(a.Leg) {
		return journey.Withf(journey.ErrUnknownLeg, "unknown leg %q", a.Leg)
	}
	return nil
}

func (a AdvanceLeg) validate() error {
	if !journey.ValidLeg(a.Leg) {
		return journey.Withf(journey.ErrUnknownLeg, "unknown leg %q", a.Leg)
	}
	if !journey.ValidEvent(a.Event) {
		return journey.Withf(journey.ErrUnknownEvent, "unknown leg event %q", a.Event)
	}
	return nil
}

func (a RequestPayment) validate() error {
	if a.AmountMinor < journey.MinServiceAmount || a.AmountMinor > journey.MaxServiceAmount {
		return journey.Withf(journey.ErrAmountOutOfRange, "amount %d outside [%d, %d]",
			a.AmountMinor, journey.MinServiceAmount, journey.MaxServiceAmount)
	}
	return nil
}

func (MarkPaid) validate() error { return nil }
func (Cancel) validate() error   { return nil }
