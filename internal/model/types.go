package model

import "time"

// Stage is a step of the customer-facing booking journey.
type Stage string

const (
    StageBookingConfirmed   Stage = "booking_confirmed"
    StageDriverEnRoute      Stage = "driver_en_route"
    StageCarPickedUp        Stage = "car_picked_up"
    StageAtGarage           Stage = "at_garage"
    StageServiceInProgress  Stage = "service_in_progress"
    StageDriverReturning    Stage = "driver_returning"
    StageDelivered          Stage = "delivered"
)

// Status is the coarse lifecycle status of a booking.
type Status string

const (
    StatusPending    Status = "pending"
    StatusInProgress Status = "in_progress"
    StatusCompleted  Status = "completed"
    StatusCancelled  Status = "cancelled"
)

// PaymentStatus tracks the service payment checkpoint. Empty reads as none.
type PaymentStatus string

const (
    PaymentNone    PaymentStatus = "none"
    PaymentPending PaymentStatus = "pending"
    PaymentPaid    PaymentStatus = "paid"
)

// LegRole names one of the two driver legs of a booking.
type LegRole string

const (
    LegPickup LegRole = "pickup"
    LegReturn LegRole = "return"
)

// LegEvent is a driver-reported progress event on a leg.
type LegEvent string

const (
    LegStart    LegEvent = "start"
    LegArrive   LegEvent = "arrive"
    LegCollect  LegEvent = "collect"
    LegComplete LegEvent = "complete"
)

// Role of an actor invoking booking actions.
type Role string

const (
    RoleAdmin  Role = "admin"
    RoleDriver Role = "driver"
    RoleSystem Role = "system"
)

// Actor identifies who performs an action.
type Actor struct {
    ID   string `json:"id"`
    Role Role   `json:"role"`
}

type Customer struct {
    Name  string `json:"name" bson:"name"`
    Email string `json:"email" bson:"email"`
    Phone string `json:"phone,omitempty" bson:"phone,omitempty"`
}

type Vehicle struct {
    Registration string `json:"registration" bson:"registration"`
    Make         string `json:"make,omitempty" bson:"make,omitempty"`
    Model        string `json:"model,omitempty" bson:"model,omitempty"`
    State        string `json:"state,omitempty" bson:"state,omitempty"`
}

type Garage struct {
    Name    string `json:"name" bson:"name"`
    Address string `json:"address,omitempty" bson:"address,omitempty"`
}

// LegAssignment is the per-leg driver sub-record. Timestamps only move forward.
type LegAssignment struct {
    DriverID    string     `json:"driverId" bson:"driver_id"`
    AssignedAt  time.Time  `json:"assignedAt" bson:"assigned_at"`
    AcceptedAt  time.Time  `json:"acceptedAt" bson:"accepted_at"`
    StartedAt   *time.Time `json:"startedAt,omitempty" bson:"started_at,omitempty"`
    ArrivedAt   *time.Time `json:"arrivedAt,omitempty" bson:"arrived_at,omitempty"`
    CollectedAt *time.Time `json:"collectedAt,omitempty" bson:"collected_at,omitempty"`
    CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
}

// JournalEntry is one append-only line of the booking journal.
type JournalEntry struct {
    Stage     Stage     `json:"stage" bson:"stage"`
    Timestamp time.Time `json:"timestamp" bson:"timestamp"`
    Message   string    `json:"message" bson:"message"`
    UpdatedBy string    `json:"updatedBy" bson:"updated_by"`
}

type Cancellation struct {
    CancelledAt time.Time `json:"cancelledAt" bson:"cancelled_at"`
    Reason      string    `json:"reason" bson:"reason"`
}

// Booking is the shared journey record mutated by admins, drivers and payment events.
type Booking struct {
    ID      string `json:"id" bson:"_id"`
    Version int    `json:"version" bson:"version"`

    Customer      Customer `json:"customer" bson:"customer"`
    Vehicle       Vehicle  `json:"vehicle" bson:"vehicle"`
    PickupAddress string   `json:"pickupAddress" bson:"pickup_address"`
    PickupTime    string   `json:"pickupTime,omitempty" bson:"pickup_time,omitempty"`
    Garage        Garage   `json:"garage" bson:"garage"`
    ServiceType   string   `json:"serviceType,omitempty" bson:"service_type,omitempty"`
    Notes         string   `json:"notes,omitempty" bson:"notes,omitempty"`
    // EndToEnd bookings keep one driver through the service: the pickup
    // driver brings the car back and there is no return leg.
    EndToEnd bool `json:"endToEnd,omitempty" bson:"end_to_end,omitempty"`

    CurrentStage    Stage  `json:"currentStage" bson:"current_stage"`
    OverallProgress int    `json:"overallProgress" bson:"overall_progress"`
    Status          Status `json:"status" bson:"status"`

    PickupDriver *LegAssignment `json:"pickupDriver,omitempty" bson:"pickup_driver,omitempty"`
    ReturnDriver *LegAssignment `json:"returnDriver,omitempty" bson:"return_driver,omitempty"`

    ServicePaymentStatus    PaymentStatus `json:"servicePaymentStatus" bson:"service_payment_status"`
    ServicePaymentAmount    int64         `json:"servicePaymentAmount,omitempty" bson:"service_payment_amount,omitempty"`
    ServicePaymentURL       string        `json:"servicePaymentUrl,omitempty" bson:"service_payment_url,omitempty"`
    ServicePaymentRequestID string        `json:"servicePaymentRequestId,omitempty" bson:"service_payment_request_id,omitempty"`
    ServicePaidAt           *time.Time    `json:"servicePaidAt,omitempty" bson:"service_paid_at,omitempty"`

    Updates      []JournalEntry `json:"updates" bson:"updates"`
    Cancellation *Cancellation  `json:"cancellation,omitempty" bson:"cancellation,omitempty"`

    CreatedAt time.Time `json:"createdAt" bson:"created_at"`
    UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}

// Leg returns the sub-record for role, or nil when unassigned.
func (b *Booking) Leg(role LegRole) *LegAssignment {
    switch role {
    case LegPickup:
        return b.PickupDriver
    case LegReturn:
        return b.ReturnDriver
    }
    return nil
}

// SetLeg replaces the sub-record for role. A nil value clears it.
func (b *Booking) SetLeg(role LegRole, a *LegAssignment) {
    switch role {
    case LegPickup:
        b.PickupDriver = a
    case LegReturn:
        b.ReturnDriver = a
    }
}

// PaymentState normalizes the absent value to none.
func (b *Booking) PaymentState() PaymentStatus {
    if b.ServicePaymentStatus == "" {
        return PaymentNone
    }
    return b.ServicePaymentStatus
}

// HeldBy reports whether driverID holds either leg.
func (b *Booking) HeldBy(driverID string) bool {
    if driverID == "" {
        return false
    }
    return (b.PickupDriver != nil && b.PickupDriver.DriverID == driverID) ||
        (b.ReturnDriver != nil && b.ReturnDriver.DriverID == driverID)
}

// Claimable reports whether a driver could take role right now.
func (b *Booking) Claimable(role LegRole) bool {
    if b.Cancellation != nil || b.Leg(role) != nil {
        return false
    }
    if role == LegReturn {
        if b.EndToEnd {
            return false
        }
        return b.PickupDriver != nil && b.PickupDriver.CompletedAt != nil && b.PaymentState() == PaymentPaid
    }
    return role == LegPickup
}

// Clone returns a deep copy so mutators never alias stored state.
func (b *Booking) Clone() Booking {
    out := *b
    out.PickupDriver = cloneLeg(b.PickupDriver)
    out.ReturnDriver = cloneLeg(b.ReturnDriver)
    out.Updates = append([]JournalEntry(nil), b.Updates...)
    if b.Cancellation != nil {
        c := *b.Cancellation
        out.Cancellation = &c
    }
    if b.ServicePaidAt != nil {
        t := *b.ServicePaidAt
        out.ServicePaidAt = &t
    }
    return out
}

func cloneLeg(a *LegAssignment) *LegAssignment {
    if a == nil {
        return nil
    }
    c := *a
    c.StartedAt = cloneTime(a.StartedAt)
    c.ArrivedAt = cloneTime(a.ArrivedAt)
    c.CollectedAt = cloneTime(a.CollectedAt)
    c.CompletedAt = cloneTime(a.CompletedAt)
    return &c
}

func cloneTime(t *time.Time) *time.Time {
    if t == nil {
        return nil
    }
    c := *t
    return &c
}

// BookingRequest is the create payload.
type BookingRequest struct {
    Customer      Customer `json:"customer"`
    Vehicle       Vehicle  `json:"vehicle"`
    PickupAddress string   `json:"pickupAddress"`
    PickupTime    string   `json:"pickupTime,omitempty"`
    Garage        Garage   `json:"garage"`
    ServiceType   string   `json:"serviceType,omitempty"`
    Notes         string   `json:"notes,omitempty"`
    EndToEnd      bool     `json:"endToEnd,omitempty"`
}

// BookingFilter narrows ListBookings. Zero values match everything.
type BookingFilter struct {
    Status   Status
    Stage    Stage
    DriverID string
    // OpenLeg selects bookings whose leg is unassigned and claimable.
    OpenLeg LegRole
}

type SubscriptionRequest struct {
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret"`
}

type Subscription struct {
    ID     string   `json:"id"`
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret,omitempty"`
}
