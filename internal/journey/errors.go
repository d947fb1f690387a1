package journey

import (
	"errors"
	"fmt"
)

// Kind groups error codes by how a caller should react.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition"
	KindConflict     Kind = "conflict"
	KindCollaborator Kind = "collaborator"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
)

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeUnknownStage                 Code = "UNKNOWN_STAGE"
	CodeInvalidStatus                Code = "INVALID_STATUS"
	CodeUnknownLeg                   Code = "UNKNOWN_LEG"
	CodeUnknownEvent                 Code = "UNKNOWN_EVENT"
	CodeAmountOutOfRange             Code = "AMOUNT_OUT_OF_RANGE"
	CodeInvalidInput                 Code = "INVALID_INPUT"
	CodeRegressionNotAllowed         Code = "REGRESSION_NOT_ALLOWED"
	CodeDeliveryRequiresPayment      Code = "DELIVERY_REQUIRES_PAYMENT"
	CodeCompletionRequiresDelivery   Code = "COMPLETION_REQUIRES_DELIVERY"
	CodeLegAlreadyAssigned           Code = "LEG_ALREADY_ASSIGNED"
	CodeReturnRequiresPickupComplete Code = "RETURN_REQUIRES_PICKUP_COMPLETE"
	CodeReturnRequiresPayment        Code = "RETURN_REQUIRES_PAYMENT"
	CodeNoDriverAssigned             Code = "NO_DRIVER_ASSIGNED"
	CodeNoReturnLeg                  Code = "NO_RETURN_LEG"
	CodeLegAlreadyStarted            Code = "LEG_ALREADY_STARTED"
	CodeLegOutOfOrder                Code = "LEG_OUT_OF_ORDER"
	CodeAlreadyPending               Code = "ALREADY_PENDING"
	CodeAlreadyPaid                  Code = "ALREADY_PAID"
	CodeBookingCancelled             Code = "BOOKING_CANCELLED"
	CodeVersionConflict              Code = "VERSION_CONFLICT"
	CodePaymentProviderFailed        Code = "PAYMENT_PROVIDER_FAILED"
	CodeForbidden                    Code = "FORBIDDEN"
	CodeNotAssignedDriver            Code = "NOT_ASSIGNED_DRIVER"
	CodeBookingNotFound              Code = "BOOKING_NOT_FOUND"
)

// PendingPayment describes an outstanding payment request.
type PendingPayment struct {
	RequestID   string `json:"requestId,omitempty"`
	AmountMinor int64  `json:"amountMinor"`
	URL         string `json:"url"`
}

// Error is the typed failure returned by every journey operation.
type Error struct {
	Kind      Kind
	Code      Code
	Message   string
	Current   string
	Requested string
	// Existing is set for ALREADY_PENDING.
	Existing *PendingPayment
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Current != "" || e.Requested != "" {
		msg += fmt.Sprintf(" (current=%s requested=%s)", e.Current, e.Requested)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so sentinels compare equal to detailed instances.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrUnknownStage                 = &Error{Kind: KindValidation, Code: CodeUnknownStage, Message: "unknown stage"}
	ErrInvalidStatus                = &Error{Kind: KindValidation, Code: CodeInvalidStatus, Message: "invalid status"}
	ErrUnknownLeg                   = &Error{Kind: KindValidation, Code: CodeUnknownLeg, Message: "unknown leg"}
	ErrUnknownEvent                 = &Error{Kind: KindValidation, Code: CodeUnknownEvent, Message: "unknown leg event"}
	ErrAmountOutOfRange             = &Error{Kind: KindValidation, Code: CodeAmountOutOfRange, Message: "amount outside allowed range"}
	ErrInvalidInput                 = &Error{Kind: KindValidation, Code: CodeInvalidInput, Message: "invalid input"}
	ErrRegressionNotAllowed         = &Error{Kind: KindPrecondition, Code: CodeRegressionNotAllowed, Message: "stage regression requires override"}
	ErrDeliveryRequiresPayment      = &Error{Kind: KindPrecondition, Code: CodeDeliveryRequiresPayment, Message: "delivery requires a paid service"}
	ErrCompletionRequiresDelivery   = &Error{Kind: KindPrecondition, Code: CodeCompletionRequiresDelivery, Message: "completion requires delivered stage and paid service"}
	ErrLegAlreadyAssigned           = &Error{Kind: KindPrecondition, Code: CodeLegAlreadyAssigned, Message: "leg already has a driver"}
	ErrReturnRequiresPickupComplete = &Error{Kind: KindPrecondition, Code: CodeReturnRequiresPickupComplete, Message: "pickup leg not completed"}
	ErrReturnRequiresPayment        = &Error{Kind: KindPrecondition, Code: CodeReturnRequiresPayment, Message: "service payment not received"}
	ErrNoDriverAssigned             = &Error{Kind: KindPrecondition, Code: CodeNoDriverAssigned, Message: "no driver assigned to leg"}
	ErrNoReturnLeg                  = &Error{Kind: KindPrecondition, Code: CodeNoReturnLeg, Message: "end-to-end booking has no return leg"}
	ErrLegAlreadyStarted            = &Error{Kind: KindPrecondition, Code: CodeLegAlreadyStarted, Message: "leg already started"}
	ErrLegOutOfOrder                = &Error{Kind: KindPrecondition, Code: CodeLegOutOfOrder, Message: "leg event out of order"}
	ErrAlreadyPending               = &Error{Kind: KindPrecondition, Code: CodeAlreadyPending, Message: "payment request already pending"}
	ErrAlreadyPaid                  = &Error{Kind: KindPrecondition, Code: CodeAlreadyPaid, Message: "service already paid"}
	ErrBookingCancelled             = &Error{Kind: KindPrecondition, Code: CodeBookingCancelled, Message: "booking is cancelled"}
	ErrVersionConflict              = &Error{Kind: KindConflict, Code: CodeVersionConflict, Message: "booking changed concurrently; reload and retry"}
	ErrPaymentProviderFailed        = &Error{Kind: KindCollaborator, Code: CodePaymentProviderFailed, Message: "payment provider failed"}
	ErrForbidden                    = &Error{Kind: KindForbidden, Code: CodeForbidden, Message: "not allowed"}
	ErrNotAssignedDriver            = &Error{Kind: KindForbidden, Code: CodeNotAssignedDriver, Message: "actor is not the driver on this leg"}
	ErrBookingNotFound              = &Error{Kind: KindNotFound, Code: CodeBookingNotFound, Message: "booking not found"}
)

// with copies a sentinel and attaches detail.
func with(base *Error, current, requested string) *Error {
	e := *base
	e.Current = current
	e.Requested = requested
	return &e
}

// Wrap returns a copy of base carrying cause.
func Wrap(base *Error, cause error) *Error {
	e := *base
	e.Err = cause
	return &e
}

// Withf returns a copy of base with a formatted message.
func Withf(base *Error, format string, args ...any) *Error {
	e := *base
	e.Message = fmt.Sprintf(format, args...)
	return &e
}

// KindOf reports the kind of err, or "" for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf reports the code of err, or "" for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
