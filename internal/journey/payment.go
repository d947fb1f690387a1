package journey

import (
	"fmt"
	"time"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

// Service payment bounds in minor units, inclusive.
const (
	MinServiceAmount int64 = 15000
	MaxServiceAmount int64 = 80000
)

// CheckPaymentRequest validates a payment request against b without
// mutating it. ALREADY_PENDING carries the outstanding request.
func CheckPaymentRequest(b *model.Booking, amountMinor int64) error {
	if amountMinor < MinServiceAmount || amountMinor > MaxServiceAmount {
		return Withf(ErrAmountOutOfRange, "amount %d outside [%d, %d]", amountMinor, MinServiceAmount, MaxServiceAmount)
	}
	switch b.PaymentState() {
	case model.PaymentPending:
		e := with(ErrAlreadyPending, string(model.PaymentPending), string(model.PaymentPending))
		e.Existing = &PendingPayment{
			RequestID:   b.ServicePaymentRequestID,
			AmountMinor: b.ServicePaymentAmount,
			URL:         b.ServicePaymentURL,
		}
		return e
	case model.PaymentPaid:
		return with(ErrAlreadyPaid, string(model.PaymentPaid), string(model.PaymentPending))
	}
	return nil
}

// RequestPayment records a created payment request and marks the service
// payment pending.
func RequestPayment(b *model.Booking, req PendingPayment, by string, now time.Time) error {
	if err := CheckPaymentRequest(b, req.AmountMinor); err != nil {
		return err
	}
	if req.URL == "" {
		return Withf(ErrInvalidInput, "payment url is required")
	}
	b.ServicePaymentStatus = model.PaymentPending
	b.ServicePaymentAmount = req.AmountMinor
	b.ServicePaymentURL = req.URL
	b.ServicePaymentRequestID = req.RequestID
	appendEntry(b, "Service payment of "+FormatAmount(req.AmountMinor)+" requested", by, now)
	return nil
}

// MarkPaid records the service payment. It never moves the stage.
func MarkPaid(b *model.Booking, by string, now time.Time) (changed bool, err error) {
	if b.PaymentState() == model.PaymentPaid {
		return false, nil
	}
	t := now
	b.ServicePaymentStatus = model.PaymentPaid
	b.ServicePaidAt = &t
	msg := "Service payment received"
	if b.ServicePaymentAmount > 0 {
		msg += " (" + FormatAmount(b.ServicePaymentAmount) + ")"
	}
	appendEntry(b, msg, by, now)
	return true, nil
}

// FormatAmount renders minor units as dollars.
func FormatAmount(minor int64) string {
	return fmt.Sprintf("$%d.%02d", minor/100, minor%100)
}
