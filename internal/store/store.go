package store

import (
    "context"
    "errors"
    "time"

    "github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

// BookingStore persists booking records. UpdateBooking is the only write
// path for existing bookings and must run fn atomically against the latest
// stored version.
type BookingStore interface {
    CreateBooking(ctx context.Context, b model.Booking) (model.Booking, error)
    GetBooking(ctx context.Context, id string) (model.Booking, error)
    ListBookings(ctx context.Context, f model.BookingFilter, cursor string, limit int) ([]model.Booking, string, error)
    // UpdateBooking loads id, runs fn on a private copy and commits the result
    // with Version incremented. If fn returns ErrSkipWrite nothing is written
    // and the loaded record is returned with a nil error. Any other error
    // aborts the update and is returned unchanged.
    UpdateBooking(ctx context.Context, id string, fn func(b *model.Booking) error) (model.Booking, error)
}

// WebhookStore holds outbound webhook subscriptions and the delivery queue.
type WebhookStore interface {
    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error)
    RetryWebhookDelivery(ctx context.Context, id string) error

    // Dead-letter queue
    ListWebhookDLQ(ctx context.Context, q DLQQuery, cursor string, limit int) ([]map[string]any, string, error)
    RequeueWebhookDLQ(ctx context.Context, id string) error
    RequeueWebhookDLQBulk(ctx context.Context, ids []string) error
    DeleteWebhookDLQBulk(ctx context.Context, ids []string, olderThan time.Time) error
}

// Store is implemented by backends that hold both bookings and webhooks.
type Store interface {
    BookingStore
    WebhookStore
}

// DLQQuery filters dead-lettered deliveries. Zero values match everything.
type DLQQuery struct {
    EventType  string
    OlderThan  time.Time
    CodeMin    int
    CodeMax    int
    ErrorQuery string
}

var (
    ErrNotFound = errors.New("not found")
    // ErrConflict means the stored version moved underneath the update.
    ErrConflict = errors.New("version conflict")
    // ErrSkipWrite is returned by an update func that changed nothing.
    ErrSkipWrite = errors.New("skip write")
)

// matchFilter applies f to b the same way the SQL and Mongo filters do.
func matchFilter(b *model.Booking, f model.BookingFilter) bool {
    if f.Status != "" && b.Status != f.Status { return false }
    if f.Stage != "" && b.CurrentStage != f.Stage { return false }
    if f.DriverID != "" && !b.HeldBy(f.DriverID) { return false }
    if f.OpenLeg != "" && !b.Claimable(f.OpenLeg) { return false }
    return true
}

func clampLimit(limit int) int {
    if limit <= 0 || limit > 500 { return 100 }
    return limit
}
