package store

import (
    "context"
    "errors"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"

    "github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

// Memory is a simple in-memory store used when no database is configured.
// A single mutex serializes every booking update.
type Memory struct {
    mu       sync.Mutex
    bookings map[string]model.Booking // id -> booking
    order    []string                 // booking ids in creation order
    subs     []model.Subscription
    // Webhooks queue state
    deliveries map[string]*memDelivery // id -> delivery state
    deliveryIDs []string
    dlq        []memDLQ
}

func NewMemory() *Memory {
    return &Memory{
        bookings:   map[string]model.Booking{},
        deliveries: map[string]*memDelivery{},
    }
}

// memDelivery augments WebhookDelivery with scheduling state
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

type memDLQ struct {
    ID           string
    DeliveryID   string
    EventType    string
    URL          string
    Secret       string
    Payload      []byte
    Attempts     int
    LastError    string
    ResponseCode int
    LatencyMs    int
    CreatedAt    time.Time
}

func (m *Memory) CreateBooking(ctx context.Context, b model.Booking) (model.Booking, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if b.ID == "" { b.ID = uuid.New().String() }
    if _, ok := m.bookings[b.ID]; ok { return model.Booking{}, ErrConflict }
    b.Version = 1
    m.bookings[b.ID] = b.Clone()
    m.order = append(m.order, b.ID)
    return b, nil
}

func (m *Memory) GetBooking(ctx context.Context, id string) (model.Booking, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    b, ok := m.bookings[id]
    if !ok { return model.Booking{}, ErrNotFound }
    return b.Clone(), nil
}

func (m *Memory) ListBookings(ctx context.Context, f model.BookingFilter, cursor string, limit int) ([]model.Booking, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    start := 0
    if cursor != "" {
        for i, id := range m.order {
            if id == cursor { start = i + 1; break }
        }
    }
    limit = clampLimit(limit)
    out := []model.Booking{}
    var next string
    for i := start; i < len(m.order) && len(out) < limit; i++ {
        b := m.bookings[m.order[i]]
        if matchFilter(&b, f) { out = append(out, b.Clone()) }
        next = m.order[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

// UpdateBooking holds the store lock for the whole read-modify-write, so
// concurrent updates to one booking observe each other's results.
func (m *Memory) UpdateBooking(ctx context.Context, id string, fn func(b *model.Booking) error) (model.Booking, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    cur, ok := m.bookings[id]
    if !ok { return model.Booking{}, ErrNotFound }
    next := cur.Clone()
    if err := fn(&next); err != nil {
        if errors.Is(err, ErrSkipWrite) { return cur.Clone(), nil }
        return model.Booking{}, err
    }
    next.ID = cur.ID
    next.Version = cur.Version + 1
    m.bookings[id] = next.Clone()
    return next, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs = append(m.subs, s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs {
        for _, e := range s.Events { if e == eventType || e == "*" { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs
    start := 0
    if cursor != "" {
        for i := range list { if list[i].ID == cursor { start = i+1; break } }
    }
    limit = clampLimit(limit)
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription{}, list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Subscription, 0, len(m.subs))
    found := false
    for _, s := range m.subs { if s.ID != id { out = append(out, s) } else { found = true } }
    m.subs = out
    if !found { return ErrNotFound }
    return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveryIDs = append(m.deliveryIDs, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.deliveryIDs {
        d := m.deliveries[id]
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
        return nil
    }
    d.Status = "retry"
    d.LastError = lastError
    if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Status = "failed"
    d.Attempts++
    d.LastError = lastError
    m.dlq = append(m.dlq, memDLQ{
        ID: uuid.New().String(), DeliveryID: id, EventType: d.EventType, URL: d.URL, Secret: d.Secret,
        Payload: d.Payload, Attempts: d.Attempts, LastError: lastError, ResponseCode: responseCode,
        LatencyMs: latencyMs, CreatedAt: time.Now(),
    })
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    start := 0
    if cursor != "" {
        for i, id := range m.deliveryIDs { if id == cursor { start = i + 1; break } }
    }
    limit = clampLimit(limit)
    out := []map[string]any{}
    var next string
    for i := start; i < len(m.deliveryIDs) && len(out) < limit; i++ {
        d := m.deliveries[m.deliveryIDs[i]]
        next = d.ID
        if status != "" && d.Status != status { continue }
        item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
        if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
        if d.LastError != "" { item["lastError"] = d.LastError }
        out = append(out, item)
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Status = "pending"
    d.NextAttemptAt = time.Now()
    return nil
}

func (m *Memory) ListWebhookDLQ(ctx context.Context, q DLQQuery, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    start := 0
    if cursor != "" {
        for i := range m.dlq { if m.dlq[i].ID == cursor { start = i + 1; break } }
    }
    limit = clampLimit(limit)
    out := []map[string]any{}
    var next string
    for i := start; i < len(m.dlq) && len(out) < limit; i++ {
        e := m.dlq[i]
        next = e.ID
        if q.EventType != "" && e.EventType != q.EventType { continue }
        if !q.OlderThan.IsZero() && !e.CreatedAt.Before(q.OlderThan) { continue }
        if q.CodeMin > 0 && e.ResponseCode < q.CodeMin { continue }
        if q.CodeMax > 0 && e.ResponseCode > q.CodeMax { continue }
        if q.ErrorQuery != "" && !strings.Contains(strings.ToLower(e.LastError), strings.ToLower(q.ErrorQuery)) { continue }
        out = append(out, map[string]any{"id": e.ID, "deliveryId": e.DeliveryID, "eventType": e.EventType, "url": e.URL, "lastError": e.LastError, "attempts": e.Attempts, "createdAt": e.CreatedAt, "responseCode": e.ResponseCode, "latencyMs": e.LatencyMs})
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) RequeueWebhookDLQ(ctx context.Context, id string) error {
    return m.RequeueWebhookDLQBulk(ctx, []string{id})
}

func (m *Memory) RequeueWebhookDLQBulk(ctx context.Context, ids []string) error {
    m.mu.Lock()
    want := map[string]bool{}
    for _, id := range ids { want[id] = true }
    var requeue []memDLQ
    kept := m.dlq[:0]
    for _, e := range m.dlq {
        if want[e.ID] { requeue = append(requeue, e) } else { kept = append(kept, e) }
    }
    m.dlq = kept
    m.mu.Unlock()
    if len(requeue) == 0 { return ErrNotFound }
    for _, e := range requeue {
        if _, err := m.EnqueueWebhook(ctx, e.DeliveryID, e.EventType, e.URL, e.Secret, e.Payload); err != nil { return err }
    }
    return nil
}

func (m *Memory) DeleteWebhookDLQBulk(ctx context.Context, ids []string, olderThan time.Time) error {
    m.mu.Lock(); defer m.mu.Unlock()
    want := map[string]bool{}
    for _, id := range ids { want[id] = true }
    kept := m.dlq[:0]
    for _, e := range m.dlq {
        drop := want[e.ID] || (len(ids) == 0 && !olderThan.IsZero() && e.CreatedAt.Before(olderThan))
        if !drop { kept = append(kept, e) }
    }
    m.dlq = kept
    return nil
}
