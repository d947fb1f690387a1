package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

// Postgres stores each booking as a jsonb document next to a version column
// and a few denormalized columns used for filtering.
type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

// NewPostgresDB wraps an existing handle.
func NewPostgresDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS bookings (
    id               text PRIMARY KEY,
    version          integer NOT NULL,
    status           text NOT NULL,
    stage            text NOT NULL,
    payment_status   text NOT NULL DEFAULT 'none',
    pickup_driver_id text,
    return_driver_id text,
    pickup_completed boolean NOT NULL DEFAULT false,
    cancelled        boolean NOT NULL DEFAULT false,
    doc              jsonb NOT NULL,
    created_at       timestamptz NOT NULL,
    updated_at       timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS bookings_pickup_driver_idx ON bookings (pickup_driver_id);
CREATE INDEX IF NOT EXISTS bookings_return_driver_idx ON bookings (return_driver_id);
CREATE TABLE IF NOT EXISTS subscriptions (
    id         uuid PRIMARY KEY,
    url        text NOT NULL,
    events     jsonb NOT NULL,
    secret     text NOT NULL DEFAULT '',
    created_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS webhook_deliveries (
    id              uuid PRIMARY KEY,
    subscription_id uuid,
    event_type      text NOT NULL,
    url             text NOT NULL,
    secret          text,
    payload         jsonb NOT NULL,
    status          text NOT NULL,
    attempts        integer NOT NULL DEFAULT 0,
    next_attempt_at timestamptz,
    last_error      text,
    response_code   integer,
    latency_ms      integer,
    dedup_key       text NOT NULL,
    delivered_at    timestamptz,
    created_at      timestamptz NOT NULL DEFAULT now(),
    updated_at      timestamptz NOT NULL DEFAULT now(),
    UNIQUE (event_type, url, dedup_key)
);
CREATE TABLE IF NOT EXISTS webhook_dlq (
    id            uuid PRIMARY KEY,
    delivery_id   uuid,
    event_type    text NOT NULL,
    url           text NOT NULL,
    secret        text,
    payload       jsonb NOT NULL,
    attempts      integer NOT NULL,
    last_error    text,
    response_code integer,
    latency_ms    integer,
    created_at    timestamptz NOT NULL DEFAULT now()
);`

// Migrate creates the tables when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
    _, err := p.db.ExecContext(ctx, schema)
    return err
}

// bookingColumns derives the filter columns from b.
func bookingColumns(b *model.Booking) (pickupID, returnID any, pickupDone, cancelled bool) {
    if b.PickupDriver != nil {
        pickupID = b.PickupDriver.DriverID
        pickupDone = b.PickupDriver.CompletedAt != nil
    }
    if b.ReturnDriver != nil {
        returnID = b.ReturnDriver.DriverID
    }
    return pickupID, returnID, pickupDone, b.Cancellation != nil
}

func (p *Postgres) CreateBooking(ctx context.Context, b model.Booking) (model.Booking, error) {
    if b.ID == "" { b.ID = uuid.New().String() }
    b.Version = 1
    doc, err := json.Marshal(b)
    if err != nil { return model.Booking{}, err }
    pid, rid, done, cancelled := bookingColumns(&b)
    _, err = p.db.ExecContext(ctx, `INSERT INTO bookings (id, version, status, stage, payment_status, pickup_driver_id, return_driver_id, pickup_completed, cancelled, doc, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
        b.ID, b.Version, string(b.Status), string(b.CurrentStage), string(b.PaymentState()), pid, rid, done, cancelled, doc, b.CreatedAt, b.UpdatedAt)
    if err != nil { return model.Booking{}, fmt.Errorf("insert booking: %w", err) }
    return b, nil
}

func (p *Postgres) GetBooking(ctx context.Context, id string) (model.Booking, error) {
    var doc []byte
    var version int
    err := p.db.QueryRowContext(ctx, `SELECT doc, version FROM bookings WHERE id=$1`, id).Scan(&doc, &version)
    if errors.Is(err, sql.ErrNoRows) { return model.Booking{}, ErrNotFound }
    if err != nil { return model.Booking{}, err }
    return decodeBooking(doc, version)
}

func decodeBooking(doc []byte, version int) (model.Booking, error) {
    var b model.Booking
    if err := json.Unmarshal(doc, &b); err != nil { return model.Booking{}, fmt.Errorf("decode booking: %w", err) }
    b.Version = version
    return b, nil
}

func (p *Postgres) ListBookings(ctx context.Context, f model.BookingFilter, cursor string, limit int) ([]model.Booking, string, error) {
    limit = clampLimit(limit)
    q := `SELECT doc, version, id FROM bookings WHERE true`
    args := []any{}
    idx := 1
    arg := func(v any) string { args = append(args, v); s := fmt.Sprintf("$%d", idx); idx++; return s }
    if f.Status != "" { q += ` AND status=` + arg(string(f.Status)) }
    if f.Stage != "" { q += ` AND stage=` + arg(string(f.Stage)) }
    if f.DriverID != "" {
        a := arg(f.DriverID)
        q += ` AND (pickup_driver_id=` + a + ` OR return_driver_id=` + a + `)`
    }
    switch f.OpenLeg {
    case model.LegPickup:
        q += ` AND pickup_driver_id IS NULL AND NOT cancelled`
    case model.LegReturn:
        q += ` AND return_driver_id IS NULL AND NOT cancelled AND pickup_completed AND payment_status='paid' AND NOT COALESCE((doc->>'endToEnd')::boolean, false)`
    }
    if cursor != "" { q += ` AND id > ` + arg(cursor) }
    q += ` ORDER BY id LIMIT ` + arg(limit)
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Booking{}
    var last string
    for rows.Next() {
        var doc []byte
        var version int
        if err := rows.Scan(&doc, &version, &last); err != nil { return nil, "", err }
        b, err := decodeBooking(doc, version)
        if err != nil { return nil, "", err }
        out = append(out, b)
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

// UpdateBooking locks the row for the duration of fn and guards the write
// with the version it read.
func (p *Postgres) UpdateBooking(ctx context.Context, id string, fn func(b *model.Booking) error) (model.Booking, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Booking{}, err }
    defer func() { _ = tx.Rollback() }()

    var doc []byte
    var version int
    err = tx.QueryRowContext(ctx, `SELECT doc, version FROM bookings WHERE id=$1 FOR UPDATE`, id).Scan(&doc, &version)
    if errors.Is(err, sql.ErrNoRows) { return model.Booking{}, ErrNotFound }
    if err != nil { return model.Booking{}, err }
    cur, err := decodeBooking(doc, version)
    if err != nil { return model.Booking{}, err }

    next := cur.Clone()
    if err := fn(&next); err != nil {
        if errors.Is(err, ErrSkipWrite) { return cur, nil }
        return model.Booking{}, err
    }
    next.ID = cur.ID
    next.Version = version + 1
    body, err := json.Marshal(next)
    if err != nil { return model.Booking{}, err }
    pid, rid, done, cancelled := bookingColumns(&next)
    res, err := tx.ExecContext(ctx, `UPDATE bookings SET doc=$1, version=$2, status=$3, stage=$4, payment_status=$5, pickup_driver_id=$6, return_driver_id=$7, pickup_completed=$8, cancelled=$9, updated_at=$10
        WHERE id=$11 AND version=$12`,
        body, next.Version, string(next.Status), string(next.CurrentStage), string(next.PaymentState()), pid, rid, done, cancelled, next.UpdatedAt, id, version)
    if err != nil { return model.Booking{}, fmt.Errorf("update booking: %w", err) }
    if n, err := res.RowsAffected(); err != nil || n != 1 { return model.Booking{}, ErrConflict }
    if err := tx.Commit(); err != nil { return model.Booking{}, err }
    return next, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`, id, req.URL, ev, req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE events @> $1::jsonb OR events @> '["*"]'::jsonb`, fmt.Sprintf("[%q]", eventType))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    limit = clampLimit(limit)
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Subscription{}
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`, nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
        return err
    }
    // move to DLQ
    if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, delivery_id, event_type, url, secret, payload, attempts, last_error, response_code, latency_ms)
        SELECT gen_random_uuid(), id, event_type, url, secret, payload, attempts, $2, $3, $4 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
        return err
    }
    return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
    limit = clampLimit(limit)
    q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries WHERE true`
    args := []any{}
    if status != "" { args = append(args, status); q += fmt.Sprintf(` AND status=$%d`, len(args)) }
    if cursor != "" { args = append(args, cursor); q += fmt.Sprintf(` AND id::text > $%d`, len(args)) }
    args = append(args, limit)
    q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, typ, st, lastErr, url string
        var attempts int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
        m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
        if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { m["lastError"] = lastErr }
        out = append(out, m)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) ListWebhookDLQ(ctx context.Context, dq DLQQuery, cursor string, limit int) ([]map[string]any, string, error) {
    limit = clampLimit(limit)
    q := `SELECT id::text, COALESCE(delivery_id::text,''), event_type, url, COALESCE(last_error,''), attempts, created_at, COALESCE(response_code,0), COALESCE(latency_ms,0) FROM webhook_dlq WHERE true`
    args := []any{}
    add := func(cond string, v any) { args = append(args, v); q += fmt.Sprintf(cond, len(args)) }
    if dq.EventType != "" { add(` AND event_type=$%d`, dq.EventType) }
    if !dq.OlderThan.IsZero() { add(` AND created_at < $%d`, dq.OlderThan) }
    if dq.CodeMin > 0 { add(` AND COALESCE(response_code,0) >= $%d`, dq.CodeMin) }
    if dq.CodeMax > 0 { add(` AND COALESCE(response_code,0) <= $%d`, dq.CodeMax) }
    if dq.ErrorQuery != "" { add(` AND last_error ILIKE $%d`, "%"+dq.ErrorQuery+"%") }
    if cursor != "" { add(` AND id::text > $%d`, cursor) }
    add(` ORDER BY id LIMIT $%d`, limit)
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, delID, et, url, errStr string
        var attempts int
        var created time.Time
        var code, latency int
        if err := rows.Scan(&id, &delID, &et, &url, &errStr, &attempts, &created, &code, &latency); err != nil { return nil, "", err }
        out = append(out, map[string]any{"id": id, "deliveryId": delID, "eventType": et, "url": url, "lastError": errStr, "attempts": attempts, "createdAt": created, "responseCode": code, "latencyMs": latency})
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) RequeueWebhookDLQ(ctx context.Context, id string) error {
    return p.RequeueWebhookDLQBulk(ctx, []string{id})
}

func (p *Postgres) RequeueWebhookDLQBulk(ctx context.Context, ids []string) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    for _, id := range ids {
        var delID, et, url, secret string
        var payload []byte
        err := tx.QueryRowContext(ctx, `SELECT COALESCE(delivery_id::text,''), event_type, url, COALESCE(secret,''), payload FROM webhook_dlq WHERE id=$1`, id).Scan(&delID, &et, &url, &secret, &payload)
        if errors.Is(err, sql.ErrNoRows) { return ErrNotFound }
        if err != nil { return err }
        // the original delivery row holds the dedup key, so requeue as a fresh row
        if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
            VALUES ($1,$2,$3,$4,$5,'pending',0,now(),$6)`, uuid.New().String(), et, url, nullIfEmpty(secret), payload, "requeue:"+delID+":"+id); err != nil {
            return err
        }
        if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_dlq WHERE id=$1`, id); err != nil { return err }
    }
    return tx.Commit()
}

func (p *Postgres) DeleteWebhookDLQBulk(ctx context.Context, ids []string, olderThan time.Time) error {
    if len(ids) > 0 {
        for _, id := range ids {
            if _, err := p.db.ExecContext(ctx, `DELETE FROM webhook_dlq WHERE id=$1`, id); err != nil { return err }
        }
        return nil
    }
    if !olderThan.IsZero() {
        _, err := p.db.ExecContext(ctx, `DELETE FROM webhook_dlq WHERE created_at < $1`, olderThan)
        return err
    }
    return nil
}

// computeDedupKey prefers the event id in the payload, falling back to a
// content hash.
func computeDedupKey(payload []byte) string {
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
