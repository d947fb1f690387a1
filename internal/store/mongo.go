package store

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    "go.mongodb.org/mongo-driver/bson"
    "go.mongodb.org/mongo-driver/mongo"
    "go.mongodb.org/mongo-driver/mongo/options"

    "github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

// Mongo keeps one document per booking. Updates are optimistic: the replace
// is filtered on the version that was read, so a concurrent writer turns the
// loser into ErrConflict instead of a lost update.
type Mongo struct {
    client *mongo.Client
    coll   *mongo.Collection
}

// NewMongo connects to uri and uses database.bookings.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
    if database == "" { database = "drivlet" }
    client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
    if err != nil { return nil, fmt.Errorf("mongo connect: %w", err) }
    pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := client.Ping(pctx, nil); err != nil { return nil, fmt.Errorf("mongo ping: %w", err) }
    coll := client.Database(database).Collection("bookings")
    _, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
        {Keys: bson.D{{Key: "pickup_driver.driver_id", Value: 1}}},
        {Keys: bson.D{{Key: "return_driver.driver_id", Value: 1}}},
    })
    if err != nil { return nil, fmt.Errorf("mongo indexes: %w", err) }
    return &Mongo{client: client, coll: coll}, nil
}

func (m *Mongo) Ping(ctx context.Context) error { return m.client.Ping(ctx, nil) }

func (m *Mongo) Close(ctx context.Context) error { return m.client.Disconnect(ctx) }

func (m *Mongo) CreateBooking(ctx context.Context, b model.Booking) (model.Booking, error) {
    if b.ID == "" { b.ID = uuid.New().String() }
    b.Version = 1
    if _, err := m.coll.InsertOne(ctx, b); err != nil {
        if mongo.IsDuplicateKeyError(err) { return model.Booking{}, ErrConflict }
        return model.Booking{}, fmt.Errorf("insert booking: %w", err)
    }
    return b, nil
}

func (m *Mongo) GetBooking(ctx context.Context, id string) (model.Booking, error) {
    var b model.Booking
    err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
    if errors.Is(err, mongo.ErrNoDocuments) { return model.Booking{}, ErrNotFound }
    if err != nil { return model.Booking{}, err }
    return b, nil
}

// mongoFilter mirrors matchFilter.
func mongoFilter(f model.BookingFilter) bson.M {
    q := bson.M{}
    if f.Status != "" { q["status"] = f.Status }
    if f.Stage != "" { q["current_stage"] = f.Stage }
    if f.DriverID != "" {
        q["$or"] = bson.A{
            bson.M{"pickup_driver.driver_id": f.DriverID},
            bson.M{"return_driver.driver_id": f.DriverID},
        }
    }
    switch f.OpenLeg {
    case model.LegPickup:
        q["pickup_driver"] = bson.M{"$exists": false}
        q["cancellation"] = bson.M{"$exists": false}
    case model.LegReturn:
        q["return_driver"] = bson.M{"$exists": false}
        q["cancellation"] = bson.M{"$exists": false}
        q["pickup_driver.completed_at"] = bson.M{"$exists": true}
        q["service_payment_status"] = model.PaymentPaid
        q["end_to_end"] = bson.M{"$ne": true}
    }
    return q
}

func (m *Mongo) ListBookings(ctx context.Context, f model.BookingFilter, cursor string, limit int) ([]model.Booking, string, error) {
    limit = clampLimit(limit)
    q := mongoFilter(f)
    if cursor != "" { q["_id"] = bson.M{"$gt": cursor} }
    opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
    cur, err := m.coll.Find(ctx, q, opts)
    if err != nil { return nil, "", err }
    out := []model.Booking{}
    if err := cur.All(ctx, &out); err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

func (m *Mongo) UpdateBooking(ctx context.Context, id string, fn func(b *model.Booking) error) (model.Booking, error) {
    cur, err := m.GetBooking(ctx, id)
    if err != nil { return model.Booking{}, err }
    next := cur.Clone()
    if err := fn(&next); err != nil {
        if errors.Is(err, ErrSkipWrite) { return cur, nil }
        return model.Booking{}, err
    }
    next.ID = cur.ID
    next.Version = cur.Version + 1
    res, err := m.coll.ReplaceOne(ctx, bson.M{"_id": id, "version": cur.Version}, next)
    if err != nil { return model.Booking{}, fmt.Errorf("replace booking: %w", err) }
    if res.MatchedCount == 0 { return model.Booking{}, ErrConflict }
    return next, nil
}
