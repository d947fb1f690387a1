package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"x"}`)
	got := computeDedupKey(body)
	if got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	body := []byte(`{"notId":"x"}`)
	got := computeDedupKey(body)
	// hex-encoded first 8 bytes -> 16 hex chars
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
}

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresDB(db), mock
}

func storedBooking(t *testing.T) []byte {
	t.Helper()
	b := model.Booking{
		ID:                   "b1",
		CurrentStage:         model.StageBookingConfirmed,
		OverallProgress:      14,
		Status:               model.StatusPending,
		ServicePaymentStatus: model.PaymentNone,
		Updates:              []model.JournalEntry{{Stage: model.StageBookingConfirmed, Message: "Booking confirmed"}},
	}
	doc, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

const selectForUpdate = `SELECT doc, version FROM bookings WHERE id=$1 FOR UPDATE`

func TestPostgresUpdateBooking_Commit(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectForUpdate)).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"doc", "version"}).AddRow(storedBooking(t), 3))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings SET doc=$1, version=$2`)).
		WithArgs(sqlmock.AnyArg(), 4, "pending", "booking_confirmed", "none", "d1", sqlmock.AnyArg(), false, false, sqlmock.AnyArg(), "b1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := p.UpdateBooking(context.Background(), "b1", func(b *model.Booking) error {
		b.PickupDriver = &model.LegAssignment{DriverID: "d1"}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateBooking: %v", err)
	}
	if got.Version != 4 || got.PickupDriver == nil {
		t.Fatalf("unexpected result %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresUpdateBooking_VersionMoved(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectForUpdate)).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"doc", "version"}).AddRow(storedBooking(t), 3))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings SET`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := p.UpdateBooking(context.Background(), "b1", func(b *model.Booking) error { b.Notes = "x"; return nil })
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresUpdateBooking_SkipAndAbort(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectForUpdate)).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"doc", "version"}).AddRow(storedBooking(t), 7))
	mock.ExpectRollback()
	got, err := p.UpdateBooking(context.Background(), "b1", func(b *model.Booking) error { return ErrSkipWrite })
	if err != nil || got.Version != 7 {
		t.Fatalf("skip: %+v %v", got, err)
	}

	boom := errors.New("rejected")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectForUpdate)).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"doc", "version"}).AddRow(storedBooking(t), 7))
	mock.ExpectRollback()
	if _, err := p.UpdateBooking(context.Background(), "b1", func(b *model.Booking) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("abort: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectForUpdate)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"doc", "version"}))
	mock.ExpectRollback()
	if _, err := p.UpdateBooking(context.Background(), "missing", func(b *model.Booking) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresListBookings_OpenReturn(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc, version, id FROM bookings WHERE true AND return_driver_id IS NULL AND NOT cancelled AND pickup_completed AND payment_status='paid' AND NOT COALESCE((doc->>'endToEnd')::boolean, false) ORDER BY id LIMIT $1`)).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"doc", "version", "id"}).
			AddRow(storedBooking(t), 1, "b1").
			AddRow(storedBooking(t), 2, "b2"))

	items, next, err := p.ListBookings(context.Background(), model.BookingFilter{OpenLeg: model.LegReturn}, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || next != "b2" || items[1].Version != 2 {
		t.Fatalf("items=%d next=%q", len(items), next)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetBooking_NotFound(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc, version FROM bookings WHERE id=$1`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"doc", "version"}))
	if _, err := p.GetBooking(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestPostgresFailWebhookDelivery_MovesToDLQ(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE webhook_deliveries SET status='failed'`)).
		WithArgs("d1", "timeout", 0, 5000).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO webhook_dlq`)).
		WithArgs("d1", "timeout", 0, 5000).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	if err := p.FailWebhookDelivery(context.Background(), "d1", "timeout", 0, 5000); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresMarkWebhookDelivery_Retry(t *testing.T) {
	p, mock := newMockPostgres(t)
	next := time.Now().Add(time.Minute)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE webhook_deliveries SET attempts=attempts+1, status='retry'`)).
		WithArgs("boom", next, "d1", 500, 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := p.MarkWebhookDelivery(context.Background(), "d1", false, &next, "boom", 500, 12); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
