package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/config"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/logger"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/webhooks"
)

const (
	adminTok  = "admin:ops-1"
	driverTok = "driver:d-1"
	otherTok  = "driver:d-2"
)

func newTestServer(t *testing.T, mutate ...func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.Payment.WebhookSecret = "whsec"
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewServer(context.Background(), cfg, logger.Nop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

type resp struct {
	code int
	hdr  http.Header
	body []byte
}

func (r resp) booking(t *testing.T) model.Booking {
	t.Helper()
	var b model.Booking
	if err := json.Unmarshal(r.body, &b); err != nil {
		t.Fatalf("decode booking: %v: %s", err, r.body)
	}
	return b
}

func (r resp) problem(t *testing.T) Problem {
	t.Helper()
	var p Problem
	if err := json.Unmarshal(r.body, &p); err != nil {
		t.Fatalf("decode problem: %v: %s", err, r.body)
	}
	return p
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any, hdr ...string) resp {
	t.Helper()
	var rd io.Reader
	switch v := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(v)
	default:
		b, _ := json.Marshal(v)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, ts.URL+path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return resp{code: res.StatusCode, hdr: res.Header, body: b}
}

func newBookingBody() map[string]any {
	return map[string]any{
		"customer":      map[string]any{"name": "Sam Lee", "email": "sam@example.com"},
		"vehicle":       map[string]any{"registration": "abc123", "make": "Mazda"},
		"pickupAddress": "1 George St, Sydney",
		"pickupTime":    "2026-10-20T08:00:00Z",
		"garage":        map[string]any{"name": "Inner West Motors"},
		"serviceType":   "logbook",
	}
}

func createBooking(t *testing.T, ts *httptest.Server) model.Booking {
	t.Helper()
	r := call(t, ts, http.MethodPost, "/v1/bookings", adminTok, newBookingBody())
	if r.code != http.StatusCreated {
		t.Fatalf("create: %d %s", r.code, r.body)
	}
	return r.booking(t)
}

func mustOK(t *testing.T, r resp) model.Booking {
	t.Helper()
	if r.code != http.StatusOK {
		t.Fatalf("want 200, got %d %s", r.code, r.body)
	}
	return r.booking(t)
}

func TestHealthReady(t *testing.T) {
	_, ts := newTestServer(t)
	if r := call(t, ts, http.MethodGet, "/healthz", "", nil); r.code != 200 {
		t.Fatalf("health: got %d", r.code)
	}
	if r := call(t, ts, http.MethodGet, "/readyz", "", nil); r.code != 200 {
		t.Fatalf("ready: got %d", r.code)
	}
	if r := call(t, ts, http.MethodGet, "/debug/info", "", nil); r.code != 200 || !bytes.Contains(r.body, []byte(`"STORE_DRIVER":"memory"`)) {
		t.Fatalf("debug: got %d %s", r.code, r.body)
	}
	if r := call(t, ts, http.MethodGet, "/openapi.yaml", "", nil); r.code != 200 || !bytes.Contains(r.body, []byte("/v1/bookings")) {
		t.Fatalf("openapi: got %d", r.code)
	}
}

func TestBookingJourneyOverHTTP(t *testing.T) {
	s, ts := newTestServer(t)
	b := createBooking(t, ts)
	if b.CurrentStage != model.StageBookingConfirmed || b.OverallProgress != 14 || b.Status != model.StatusPending {
		t.Fatalf("unexpected initial state: %+v", b)
	}
	if b.Vehicle.Registration != "ABC123" {
		t.Fatalf("registration not normalised: %q", b.Vehicle.Registration)
	}
	base := "/v1/bookings/" + b.ID

	// driver claims the pickup from the open board
	r := call(t, ts, http.MethodGet, "/v1/bookings?open=pickup", driverTok, nil)
	if r.code != 200 || !bytes.Contains(r.body, []byte(b.ID)) {
		t.Fatalf("open board: %d %s", r.code, r.body)
	}
	b = mustOK(t, call(t, ts, http.MethodPost, base+"/legs/pickup/assign", driverTok, nil))
	if b.PickupDriver == nil || b.PickupDriver.DriverID != "d-1" {
		t.Fatalf("pickup not assigned: %+v", b.PickupDriver)
	}

	for _, ev := range []string{"start", "arrive", "collect", "complete"} {
		b = mustOK(t, call(t, ts, http.MethodPost, base+"/legs/pickup/events", driverTok, map[string]string{"event": ev}))
	}
	if b.CurrentStage != model.StageAtGarage || b.OverallProgress != 57 {
		t.Fatalf("after pickup: %s/%d", b.CurrentStage, b.OverallProgress)
	}

	b = mustOK(t, call(t, ts, http.MethodPost, base+"/payment", adminTok, map[string]int64{"amountMinor": 42000}))
	if b.CurrentStage != model.StageServiceInProgress || b.ServicePaymentStatus != model.PaymentPending || b.ServicePaymentURL == "" {
		t.Fatalf("after payment request: %+v", b)
	}

	// provider callback marks it paid
	body, _ := json.Marshal(map[string]string{"id": "pe_1", "type": "payment.succeeded", "requestId": b.ServicePaymentRequestID, "bookingId": b.ID})
	r = call(t, ts, http.MethodPost, "/v1/payments/webhook", "", body, "X-Signature", webhooks.SignHMAC("whsec", body))
	if r.code != 200 || !bytes.Contains(r.body, []byte(`"paid"`)) {
		t.Fatalf("payment webhook: %d %s", r.code, r.body)
	}
	// provider retries are harmless
	if r = call(t, ts, http.MethodPost, "/v1/payments/webhook", "", body, "X-Signature", webhooks.SignHMAC("whsec", body)); r.code != 200 {
		t.Fatalf("payment webhook retry: %d %s", r.code, r.body)
	}

	b = mustOK(t, call(t, ts, http.MethodPost, base+"/legs/return/assign", driverTok, nil))
	b = mustOK(t, call(t, ts, http.MethodPost, base+"/legs/return/events", driverTok, map[string]string{"event": "start"}))
	if b.CurrentStage != model.StageDriverReturning {
		t.Fatalf("after return start: %s", b.CurrentStage)
	}
	if r = call(t, ts, http.MethodPost, base+"/location", driverTok, map[string]float64{"lat": -33.9, "lng": 151.2}); r.code != 202 {
		t.Fatalf("location: %d %s", r.code, r.body)
	}
	if got := s.Locations.ListByBooking(b.ID); len(got) != 1 || got[0].Leg != "return" {
		t.Fatalf("location not cached: %+v", got)
	}
	b = mustOK(t, call(t, ts, http.MethodPost, base+"/legs/return/events", driverTok, map[string]string{"event": "complete"}))
	if b.CurrentStage != model.StageDelivered || b.OverallProgress != 100 {
		t.Fatalf("after return complete: %s/%d", b.CurrentStage, b.OverallProgress)
	}
	b = mustOK(t, call(t, ts, http.MethodPost, base+"/status", adminTok, map[string]string{"status": "completed"}))
	if b.Status != model.StatusCompleted {
		t.Fatalf("status: %s", b.Status)
	}

	r = call(t, ts, http.MethodGet, base, driverTok, nil)
	if r.code != 200 || r.hdr.Get("ETag") != `"`+itoa(b.Version)+`"` {
		t.Fatalf("get: %d etag=%q version=%d", r.code, r.hdr.Get("ETag"), b.Version)
	}
	if got := s.Locations.ListByBooking(b.ID); len(got) != 0 {
		t.Fatalf("locations kept after delivery: %+v", got)
	}
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

func TestActionErrorsAsProblems(t *testing.T) {
	_, ts := newTestServer(t)
	b := createBooking(t, ts)
	base := "/v1/bookings/" + b.ID

	cases := []struct {
		name   string
		path   string
		token  string
		body   any
		hdr    []string
		status int
		code   string
	}{
		{"return before pickup", "/legs/return/assign", adminTok, map[string]string{"driverId": "d-9"}, nil, 422, "RETURN_REQUIRES_PICKUP_COMPLETE"},
		{"unknown stage", "/stage", adminTok, map[string]string{"stage": "teleported"}, nil, 400, "UNKNOWN_STAGE"},
		{"unknown leg", "/legs/sideways/assign", adminTok, map[string]string{"driverId": "d-9"}, nil, 400, "UNKNOWN_LEG"},
		{"stale if-match", "/stage", adminTok, map[string]string{"stage": "driver_en_route"}, []string{"If-Match", `"7"`}, 412, "VERSION_CONFLICT"},
		{"driver assigns someone else", "/legs/pickup/assign", driverTok, map[string]string{"driverId": "d-2"}, nil, 403, "FORBIDDEN"},
		{"driver advances unheld leg", "/legs/pickup/events", driverTok, map[string]string{"event": "start"}, nil, 403, "NOT_ASSIGNED_DRIVER"},
		{"driver edits stage", "/stage", driverTok, map[string]string{"stage": "delivered"}, nil, 403, "FORBIDDEN"},
		{"amount out of range", "/payment", adminTok, map[string]int64{"amountMinor": 100}, nil, 400, "AMOUNT_OUT_OF_RANGE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := call(t, ts, http.MethodPost, base+tc.path, tc.token, tc.body, tc.hdr...)
			if r.code != tc.status {
				t.Fatalf("status: want %d got %d %s", tc.status, r.code, r.body)
			}
			if p := r.problem(t); p.Code != tc.code {
				t.Fatalf("code: want %s got %s", tc.code, p.Code)
			}
		})
	}

	r := call(t, ts, http.MethodPost, base+"/legs/return/assign", adminTok, map[string]string{"driverId": "d-9"})
	if p := r.problem(t); p.Current != "unassigned" || p.Requested != "complete" {
		t.Fatalf("problem state: %+v", p)
	}

	r = call(t, ts, http.MethodPost, base+"/legs/pickup/assign", adminTok, map[string]string{"driverId": "d-2"}, "If-Match", `"1"`)
	if r.code != 200 || r.hdr.Get("ETag") != `"2"` {
		t.Fatalf("if-match write: %d %s etag=%s", r.code, r.body, r.hdr.Get("ETag"))
	}
	r = call(t, ts, http.MethodPost, base+"/legs/pickup/assign", adminTok, map[string]string{"driverId": "d-3"})
	if r.code != 409 || r.problem(t).Code != "LEG_ALREADY_ASSIGNED" {
		t.Fatalf("double assign: %d %s", r.code, r.body)
	}

	mustOK(t, call(t, ts, http.MethodPost, base+"/cancel", adminTok, map[string]string{"reason": "customer request"}))
	r = call(t, ts, http.MethodPost, base+"/stage", adminTok, map[string]string{"stage": "driver_en_route"})
	if r.code != 409 || r.problem(t).Code != "BOOKING_CANCELLED" {
		t.Fatalf("after cancel: %d %s", r.code, r.body)
	}
	r = call(t, ts, http.MethodPost, base+"/payment", adminTok, map[string]int{"amountMinor": 1})
	if r.code != 409 || r.problem(t).Code != "BOOKING_CANCELLED" {
		t.Fatalf("invalid payload after cancel: %d %s", r.code, r.body)
	}

	r = call(t, ts, http.MethodGet, "/v1/bookings/nope", adminTok, nil)
	if r.code != 404 || r.problem(t).Code != "BOOKING_NOT_FOUND" {
		t.Fatalf("missing: %d %s", r.code, r.body)
	}
	r = call(t, ts, http.MethodPost, "/v1/bookings/nope/cancel", adminTok, nil)
	if r.code != 404 {
		t.Fatalf("missing action: %d %s", r.code, r.body)
	}
	if r = call(t, ts, http.MethodPost, base+"/teleport", adminTok, nil); r.code != 404 {
		t.Fatalf("unknown route: %d", r.code)
	}
	if r = call(t, ts, http.MethodPost, base+"/stage", adminTok, nil, "If-Match", "abc"); r.code != 400 {
		t.Fatalf("bad if-match: %d", r.code)
	}
}

func TestDriverListScoping(t *testing.T) {
	_, ts := newTestServer(t)
	mine := createBooking(t, ts)
	theirs := createBooking(t, ts)
	mustOK(t, call(t, ts, http.MethodPost, "/v1/bookings/"+mine.ID+"/legs/pickup/assign", driverTok, nil))
	mustOK(t, call(t, ts, http.MethodPost, "/v1/bookings/"+theirs.ID+"/legs/pickup/assign", otherTok, nil))

	var page struct {
		Items []model.Booking `json:"items"`
	}
	// driverId in the query is ignored for drivers
	r := call(t, ts, http.MethodGet, "/v1/bookings?driverId=d-2", driverTok, nil)
	if err := json.Unmarshal(r.body, &page); err != nil || len(page.Items) != 1 || page.Items[0].ID != mine.ID {
		t.Fatalf("own jobs: %s", r.body)
	}
	r = call(t, ts, http.MethodGet, "/v1/bookings?open=pickup", driverTok, nil)
	page.Items = nil
	if err := json.Unmarshal(r.body, &page); err != nil || len(page.Items) != 0 {
		t.Fatalf("open board should be empty: %s", r.body)
	}
	if r = call(t, ts, http.MethodGet, "/v1/bookings/"+theirs.ID, driverTok, nil); r.code != 403 {
		t.Fatalf("foreign booking: %d", r.code)
	}
	r = call(t, ts, http.MethodGet, "/v1/bookings", adminTok, nil)
	page.Items = nil
	if err := json.Unmarshal(r.body, &page); err != nil || len(page.Items) != 2 {
		t.Fatalf("admin list: %s", r.body)
	}
	if r = call(t, ts, http.MethodGet, "/v1/bookings?open=sideways", adminTok, nil); r.code != 400 {
		t.Fatalf("bad open filter: %d", r.code)
	}
}

func TestAuthRequiredOutsideDevMode(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) {
		c.Auth = config.Auth{Mode: "hmac", HMACSecret: "k", RoleClaim: "role"}
	})
	r := call(t, ts, http.MethodPost, "/v1/bookings", "", newBookingBody(), "X-Role", "admin")
	if r.code != http.StatusUnauthorized || r.hdr.Get("WWW-Authenticate") == "" {
		t.Fatalf("want 401, got %d", r.code)
	}
	if r = call(t, ts, http.MethodGet, "/v1/bookings", "not-a-jwt", nil); r.code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", r.code)
	}
}

func TestCreateValidation(t *testing.T) {
	_, ts := newTestServer(t)
	body := newBookingBody()
	delete(body, "pickupAddress")
	if r := call(t, ts, http.MethodPost, "/v1/bookings", adminTok, body); r.code != 400 {
		t.Fatalf("missing address: %d", r.code)
	}
	if r := call(t, ts, http.MethodPost, "/v1/bookings", driverTok, newBookingBody()); r.code != 403 {
		t.Fatalf("driver create: %d", r.code)
	}
	if r := call(t, ts, http.MethodPost, "/v1/bookings", adminTok, []byte("{")); r.code != 400 {
		t.Fatalf("bad json: %d", r.code)
	}
}

func TestPaymentWebhookIgnoresWhatItCannotApply(t *testing.T) {
	_, ts := newTestServer(t)
	b := createBooking(t, ts)

	send := func(ev map[string]string, sig string) resp {
		body, _ := json.Marshal(ev)
		if sig == "" {
			sig = webhooks.SignHMAC("whsec", body)
		}
		return call(t, ts, http.MethodPost, "/v1/payments/webhook", "", body, "X-Signature", sig)
	}
	if r := send(map[string]string{"type": "payment.succeeded", "requestId": "pl_x", "bookingId": b.ID}, "00"); r.code != 401 {
		t.Fatalf("bad signature: %d", r.code)
	}
	r := send(map[string]string{"type": "payment.succeeded", "requestId": "pl_x", "bookingId": "missing"}, "")
	if r.code != 200 || !bytes.Contains(r.body, []byte("BOOKING_NOT_FOUND")) {
		t.Fatalf("unknown booking: %d %s", r.code, r.body)
	}
	r = send(map[string]string{"type": "payment.succeeded", "requestId": "pl_other", "bookingId": b.ID}, "")
	if r.code != 200 || !bytes.Contains(r.body, []byte("INVALID_INPUT")) {
		t.Fatalf("mismatched request: %d %s", r.code, r.body)
	}
	r = send(map[string]string{"type": "payment.failed", "requestId": "pl_x", "bookingId": b.ID}, "")
	if r.code != 200 || !bytes.Contains(r.body, []byte("ignored")) {
		t.Fatalf("other type: %d %s", r.code, r.body)
	}
	got := mustOK(t, call(t, ts, http.MethodGet, "/v1/bookings/"+b.ID, adminTok, nil))
	if got.ServicePaymentStatus == model.PaymentPaid || got.Version != b.Version {
		t.Fatalf("booking changed: %+v", got)
	}
}

func TestSubscriptionsAndDeliveries(t *testing.T) {
	s, ts := newTestServer(t)
	if r := call(t, ts, http.MethodPost, "/v1/subscriptions", adminTok, map[string]any{"url": "https://hooks.example/x", "events": []string{"route.updated"}}); r.code != 400 {
		t.Fatalf("unknown event type accepted: %d", r.code)
	}
	if r := call(t, ts, http.MethodPost, "/v1/subscriptions", driverTok, map[string]any{"url": "https://hooks.example/x", "events": []string{"*"}}); r.code != 403 {
		t.Fatalf("driver subscription: %d", r.code)
	}
	r := call(t, ts, http.MethodPost, "/v1/subscriptions", adminTok, map[string]any{"url": "https://hooks.example/x", "events": []string{"booking.created", "booking.cancelled"}, "secret": "s"})
	if r.code != 201 {
		t.Fatalf("create subscription: %d %s", r.code, r.body)
	}
	var sub model.Subscription
	_ = json.Unmarshal(r.body, &sub)

	r = call(t, ts, http.MethodGet, "/v1/subscriptions", adminTok, nil)
	if r.code != 200 || bytes.Contains(r.body, []byte(`"secret"`)) {
		t.Fatalf("list subscriptions leaks secret: %s", r.body)
	}

	b := createBooking(t, ts)
	mustOK(t, call(t, ts, http.MethodPost, "/v1/bookings/"+b.ID+"/legs/pickup/assign", adminTok, map[string]string{"driverId": "d-1"}))
	mustOK(t, call(t, ts, http.MethodPost, "/v1/bookings/"+b.ID+"/cancel", adminTok, map[string]string{"reason": "duplicate"}))
	if err := s.Fanout.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	var page struct {
		Items []map[string]any `json:"items"`
	}
	r = call(t, ts, http.MethodGet, "/v1/admin/webhook-deliveries", adminTok, nil)
	if err := json.Unmarshal(r.body, &page); err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, it := range page.Items {
		types = append(types, it["eventType"].(string))
	}
	if strings.Join(types, ",") != "booking.created,booking.cancelled" {
		t.Fatalf("deliveries: %v", types)
	}

	if r = call(t, ts, http.MethodDelete, "/v1/subscriptions/"+sub.ID, adminTok, nil); r.code != 204 {
		t.Fatalf("delete: %d", r.code)
	}
	if r = call(t, ts, http.MethodDelete, "/v1/subscriptions/"+sub.ID, adminTok, nil); r.code != 404 {
		t.Fatalf("delete twice: %d", r.code)
	}
	if r = call(t, ts, http.MethodPost, "/v1/admin/webhook-dlq/missing/requeue", adminTok, nil); r.code != 404 {
		t.Fatalf("requeue missing: %d", r.code)
	}
	if r = call(t, ts, http.MethodGet, "/v1/admin/webhook-dlq", adminTok, nil); r.code != 200 {
		t.Fatalf("dlq list: %d", r.code)
	}
}

func TestLocationRequiresActiveLeg(t *testing.T) {
	_, ts := newTestServer(t)
	b := createBooking(t, ts)
	base := "/v1/bookings/" + b.ID
	loc := map[string]float64{"lat": -33.87, "lng": 151.21}

	mustOK(t, call(t, ts, http.MethodPost, base+"/legs/pickup/assign", driverTok, nil))
	if r := call(t, ts, http.MethodPost, base+"/location", driverTok, loc); r.code != 403 {
		t.Fatalf("before start: %d", r.code)
	}
	mustOK(t, call(t, ts, http.MethodPost, base+"/legs/pickup/events", driverTok, map[string]string{"event": "start"}))
	if r := call(t, ts, http.MethodPost, base+"/location", otherTok, loc); r.code != 403 {
		t.Fatalf("other driver: %d", r.code)
	}
	if r := call(t, ts, http.MethodPost, base+"/location", driverTok, map[string]float64{"lat": 120}); r.code != 400 {
		t.Fatalf("out of range: %d", r.code)
	}
	if r := call(t, ts, http.MethodPost, base+"/location", driverTok, loc); r.code != 202 {
		t.Fatalf("location: %d %s", r.code, r.body)
	}
	r := call(t, ts, http.MethodGet, base+"/location/latest", adminTok, nil)
	if r.code != 200 || !bytes.Contains(r.body, []byte(`"driverId":"d-1"`)) || !bytes.Contains(r.body, []byte(`"leg":"pickup"`)) {
		t.Fatalf("latest: %d %s", r.code, r.body)
	}
}

func TestEventStream(t *testing.T) {
	s, ts := newTestServer(t)
	b := createBooking(t, ts)
	if err := s.Fanout.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/bookings/"+b.ID+"/events/stream", nil)
	req.Header.Set("Authorization", "Bearer "+adminTok)
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %s", ct)
	}
	rd := bufio.NewReader(res.Body)
	next := func() string {
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				t.Fatalf("stream read: %v", err)
			}
			if strings.HasPrefix(line, "event: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "event: "))
			}
		}
	}
	if ev := next(); ev != "booking.snapshot" {
		t.Fatalf("first event: %s", ev)
	}
	mustOK(t, call(t, ts, http.MethodPost, "/v1/bookings/"+b.ID+"/legs/pickup/assign", adminTok, map[string]string{"driverId": "d-1"}))
	if ev := next(); ev != "booking.leg_assigned" {
		t.Fatalf("second event: %s", ev)
	}
	mustOK(t, call(t, ts, http.MethodPost, "/v1/bookings/"+b.ID+"/legs/pickup/events", driverTok, map[string]string{"event": "start"}))
	if ev := next(); ev != "booking.leg_advanced" {
		t.Fatalf("third event: %s", ev)
	}
	if ev := next(); ev != "booking.stage_changed" {
		t.Fatalf("fourth event: %s", ev)
	}
}

func TestRateLimit(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) {
		c.RateLimit = config.RateLimit{RPS: 0.01, Burst: 1}
	})
	if r := call(t, ts, http.MethodGet, "/v1/bookings", adminTok, nil); r.code != 200 {
		t.Fatalf("first: %d", r.code)
	}
	r := call(t, ts, http.MethodGet, "/v1/bookings", adminTok, nil)
	if r.code != http.StatusTooManyRequests || r.hdr.Get("Retry-After") == "" {
		t.Fatalf("second: %d", r.code)
	}
	if r = call(t, ts, http.MethodGet, "/healthz", "", nil); r.code != 200 {
		t.Fatalf("health limited: %d", r.code)
	}
}

func TestParseIfMatch(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"", 0, true},
		{"*", 0, true},
		{"3", 3, true},
		{`"4"`, 4, true},
		{`W/"5"`, 5, true},
		{"0", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		got, err := parseIfMatch(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("parseIfMatch(%q) = %d, %v", tc.in, got, err)
		}
	}
}

func TestWriteActionErrorUntyped(t *testing.T) {
	rr := httptest.NewRecorder()
	s := &Server{Log: logger.Nop()}
	s.writeActionError(rr, httptest.NewRequest(http.MethodPost, "/x", nil), io.ErrUnexpectedEOF)
	if rr.Code != 500 {
		t.Fatalf("plain error: %d", rr.Code)
	}
}
