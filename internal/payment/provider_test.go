package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/webhooks"
)

func TestHTTPProvider_CreatePaymentRequest(t *testing.T) {
	var got createLinkRequest
	var auth, idem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_links" {
			w.WriteHeader(404)
			return
		}
		auth = r.Header.Get("Authorization")
		idem = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"pl_1","url":"https://pay.example/pl_1"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL+"/", "sk_test", "")
	p.HTTP = srv.Client()
	req, err := p.CreatePaymentRequest(context.Background(), 42000, map[string]string{"bookingId": "b1", "idempotencyKey": "b1:1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.ID != "pl_1" || req.URL != "https://pay.example/pl_1" {
		t.Fatalf("got %+v", req)
	}
	if got.Amount != 42000 || got.Currency != "aud" || got.Metadata["bookingId"] != "b1" {
		t.Fatalf("request body %+v", got)
	}
	if auth != "Bearer sk_test" || idem != "b1:1" {
		t.Fatalf("headers auth=%q idem=%q", auth, idem)
	}
}

func TestHTTPProvider_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()
	p := NewHTTPProvider(srv.URL, "", "aud")
	p.HTTP = srv.Client()
	_, err := p.CreatePaymentRequest(context.Background(), 42000, nil)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("want status error, got %v", err)
	}
}

func TestStaticProvider(t *testing.T) {
	req, err := StaticProvider{BaseURL: "https://drivlet.test/"}.CreatePaymentRequest(context.Background(), 15000, nil)
	if err != nil || !strings.HasPrefix(req.URL, "https://drivlet.test/pay/pl_") {
		t.Fatalf("got %+v %v", req, err)
	}
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"payment.succeeded","requestId":"pl_1","bookingId":"b1"}`)
	sig := webhooks.SignHMAC("whsec", body)
	ev, err := ParseEvent("whsec", body, sig)
	if err != nil || ev.BookingID != "b1" || ev.Type != EventSucceeded {
		t.Fatalf("got %+v %v", ev, err)
	}
	if _, err := ParseEvent("whsec", body, "deadbeef"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("want bad signature, got %v", err)
	}
	if _, err := ParseEvent("", []byte(`{"type":"payment.succeeded"}`), ""); err == nil {
		t.Fatal("missing booking id accepted")
	}
}
