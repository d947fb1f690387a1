// Package payment talks to the hosted payment-link provider used for the
// service payment checkpoint.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/webhooks"
)

// Request is a created payment link.
type Request struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Provider creates payment links. Implementations must not retain state
// about bookings; the booking record is the source of truth.
type Provider interface {
	CreatePaymentRequest(ctx context.Context, amountMinor int64, metadata map[string]string) (Request, error)
}

// HTTPProvider calls a JSON payment-link API:
//
//	POST {BaseURL}/v1/payment_links
//	{"amount": 42000, "currency": "aud", "metadata": {...}}
//	-> {"id": "...", "url": "..."}
type HTTPProvider struct {
	BaseURL  string
	APIKey   string
	Currency string
	HTTP     *http.Client
}

func NewHTTPProvider(baseURL, apiKey, currency string) *HTTPProvider {
	if currency == "" {
		currency = "aud"
	}
	return &HTTPProvider{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		Currency: currency,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
	}
}

type createLinkRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (p *HTTPProvider) CreatePaymentRequest(ctx context.Context, amountMinor int64, metadata map[string]string) (Request, error) {
	body, err := json.Marshal(createLinkRequest{Amount: amountMinor, Currency: p.Currency, Metadata: metadata})
	if err != nil {
		return Request{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/payment_links", bytes.NewReader(body))
	if err != nil {
		return Request{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	if key := metadata["idempotencyKey"]; key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return Request{}, fmt.Errorf("payment provider: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Request{}, fmt.Errorf("payment provider: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out Request
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Request{}, fmt.Errorf("payment provider: decode: %w", err)
	}
	if out.URL == "" {
		return Request{}, errors.New("payment provider: response missing url")
	}
	return out, nil
}

// StaticProvider fabricates links on a local checkout page. Used in
// development when no provider is configured.
type StaticProvider struct {
	BaseURL string
}

func (p StaticProvider) CreatePaymentRequest(ctx context.Context, amountMinor int64, metadata map[string]string) (Request, error) {
	id := "pl_" + uuid.New().String()
	base := strings.TrimRight(p.BaseURL, "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	return Request{ID: id, URL: base + "/pay/" + id}, nil
}

// Event is the provider callback body.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	BookingID string `json:"bookingId"`
}

// EventSucceeded is the only callback type that marks a booking paid.
const EventSucceeded = "payment.succeeded"

// ErrBadSignature is returned when a callback fails HMAC verification.
var ErrBadSignature = errors.New("payment webhook: bad signature")

// ParseEvent verifies the hex HMAC-SHA256 signature over body and decodes it.
// An empty secret disables verification.
func ParseEvent(secret string, body []byte, signature string) (Event, error) {
	if secret != "" && !webhooks.VerifyHMAC(secret, body, signature) {
		return Event{}, ErrBadSignature
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("payment webhook: %w", err)
	}
	if ev.BookingID == "" {
		return Event{}, errors.New("payment webhook: missing bookingId")
	}
	return ev, nil
}
