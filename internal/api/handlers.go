package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/actions"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/journey"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/notify"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/payment"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/store"
)

// paymentActor is the system identity used for provider callbacks.
var paymentActor = model.Actor{ID: "payment-provider", Role: model.RoleSystem}

// PaymentWebhookHandler handles POST /v1/payments/webhook. A succeeded
// payment marks the booking paid; callbacks that cannot apply are
// acknowledged so the provider stops retrying.
func (s *Server) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Read body failed", err.Error(), r.URL.Path)
		return
	}
	ev, err := payment.ParseEvent(s.Cfg.Payment.WebhookSecret, body, r.Header.Get("X-Signature"))
	if errors.Is(err, payment.ErrBadSignature) {
		writeProblem(w, http.StatusUnauthorized, "Invalid signature", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid event", err.Error(), r.URL.Path)
		return
	}
	log := s.Log.With("bookingId", ev.BookingID, "requestId", ev.RequestID, "providerEvent", ev.ID)
	if ev.Type != payment.EventSucceeded || ev.RequestID == "" {
		log.Debug("payment event ignored", "type", ev.Type)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	b, err := s.Router.Execute(r.Context(), actions.Request{
		BookingID: ev.BookingID,
		Actor:     paymentActor,
		Action:    actions.MarkPaid{RequestID: ev.RequestID},
	})
	switch journey.CodeOf(err) {
	case "":
		if err != nil {
			s.writeActionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "paid", "bookingId": b.ID, "version": b.Version})
	case journey.CodeBookingNotFound, journey.CodeInvalidInput, journey.CodeBookingCancelled:
		log.Warn("payment event not applied", "code", journey.CodeOf(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "code": string(journey.CodeOf(err))})
	default:
		s.writeActionError(w, r, err)
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateSubscriptionRequest(&req, notify.EventTypes); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Webhooks.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Webhooks.ListSubscriptions(r.Context(), cursor, limit)
		if err != nil {
			writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		// secrets are write-only
		for i := range items {
			items[i].Secret = ""
		}
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Subscription delete (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	if r.Method != http.MethodDelete { w.WriteHeader(405); return }
	if _, ok := s.requireAdmin(w, r); !ok { return }
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Webhooks.DeleteSubscription(r.Context(), id); err != nil {
		if isNotFound(err) { writeProblem(w, 404, "Subscription not found", "", r.URL.Path); return }
		writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(204)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

// ReadyHandler pings every backing connection.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	for _, p := range s.pingers {
		if err := p.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	if _, ok := s.requireAdmin(w, r); !ok { return }
	if r.Method != http.MethodGet { w.WriteHeader(405); return }
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
	items, next, err := s.Webhooks.ListWebhookDeliveries(r.Context(), status, cursor, limit)
	if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	if r.Method != http.MethodPost { w.WriteHeader(405); return }
	if _, ok := s.requireAdmin(w, r); !ok { return }
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	if err := s.Webhooks.RetryWebhookDelivery(r.Context(), id); err != nil {
		if isNotFound(err) { writeProblem(w, 404, "Delivery not found", "", r.URL.Path); return }
		writeProblem(w, 500, "Retry delivery failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 202, map[string]int{"accepted": 1})
}

// Admin: webhook DLQ list and requeue
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok { return }
	if r.URL.Path == "/v1/admin/webhook-dlq" && r.Method == http.MethodGet {
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
		q := store.DLQQuery{EventType: r.URL.Query().Get("eventType"), ErrorQuery: r.URL.Query().Get("errorQuery")}
		olderThanHours := 0
		if v := r.URL.Query().Get("olderThanHours"); v != "" { fmt.Sscanf(v, "%d", &olderThanHours) }
		if olderThanHours > 0 { q.OlderThan = time.Now().Add(-time.Duration(olderThanHours) * time.Hour) }
		if v := r.URL.Query().Get("responseCodeMin"); v != "" { fmt.Sscanf(v, "%d", &q.CodeMin) }
		if v := r.URL.Query().Get("responseCodeMax"); v != "" { fmt.Sscanf(v, "%d", &q.CodeMax) }
		items, next, err := s.Webhooks.ListWebhookDLQ(r.Context(), q, cursor, limit)
		if err != nil { writeProblem(w, 500, "List DLQ failed", err.Error(), r.URL.Path); return }
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
		return
	}
	if r.URL.Path == "/v1/admin/webhook-dlq" && r.Method == http.MethodPost {
		var req struct{ IDs []string `json:"ids"` }
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
		if len(req.IDs) == 0 { writeProblem(w, 400, "Missing ids", "", r.URL.Path); return }
		if err := s.Webhooks.RequeueWebhookDLQBulk(r.Context(), req.IDs); err != nil {
			if isNotFound(err) { writeProblem(w, 404, "Dead letters not found", "", r.URL.Path); return }
			writeProblem(w, 500, "Bulk requeue failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 202, map[string]int{"accepted": len(req.IDs)})
		return
	}
	if r.URL.Path == "/v1/admin/webhook-dlq" && r.Method == http.MethodDelete {
		var req struct {
			IDs            []string `json:"ids"`
			OlderThanHours int      `json:"olderThanHours"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
		var older time.Time
		if req.OlderThanHours > 0 { older = time.Now().Add(-time.Duration(req.OlderThanHours) * time.Hour) }
		if len(req.IDs) == 0 && older.IsZero() { writeProblem(w, 400, "Missing ids or olderThanHours", "", r.URL.Path); return }
		if err := s.Webhooks.DeleteWebhookDLQBulk(r.Context(), req.IDs, older); err != nil { writeProblem(w, 500, "Bulk delete failed", err.Error(), r.URL.Path); return }
		writeJSON(w, 202, map[string]int{"accepted": 1})
		return
	}
	if strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-dlq/") && strings.HasSuffix(r.URL.Path, "/requeue") && r.Method == http.MethodPost {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-dlq/"), "/requeue")
		if err := s.Webhooks.RequeueWebhookDLQ(r.Context(), id); err != nil {
			if isNotFound(err) { writeProblem(w, 404, "Dead letter not found", "", r.URL.Path); return }
			writeProblem(w, 500, "Requeue failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 202, map[string]int{"accepted": 1})
		return
	}
	writeProblem(w, 404, "Not Found", "", r.URL.Path)
}

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
