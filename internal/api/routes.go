package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/logger"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/metrics"
)

// Routes builds the HTTP handler: the mux, per-route metrics, request
// logging and the per-IP rate limit.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern, route string, h http.HandlerFunc) {
		mux.Handle(pattern, metrics.Instrument(route, h))
	}

	// Bookings
	handle("/v1/bookings", "/v1/bookings", s.BookingsHandler)
	handle("/v1/bookings/", "/v1/bookings/{id}", s.BookingByIDHandler) // includes actions, location, /events/stream
	handle("/v1/ws", "/v1/ws", s.WSHandler)

	// Payment provider callback
	handle("/v1/payments/webhook", "/v1/payments/webhook", s.PaymentWebhookHandler)

	// Subscriptions
	handle("/v1/subscriptions", "/v1/subscriptions", s.SubscriptionsHandler)
	handle("/v1/subscriptions/", "/v1/subscriptions/{id}", s.SubscriptionByIDHandler)

	// Admin
	handle("/v1/admin/webhook-deliveries", "/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	handle("/v1/admin/webhook-deliveries/", "/v1/admin/webhook-deliveries/{id}/retry", s.WebhookDeliveryRetryHandler)
	handle("/v1/admin/webhook-dlq", "/v1/admin/webhook-dlq", s.WebhookDLQHandler)
	handle("/v1/admin/webhook-dlq/", "/v1/admin/webhook-dlq/{id}/requeue", s.WebhookDLQHandler)

	// Ops
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	mux.HandleFunc("/swagger", s.SwaggerHandler)

	return logMiddleware(s.Log, s.rateLimit(mux))
}

type loggedWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggedWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Flush and Hijack.
func (w *loggedWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *loggedWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *loggedWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func logMiddleware(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggedWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)
		log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}
