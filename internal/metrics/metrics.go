package metrics

import (
    "bufio"
    "errors"
    "net"
    "net/http"
    "strconv"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, route, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // BookingActions counts journey actions by name and outcome code ("ok" on success)
    BookingActions = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "booking_actions_total", Help: "Booking journey actions by action and outcome."},
        []string{"action", "outcome"},
    )
    // BookingActionDuration covers the whole action including collaborator calls
    BookingActionDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "booking_action_duration_seconds", Help: "Booking action duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"action"},
    )
    // NotificationFailures counts post-commit notifications that could not be delivered
    NotificationFailures = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "notification_failures_total", Help: "Failed booking notifications by sink."},
        []string{"sink"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(BookingActions)
        Registry.MustRegister(BookingActionDuration)
        Registry.MustRegister(NotificationFailures)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
    return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveAction records one action outcome.
func ObserveAction(action, outcome string, d time.Duration) {
    BookingActions.WithLabelValues(action, outcome).Inc()
    BookingActionDuration.WithLabelValues(action).Observe(d.Seconds())
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

// Hijack is needed by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := r.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, errors.New("hijack not supported") }
    r.status = http.StatusSwitchingProtocols
    return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Instrument wraps h, labelling samples with route rather than the raw path
// so ids do not explode cardinality.
func Instrument(route string, h http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        h.ServeHTTP(rec, r)
        code := strconv.Itoa(rec.status)
        HTTPRequests.WithLabelValues(r.Method, route, code).Inc()
        HTTPDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
    })
}
