package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/logger"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/metrics"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/store"
)

// Worker drains due webhook deliveries once a second, retrying with
// exponential backoff and dead-lettering after MaxAttempts.
type Worker struct {
	Store       store.WebhookStore
	HTTP        *http.Client
	Log         *logger.Logger
	Stop        chan struct{}
	MaxAttempts int
}

func NewWorker(s store.WebhookStore, log *logger.Logger, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, Log: log, Stop: make(chan struct{}), MaxAttempts: maxAttempts}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce(ctx)
			}
		}
	}()
}

func (w *Worker) processOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil {
		w.Log.Warn("fetch webhook deliveries", "error", err)
		return
	}
	for _, it := range items {
		success := false
		next := time.Now().Add(nextBackoff(it.Attempts))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
		if err != nil {
			_ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Type", it.EventType)
		if it.Secret != "" {
			req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
		}
		start := time.Now()
		resp, err := w.HTTP.Do(req)
		latency := int(time.Since(start).Milliseconds())
		code := 0
		if err == nil && resp != nil {
			code = resp.StatusCode
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			if code >= 200 && code < 300 {
				success = true
			}
		}
		lastErr := ""
		if !success {
			if err != nil {
				lastErr = err.Error()
			} else {
				lastErr = "status " + strconv.Itoa(code)
			}
		}
		status := "delivered"
		switch {
		case success:
			err = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
		case it.Attempts+1 >= w.MaxAttempts:
			status = "failed"
			err = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
		default:
			status = "retry"
			err = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
		}
		if err != nil {
			w.Log.Warn("record webhook attempt", "deliveryId", it.ID, "error", err)
		}
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
		metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
