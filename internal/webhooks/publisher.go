package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/logger"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/store"
)

type Publisher struct {
	Store store.WebhookStore
	Log   *logger.Logger
}

func NewPublisher(s store.WebhookStore, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{Store: s, Log: log}
}

// Emit enqueues one delivery per subscription matching eventType. The
// returned error is the first enqueue failure; remaining subscriptions are
// still attempted.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) error {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}
	payload := map[string]any{
		"id":   "evt_" + uuid.NewString(),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var first error
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.Warn("webhook enqueue failed", "subscriptionId", s.ID, "eventType", eventType, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
