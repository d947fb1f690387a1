package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/buildinfo"
)

// DebugJSON reports build info and the non-secret parts of the config.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Cfg
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":                 c.Port,
			"LOG_MODE":             c.Log.Mode,
			"STORE_DRIVER":         c.Store.Driver,
			"AUTH_MODE":            c.Auth.Mode,
			"RATE_RPS":             c.RateLimit.RPS,
			"RATE_BURST":           c.RateLimit.Burst,
			"WEBHOOK_MAX_ATTEMPTS": c.Webhooks.MaxAttempts,
			"PAYMENT_CURRENCY":     c.Payment.Currency,
			"HAS_DATABASE_URL":     c.Store.DatabaseURL != "",
			"HAS_MONGO_URL":        c.Store.MongoURL != "",
			"HAS_REDIS_URL":        c.Redis.URL != "",
			"HAS_AMQP_URL":         c.AMQP.URL != "",
			"HAS_PAYMENT_PROVIDER": c.Payment.ProviderURL != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
