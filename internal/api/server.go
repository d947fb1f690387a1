package api

import (
	"context"
	"fmt"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/actions"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/auth"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/config"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/logger"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/notify"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/payment"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/store"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/webhooks"
)

type Server struct {
	Cfg       config.Config
	Bookings  store.BookingStore
	Webhooks  store.WebhookStore
	Router    *actions.Router
	Pub       *webhooks.Publisher
	Auth      *auth.Verifier
	Broker    notify.EventBroker
	Fanout    *notify.Fanout
	Locations *LocationCache
	Log       *logger.Logger

	pingers []pinger
	closers []func() error
}

// notifyQueueSize bounds committed-but-undelivered notifications.
const notifyQueueSize = 1024

type pinger interface {
	Ping(ctx context.Context) error
}

// NewServer wires stores, the payment provider and notification sinks from
// cfg. Bookings live in the configured driver; webhook state lives in
// Postgres when DATABASE_URL is set, otherwise in memory.
func NewServer(ctx context.Context, cfg config.Config, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{Cfg: cfg, Log: log, Auth: auth.NewVerifier(cfg.Auth), Locations: NewLocationCache()}

	var pg *store.Postgres
	if cfg.Store.DatabaseURL != "" {
		p, err := store.NewPostgres(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Store.Migrate {
			if err := p.Migrate(ctx); err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pg = p
		s.pingers = append(s.pingers, p)
		s.closers = append(s.closers, p.Close)
	}

	switch cfg.Store.Driver {
	case "postgres":
		if pg == nil {
			return nil, fmt.Errorf("postgres driver requires DATABASE_URL")
		}
		s.Bookings, s.Webhooks = pg, pg
	case "mongo":
		m, err := store.NewMongo(ctx, cfg.Store.MongoURL, cfg.Store.MongoDatabase)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.pingers = append(s.pingers, m)
		s.closers = append(s.closers, func() error { return m.Close(context.Background()) })
		s.Bookings = m
		if pg != nil {
			s.Webhooks = pg
		} else {
			s.Webhooks = store.NewMemory()
		}
	default:
		mem := store.NewMemory()
		s.Bookings, s.Webhooks = mem, mem
		if pg != nil {
			s.Webhooks = pg
		}
	}

	if cfg.Redis.URL != "" {
		rb, err := notify.NewRedisBroker(cfg.Redis.URL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.pingers = append(s.pingers, rb)
		s.closers = append(s.closers, rb.Close)
		s.Broker = rb
	} else {
		s.Broker = notify.NewBroker()
	}

	s.Pub = webhooks.NewPublisher(s.Webhooks, log.With("component", "webhooks"))
	sinks := []notify.Sink{notify.BrokerSink{Broker: s.Broker}, notify.WebhookSink{Publisher: s.Pub}}
	if cfg.AMQP.URL != "" {
		ap, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, ap.Close)
		sinks = append(sinks, ap)
	}

	var provider payment.Provider = payment.StaticProvider{BaseURL: cfg.Payment.CheckoutBaseURL}
	if cfg.Payment.ProviderURL != "" {
		provider = payment.NewHTTPProvider(cfg.Payment.ProviderURL, cfg.Payment.APIKey, cfg.Payment.Currency)
	}

	s.Fanout = notify.NewFanout(log.With("component", "notify"), sinks...)
	s.Fanout.Start(notifyQueueSize)
	s.closers = append(s.closers, s.Fanout.Close)
	s.Router = actions.NewRouter(s.Bookings, provider, s.Fanout, log.With("component", "actions"))
	return s, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Webhooks, s.Log.With("component", "webhook-worker"), s.Cfg.Webhooks.MaxAttempts)
}

// Close releases connections in reverse order of opening.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Log.Warn("close failed", "error", err)
		}
	}
	s.closers = nil
}
