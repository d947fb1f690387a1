package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/logger"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/store"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/webhooks"
)

type recordSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Event
}

func (s *recordSink) Name() string { return s.name }
func (s *recordSink) Send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	s.got = append(s.got, ev)
	s.mu.Unlock()
	return s.err
}

type panicSink struct{}

func (panicSink) Name() string                       { return "panic" }
func (panicSink) Send(context.Context, Event) error { panic("boom") }

func TestFanoutDeliversDespiteFailures(t *testing.T) {
	ok := &recordSink{name: "ok"}
	bad := &recordSink{name: "bad", err: errors.New("down")}
	f := NewFanout(logger.Nop(), ok, bad, panicSink{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // caller already gone
	f.Publish(ctx, Event{Type: BookingCancelled, BookingID: "b1"})

	if len(ok.got) != 1 || len(bad.got) != 1 {
		t.Fatalf("ok=%d bad=%d", len(ok.got), len(bad.got))
	}
}

func TestWebhookSinkEnqueues(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, _ = mem.CreateSubscription(ctx, model.SubscriptionRequest{URL: "https://ops.example/hook", Events: []string{BookingPaymentPaid}})
	s := WebhookSink{Publisher: webhooks.NewPublisher(mem, logger.Nop())}

	if err := s.Send(ctx, Event{Type: BookingPaymentPaid, BookingID: "b1", Data: map[string]any{"amountMinor": 42000}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(ctx, Event{Type: DriverLocation, BookingID: "b1"}); err != nil {
		t.Fatal(err)
	}
	due, _ := mem.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].EventType != BookingPaymentPaid {
		t.Fatalf("deliveries = %+v", due)
	}
}

type fakeChannel struct {
	keys []string
	msgs []amqp.Publishing
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.keys = append(c.keys, exchange+"/"+key)
	c.msgs = append(c.msgs, msg)
	return nil
}
func (c *fakeChannel) Close() error { return nil }

func TestAMQPPublisherRoutingKey(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{ch: ch, exchange: "drivlet.bookings"}
	ev := Event{ID: "evt_1", Type: BookingLegAdvanced, BookingID: "b1", TS: time.Now()}
	if err := p.Send(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	_ = p.Send(context.Background(), Event{Type: DriverLocation})
	if len(ch.keys) != 1 || ch.keys[0] != "drivlet.bookings/booking.leg_advanced" {
		t.Fatalf("keys = %v", ch.keys)
	}
	if ch.msgs[0].MessageId != "evt_1" || ch.msgs[0].DeliveryMode != amqp.Persistent {
		t.Fatalf("msg = %+v", ch.msgs[0])
	}
}

type slowSink struct {
	recordSink
	release chan struct{}
}

func (s *slowSink) Send(ctx context.Context, ev Event) error {
	<-s.release
	return s.recordSink.Send(ctx, ev)
}

func TestFanoutStartedPublishDoesNotWaitForSinks(t *testing.T) {
	slow := &slowSink{recordSink: recordSink{name: "slow"}, release: make(chan struct{})}
	f := NewFanout(logger.Nop(), slow)
	f.Start(8)
	defer func() { _ = f.Close() }()

	begin := time.Now()
	for _, typ := range []string{BookingLegAdvanced, BookingStageChanged, BookingStatusChanged} {
		f.Publish(context.Background(), Event{Type: typ, BookingID: "b1"})
	}
	if d := time.Since(begin); d > time.Second {
		t.Fatalf("publish blocked for %s", d)
	}
	close(slow.release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	slow.mu.Lock()
	defer slow.mu.Unlock()
	if len(slow.got) != 3 || slow.got[0].Type != BookingLegAdvanced || slow.got[2].Type != BookingStatusChanged {
		t.Fatalf("got %+v", slow.got)
	}
}

func TestFanoutDropsWhenQueueFull(t *testing.T) {
	slow := &slowSink{recordSink: recordSink{name: "slow"}, release: make(chan struct{})}
	f := NewFanout(logger.Nop(), slow)
	f.Start(1)

	// one event held by the worker, one buffered, the rest dropped
	for i := 0; i < 5; i++ {
		f.Publish(context.Background(), Event{Type: BookingLegAdvanced, BookingID: "b1"})
	}
	close(slow.release)
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	slow.mu.Lock()
	n := len(slow.got)
	slow.mu.Unlock()
	if n < 1 || n > 2 {
		t.Fatalf("delivered %d events", n)
	}
	if err := f.Flush(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("flush after close: %v", err)
	}
}
