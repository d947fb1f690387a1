package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/logger"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/metrics"
)

// ErrQueueClosed is returned by Flush after Close.
var ErrQueueClosed = errors.New("notify: queue closed")

// Fanout sends each event to every sink concurrently (bounded by Timeout).
// Without Start it delivers on the caller's goroutine; after Start, Publish
// only enqueues and a single worker delivers events in publish order.
type Fanout struct {
	Sinks   []Sink
	Log     *logger.Logger
	Timeout time.Duration

	mu     sync.RWMutex
	queue  chan queued
	done   chan struct{}
	closed bool
}

type queued struct {
	ctx   context.Context
	ev    Event
	flush chan struct{}
}

func NewFanout(log *logger.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = logger.Nop()
	}
	return &Fanout{Sinks: sinks, Log: log, Timeout: 5 * time.Second}
}

// Start moves delivery onto a background worker with a buffer of size
// events. When the buffer is full the event is dropped and counted.
func (f *Fanout) Start(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queue != nil || f.closed {
		return
	}
	if size <= 0 {
		size = 1
	}
	f.queue = make(chan queued, size)
	f.done = make(chan struct{})
	go f.run()
}

func (f *Fanout) run() {
	defer close(f.done)
	for q := range f.queue {
		if q.flush != nil {
			close(q.flush)
			continue
		}
		f.send(q.ctx, q.ev)
	}
}

// Publish detaches from the caller's cancellation: the change is already
// committed, so a client hanging up must not drop its notifications.
func (f *Fanout) Publish(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)
	f.mu.RLock()
	if f.queue == nil || f.closed {
		f.mu.RUnlock()
		f.send(ctx, ev)
		return
	}
	select {
	case f.queue <- queued{ctx: ctx, ev: ev}:
	default:
		metrics.NotificationFailures.WithLabelValues("queue").Inc()
		f.Log.Warn("notification dropped", "eventType", ev.Type, "bookingId", ev.BookingID)
	}
	f.mu.RUnlock()
}

// Flush waits until every event published before the call has been handed
// to the sinks.
func (f *Fanout) Flush(ctx context.Context) error {
	f.mu.RLock()
	if f.queue == nil {
		f.mu.RUnlock()
		return nil
	}
	if f.closed {
		f.mu.RUnlock()
		return ErrQueueClosed
	}
	mark := make(chan struct{})
	select {
	case f.queue <- queued{flush: mark}:
		f.mu.RUnlock()
	case <-ctx.Done():
		f.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-mark:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the worker. Later publishes are
// delivered synchronously.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed || f.queue == nil {
		f.closed = true
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()
	<-f.done
	return nil
}

func (f *Fanout) send(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	var g errgroup.Group
	for _, s := range f.Sinks {
		s := s
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					metrics.NotificationFailures.WithLabelValues(s.Name()).Inc()
					f.Log.Warn("notification failed", "sink", s.Name(), "eventType", ev.Type, "bookingId", ev.BookingID, "error", err)
				}
			}()
			return s.Send(ctx, ev)
		})
	}
	_ = g.Wait()
}
