package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/id/uuid"
	"github.com/JakeFAU/calendar-sources/internal/metrics"
)

// Listener receives events. Returned errors are logged, never propagated.
type Listener interface {
	HandleEvent(ctx context.Context, evt Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, evt Event) error

// HandleEvent calls f.
func (f ListenerFunc) HandleEvent(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Emitter publishes events; Dispatcher satisfies it so callers stay agnostic
// of how listeners are managed.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

// Subscription identifies a registered listener.
type Subscription struct {
	Type Type
	id   uint64
}

// IDGenerator assigns event ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls dispatcher dependencies.
//   - Logger: receives listener failures (default no-op).
//   - IDs: generates event ids (default UUIDv7).
//   - Now: event timestamp source (default time.Now).
type Config struct {
	Logger *zap.Logger
	IDs    IDGenerator
	Now    func() time.Time
}

type subscriber struct {
	id       uint64
	listener Listener
}

// Dispatcher fans events out to listeners. It is safe for concurrent use.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[Type][]subscriber
	nextID    uint64

	logger *zap.Logger
	ids    IDGenerator
	now    func() time.Time
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		listeners: make(map[Type][]subscriber),
		logger:    cfg.Logger,
		ids:       cfg.IDs,
		now:       cfg.Now,
	}
}

// Subscribe registers l for events of type t (or every type with TypeAll).
func (d *Dispatcher) Subscribe(t Type, l Listener) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.listeners[t] = append(d.listeners[t], subscriber{id: d.nextID, listener: l})
	return Subscription{Type: t, id: d.nextID}
}

// Unsubscribe removes one listener and reports whether it was registered.
func (d *Dispatcher) Unsubscribe(sub Subscription) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.listeners[sub.Type]
	for i, s := range subs {
		if s.id == sub.id {
			d.listeners[sub.Type] = append(subs[:i:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

// UnsubscribeAll removes every listener of type t and returns the count.
func (d *Dispatcher) UnsubscribeAll(t Type) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.listeners[t])
	delete(d.listeners, t)
	return n
}

// ListenerCount reports the listeners registered for t.
func (d *Dispatcher) ListenerCount(t Type) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[t])
}

// Emit stamps evt and delivers it to the type's listeners followed by the
// TypeAll listeners. Invalid events are dropped with a debug log.
func (d *Dispatcher) Emit(ctx context.Context, evt Event) {
	if d == nil {
		return
	}
	if evt.ID == "" {
		id, err := d.ids.NewID()
		if err != nil {
			d.logger.Warn("event id generation failed", zap.Error(err))
		}
		evt.ID = id
	}
	if evt.TS.IsZero() {
		evt.TS = d.now().UTC()
	}
	if err := evt.Validate(); err != nil {
		d.logger.Debug("discarding invalid calendar event", zap.Error(err))
		return
	}
	metrics.ObserveEvent(string(evt.Type))

	d.mu.RLock()
	targets := make([]subscriber, 0, len(d.listeners[evt.Type])+len(d.listeners[TypeAll]))
	targets = append(targets, d.listeners[evt.Type]...)
	targets = append(targets, d.listeners[TypeAll]...)
	d.mu.RUnlock()

	for _, s := range targets {
		if err := d.deliver(ctx, s.listener, evt); err != nil {
			metrics.ObserveListenerFailure(string(evt.Type))
			d.logger.Warn("calendar event listener failed",
				zap.String("type", string(evt.Type)),
				zap.String("calendar_id", evt.CalendarID),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, l Listener, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l.HandleEvent(ctx, evt)
}
