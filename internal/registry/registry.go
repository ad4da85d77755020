package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/cache"
	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/events"
	"github.com/JakeFAU/calendar-sources/internal/protocol"
)

const defaultUpdateInterval = time.Hour

// Config controls registry behavior.
//   - RequestTimeout: default per-load timeout handed to handlers (0 keeps
//     each handler's own default).
//   - AutoUpdate: run the background update loop after Start.
//   - UpdateInterval: period of the update loop (default 1h).
//   - DevMode: always bypass the cache.
type Config struct {
	RequestTimeout time.Duration
	AutoUpdate     bool
	UpdateInterval time.Duration
	DevMode        bool
}

// Partial carries the settings to change in Configure; nil means unchanged.
type Partial struct {
	CacheTTL       *time.Duration
	MaxCacheSize   *int
	RequestTimeout *time.Duration
	AutoUpdate     *bool
	UpdateInterval *time.Duration
}

// Environment is the subset of the environment classifier the registry
// consults.
type Environment interface {
	ShouldDisableCache() bool
	IsDevMode() bool
}

// SourceStore persists configured sources.
type SourceStore interface {
	LoadSources(ctx context.Context) ([]calendar.ExternalSource, error)
	SaveSources(ctx context.Context, sources []calendar.ExternalSource) error
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEnvironment sets the environment classifier.
func WithEnvironment(env Environment) Option {
	return func(r *Registry) { r.env = env }
}

// WithCache replaces the default cache.
func WithCache(c *cache.Cache) Option {
	return func(r *Registry) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithDispatcher replaces the default event dispatcher.
func WithDispatcher(d *events.Dispatcher) Option {
	return func(r *Registry) {
		if d != nil {
			r.events = d
		}
	}
}

// WithStore persists sources through store.
func WithStore(store SourceStore) Option {
	return func(r *Registry) { r.store = store }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	handlers map[string]protocol.Handler
	sources  *sourceSet

	cache  *cache.Cache
	events *events.Dispatcher
	env    Environment
	store  SourceStore
	logger *zap.Logger
	now    func() time.Time

	loopMu     sync.Mutex
	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New creates a Registry with no handlers.
func New(cfg Config, opts ...Option) *Registry {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = defaultUpdateInterval
	}
	r := &Registry{
		cfg:      cfg,
		handlers: make(map[string]protocol.Handler),
		sources:  newSourceSet(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.New(cache.Config{}, cache.WithLogger(r.logger))
	}
	if r.events == nil {
		r.events = events.NewDispatcher(events.Config{Logger: r.logger})
	}
	return r
}

// RegisterHandler adds h under its protocol. A protocol can only be
// registered once.
func (r *Registry) RegisterHandler(h protocol.Handler) error {
	if h == nil {
		return errors.New("handler is nil")
	}
	name := h.Protocol()
	if name == "" {
		return errors.New("handler protocol is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler for protocol %q already registered", name)
	}
	r.handlers[name] = h
	r.logger.Debug("registered calendar handler", zap.String("protocol", name))
	return nil
}

// UnregisterHandler removes the handler for name and reports whether one
// was registered.
func (r *Registry) UnregisterHandler(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[name]
	delete(r.handlers, name)
	return ok
}

// Handler returns the handler registered for name.
func (r *Registry) Handler(name string) (protocol.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Protocols lists registered protocols in sorted order.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ParseID splits an external calendar id into protocol and location.
func (r *Registry) ParseID(id string) (string, string, error) {
	return calendar.ParseID(id)
}

// FormatID joins a protocol and location into an external calendar id.
func (r *Registry) FormatID(protocolName, loc string) string {
	return calendar.FormatID(protocolName, loc)
}

// Subscribe registers l for events of type t.
func (r *Registry) Subscribe(t events.Type, l events.Listener) events.Subscription {
	return r.events.Subscribe(t, l)
}

// Unsubscribe removes a listener registered with Subscribe.
func (r *Registry) Unsubscribe(sub events.Subscription) bool {
	return r.events.Unsubscribe(sub)
}

// Configure applies the non-nil fields of p. Cache settings are forwarded
// to the cache; loop settings restart a running update loop.
func (r *Registry) Configure(p Partial) {
	r.cache.Configure(cache.Partial{TTL: p.CacheTTL, MaxSize: p.MaxCacheSize})

	r.mu.Lock()
	restart := false
	if p.RequestTimeout != nil && *p.RequestTimeout >= 0 {
		r.cfg.RequestTimeout = *p.RequestTimeout
	}
	if p.AutoUpdate != nil && *p.AutoUpdate != r.cfg.AutoUpdate {
		r.cfg.AutoUpdate = *p.AutoUpdate
		restart = true
	}
	if p.UpdateInterval != nil && *p.UpdateInterval > 0 && *p.UpdateInterval != r.cfg.UpdateInterval {
		r.cfg.UpdateInterval = *p.UpdateInterval
		restart = true
	}
	r.mu.Unlock()

	if restart {
		r.restartLoop()
	}
}

// Config returns the active settings.
func (r *Registry) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// ClearCache drops every cached calendar and resets cache statistics.
func (r *Registry) ClearCache() {
	r.cache.Clear()
}

// CacheStats reports cache usage.
func (r *Registry) CacheStats() cache.Stats {
	return r.cache.Stats()
}
