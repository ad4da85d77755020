package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/location"
)

// sourceSet keeps sources in insertion order, unique by protocol+location.
type sourceSet struct {
	order []string
	byKey map[string]calendar.ExternalSource
}

func newSourceSet() *sourceSet {
	return &sourceSet{byKey: make(map[string]calendar.ExternalSource)}
}

func (s *sourceSet) get(key string) (calendar.ExternalSource, bool) {
	src, ok := s.byKey[key]
	return src, ok
}

func (s *sourceSet) put(src calendar.ExternalSource) {
	key := src.Key()
	if _, exists := s.byKey[key]; !exists {
		s.order = append(s.order, key)
	}
	s.byKey[key] = src
}

func (s *sourceSet) remove(key string) bool {
	if _, ok := s.byKey[key]; !ok {
		return false
	}
	delete(s.byKey, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *sourceSet) list() []calendar.ExternalSource {
	out := make([]calendar.ExternalSource, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key])
	}
	return out
}

func (s *sourceSet) labels(except string) map[string]struct{} {
	out := make(map[string]struct{}, len(s.byKey))
	for key, src := range s.byKey {
		if key != except && src.Label != "" {
			out[src.Label] = struct{}{}
		}
	}
	return out
}

// LoadSources replaces the configured sources with the store's contents.
// Without a store it is a no-op.
func (r *Registry) LoadSources(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	loaded, err := r.store.LoadSources(ctx)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	set := newSourceSet()
	for _, src := range loaded {
		set.put(src)
	}
	r.mu.Lock()
	r.sources = set
	r.mu.Unlock()
	r.logger.Info("loaded calendar sources", zap.Int("count", len(loaded)))
	return nil
}

// AddSource registers src. Sources are unique by protocol and location; an
// existing source is left untouched and false is returned. Namespace,
// calendar id and label are derived from the location when empty, and the
// label is made unique among configured sources.
func (r *Registry) AddSource(ctx context.Context, src calendar.ExternalSource) (bool, error) {
	if err := validateSource(src); err != nil {
		return false, err
	}
	r.mu.Lock()
	if _, exists := r.sources.get(src.Key()); exists {
		r.mu.Unlock()
		return false, nil
	}
	src = r.deriveIdentityLocked(src)
	r.sources.put(src)
	snapshot := r.sources.list()
	r.mu.Unlock()

	r.logger.Info("added calendar source", zap.String("id", src.ID()), zap.String("label", src.Label))
	return true, r.persist(ctx, snapshot)
}

// UpdateSource replaces the stored fields of an existing source.
func (r *Registry) UpdateSource(ctx context.Context, src calendar.ExternalSource) error {
	if err := validateSource(src); err != nil {
		return err
	}
	r.mu.Lock()
	if _, exists := r.sources.get(src.Key()); !exists {
		r.mu.Unlock()
		return calendar.NewError(calendar.KindNotFound, "source %s is not configured", src.ID())
	}
	src = r.deriveIdentityLocked(src)
	r.sources.put(src)
	snapshot := r.sources.list()
	r.mu.Unlock()
	return r.persist(ctx, snapshot)
}

// RemoveSource deletes the source and reports whether it existed.
func (r *Registry) RemoveSource(ctx context.Context, protocolName, loc string) (bool, error) {
	r.mu.Lock()
	removed := r.sources.remove(calendar.SourceKey(protocolName, loc))
	snapshot := r.sources.list()
	r.mu.Unlock()
	if !removed {
		return false, nil
	}
	r.logger.Info("removed calendar source", zap.String("id", calendar.FormatID(protocolName, loc)))
	return true, r.persist(ctx, snapshot)
}

// Sources returns the configured sources in insertion order.
func (r *Registry) Sources() []calendar.ExternalSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources.list()
}

// Source returns one configured source.
func (r *Registry) Source(protocolName, loc string) (calendar.ExternalSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources.get(calendar.SourceKey(protocolName, loc))
}

// sourceFor returns the configured source or an ad-hoc description of it.
func (r *Registry) sourceFor(protocolName, loc string) calendar.ExternalSource {
	if src, ok := r.Source(protocolName, loc); ok {
		return src
	}
	ns := location.ParseNamespace(loc)
	return calendar.ExternalSource{
		Protocol:   protocolName,
		Location:   loc,
		Namespace:  ns.Namespace,
		CalendarID: ns.CalendarID,
		Enabled:    true,
	}
}

func (r *Registry) stampChecked(ctx context.Context, key string, at time.Time) {
	r.mu.Lock()
	src, ok := r.sources.get(key)
	if !ok {
		r.mu.Unlock()
		return
	}
	at = at.UTC()
	src.LastChecked = &at
	r.sources.put(src)
	snapshot := r.sources.list()
	r.mu.Unlock()
	if err := r.persist(ctx, snapshot); err != nil {
		r.logger.Warn("persist source check time failed", zap.Error(err))
	}
}

func (r *Registry) deriveIdentityLocked(src calendar.ExternalSource) calendar.ExternalSource {
	ns := location.ParseNamespace(src.Location)
	if src.Namespace == "" {
		src.Namespace = ns.Namespace
	} else {
		src.Namespace = location.SanitizeNamespace(src.Namespace)
	}
	if src.CalendarID == "" {
		src.CalendarID = ns.CalendarID
	}
	if src.Label == "" {
		proposed := location.CompositeID(src.Namespace, src.CalendarID)
		src.Label = location.ResolveConflict(proposed, r.sources.labels(src.Key()))
	}
	return src
}

func (r *Registry) persist(ctx context.Context, sources []calendar.ExternalSource) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveSources(ctx, sources); err != nil {
		return fmt.Errorf("save sources: %w", err)
	}
	return nil
}

func validateSource(src calendar.ExternalSource) error {
	if strings.TrimSpace(src.Protocol) == "" {
		return calendar.NewError(calendar.KindMalformedIdentifier, "source protocol is required")
	}
	if strings.TrimSpace(src.Location) == "" {
		return calendar.NewError(calendar.KindMalformedIdentifier, "source location is required")
	}
	if strings.Contains(src.Protocol, ":") {
		return calendar.NewError(calendar.KindMalformedIdentifier, "source protocol %q must not contain a colon", src.Protocol)
	}
	return nil
}
