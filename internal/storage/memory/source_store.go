// Package memory provides an in-process source store for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

// SourceStore keeps the last saved source list in memory.
type SourceStore struct {
	mu      sync.RWMutex
	sources []calendar.ExternalSource
}

// NewSourceStore constructs a SourceStore seeded with initial.
func NewSourceStore(initial ...calendar.ExternalSource) *SourceStore {
	return &SourceStore{sources: cloneSources(initial)}
}

// LoadSources returns a copy of the stored sources.
func (s *SourceStore) LoadSources(_ context.Context) ([]calendar.ExternalSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSources(s.sources), nil
}

// SaveSources replaces the stored sources.
func (s *SourceStore) SaveSources(_ context.Context, sources []calendar.ExternalSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = cloneSources(sources)
	return nil
}

func cloneSources(in []calendar.ExternalSource) []calendar.ExternalSource {
	out := make([]calendar.ExternalSource, len(in))
	for i, src := range in {
		if src.LastChecked != nil {
			ts := *src.LastChecked
			src.LastChecked = &ts
		}
		out[i] = src
	}
	return out
}
