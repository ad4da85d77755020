package calendar

import (
	"encoding/json"
	"net/http"
	"time"
)

// Calendar is a validated calendar document. The decoded fields cover the
// minimum contract; the full document is kept verbatim for consumers.
type Calendar struct {
	ID       string
	Name     string
	Months   []json.RawMessage
	Weekdays []json.RawMessage

	raw json.RawMessage
}

// Raw returns the original JSON document.
func (c *Calendar) Raw() json.RawMessage {
	if c == nil {
		return nil
	}
	return c.raw
}

// SizeBytes approximates the serialized size of the payload.
func (c *Calendar) SizeBytes() int {
	if c == nil {
		return 0
	}
	return len(c.raw)
}

// MarshalJSON emits the original document unchanged.
func (c *Calendar) MarshalJSON() ([]byte, error) {
	if c == nil || len(c.raw) == 0 {
		return []byte("null"), nil
	}
	return c.raw, nil
}

// CollectionIndex lists several calendars retrievable from one location.
type CollectionIndex struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Version     string                     `json:"version,omitempty"`
	Calendars   []IndexEntry               `json:"calendars"`
	Metadata    map[string]json.RawMessage `json:"metadata,omitempty"`
}

// IndexEntry describes one calendar inside a collection index.
type IndexEntry struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	File        string                     `json:"file"`
	Description string                     `json:"description,omitempty"`
	Tags        []string                   `json:"tags,omitempty"`
	Author      string                     `json:"author,omitempty"`
	Version     string                     `json:"version,omitempty"`
	Metadata    map[string]json.RawMessage `json:"metadata,omitempty"`
}

// ExternalSource is a configured place calendars are loaded from.
type ExternalSource struct {
	Protocol    string     `json:"protocol"`
	Location    string     `json:"location"`
	Namespace   string     `json:"namespace,omitempty"`
	CalendarID  string     `json:"calendar_id,omitempty"`
	Label       string     `json:"label,omitempty"`
	Enabled     bool       `json:"enabled"`
	Trusted     bool       `json:"trusted"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// Key identifies a source for de-duplication.
func (s ExternalSource) Key() string {
	return SourceKey(s.Protocol, s.Location)
}

// ID returns the external calendar id addressing this source.
func (s ExternalSource) ID() string {
	return FormatID(s.Protocol, s.Location)
}

// SourceKey builds the protocol+location key used to de-duplicate sources.
func SourceKey(protocol, location string) string {
	return protocol + "|" + location
}

// CachedCalendar is the value stored in the calendar cache.
type CachedCalendar struct {
	Calendar  *Calendar
	CachedAt  time.Time
	ExpiresAt time.Time
	Source    ExternalSource
	ETag      string
}

// LoadOptions tunes a single load.
type LoadOptions struct {
	// CalendarID selects an entry of a collection index when the location
	// carries no #fragment.
	CalendarID string
	// Headers are forwarded to network handlers and win over generated ones.
	Headers http.Header
	// Timeout overrides the handler default before the dev multiplier.
	Timeout time.Duration
	// SkipCache bypasses both cache read and write.
	SkipCache bool
	// ForceRefresh bypasses the cache read but still writes the result.
	ForceRefresh bool
	// IgnoreEnvironment stops the environment classifier from disabling the cache.
	IgnoreEnvironment bool
}

// LoadResult is the never-failing outcome of a registry load.
type LoadResult struct {
	Success    bool            `json:"success"`
	Calendar   *Calendar       `json:"calendar,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  ErrorKind       `json:"error_kind,omitempty"`
	FromCache  bool            `json:"from_cache"`
	Source     *ExternalSource `json:"source,omitempty"`
	VersionTag string          `json:"version_tag,omitempty"`
	LoadedAt   time.Time       `json:"loaded_at"`
}
