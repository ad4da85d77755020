package protocol

import (
	"context"
	"net/http"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

// Handler loads calendars for one protocol prefix.
type Handler interface {
	// Protocol is the prefix this handler is registered under.
	Protocol() string
	// CanHandle is a syntactic check on the location; the registry
	// dispatches by prefix and never calls it.
	CanHandle(location string) bool
	// LoadCalendar fetches and validates the calendar at location.
	LoadCalendar(ctx context.Context, location string, opts calendar.LoadOptions) (Result, error)
}

// UpdateChecker is implemented by handlers that can cheaply tell whether a
// calendar changed since lastVersionTag. Failures report false.
type UpdateChecker interface {
	CheckForUpdates(ctx context.Context, location, lastVersionTag string) bool
}

// CachePolicy is implemented by handlers whose results must sometimes
// bypass the calendar cache.
type CachePolicy interface {
	SkipCache(ctx context.Context, location string) bool
}

// Result is a successfully loaded calendar.
type Result struct {
	Calendar *calendar.Calendar
	// VersionTag identifies the fetched revision (ETag, content sha, digest).
	VersionTag string
	// Location is the document the calendar was read from after index
	// selection and redirects.
	Location string
}

// Environment is the subset of the environment classifier handlers consume.
type Environment interface {
	TimeoutMultiplier() int
	DevHeaders() http.Header
}

type staticEnvironment struct{}

func (staticEnvironment) TimeoutMultiplier() int  { return 1 }
func (staticEnvironment) DevHeaders() http.Header { return nil }

// NoEnvironment is an Environment for production-like defaults.
var NoEnvironment Environment = staticEnvironment{}

// MergeHeaders layers header sets; later sets win per key.
func MergeHeaders(sets ...http.Header) http.Header {
	out := make(http.Header)
	for _, set := range sets {
		for key, values := range set {
			out[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
	}
	return out
}
