package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

// Type names a lifecycle event.
type Type string

// Supported event types.
const (
	TypeLoaded Type = "calendar-loaded"
	TypeCached Type = "calendar-cached"
	TypeError  Type = "calendar-error"
	// TypeAll subscribes a listener to every event type.
	TypeAll Type = "*"
)

// ParseType validates an event type string.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeLoaded, TypeCached, TypeError, TypeAll:
		return t, nil
	default:
		return "", fmt.Errorf("unknown event type %q", s)
	}
}

// Event describes a single load outcome.
type Event struct {
	// ID is a UUIDv7 assigned by the dispatcher when empty.
	ID string `json:"id"`
	// Type is the lifecycle milestone.
	Type Type `json:"type"`
	// CalendarID is the external calendar id that was requested.
	CalendarID string `json:"calendar_id"`
	// Calendar is set on loaded and cached events.
	Calendar *calendar.Calendar `json:"calendar,omitempty"`
	// Error carries the failure message on error events.
	Error     string             `json:"error,omitempty"`
	ErrorKind calendar.ErrorKind `json:"error_kind,omitempty"`
	FromCache bool               `json:"from_cache,omitempty"`
	// TS is the UTC emission time.
	TS time.Time `json:"ts"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	// error events may report a missing or blank id
	if e.CalendarID == "" && e.Type != TypeError {
		return errors.New("calendar id is required")
	}
	switch e.Type {
	case TypeLoaded, TypeCached:
		if e.Calendar == nil {
			return fmt.Errorf("%s event requires a calendar", e.Type)
		}
	case TypeError:
		if e.Error == "" {
			return errors.New("error event requires an error message")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
