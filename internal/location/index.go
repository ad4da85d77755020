package location

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

// ParseIndex decodes a collection index and enforces its integrity rules.
func ParseIndex(data []byte) (*calendar.CollectionIndex, error) {
	fields, err := calendar.DecodeObject(data)
	if err != nil {
		return nil, err
	}

	index := &calendar.CollectionIndex{}
	if raw, ok := fields["name"]; ok {
		if err := json.Unmarshal(raw, &index.Name); err != nil {
			return nil, integrityError("name must be a string")
		}
	}
	if strings.TrimSpace(index.Name) == "" {
		return nil, integrityError("missing name")
	}
	if raw, ok := fields["description"]; ok {
		_ = json.Unmarshal(raw, &index.Description)
	}
	if raw, ok := fields["version"]; ok {
		_ = json.Unmarshal(raw, &index.Version)
	}
	if raw, ok := fields["metadata"]; ok {
		_ = json.Unmarshal(raw, &index.Metadata)
	}

	raw, ok := fields["calendars"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		return nil, integrityError("calendars must be an array")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, integrityError("calendars must be an array")
	}

	index.Calendars = make([]calendar.IndexEntry, 0, len(entries))
	for i, rawEntry := range entries {
		var entry calendar.IndexEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			return nil, integrityError("calendar at index %d is not a valid entry: %v", i, err)
		}
		index.Calendars = append(index.Calendars, entry)
	}
	if err := ValidateEntries(index.Calendars); err != nil {
		return nil, err
	}
	return index, nil
}

// ValidateEntries checks required entry fields and id uniqueness.
func ValidateEntries(entries []calendar.IndexEntry) error {
	seen := make(map[string]int, len(entries))
	for i, entry := range entries {
		var missing []string
		if strings.TrimSpace(entry.ID) == "" {
			missing = append(missing, "id")
		}
		if strings.TrimSpace(entry.Name) == "" {
			missing = append(missing, "name")
		}
		if strings.TrimSpace(entry.File) == "" {
			missing = append(missing, "file")
		}
		if len(missing) > 0 {
			return integrityError("calendar at index %d is missing %s", i, strings.Join(missing, ", "))
		}
		if first, dup := seen[entry.ID]; dup {
			return integrityError("duplicate calendar id %q at index %d and %d", entry.ID, first, i)
		}
		seen[entry.ID] = i
	}
	return nil
}

// SelectEntry picks the entry to load from an index.
func SelectEntry(index *calendar.CollectionIndex, requestedID string) (*calendar.IndexEntry, error) {
	entry, err := Select(index.Name, index.Calendars, requestedID,
		func(e calendar.IndexEntry) string { return e.ID },
		func(e calendar.IndexEntry) string { return e.Name },
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Select implements the collection selection rules for any item type:
// a requested id must exist, a lone item is chosen automatically, and
// anything else is an error that lists the valid alternatives.
func Select[T any](collection string, items []T, requestedID string, idOf, nameOf func(T) string) (T, error) {
	var zero T
	if requestedID != "" {
		for _, item := range items {
			if idOf(item) == requestedID {
				return item, nil
			}
		}
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, idOf(item))
		}
		return zero, calendar.NewError(calendar.KindSelectionNotFound,
			"calendar %q not found in collection %q; available calendars: %s",
			requestedID, collection, strings.Join(ids, ", "))
	}

	switch len(items) {
	case 0:
		return zero, calendar.NewError(calendar.KindSelectionNotFound, "no calendars in collection %q", collection)
	case 1:
		return items[0], nil
	}

	labels := make([]string, 0, len(items))
	for _, item := range items {
		labels = append(labels, fmt.Sprintf("%s (%s)", idOf(item), nameOf(item)))
	}
	return zero, calendar.NewError(calendar.KindAmbiguousSelection,
		"collection %q contains %d calendars, select one with #<id>: %s",
		collection, len(items), strings.Join(labels, ", "))
}

func integrityError(format string, args ...any) error {
	return calendar.NewError(calendar.KindIndexIntegrity, "invalid collection index: "+format, args...)
}
