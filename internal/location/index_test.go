package location

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

func twoEntryIndex() *calendar.CollectionIndex {
	return &calendar.CollectionIndex{
		Name: "Fantasy",
		Calendars: []calendar.IndexEntry{
			{ID: "A", Name: "Alpha", File: "a.json"},
			{ID: "B", Name: "Beta", File: "b.json"},
		},
	}
}

func TestSelectEntryRequiresIDWhenAmbiguous(t *testing.T) {
	t.Parallel()

	_, err := SelectEntry(twoEntryIndex(), "")
	require.True(t, errors.Is(err, calendar.ErrAmbiguousSelection))
	require.Contains(t, err.Error(), "A (Alpha)")
	require.Contains(t, err.Error(), "B (Beta)")
}

func TestSelectEntryByID(t *testing.T) {
	t.Parallel()

	entry, err := SelectEntry(twoEntryIndex(), "A")
	require.NoError(t, err)
	require.Equal(t, "a.json", entry.File)
}

func TestSelectEntryUnknownIDListsAlternatives(t *testing.T) {
	t.Parallel()

	_, err := SelectEntry(twoEntryIndex(), "Z")
	require.True(t, errors.Is(err, calendar.ErrSelectionNotFound))
	require.Contains(t, err.Error(), `"Z"`)
	require.Contains(t, err.Error(), "A, B")
}

func TestSelectEntrySingleAutoSelects(t *testing.T) {
	t.Parallel()

	index := &calendar.CollectionIndex{Name: "Solo", Calendars: []calendar.IndexEntry{{ID: "only", Name: "Only", File: "o.json"}}}
	entry, err := SelectEntry(index, "")
	require.NoError(t, err)
	require.Equal(t, "only", entry.ID)
}

func TestSelectEntryEmptyCollection(t *testing.T) {
	t.Parallel()

	_, err := SelectEntry(&calendar.CollectionIndex{Name: "Empty"}, "")
	require.True(t, errors.Is(err, calendar.ErrSelectionNotFound))
	require.Contains(t, err.Error(), "no calendars in collection")
}

func TestSelectEntryThreeEntriesListsAll(t *testing.T) {
	t.Parallel()

	index := twoEntryIndex()
	index.Calendars = append(index.Calendars, calendar.IndexEntry{ID: "C", Name: "Gamma", File: "c.json"})
	_, err := SelectEntry(index, "")
	require.Error(t, err)
	for _, pair := range []string{"A (Alpha)", "B (Beta)", "C (Gamma)"} {
		require.Contains(t, err.Error(), pair)
	}
}

func TestParseIndex(t *testing.T) {
	t.Parallel()

	index, err := ParseIndex([]byte(`{"name":"Pack","version":"1.0","calendars":[{"id":"a","name":"A","file":"a.json","tags":["x"]}]}`))
	require.NoError(t, err)
	require.Equal(t, "Pack", index.Name)
	require.Equal(t, "1.0", index.Version)
	require.Len(t, index.Calendars, 1)
	require.Equal(t, []string{"x"}, index.Calendars[0].Tags)
}

func TestParseIndexIntegrityErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		contain string
	}{
		{name: "missing name", data: `{"calendars":[]}`, contain: "missing name"},
		{name: "blank name", data: `{"name":"  ","calendars":[]}`, contain: "missing name"},
		{name: "calendars object", data: `{"name":"x","calendars":{}}`, contain: "must be an array"},
		{name: "calendars missing", data: `{"name":"x"}`, contain: "must be an array"},
		{name: "entry missing file", data: `{"name":"x","calendars":[{"id":"a","name":"A"}]}`, contain: "index 0 is missing file"},
		{name: "entry not object", data: `{"name":"x","calendars":[42]}`, contain: "index 0"},
		{
			name:    "duplicate ids",
			data:    `{"name":"x","calendars":[{"id":"a","name":"A","file":"a"},{"id":"b","name":"B","file":"b"},{"id":"a","name":"A2","file":"c"}]}`,
			contain: `duplicate calendar id "a" at index 0 and 2`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseIndex([]byte(tt.data))
			require.Error(t, err)
			require.True(t, errors.Is(err, calendar.ErrIndexIntegrity), "got %v", err)
			require.Contains(t, err.Error(), tt.contain)
		})
	}
}

func TestParseIndexMalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := ParseIndex([]byte(`{"name":`))
	require.True(t, errors.Is(err, calendar.ErrMalformedJSON))
}
