package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

func newMockStore(t *testing.T) (*SourceStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-name; DROP")
	require.Error(t, err)
	_, err = NewWithPool(nil, "")
	require.Error(t, err)

	store, err := NewWithPool(mock, "sources_v2")
	require.NoError(t, err)
	require.Equal(t, "sources_v2", store.table)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "dsn")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS calendar_sources").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSourcesReplacesRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	checked := time.Unix(1700000000, 0).UTC()
	sources := []calendar.ExternalSource{
		{Protocol: "github", Location: "o/r/c.json", Namespace: "o-r", CalendarID: "c", Label: "o-r/c", Enabled: true},
		{Protocol: "https", Location: "example.com/cal.json", Trusted: true, LastChecked: &checked},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM calendar_sources").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	for i, src := range sources {
		mock.ExpectExec("INSERT INTO calendar_sources").
			WithArgs(src.Protocol, src.Location, src.Namespace, src.CalendarID, src.Label,
				src.Enabled, src.Trusted, src.LastChecked, i).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.SaveSources(context.Background(), sources))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSourcesRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM calendar_sources").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO calendar_sources").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := store.SaveSources(context.Background(), []calendar.ExternalSource{{Protocol: "file", Location: "a.json"}})
	require.ErrorContains(t, err, "unique violation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSources(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	checked := time.Unix(1700000000, 0).UTC()
	cols := []string{"protocol", "location", "namespace", "calendar_id", "label", "enabled", "trusted", "last_checked"}
	mock.ExpectQuery("SELECT protocol, location").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("github", "o/r/c.json", "o-r", "c", "o-r/c", true, false, &checked).
			AddRow("file", "a.json", "", "a", "a", false, true, (*time.Time)(nil)))

	got, err := store.LoadSources(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "o-r/c", got[0].Label)
	require.NotNil(t, got[0].LastChecked)
	require.True(t, checked.Equal(*got[0].LastChecked))
	require.Equal(t, "file", got[1].Protocol)
	require.True(t, got[1].Trusted)
	require.Nil(t, got[1].LastChecked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSourcesQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT protocol").WillReturnError(errors.New("connection reset"))

	_, err := store.LoadSources(context.Background())
	require.ErrorContains(t, err, "connection reset")
}
