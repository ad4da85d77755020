package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/config"
	"github.com/JakeFAU/calendar-sources/internal/events"
)

const calendarBody = `{"id":"harptos","name":"Harptos","months":[{"name":"Hammer"}],"weekdays":["First"]}`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Environment.HostURL = "https://calendar.example.org"
	cfg.Filesystem.Root = t.TempDir()
	return cfg
}

func TestNewRegistersEveryProtocol(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.Equal(t, []string{"extension", "file", "github", "https"}, a.Registry().Protocols())
	require.False(t, a.Classifier().ShouldDisableCache())
}

func TestLoadFileCalendarEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Filesystem.Root, "harptos.json"), []byte(calendarBody), 0o600))

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	rec := events.NewRecorder(8)
	a.Events().Subscribe(events.TypeAll, rec)

	for range 2 {
		res := a.Registry().LoadExternalCalendar(context.Background(), "file:harptos.json", calendar.LoadOptions{})
		require.True(t, res.Success, res.Error)
		require.False(t, res.FromCache, "files are never cached")
		require.Equal(t, "harptos", res.Calendar.ID)
	}
	got := rec.Drain()
	require.Len(t, got, 2)
	require.Equal(t, events.TypeLoaded, got[0].Type)
}

func TestFileStorePersistsSources(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Kind = config.StoreFile
	cfg.Store.File.BaseDir = t.TempDir()

	first, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))
	added, err := first.Registry().AddSource(context.Background(), calendar.ExternalSource{
		Protocol: "github", Location: "owner/repo/holidays.json", Enabled: true,
	})
	require.NoError(t, err)
	require.True(t, added)
	first.Close()

	second, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(second.Close)
	require.NoError(t, second.Start(context.Background()))
	sources := second.Registry().Sources()
	require.Len(t, sources, 1)
	require.Equal(t, "holidays", sources[0].CalendarID)
}

func TestUnknownStoreKind(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Kind = "s3"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown store kind")
}

func TestLoopbackHostDisablesCache(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Environment.HostURL = "http://localhost:30000"
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.True(t, a.Classifier().ShouldDisableCache())
	require.Equal(t, 3, a.Classifier().TimeoutMultiplier())
}

func TestExtensionVersionsFeedClassifier(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Extensions.Dir = t.TempDir()
	dir := filepath.Join(cfg.Extensions.Dir, "seasons")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.json"),
		[]byte(`{"id":"seasons","version":"2.0.0-beta.1"}`), 0o600))

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	cls := a.Classifier().Classify()
	require.True(t, cls.IsDevelopment)
	require.False(t, cls.IsLocalhost)
}

func TestHandlerServesAPI(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/protocols", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "github")
}
