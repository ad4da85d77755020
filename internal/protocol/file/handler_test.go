package file

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

func calendarJSON(id string) string {
	return `{"id":"` + id + `","months":[{"name":"One"}],"weekdays":["Day"]}`
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadAbsoluteAndRelative(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cals", "harptos.json"), calendarJSON("harptos"))
	h := New(root, nil)
	ctx := context.Background()

	abs := filepath.ToSlash(filepath.Join(root, "cals", "harptos.json"))
	res, err := h.LoadCalendar(ctx, abs, calendar.LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, "harptos", res.Calendar.ID)
	require.Len(t, res.VersionTag, 64)

	rel, err := h.LoadCalendar(ctx, "cals/harptos.json", calendar.LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, res.VersionTag, rel.VersionTag)

	_, err = h.LoadCalendar(ctx, "file://"+abs, calendar.LoadOptions{})
	require.NoError(t, err)
}

func TestLoadCollectionDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pack", "index.json"), `{"name":"Pack","calendars":[{"id":"a","name":"A","file":"nested/a.json"}]}`)
	writeFile(t, filepath.Join(root, "pack", "nested", "a.json"), calendarJSON("a"))
	h := New(root, nil)

	res, err := h.LoadCalendar(context.Background(), "pack/", calendar.LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, "a", res.Calendar.ID)
	require.Equal(t, "pack/nested/a.json", res.Location)
}

func TestFileErrors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bad.json"), `{"id":"x"}`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir.json"), 0o755))
	h := New(root, nil)
	ctx := context.Background()

	_, err := h.LoadCalendar(ctx, "missing.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrNotFound)

	_, err = h.LoadCalendar(ctx, "dir.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrNotFound)

	_, err = h.LoadCalendar(ctx, "bad.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrMalformedPayload)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = h.LoadCalendar(canceled, "bad.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrTimeout)
}

func TestPermissionDenied(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}

	root := t.TempDir()
	p := filepath.Join(root, "locked.json")
	writeFile(t, p, calendarJSON("locked"))
	require.NoError(t, os.Chmod(p, 0o000))

	_, err := New(root, nil).LoadCalendar(context.Background(), "locked.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrAccessDenied)
}

func TestCheckForUpdates(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	p := filepath.Join(root, "cal.json")
	writeFile(t, p, calendarJSON("v1"))
	h := New(root, nil)
	ctx := context.Background()

	res, err := h.LoadCalendar(ctx, "cal.json", calendar.LoadOptions{})
	require.NoError(t, err)
	require.False(t, h.CheckForUpdates(ctx, "cal.json", res.VersionTag))
	require.False(t, h.CheckForUpdates(ctx, "cal.json", ""))

	writeFile(t, p, calendarJSON("v2"))
	require.True(t, h.CheckForUpdates(ctx, "cal.json", res.VersionTag))
	require.False(t, h.CheckForUpdates(ctx, "gone.json", res.VersionTag))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	h := New("/srv/cals", nil)
	require.Equal(t, filepath.FromSlash("/srv/cals/a.json"), h.Resolve("a.json"))
	require.Equal(t, filepath.FromSlash("/etc/a.json"), h.Resolve("/etc/a.json"))
	require.Equal(t, filepath.Clean(filepath.FromSlash("C:/cals/a.json")), h.Resolve("C:/cals/a.json"))
	require.Equal(t, filepath.FromSlash("/tmp/a.json"), h.Resolve("file:///tmp/a.json"))
}

func TestCanHandle(t *testing.T) {
	t.Parallel()

	h := New("", nil)
	require.True(t, h.CanHandle("/abs/a.json"))
	require.True(t, h.CanHandle("rel/a.json#x"))
	require.True(t, h.CanHandle(`C:\cals\a.json`))
	require.True(t, h.CanHandle("file:///tmp/a.json"))
	require.False(t, h.CanHandle("https://example.com/a.json"))
	require.False(t, h.CanHandle(""))
	require.Equal(t, Protocol, h.Protocol())
}

func TestSkipCache(t *testing.T) {
	t.Parallel()
	require.True(t, New("", nil).SkipCache(context.Background(), "a.json"))
}
