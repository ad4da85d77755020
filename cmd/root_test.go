package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

const harptos = `{"id":"harptos","name":"Harptos","months":[{"name":"Hammer","days":30}]}`

// writeConfig lays out a calendar root and a file-backed source store.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "calendars")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "harptos.json"), []byte(harptos), 0o600))

	cfg := fmt.Sprintf(`logging:
  level: error
filesystem:
  root: %q
store:
  kind: file
  file:
    base_dir: %q
`, root, filepath.Join(dir, "state"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestLoadCommandPrintsResult(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "load", "file:harptos.json")
	require.NoError(t, err)

	var res calendar.LoadResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.Success)
	require.Equal(t, "harptos", res.Calendar.ID)
	require.NotEmpty(t, res.VersionTag)
}

func TestLoadCommandPrintsEvents(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "load", "--raw", "--events", "file:harptos.json")
	require.NoError(t, err)
	require.Contains(t, out, "event calendar-loaded file:harptos.json from_cache=false")
	require.NotContains(t, out, "calendar-cached", "files bypass the cache")
}

func TestLoadCommandReportsFailure(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)

	_, err := run(t, "--config", cfg, "load", "missing-colon")
	require.Error(t, err)
	require.Contains(t, err.Error(), string(calendar.KindMalformedIdentifier))
}

func TestSourcesCommandsPersist(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "sources", "add", "github:owner/repo/holidays.json")
	require.NoError(t, err)
	require.Contains(t, out, "added github:owner/repo/holidays.json")

	out, err = run(t, "--config", cfg, "sources", "add", "github:owner/repo/holidays.json")
	require.NoError(t, err)
	require.Contains(t, out, "already configured")

	out, err = run(t, "--config", cfg, "sources", "list")
	require.NoError(t, err)
	require.Contains(t, out, "github:owner/repo/holidays.json")

	out, err = run(t, "--config", cfg, "sources", "remove", "github:owner/repo/holidays.json")
	require.NoError(t, err)
	require.Contains(t, out, "removed")

	_, err = run(t, "--config", cfg, "sources", "remove", "github:owner/repo/holidays.json")
	require.ErrorContains(t, err, "not configured")
}

func TestMissingConfigFails(t *testing.T) {
	t.Parallel()

	_, err := run(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "sources", "list")
	require.ErrorContains(t, err, "failed to initialize application services")
}
