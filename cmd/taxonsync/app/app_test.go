package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/agentstation/taxonsync/internal/cmd/application"
	"github.com/agentstation/taxonsync/internal/store/yamlstore"
	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
)

// workspace writes a config using a memory platform "shop" and a YAML store
// holding one publisher, and returns the config path and the store.
func workspace(t *testing.T) (string, *yamlstore.Store) {
	t.Helper()
	dir := t.TempDir()
	storeDir := filepath.Join(dir, "store")

	store := yamlstore.New(storeDir)
	require.NoError(t, store.Put(catalog.KindPublisher, []catalog.Entity{
		{InternalID: "P-1", NaturalKey: "Acme Press"},
	}))

	cfg := "store:\n" +
		"  type: yaml\n" +
		"  path: " + storeDir + "\n" +
		"platforms:\n" +
		"  - id: shop\n" +
		"    type: memory\n" +
		"retry:\n" +
		"  max_attempts: 1\n" +
		"log:\n" +
		"  level: error\n"
	path := filepath.Join(dir, "taxonsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, store
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := New("1.2.3", "abc123", "2026-01-01", "test", WithOutput(&out))
	err := a.Execute(context.Background(), args)
	require.NoError(t, a.Shutdown(context.Background()))
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "taxonsync 1.2.3\n", out)

	out, err = execute(t, "version", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "commit:   abc123")
}

func TestSyncCommand(t *testing.T) {
	cfgPath, store := workspace(t)

	out, err := execute(t, "sync", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gjson.Get(out, "counts.created").Int())
	assert.False(t, gjson.Get(out, "dry_run").Bool())

	publishers, err := store.List(catalog.KindPublisher)
	require.NoError(t, err)
	_, ok := publishers[0].Ref("shop")
	assert.True(t, ok)
}

func TestSyncCommandDryRun(t *testing.T) {
	cfgPath, store := workspace(t)

	out, err := execute(t, "sync", "--config", cfgPath, "--dry-run", "--format", "json")
	require.NoError(t, err)
	assert.True(t, gjson.Get(out, "dry_run").Bool())
	assert.Equal(t, int64(1), gjson.Get(out, "planned.#").Int())
	assert.Equal(t, "create", gjson.Get(out, "planned.0.operation").String())

	publishers, err := store.List(catalog.KindPublisher)
	require.NoError(t, err)
	assert.Empty(t, publishers[0].ExternalRefs)
}

func TestSyncCommandFilters(t *testing.T) {
	cfgPath, _ := workspace(t)

	_, err := execute(t, "sync", "--config", cfgPath, "--platforms", "nope")
	assert.True(t, errors.IsNotFound(err))

	_, err = execute(t, "sync", "--config", cfgPath, "--kinds", "widgets")
	assert.True(t, errors.IsValidationError(err))

	out, err := execute(t, "sync", "--config", cfgPath, "--kinds", "authors", "--format", "json")
	require.NoError(t, err)
	assert.Zero(t, gjson.Get(out, "counts.created").Int())
}

func TestSyncCommandRejectsBadConfig(t *testing.T) {
	_, err := execute(t, "sync", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *errors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestApplyCommand(t *testing.T) {
	cfgPath, _ := workspace(t)
	csvPath := filepath.Join(t.TempDir(), "publishers.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("internal_id,natural_key,action,country\nP-9,Nine Press,create,FR\n"), 0o644))

	out, err := execute(t, "apply", csvPath, "--config", cfgPath, "--platform", "shop", "--kind", "publisher", "--dry-run", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gjson.Get(out, "planned.#").Int())
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "create")

	out, err = execute(t, "apply", csvPath, "--config", cfgPath, "--platform", "shop", "--kind", "publisher", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gjson.Get(out, "counts.created").Int())

	data, err = os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], ",none,")
}

func TestApplyCommandNeedsPlatform(t *testing.T) {
	cfgPath, _ := workspace(t)
	_, err := execute(t, "apply", "x.csv", "--config", cfgPath)
	assert.Error(t, err)

	_, err = execute(t, "apply", "x.csv", "--config", cfgPath, "--platform", "nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestSyncCommandFailuresExitNonZero(t *testing.T) {
	cfgPath, store := workspace(t)
	// A child whose parent does not exist cannot be written.
	require.NoError(t, store.Put(catalog.KindImprint, []catalog.Entity{
		{InternalID: "I-1", NaturalKey: "Orphan Kids", Attributes: catalog.Attributes{"publisher": "P-404"}},
	}))

	out, err := execute(t, "sync", "--config", cfgPath, "--format", "json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, application.ErrRunFailed))
	assert.Equal(t, int64(1), gjson.Get(out, "counts.failed").Int())
}
