package channel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridstream/internal/testutil"
)

const providersYAML = `
providers:
  - id: demo-feed
    name: Demo Feed
    url: ws://localhost:9000/stream
    source_id: demo
    key_column: symbol
  - id: prod-feed
    name: Production Feed
    url: wss://feed.example.com/stream
    source_id: prod
    auto_connect: true
  - name: missing-id-is-skipped
    url: ws://localhost:9001
`

func writeProviders(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryGetLoadsOnFirstAccess(t *testing.T) {
	r := NewProviderRegistry(writeProviders(t, providersYAML), testutil.NewTestLogger(t))

	cfg, ok := r.Get("demo-feed")
	require.True(t, ok)
	assert.Equal(t, "Demo Feed", cfg.Name)
	assert.Equal(t, "symbol", cfg.KeyColumn)
	assert.Equal(t, "demo", cfg.SourceID)

	_, ok = r.Get("unknown")
	assert.False(t, ok)
}

func TestRegistryKeyColumnDefault(t *testing.T) {
	r := NewProviderRegistry(writeProviders(t, providersYAML), testutil.NewTestLogger(t))

	cfg, ok := r.Get("prod-feed")
	require.True(t, ok)
	// No key_column in the file: falls back to the global default.
	assert.Equal(t, "id", cfg.KeyColumn)
	assert.True(t, cfg.AutoConnect)
}

func TestRegistryListSkipsEntriesWithoutID(t *testing.T) {
	r := NewProviderRegistry(writeProviders(t, providersYAML), testutil.NewTestLogger(t))
	assert.Len(t, r.List(), 2)
}

func TestRegistryMissingFileIsEmpty(t *testing.T) {
	r := NewProviderRegistry(filepath.Join(t.TempDir(), "absent.yaml"), testutil.NewTestLogger(t))

	require.NoError(t, r.Reload())
	assert.Empty(t, r.List())
	_, ok := r.Get("demo-feed")
	assert.False(t, ok)
}

func TestRegistryMalformedFile(t *testing.T) {
	r := NewProviderRegistry(writeProviders(t, "providers: [not : valid"), testutil.NewTestLogger(t))

	require.Error(t, r.Reload())
	// Reads degrade to empty rather than panicking.
	assert.Empty(t, r.List())
}

func TestRegistryInvalidateForcesReload(t *testing.T) {
	path := writeProviders(t, providersYAML)
	r := NewProviderRegistry(path, testutil.NewTestLogger(t))

	_, ok := r.Get("demo-feed")
	require.True(t, ok)

	// Rewrite the file behind the cache, then invalidate.
	updated := `
providers:
  - id: demo-feed
    name: Renamed Feed
    url: ws://localhost:9000/stream
    source_id: demo
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	// The cache still serves the old name until invalidated.
	cfg, _ := r.Get("demo-feed")
	assert.Equal(t, "Demo Feed", cfg.Name)

	r.Invalidate("demo-feed")
	cfg, ok = r.Get("demo-feed")
	require.True(t, ok)
	assert.Equal(t, "Renamed Feed", cfg.Name)
}
