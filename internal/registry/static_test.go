package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrowworks/barrow/internal/registry"
)

func TestStatic_Lookup(t *testing.T) {
	reg := registry.NewStatic([]registry.Source{
		{ID: "users-prod", KeySchema: []string{"PK", "SK"}, Enabled: true},
		{ID: "orders", KeySchema: []string{"order_id"}, Enabled: false},
	})

	src, err := reg.Lookup(context.Background(), "users-prod")
	require.NoError(t, err)
	assert.Equal(t, []string{"PK", "SK"}, src.KeySchema)
	assert.True(t, src.Enabled)

	_, err = reg.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestStatic_ListSorted(t *testing.T) {
	reg := registry.NewStatic([]registry.Source{
		{ID: "zeta", Enabled: true},
		{ID: "alpha", Enabled: true},
	})

	list, err := reg.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "zeta", list[1].ID)
}

func TestStatic_UpsertDelete(t *testing.T) {
	reg := registry.NewStatic(nil)
	ctx := context.Background()

	require.Error(t, reg.Upsert(ctx, registry.Source{}))
	require.NoError(t, reg.Upsert(ctx, registry.Source{ID: "events", KeySchema: []string{"id"}, Enabled: true}))

	src, err := reg.Lookup(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, src.KeySchema)

	require.NoError(t, reg.Delete(ctx, "events"))
	assert.ErrorIs(t, reg.Delete(ctx, "events"), registry.ErrNotFound)
}

func TestLoadSourcesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := `sources:
  - id: users-prod
    key_schema: [PK, SK]
    enabled: true
  - id: sessions
    key_schema: [session_id]
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sources, err := registry.LoadSourcesFile(path)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "users-prod", sources[0].ID)
	assert.Equal(t, []string{"PK", "SK"}, sources[0].KeySchema)
	assert.False(t, sources[1].Enabled)
}

func TestLoadSourcesFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := registry.LoadSourcesFile(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("sources:\n  - key_schema: [PK]\n"), 0o644))
	_, err = registry.LoadSourcesFile(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no id")
}
