package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/extinit/internal/plugin"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := OpenCatalog(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sampleDists() []*plugin.Distribution {
	return []*plugin.Distribution{
		{
			Name:    "alpha",
			Version: "1.0.0",
			Path:    "/opt/ext/alpha",
			Groups: plugin.Groups{
				{Name: "ext", Entries: plugin.Group{
					{Name: "init", Value: "pkgA:setup"},
					{Name: "other", Value: "pkgC:setup"},
				}},
			},
			Checksums: map[string]string{"bin/a.sh": "blake3:abc"},
		},
		{
			Name:    "beta",
			Version: "2.1.0",
			Path:    "/opt/ext/beta",
			Groups: plugin.Groups{
				{Name: "ext", Entries: plugin.Group{{Name: "init", Value: "pkgB:setup"}}},
				{Name: "console_scripts", Entries: plugin.Group{{Name: "init", Value: "pkgB.cli:main"}}},
			},
		},
	}
}

func TestCatalogSyncAndSelect(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	stats, err := c.Sync(ctx, sampleDists())
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Distributions: 2, EntryPoints: 4}, stats)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	eps, err := c.Select(ctx, "ext", "init")
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "pkgA:setup", eps[0].Value)
	assert.Equal(t, "pkgB:setup", eps[1].Value)

	require.NotNil(t, eps[0].Dist)
	assert.Equal(t, "alpha", eps[0].Dist.Name)
	assert.Equal(t, "/opt/ext/alpha", eps[0].Dist.Dir)
	assert.Equal(t, map[string]string{"bin/a.sh": "blake3:abc"}, eps[0].Dist.Checksums)
	assert.Empty(t, eps[1].Dist.Checksums)

	group, err := c.EntryPoints(ctx, "ext")
	require.NoError(t, err)
	assert.Len(t, group, 3)
}

func TestCatalogSyncReplacesContents(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	_, err := c.Sync(ctx, sampleDists())
	require.NoError(t, err)

	stats, err := c.Sync(ctx, sampleDists()[1:])
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Distributions)

	eps, err := c.Select(ctx, "ext", "init")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "pkgB:setup", eps[0].Value)

	_, err = c.Sync(ctx, nil)
	require.NoError(t, err)
	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCatalogSelectorAndProviderPathsAgree(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)
	_, err := c.Sync(ctx, sampleDists())
	require.NoError(t, err)

	viaSelector, err := entrypoint.Collect(ctx, c, "ext", "init")
	require.NoError(t, err)

	providerOnly := struct{ entrypoint.Provider }{c}
	viaProvider, err := entrypoint.Collect(ctx, providerOnly, "ext", "init")
	require.NoError(t, err)

	assert.Equal(t, viaSelector, viaProvider)
}

func TestCatalogQueryAfterClose(t *testing.T) {
	c, err := OpenCatalog(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Select(context.Background(), "ext", "init")
	assert.Error(t, err)
}
