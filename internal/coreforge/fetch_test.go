package coreforge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCommitHash(t *testing.T) {
	tests := []struct {
		rev  string
		want bool
	}{
		{"0123456", true},
		{"deadbeef", true},
		{"0123456789abcdef0123456789abcdef01234567", true},
		{"abc123", false},  // too short
		{"ABCDEF0", false}, // forge URLs want lowercase
		{"v1.16.0", false},
		{"master", false},
		{"0123456789abcdef0123456789abcdef012345678", false}, // 41 chars
	}
	for _, test := range tests {
		assert.Equal(t, test.want, isCommitHash(test.rev), "isCommitHash(%q)", test.rev)
	}
}

func TestPickStrategy(t *testing.T) {
	tests := []struct {
		name string
		rev  string
		subs bool
		want fetchStrategy
	}{
		{"short hash", "0123456", false, strategyArchive},
		{"full hash", "0123456789abcdef0123456789abcdef01234567", false, strategyArchive},
		{"hash with submodules", "0123456789abcdef0123456789abcdef01234567", true, strategyFullClone},
		{"tag", "v1.16.0", false, strategyShallowClone},
		{"tag with submodules", "v1.16.0", true, strategyShallowClone},
		{"branch", "master", false, strategyShallowClone},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := makeRecipe("core", func(r *Recipe) {
				r.Rev = test.rev
				r.Submodules = test.subs
			})
			assert.Equal(t, test.want, pickStrategy(r))
		})
	}
}

func TestCachePath(t *testing.T) {
	f := &Fetcher{CacheDir: "/cache"}
	r := makeRecipe("gambatte", func(r *Recipe) { r.Repo = "libretro/gambatte-libretro" })

	p := f.cachePath(r)
	assert.Equal(t, "/cache", filepath.Dir(p))
	name := filepath.Base(p)
	assert.True(t, strings.HasSuffix(name, ".tar.gz"), "got %s", name)
	assert.Contains(t, name, "gambatte-libretro")
	assert.Contains(t, name, r.Rev[:12])
	assert.Equal(t, p, f.cachePath(r), "cache key must be stable")

	other := f.cachePath(makeRecipe("gambatte", func(r *Recipe) {
		r.Repo = "libretro/gambatte-libretro"
		r.Rev = "fedcba9876543210fedcba9876543210fedcba98"
	}))
	assert.NotEqual(t, p, other, "revisions must not share cache entries")
}

func TestCachePathSanitizesRev(t *testing.T) {
	f := &Fetcher{CacheDir: "/cache"}
	r := makeRecipe("gambatte", func(r *Recipe) { r.Rev = "fix/save-ram" })

	name := filepath.Base(f.cachePath(r))
	assert.Contains(t, name, "fix_save-ram")
	assert.Equal(t, "/cache", filepath.Dir(f.cachePath(r)))
}

func TestEnsureSkipsExistingTree(t *testing.T) {
	f := &Fetcher{
		Exec:     NewExecutor(context.Background()),
		CoresDir: t.TempDir(),
		CacheDir: t.TempDir(),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(f.CoresDir, "gambatte"), 0o755))

	outcome, err := f.Ensure(makeRecipe("gambatte", nil))
	require.NoError(t, err)
	assert.Equal(t, fetchSkipped, outcome)
}

func TestEnsureRejectsIncompleteRecipe(t *testing.T) {
	f := &Fetcher{
		Exec:     NewExecutor(context.Background()),
		CoresDir: t.TempDir(),
		CacheDir: t.TempDir(),
	}

	_, err := f.Ensure(makeRecipe("gambatte", func(r *Recipe) { r.Repo = "" }))
	assert.ErrorIs(t, err, ErrConfig)

	_, err = f.Ensure(makeRecipe("gambatte", func(r *Recipe) { r.Rev = "" }))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestEnsureAllMixedOutcomes(t *testing.T) {
	f := &Fetcher{
		Exec:     NewExecutor(context.Background()),
		CoresDir: t.TempDir(),
		CacheDir: t.TempDir(),
		Workers:  2,
		Quiet:    true,
	}
	for _, core := range []string{"gambatte", "fceumm"} {
		require.NoError(t, os.MkdirAll(filepath.Join(f.CoresDir, core), 0o755))
	}

	counts := f.EnsureAll([]*Recipe{
		makeRecipe("gambatte", nil),
		makeRecipe("fceumm", nil),
		makeRecipe("broken", func(r *Recipe) { r.Repo = "" }),
	})
	assert.Equal(t, FetchCounts{Skipped: 2, Failed: 1}, counts)
}
