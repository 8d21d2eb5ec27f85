package coreforge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecipeConf(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".conf"), []byte(body), 0o644))
}

func TestLoadRecipesParsesFullConf(t *testing.T) {
	dir := t.TempDir()
	writeRecipeConf(t, dir, "mupen64plus_next", `
# upstream scrapes platform from its own build matrix
repo=libretro/mupen64plus-libretro-nx
rev=0123456789abcdef0123456789abcdef01234567
submodules=1
build=make
makefile=Makefile
platform=$(system_platform)
arg=GIT_VERSION=1
arg=CC=ccache aarch64-linux-gnu-gcc
artifact=mupen64plus_next_libretro.so
`)

	recipes, bad, err := LoadRecipes(dir, nil)
	require.NoError(t, err)
	require.Empty(t, bad)
	require.Len(t, recipes, 1)

	r := recipes[0]
	assert.Equal(t, "mupen64plus_next", r.Name)
	assert.Equal(t, "libretro/mupen64plus-libretro-nx", r.Repo)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", r.Rev)
	assert.True(t, r.Submodules)
	assert.Equal(t, BuildMake, r.Build)
	assert.Equal(t, "$(system_platform)", r.Platform)
	// Repeated arg lines keep their order; the value may itself
	// contain an equals sign.
	assert.Equal(t, []string{"GIT_VERSION=1", "CC=ccache aarch64-linux-gnu-gcc"}, r.Args)
	assert.Equal(t, "mupen64plus_next_libretro.so", r.OutputName())
}

func TestLoadRecipesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeRecipeConf(t, dir, "gambatte", `
repo=libretro/gambatte-libretro
rev=master
build=make
artifact=gambatte_libretro.so
unknown_key=ignored
`)

	recipes, bad, err := LoadRecipes(dir, nil)
	require.NoError(t, err)
	require.Empty(t, bad)
	require.Len(t, recipes, 1)

	assert.Equal(t, ".", recipes[0].Dir)
	assert.Equal(t, "Makefile", recipes[0].Makefile)
	assert.False(t, recipes[0].Submodules)
}

func TestOutputName(t *testing.T) {
	r := cmakeRecipe("flycast", func(r *Recipe) {
		r.Artifact = "build/flycast_libretro.so"
	})
	assert.Equal(t, "flycast_libretro.so", r.OutputName())

	r.Output = "flycast_gles_libretro.so"
	assert.Equal(t, "flycast_gles_libretro.so", r.OutputName())
}

func TestLoadRecipesBadFileIsolation(t *testing.T) {
	dir := t.TempDir()
	writeRecipeConf(t, dir, "broken", `
repo=libretro/broken
build=make
artifact=broken_libretro.so
`)
	writeRecipeConf(t, dir, "gambatte", `
repo=libretro/gambatte-libretro
rev=master
build=make
artifact=gambatte_libretro.so
`)

	recipes, bad, err := LoadRecipes(dir, nil)
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "gambatte", recipes[0].Name)

	require.Len(t, bad, 1)
	assert.Equal(t, "broken", bad[0].Core)
	assert.ErrorIs(t, bad[0], ErrConfig)
	assert.Contains(t, bad[0].Error(), "broken")
}

func TestLoadRecipesOnlyFilter(t *testing.T) {
	dir := t.TempDir()
	writeRecipeConf(t, dir, "gambatte", `
repo=libretro/gambatte-libretro
rev=master
build=make
artifact=gambatte_libretro.so
`)
	writeRecipeConf(t, dir, "fceumm", `
repo=libretro/libretro-fceumm
rev=master
build=make
artifact=fceumm_libretro.so
`)

	recipes, bad, err := LoadRecipes(dir, []string{"gambatte", "ghost"})
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "gambatte", recipes[0].Name)

	require.Len(t, bad, 1)
	assert.Equal(t, "ghost", bad[0].Core)
	assert.ErrorContains(t, bad[0], "no recipe file ghost.conf")
}

func TestLoadRecipesMissingDir(t *testing.T) {
	_, _, err := LoadRecipes(filepath.Join(t.TempDir(), "absent"), nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRecipeValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Recipe)
		ok     bool
	}{
		{"valid make", nil, true},
		{"repo without owner", func(r *Recipe) { r.Repo = "gambatte" }, false},
		{"missing repo", func(r *Recipe) { r.Repo = "" }, false},
		{"missing rev", func(r *Recipe) { r.Rev = "" }, false},
		{"unknown build kind", func(r *Recipe) { r.Build = "ninja" }, false},
		{"missing artifact", func(r *Recipe) { r.Artifact = "" }, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := makeRecipe("gambatte", test.mutate).validate()
			if test.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrConfig)
			}
		})
	}
}
