package coreforge

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// setGlobal swaps a config global for one test and restores it after.
func setGlobal[T any](t *testing.T, ptr *T, value T) {
	t.Helper()
	old := *ptr
	*ptr = value
	t.Cleanup(func() { *ptr = old })
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed", name)
	}
}

func loadTestProfile(t *testing.T, family string) *Profile {
	t.Helper()
	p, err := LoadProfile(family)
	require.NoError(t, err)
	return p
}

func makeRecipe(name string, mutate func(*Recipe)) *Recipe {
	r := &Recipe{
		Name:     name,
		Repo:     "libretro/" + name,
		Rev:      "0123456789abcdef0123456789abcdef01234567",
		Build:    BuildMake,
		Dir:      ".",
		Makefile: "Makefile",
		Artifact: name + "_libretro.so",
	}
	if mutate != nil {
		mutate(r)
	}
	return r
}

func cmakeRecipe(name string, mutate func(*Recipe)) *Recipe {
	r := &Recipe{
		Name:     name,
		Repo:     "libretro/" + name,
		Rev:      "0123456789abcdef0123456789abcdef01234567",
		Build:    BuildCMake,
		Artifact: name + "_libretro.so",
	}
	if mutate != nil {
		mutate(r)
	}
	return r
}
