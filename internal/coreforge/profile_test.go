package coreforge

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfileEmbedded(t *testing.T) {
	setGlobal(t, &TargetsDir, filepath.Join(t.TempDir(), "absent"))

	p := loadTestProfile(t, "cortex-a53")
	assert.Equal(t, "cortex-a53", p.Name)
	assert.Equal(t, Arch64, p.Arch)
	assert.Equal(t, "aarch64-linux-gnu-", p.Triplet)
	assert.Equal(t, "aarch64-linux-gnu-gcc", p.CC())
	assert.Equal(t, "aarch64-linux-gnu-g++", p.CXX())
	assert.Contains(t, p.CFlags, "-mtune=cortex-a53")
	assert.Equal(t, "unix", p.DefaultPlatform())
}

func TestLoadProfileUnknownFamily(t *testing.T) {
	setGlobal(t, &TargetsDir, t.TempDir())

	_, err := LoadProfile("riscv64")
	require.ErrorIs(t, err, ErrConfig)
	assert.ErrorContains(t, err, "unknown CPU family")
}

func TestLoadProfileDiskOverridesEmbedded(t *testing.T) {
	dir := t.TempDir()
	conf := `
arch = arm64
triplet = aarch64-none-elf-
cflags = -O3 -mtune=cortex-a53
cxxflags = -O3 -mtune=cortex-a53
platform = odroid
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cortex-a53.conf"), []byte(conf), 0o644))
	setGlobal(t, &TargetsDir, dir)

	p := loadTestProfile(t, "cortex-a53")
	assert.Equal(t, "aarch64-none-elf-", p.Triplet)
	assert.Equal(t, "-O3 -mtune=cortex-a53", p.CFlags)
	assert.Equal(t, "odroid", p.DefaultPlatform())
}

func TestLoadProfileValidation(t *testing.T) {
	tests := []struct {
		name string
		conf string
	}{
		{"missing triplet", "arch = arm64\ncflags = -O2\ncxxflags = -O2\n"},
		{"missing cflags", "arch = arm64\ntriplet = aarch64-linux-gnu-\ncxxflags = -O2\n"},
		{"unknown arch", "arch = mips\ntriplet = mips-linux-gnu-\ncflags = -O2\ncxxflags = -O2\n"},
		{"64-bit triplet on 32-bit arch", "arch = arm\ntriplet = aarch64-linux-gnu-\ncflags = -O2\ncxxflags = -O2\n"},
		{"32-bit triplet on 64-bit arch", "arch = arm64\ntriplet = arm-linux-gnueabihf-\ncflags = -O2\ncxxflags = -O2\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.conf"), []byte(test.conf), 0o644))
			setGlobal(t, &TargetsDir, dir)

			_, err := LoadProfile("bad")
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestProfileEnvironment(t *testing.T) {
	p := loadTestProfile(t, "cortex-a7")
	env := p.Environment()

	assert.Equal(t, "arm-linux-gnueabihf-gcc", env["CC"])
	assert.Equal(t, "arm-linux-gnueabihf-g++", env["CXX"])
	// Plain ar here; the archive flags belong to make's AR variable.
	assert.Equal(t, "arm-linux-gnueabihf-ar", env["AR"])
	assert.Equal(t, p.CFlags, env["CFLAGS"])
	assert.Equal(t, p.LDFlags, env["LDFLAGS"])
	assert.Equal(t, "xterm-256color", env["TERM"])
}

func TestProcessorHint(t *testing.T) {
	tests := []struct {
		profile Profile
		want    string
	}{
		{Profile{Arch: Arch64, Triplet: "aarch64-linux-gnu-"}, "aarch64"},
		{Profile{Arch: Arch32, Triplet: "arm-linux-gnueabihf-"}, "armv7-a"},
		{Profile{Arch: ArchOther, Triplet: "riscv64-linux-gnu-"}, "riscv64"},
		{Profile{Arch: ArchOther, Triplet: "weird"}, "other"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, test.profile.processorHint(),
			"arch=%s triplet=%s", test.profile.Arch, test.profile.Triplet)
	}
}

func TestListFamiliesMergesDiskAndEmbedded(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"rk3588.conf", "cortex-a53.conf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("arch = arm64\n"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir.conf"), 0o755))
	setGlobal(t, &TargetsDir, dir)

	families, err := ListFamilies()
	require.NoError(t, err)

	for _, want := range []string{"cortex-a7", "cortex-a15.a7", "cortex-a35",
		"cortex-a53", "cortex-a72", "s922x", "rk3588"} {
		assert.Contains(t, families, want)
	}
	assert.NotContains(t, families, "subdir")
	assert.Equal(t, 1, countOf(families, "cortex-a53"))
	assert.True(t, slices.IsSorted(families))
}

func countOf(list []string, want string) int {
	n := 0
	for _, s := range list {
		if s == want {
			n++
		}
	}
	return n
}
