package coreforge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFileMatchesHashString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.so")
	require.NoError(t, os.WriteFile(path, []byte("emulator core payload"), 0o644))

	fromFile, err := hashFile(path)
	require.NoError(t, err)
	assert.Equal(t, hashString("emulator core payload"), fromFile)
	assert.Len(t, fromFile, 64)
}

func TestWriteArtifactChecksumManifest(t *testing.T) {
	outDir := t.TempDir()
	for name, content := range map[string]string{
		"gambatte_libretro.so": "gb",
		"fceumm_libretro.so":   "nes",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(outDir, name), []byte(content), 0o755))
		require.NoError(t, writeArtifactChecksum(outDir, name))
	}

	raw, err := os.ReadFile(filepath.Join(outDir, manifestName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 2)
	// Name-sorted, b3sum-compatible two-space layout.
	assert.True(t, strings.HasSuffix(lines[0], "  fceumm_libretro.so"), "got %q", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "  gambatte_libretro.so"), "got %q", lines[1])

	entries, err := readChecksumManifest(outDir)
	require.NoError(t, err)
	assert.Equal(t, hashString("gb"), entries["gambatte_libretro.so"])
	assert.Equal(t, hashString("nes"), entries["fceumm_libretro.so"])
}

func TestWriteArtifactChecksumReplacesEntry(t *testing.T) {
	outDir := t.TempDir()
	path := filepath.Join(outDir, "gambatte_libretro.so")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o755))
	require.NoError(t, writeArtifactChecksum(outDir, "gambatte_libretro.so"))

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o755))
	require.NoError(t, writeArtifactChecksum(outDir, "gambatte_libretro.so"))

	entries, err := readChecksumManifest(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, hashString("v2"), entries["gambatte_libretro.so"])
}

func TestParseChecksumsSkipsMalformedLines(t *testing.T) {
	sums := fmt.Sprintf("%s  a.so\nnot a manifest line with extra fields\n\n%s  b.so\n",
		hashString("a"), hashString("b"))
	entries, err := parseChecksums(strings.NewReader(sums))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"a.so": hashString("a"),
		"b.so": hashString("b"),
	}, entries)
}

func TestReadChecksumManifestMissingFile(t *testing.T) {
	entries, err := readChecksumManifest(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
