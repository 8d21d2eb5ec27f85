package coreforge

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name    string
	content string // empty means directory
}

// writeTarball builds a .tar.gz the way forge archive endpoints do:
// everything under <repo>-<rev>/ unless the entries say otherwise.
func writeTarball(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	file, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(file)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644}
		if e.content == "" {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.content))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.content != "" {
			_, err := tw.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, file.Close())
}

func forgeEntries() []tarEntry {
	return []tarEntry{
		{name: "gambatte-0123456/"},
		{name: "gambatte-0123456/Makefile", content: "all:\n\ttouch gambatte_libretro.so\n"},
		{name: "gambatte-0123456/src/"},
		{name: "gambatte-0123456/src/gb.cpp", content: "// core\n"},
	}
}

func TestExtractTarNativeStripsTopDir(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "gambatte.tar.gz")
	writeTarball(t, archive, forgeEntries())

	dst := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dst, 0o755))
	require.NoError(t, extractTarNative(archive, dst))

	assert.FileExists(t, filepath.Join(dst, "Makefile"))
	assert.FileExists(t, filepath.Join(dst, "src", "gb.cpp"))
	assert.NoDirExists(t, filepath.Join(dst, "gambatte-0123456"))

	data, err := os.ReadFile(filepath.Join(dst, "src", "gb.cpp"))
	require.NoError(t, err)
	assert.Equal(t, "// core\n", string(data))
}

func TestExtractTarStripsTopDir(t *testing.T) {
	// Takes the system-tar path when available, the native one
	// otherwise; the result must not differ.
	dir := t.TempDir()
	archive := filepath.Join(dir, "gambatte.tar.gz")
	writeTarball(t, archive, forgeEntries())

	dst := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dst, 0o755))
	require.NoError(t, extractTar(archive, dst))

	assert.FileExists(t, filepath.Join(dst, "Makefile"))
	assert.FileExists(t, filepath.Join(dst, "src", "gb.cpp"))
}

func TestShouldStripTar(t *testing.T) {
	requireBinary(t, "tar")
	requireBinary(t, "sh")
	dir := t.TempDir()

	single := filepath.Join(dir, "single.tar.gz")
	writeTarball(t, single, forgeEntries())
	strip, err := shouldStripTar(single)
	require.NoError(t, err)
	assert.True(t, strip)

	multi := filepath.Join(dir, "multi.tar.gz")
	writeTarball(t, multi, []tarEntry{
		{name: "a/", content: ""},
		{name: "a/x", content: "x"},
		{name: "b/", content: ""},
		{name: "b/y", content: "y"},
	})
	strip, err = shouldStripTar(multi)
	require.NoError(t, err)
	assert.False(t, strip)
}

func TestExtractTarNativeSkipsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "hostile.tar.gz")
	writeTarball(t, archive, []tarEntry{
		{name: "pkg/"},
		{name: "pkg/ok.txt", content: "fine\n"},
		{name: "../evil.txt", content: "nope\n"},
	})

	dst := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dst, 0o755))
	require.NoError(t, extractTarNative(archive, dst))

	assert.FileExists(t, filepath.Join(dst, "ok.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "evil.txt"))
}

func TestExtractTarNativeUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.rar")
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))
	assert.Error(t, extractTarNative(path, t.TempDir()))
}
