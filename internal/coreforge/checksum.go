package coreforge

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"lukechampine.com/blake3"
)

// manifestName is the per-target checksum manifest filename.
const manifestName = "checksums"

// hashString returns the blake3 hex digest of s, preferring the b3sum
// binary when present so results match checksums generated by hand.
func hashString(s string) string {
	if path, err := exec.LookPath("b3sum"); err == nil {
		cmd := exec.Command(path, "--no-names")
		cmd.Stdin = strings.NewReader(s)
		if out, err := cmd.Output(); err == nil {
			if sum := strings.TrimSpace(string(out)); len(sum) == 64 {
				return sum
			}
		}
	}
	h := blake3.New(32, nil)
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := blake3.New(32, nil)
	buf := make([]byte, 4*1024*1024)
	if _, err := io.CopyBuffer(h, file, buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// writeArtifactChecksum records name's digest in the per-target
// manifest, replacing any previous entry for the same file.
func writeArtifactChecksum(outDir, name string) error {
	sum, err := hashFile(filepath.Join(outDir, name))
	if err != nil {
		return err
	}
	entries, err := readChecksumManifest(outDir)
	if err != nil {
		return err
	}
	entries[name] = sum
	return writeChecksumManifest(outDir, entries)
}

// readChecksumManifest parses "<hash>  <filename>" lines. A missing
// manifest is an empty one.
func readChecksumManifest(outDir string) (map[string]string, error) {
	file, err := os.Open(filepath.Join(outDir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()
	return parseChecksums(file)
}

func parseChecksums(r io.Reader) (map[string]string, error) {
	entries := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 {
			entries[fields[1]] = fields[0]
		}
	}
	return entries, scanner.Err()
}

func writeChecksumManifest(outDir string, entries map[string]string) error {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "%s  %s\n", entries[name], name)
	}
	return os.WriteFile(filepath.Join(outDir, manifestName), []byte(sb.String()), 0o644)
}
