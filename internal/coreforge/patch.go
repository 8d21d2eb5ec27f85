package coreforge

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// applyPatches applies every *.patch under recipes/patches/<core>, in
// name order, to the fetched source tree. A missing patch directory
// is a no-op. Because fetched trees are trusted as-is across runs, a
// patch may already be present; applyPatch detects that and skips
// instead of corrupting the tree with a double application.
func applyPatches(x *Executor, core, srcDir string, sink io.Writer) error {
	dir := filepath.Join(PatchesDir, core)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot read patch directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".patch") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := applyPatch(x, filepath.Join(dir, name), srcDir, sink); err != nil {
			return err
		}
	}
	return nil
}

// applyPatch runs the three-step dance: forward dry-run, and on
// failure a reverse dry-run to detect an already-applied patch (the
// easiest reliable way to detect it); only a clean forward dry-run is
// followed by the real application.
func applyPatch(x *Executor, patchFile, srcDir string, sink io.Writer) error {
	data, err := os.ReadFile(patchFile)
	if err != nil {
		return &PatchError{Patch: filepath.Base(patchFile), Err: err}
	}

	output, err := runPatch(x, srcDir, data, "--dry-run")
	if err != nil {
		if _, rerr := runPatch(x, srcDir, data, "--reverse", "--dry-run"); rerr == nil {
			debugf("patch %s already applied, skipping\n", filepath.Base(patchFile))
			if sink != nil {
				fmt.Fprintf(sink, "patch %s already applied\n", filepath.Base(patchFile))
			}
			return nil
		}
		return &PatchError{
			Patch: filepath.Base(patchFile),
			Err:   fmt.Errorf("dry run failed:\n%s", output),
		}
	}

	output, err = runPatch(x, srcDir, data)
	if err != nil {
		return &PatchError{
			Patch: filepath.Base(patchFile),
			Err:   fmt.Errorf("apply failed after clean dry run:\n%s", output),
		}
	}
	if sink != nil {
		fmt.Fprintf(sink, "applied patch %s\n", filepath.Base(patchFile))
	}
	return nil
}

func runPatch(x *Executor, dir string, patch []byte, extra ...string) ([]byte, error) {
	args := append([]string{"-p1", "--force", "--ignore-whitespace"}, extra...)
	cmd := exec.Command("patch", args...)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(patch)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := x.Run(cmd)
	return buf.Bytes(), err
}
