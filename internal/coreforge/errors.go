package coreforge

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes callers branch on.
var (
	// ErrConfig marks unusable input: unknown CPU family, a target file
	// missing required keys, or a recipe missing required fields.
	ErrConfig = errors.New("configuration error")

	// ErrCompose marks a recipe whose build instructions cannot be
	// turned into an argument list (wrong or unknown build kind,
	// missing kind-specific fields).
	ErrCompose = errors.New("cannot compose build command")

	// ErrNotFetched marks a build attempt against a source tree that
	// was never materialized on disk.
	ErrNotFetched = errors.New("source tree not fetched")

	// ErrArtifactMissing marks a build that exited zero without
	// producing the artifact the recipe promised.
	ErrArtifactMissing = errors.New("build succeeded but artifact is missing")
)

// ProcessError is a failed subprocess with the tail of its combined
// output attached, so summaries can show what went wrong without the
// caller re-reading log files.
type ProcessError struct {
	Title    string
	Output   []byte
	ExitCode int
}

func (err *ProcessError) Error() string {
	if len(err.Output) == 0 {
		return err.Title
	}
	return fmt.Sprintf("%v\n%s", err.Title, err.Output)
}

// PatchError names a patch that neither applies cleanly nor is already
// present in the tree.
type PatchError struct {
	Patch string
	Err   error
}

func (err *PatchError) Error() string {
	return fmt.Sprintf("patch %s does not apply: %v", err.Patch, err.Err)
}

func (err *PatchError) Unwrap() error { return err.Err }

// RecipeError ties a recipe loading failure to its core so one bad
// file never takes down the whole run.
type RecipeError struct {
	Core string
	Err  error
}

func (err *RecipeError) Error() string {
	return fmt.Sprintf("recipe %s: %v", err.Core, err.Err)
}

func (err *RecipeError) Unwrap() error { return err.Err }
