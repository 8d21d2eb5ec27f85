package coreforge

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"
)

// BuildStatus is the terminal state of one core's build attempt.
type BuildStatus int

const (
	StatusBuilt BuildStatus = iota
	StatusFailed
	StatusSkipped
)

// BuildOutcome is the per-core result handed back to the summary.
type BuildOutcome struct {
	Core     string
	Status   BuildStatus
	Artifact string // destination path when built
	Err      error  // reason when failed
}

// BuildCounts aggregates one target's build pass.
type BuildCounts struct {
	Built   int
	Failed  int
	Skipped int
}

// Builder drives cores through patch, compose, invoke, artifact
// validation and copy. Cores build strictly one at a time: concurrent
// native builds trample each other through shared build state, ccache
// races and memory pressure, so the counters need no locking.
type Builder struct {
	Profile      *Profile
	Composer     *Composer
	Exec         *Executor
	CoresDir     string
	OutDir       string
	LogDir       string
	Jobs         int
	Clean        bool
	SkipExisting bool
	Timeout      time.Duration

	// Run executes one composed invocation. A field so tests can stub
	// the external build tools away.
	Run func(inv *Invocation, sink io.Writer) error

	Outcomes []BuildOutcome
}

func NewBuilder(p *Profile, x *Executor) *Builder {
	b := &Builder{
		Profile:      p,
		Composer:     NewComposer(p),
		Exec:         x,
		CoresDir:     coresDir(p.Name),
		OutDir:       outputDir(p.Name),
		LogDir:       logDir(p.Name),
		Jobs:         Jobs,
		Clean:        CleanBuild,
		SkipExisting: SkipExisting,
		Timeout:      BuildTimeout,
	}
	b.Run = b.runInvocation
	return b
}

// runInvocation is the default Run: the composed command under the
// executor, bounded by the per-core timeout, output teed to sink.
func (b *Builder) runInvocation(inv *Invocation, sink io.Writer) error {
	cmd := exec.Command(inv.Prog, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env
	cmd.Stdin = strings.NewReader("")
	return b.Exec.RunTimed(b.Timeout, cmd, sink)
}

// BuildAll processes recipes in declaration order, recording malformed
// ones as failures up front so one bad recipe never stalls the rest.
// The returned error is non-nil only when the pass produced no usable
// artifact at all: at least one core built, or already present and
// skipped, counts as success.
func (b *Builder) BuildAll(recipes []*Recipe, bad []*RecipeError) (BuildCounts, error) {
	var counts BuildCounts
	for _, rerr := range bad {
		counts.Failed++
		b.Outcomes = append(b.Outcomes, BuildOutcome{Core: rerr.Core, Status: StatusFailed, Err: rerr})
		colArrow.Print("-> ")
		colError.Printf("Skipping %s: %v\n", rerr.Core, rerr.Err)
	}

	total := len(recipes) + len(bad)
	for i, r := range recipes {
		colArrow.Print("-> ")
		colSuccess.Printf("Building ")
		colNote.Printf("%s (%d/%d)\n", r.Name, len(bad)+i+1, total)
		setTerminalTitle(fmt.Sprintf("coreforge: %s (%d/%d)", r.Name, len(bad)+i+1, total))

		outcome := b.BuildOne(r)
		b.Outcomes = append(b.Outcomes, outcome)
		switch outcome.Status {
		case StatusBuilt:
			counts.Built++
			colArrow.Print("-> ")
			colSuccess.Printf("Built %s -> %s\n", r.Name, outcome.Artifact)
		case StatusSkipped:
			counts.Skipped++
			colArrow.Print("-> ")
			colSuccess.Printf("Skipping %s: artifact already present\n", r.Name)
		case StatusFailed:
			counts.Failed++
			colArrow.Print("-> ")
			colError.Printf("Build failed for %s: %v\n", r.Name, outcome.Err)
		}
		if b.Exec.Context.Err() != nil {
			break
		}
	}

	if counts.Built == 0 && counts.Skipped == 0 {
		return counts, fmt.Errorf("no cores built for %s", b.Profile.Name)
	}
	return counts, nil
}

// BuildOne runs a single core to completion. Every failure is caught
// here and folded into the outcome; nothing propagates past the
// per-core boundary.
func (b *Builder) BuildOne(r *Recipe) BuildOutcome {
	outcome := BuildOutcome{Core: r.Name}

	dest := filepath.Join(b.OutDir, r.OutputName())
	if b.SkipExisting && fileExists(dest) {
		outcome.Status = StatusSkipped
		return outcome
	}

	dest, err := b.buildOne(r)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		return outcome
	}
	outcome.Status = StatusBuilt
	outcome.Artifact = dest
	return outcome
}

func (b *Builder) buildOne(r *Recipe) (string, error) {
	srcDir := filepath.Join(b.CoresDir, r.Name)
	if !dirExists(srcDir) {
		return "", fmt.Errorf("%w: %s", ErrNotFetched, srcDir)
	}

	sink, closeSink, err := b.openLog(r.Name)
	if err != nil {
		return "", err
	}
	defer closeSink()

	if err := applyPatches(b.Exec, r.Name, srcDir, sink); err != nil {
		return "", err
	}

	switch r.Build {
	case BuildMake:
		err = b.makeFlow(r, srcDir, sink)
	case BuildCMake:
		err = b.cmakeFlow(r, srcDir, sink)
	default:
		err = fmt.Errorf("%w: recipe %s has unknown build kind %q", ErrCompose, r.Name, r.Build)
	}
	if err != nil {
		return "", err
	}

	// A zero exit is not proof of success: misdeclared recipes leave
	// the tool happy and the artifact absent.
	artifact := filepath.Join(srcDir, r.Artifact)
	if !fileExists(artifact) {
		return "", fmt.Errorf("%w: %s", ErrArtifactMissing, r.Artifact)
	}
	return b.collect(r, artifact)
}

func (b *Builder) makeFlow(r *Recipe, srcDir string, sink io.Writer) error {
	if b.Clean {
		clean, err := b.Composer.MakeClean(r, srcDir)
		if err != nil {
			return err
		}
		// Many cores ship no clean target; a failed clean is noise,
		// not a build failure.
		if err := b.Run(clean, sink); err != nil {
			debugf("clean failed for %s: %v\n", r.Name, err)
		}
	}

	build, err := b.Composer.MakeBuild(r, srcDir, b.Jobs)
	if err != nil {
		return err
	}
	return b.Run(build, sink)
}

func (b *Builder) cmakeFlow(r *Recipe, srcDir string, sink io.Writer) error {
	configure, err := b.Composer.CMakeConfigure(r, srcDir)
	if err != nil {
		return err
	}
	build, err := b.Composer.CMakeBuild(r, srcDir, b.Jobs)
	if err != nil {
		return err
	}

	// Stale cmake caches pin the previous run's compiler paths, so
	// the build directory starts fresh every time.
	buildDir := cmakeBuildDir(srcDir)
	if err := os.RemoveAll(buildDir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", buildDir, err)
	}
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return err
	}

	if err := b.Run(configure, sink); err != nil {
		return err
	}
	return b.Run(build, sink)
}

// collect copies the artifact into the output directory and records
// its checksum in the target manifest.
func (b *Builder) collect(r *Recipe, artifact string) (string, error) {
	if err := os.MkdirAll(b.OutDir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(b.OutDir, r.OutputName())

	// A half-copied artifact or torn manifest poisons later runs, so
	// the copy window refuses a lazy Ctrl+C.
	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)

	if err := copyFile(artifact, dest); err != nil {
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := writeArtifactChecksum(b.OutDir, r.OutputName()); err != nil {
		return "", fmt.Errorf("failed to record checksum: %w", err)
	}
	return dest, nil
}

// openLog tees subprocess output into log/<family>/<core>.log; the
// log compresses to .log.xz when the core finishes. Logging failures
// degrade to console-only output rather than failing the build.
func (b *Builder) openLog(core string) (io.Writer, func(), error) {
	if err := os.MkdirAll(b.LogDir, 0o755); err != nil {
		return nil, nil, err
	}
	rawPath := filepath.Join(b.LogDir, core+".log")
	file, err := os.Create(rawPath)
	if err != nil {
		debugf("cannot create log %s: %v\n", rawPath, err)
		return nil, func() {}, nil
	}

	var sink io.Writer = file
	if Verbose {
		sink = io.MultiWriter(file, os.Stdout)
	}
	closeSink := func() {
		file.Close()
		if err := compressXZ(rawPath, rawPath+".xz"); err != nil {
			debugf("cannot compress log %s: %v\n", rawPath, err)
			return
		}
		os.Remove(rawPath)
	}
	return sink, closeSink, nil
}

// setTerminalTitle sets the terminal title for the current build step.
// \033]0; starts the title sequence and \a (bell character) terminates
// it. Non-terminal stdout gets nothing: the escape bytes would end up
// in piped output.
func setTerminalTitle(title string) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	fmt.Printf("\033]0;%s\a", title)
}
