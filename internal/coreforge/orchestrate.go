package coreforge

import (
	"context"
	"fmt"
	"time"
)

// RunOptions tunes one orchestration pass over a target family.
type RunOptions struct {
	Only         []string // restrict the pass to these cores
	NoFetch      bool     // assume sources are already in place
	FetchOnly    bool     // stop after source acquisition
	Clean        bool
	SkipExisting bool
	Jobs         int
	FetchJobs    int
	Timeout      time.Duration
}

// DefaultRunOptions snapshots the config globals.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Clean:        CleanBuild,
		SkipExisting: SkipExisting,
		Jobs:         Jobs,
		FetchJobs:    FetchJobs,
		Timeout:      BuildTimeout,
	}
}

// RunTarget takes one target family through the whole pipeline:
// profile, recipes, fetch pass, build pass, summary. The return value
// is the process exit code; a pass that leaves at least one artifact
// in place exits zero.
func RunTarget(ctx context.Context, family string, opts RunOptions) int {
	started := time.Now()

	profile, err := LoadProfile(family)
	if err != nil {
		cPrintf(colError, "%v\n", err)
		return 1
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Target ")
	colNote.Printf("%s (%s, %sgcc)\n", profile.Name, profile.Arch, profile.Triplet)

	recipes, bad, err := LoadRecipes(RecipesDir, opts.Only)
	if err != nil {
		cPrintf(colError, "%v\n", err)
		return 1
	}
	if len(recipes) == 0 && len(bad) == 0 {
		cPrintf(colWarn, "No recipes found in %s\n", RecipesDir)
		return 1
	}

	x := NewExecutor(ctx)

	if !opts.NoFetch {
		fetcher := &Fetcher{
			Exec:     x,
			CoresDir: coresDir(profile.Name),
			CacheDir: CacheDir,
			Workers:  opts.FetchJobs,
		}
		counts := fetcher.EnsureAll(recipes)
		colArrow.Print("-> ")
		colSuccess.Printf("Sources: ")
		colNote.Printf("%d fetched, %d up to date, %d failed\n",
			counts.Fetched, counts.Skipped, counts.Failed)
		if ctx.Err() != nil {
			return 130
		}
		if opts.FetchOnly {
			if counts.Failed > 0 {
				return 1
			}
			return 0
		}
	}

	builder := NewBuilder(profile, x)
	builder.Jobs = opts.Jobs
	builder.Clean = opts.Clean
	builder.SkipExisting = opts.SkipExisting
	builder.Timeout = opts.Timeout

	counts, err := builder.BuildAll(recipes, bad)
	printBuildSummary(profile.Name, counts, builder.Outcomes, time.Since(started))
	if ctx.Err() != nil {
		return 130
	}
	if err != nil {
		return 1
	}
	return 0
}

func printBuildSummary(family string, counts BuildCounts, outcomes []BuildOutcome, elapsed time.Duration) {
	colArrow.Print("-> ")
	colSuccess.Printf("Finished ")
	colNote.Printf("%s: %d built, %d skipped, %d failed in %s\n",
		family, counts.Built, counts.Skipped, counts.Failed, elapsed.Round(time.Second))

	finalTitle := fmt.Sprintf("coreforge: %s done", family)
	if counts.Failed > 0 {
		finalTitle = fmt.Sprintf("coreforge: %s, %d failed", family, counts.Failed)
	}
	setTerminalTitle(finalTitle)

	if counts.Failed == 0 {
		return
	}
	colArrow.Print("-> ")
	colError.Println("Failed cores:")
	for _, o := range outcomes {
		if o.Status != StatusFailed {
			continue
		}
		colError.Printf("   %-24s %v\n", o.Core, o.Err)
	}
}

// FetchTarget acquires sources for a family without building, the
// build command's fetch phase exposed on its own.
func FetchTarget(ctx context.Context, family string, opts RunOptions) int {
	opts.FetchOnly = true
	return RunTarget(ctx, family, opts)
}
