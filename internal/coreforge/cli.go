package coreforge

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/ulikunitz/xz"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: coreforge <command> [arguments]")
	colSuccess.Println("Run 'coreforge <command>' for advanced options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"version, --version", "", "Version information"},
		{"build, b", "<family> [cores...] [options]", "Fetch sources and build cores for a CPU family"},
		{"fetch, f", "<family> [cores...]", "Fetch core sources without building"},
		{"compose", "<family> <core>", "Print the composed build commands without running them"},
		{"targets", "", "List known CPU target families"},
		{"recipes", "", "List the recipe set in build order"},
		{"log", "[<family> [core]]", "Browse build logs, or page one core's log"},
		{"upload", "[-prune] <family> [cores...]", "Mirror built artifacts to the configured bucket"},
		{"clean", "[options]", "Remove cached sources, checkouts, logs or artifacts"},
	}

	// Dynamic padding: size the first column off the longest usage string.
	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(c.Desc)
	}
	fmt.Println()
}

// Main is the CLI entrypoint for cmd/coreforge.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	// Two-phase interrupt handling: the first signal cancels the
	// context so the executor can kill the build tree and the run can
	// report partial results; a second signal forces the exit. While
	// an artifact copy is in flight the first signal only warns.
	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					colArrow.Print("\n-> ")
					colError.Printf("Artifact copy in progress. Press Ctrl+C AGAIN to force exit NOW.\n")
					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						colError.Printf("Forced immediate exit.")
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				} else {
					colArrow.Print("\n-> ")
					color.Danger.Printf("Received %v. Cancelling build gracefully\n", sig)
					cancel()
					time.Sleep(100 * time.Millisecond)
					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						color.Danger.Printf("Second interrupt received. Forcing immediate exit.")
						os.Exit(130)
					case <-time.After(2 * time.Second):
						colArrow.Print("\n-> ")
						color.Danger.Printf("Graceful shutdown timeout. Exiting.")
						os.Exit(130)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if ctx.Err() != nil {
		return
	}

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	cfg, err := loadConfig(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	mergeEnvOverrides(cfg)
	initConfig(cfg)

	var exitCode int

	switch os.Args[1] {
	case "build", "b":
		exitCode = handleBuildCommand(ctx, os.Args[2:])

	case "fetch", "f":
		exitCode = handleFetchCommand(ctx, os.Args[2:])

	case "compose":
		exitCode = handleComposeCommand(os.Args[2:])

	case "targets":
		exitCode = handleTargetsCommand()

	case "recipes":
		exitCode = handleRecipesCommand()

	case "log":
		exitCode = handleLogCommand(os.Args[2:])

	case "upload":
		if err := handleUploadCommand(ctx, os.Args[2:], cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
			exitCode = 1
		}

	case "clean":
		if err := handleCleanCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Clean failed: %v\n", err)
			exitCode = 1
		}

	case "version", "--version":
		colNote.Printf("coreforge %s (%s) built %s\n", version, hostArch, buildDate)

	case "help", "-h", "--help":
		printHelp()

	default:
		printHelp()
		exitCode = 1
	}
	os.Exit(exitCode)
}

// splitJobsFlag rewrites attached short flags like -j8 into the two
// token form the flag package understands.
func splitJobsFlag(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.HasPrefix(arg, "-j") && len(arg) > 2 {
			if _, err := strconv.Atoi(arg[2:]); err == nil {
				out = append(out, "-j", arg[2:])
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}

func handleBuildCommand(ctx context.Context, args []string) int {
	buildCmd := flag.NewFlagSet("build", flag.ExitOnError)
	jobs := buildCmd.Int("j", Jobs, "Parallel make jobs per core.")
	noFetch := buildCmd.Bool("nofetch", false, "Skip source acquisition; sources must already be checked out.")
	fetchOnly := buildCmd.Bool("fetch-only", false, "Stop after source acquisition.")
	skipExisting := buildCmd.Bool("skip-existing", false, "Skip cores whose artifact is already in the output directory.")
	noClean := buildCmd.Bool("noclean", false, "Skip the make clean pass before building.")
	timeout := buildCmd.Duration("timeout", BuildTimeout, "Per-core build timeout (0 disables).")
	verbose := buildCmd.Bool("v", false, "Tee build output to the console as well as the log.")

	if err := buildCmd.Parse(splitJobsFlag(args)); err != nil {
		return 1
	}

	rest := buildCmd.Args()
	if len(rest) == 0 {
		colNote.Println(" Usage: coreforge build <family> [cores...] [options]")
		printFamilies()
		return 1
	}
	if *verbose {
		Verbose = true
	}

	opts := DefaultRunOptions()
	opts.Only = rest[1:]
	opts.Jobs = *jobs
	opts.NoFetch = *noFetch
	opts.FetchOnly = *fetchOnly
	opts.Timeout = *timeout
	if *skipExisting {
		opts.SkipExisting = true
	}
	if *noClean {
		opts.Clean = false
	}
	return RunTarget(ctx, rest[0], opts)
}

func handleFetchCommand(ctx context.Context, args []string) int {
	fetchCmd := flag.NewFlagSet("fetch", flag.ExitOnError)
	jobs := fetchCmd.Int("j", FetchJobs, "Parallel fetch workers.")

	if err := fetchCmd.Parse(splitJobsFlag(args)); err != nil {
		return 1
	}
	rest := fetchCmd.Args()
	if len(rest) == 0 {
		colNote.Println(" Usage: coreforge fetch <family> [cores...]")
		printFamilies()
		return 1
	}

	opts := DefaultRunOptions()
	opts.Only = rest[1:]
	opts.FetchJobs = *jobs
	return FetchTarget(ctx, rest[0], opts)
}

// handleComposeCommand prints what a build would run, without running
// anything. Two invocations of this on the same inputs must print the
// same bytes.
func handleComposeCommand(args []string) int {
	if len(args) < 2 {
		colNote.Println(" Usage: coreforge compose <family> <core>")
		return 1
	}
	profile, err := LoadProfile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	recipes, bad, err := LoadRecipes(RecipesDir, args[1:2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(bad) > 0 {
		fmt.Fprintf(os.Stderr, "Error: %v\n", bad[0])
		return 1
	}
	r := recipes[0]

	composer := NewComposer(profile)
	srcDir := filepath.Join(coresDir(profile.Name), r.Name)

	var invs []*Invocation
	switch r.Build {
	case BuildMake:
		if CleanBuild {
			clean, err := composer.MakeClean(r, srcDir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			invs = append(invs, clean)
		}
		build, err := composer.MakeBuild(r, srcDir, Jobs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		invs = append(invs, build)
	case BuildCMake:
		configure, err := composer.CMakeConfigure(r, srcDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		build, err := composer.CMakeBuild(r, srcDir, Jobs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		invs = append(invs, configure, build)
	}

	env := profile.Environment()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	colArrow.Print("-> ")
	colSuccess.Println("Environment:")
	for _, k := range keys {
		fmt.Printf("   %s=%s\n", k, env[k])
	}

	for _, inv := range invs {
		colArrow.Print("-> ")
		colSuccess.Printf("In ")
		colNote.Printf("%s\n", inv.Dir)
		fmt.Printf("   %s\n", inv)
	}
	return 0
}

func printFamilies() {
	families, err := ListFamilies()
	if err != nil || len(families) == 0 {
		return
	}
	colSuccess.Printf("  Known families: %s\n", strings.Join(families, ", "))
}

func handleTargetsCommand() int {
	families, err := ListFamilies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	colSuccess.Println("Known CPU target families:")
	for _, family := range families {
		profile, err := LoadProfile(family)
		if err != nil {
			cPrintf(colWarn, "  %-16s (broken: %v)\n", family, err)
			continue
		}
		fmt.Print("  ")
		color.Bold.Printf("%-16s", profile.Name)
		colNote.Printf(" %-6s %-24s platform=%s\n", profile.Arch, profile.Triplet+"gcc", profile.DefaultPlatform())
	}
	return 0
}

func handleRecipesCommand() int {
	recipes, bad, err := LoadRecipes(RecipesDir, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	colSuccess.Printf("Recipes in %s:\n", RecipesDir)
	for _, r := range recipes {
		fmt.Print("  ")
		color.Bold.Printf("%-24s", r.Name)
		colNote.Printf(" %-5s %s@%s\n", r.Build, r.Repo, shortRev(r.Rev))
	}
	for _, rerr := range bad {
		cPrintf(colWarn, "  %-24s broken: %v\n", rerr.Core, rerr.Err)
	}
	if len(bad) > 0 {
		return 1
	}
	return 0
}

func shortRev(rev string) string {
	if isCommitHash(rev) && len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func handleLogCommand(args []string) int {
	if len(args) >= 2 {
		return showLogPaged(args[0], args[1])
	}
	family := ""
	if len(args) == 1 {
		family = args[0]
	}
	return runLogBrowser(family)
}

// showLogPaged streams one core's log through $PAGER. The raw .log is
// consulted when no compressed log exists yet (build still running or
// killed before compression).
func showLogPaged(family, core string) int {
	path := filepath.Join(logDir(family), core+".log.xz")
	if !fileExists(path) {
		path = strings.TrimSuffix(path, ".xz")
		if !fileExists(path) {
			fmt.Fprintf(os.Stderr, "No build log found for %s/%s\n", family, core)
			return 1
		}
	}

	open := func() (io.Reader, *os.File, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		if !strings.HasSuffix(path, ".xz") {
			return f, f, nil
		}
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return xr, f, nil
	}

	r, f, err := open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		return 1
	}
	defer f.Close()

	pager := os.Getenv("PAGER")
	var pagerArgs []string
	if pager == "" || pager == "less" {
		pager = "less"
		pagerArgs = []string{"-r"}
	}

	cmd := exec.Command(pager, pagerArgs...)
	cmd.Stdin = r
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		// No pager available; dump to stdout instead.
		f.Close()
		if r, f, err = open(); err == nil {
			defer f.Close()
			io.Copy(os.Stdout, r)
		}
	}
	return 0
}

func handleUploadCommand(ctx context.Context, args []string, cfg *Config) error {
	uploadCmd := flag.NewFlagSet("upload", flag.ExitOnError)
	prune := uploadCmd.Bool("prune", false, "Delete mirror objects no longer present locally.")
	if err := uploadCmd.Parse(args); err != nil {
		return err
	}

	rest := uploadCmd.Args()
	if len(rest) == 0 {
		fmt.Println("Usage: coreforge upload [-prune] <family> [cores...]")
		uploadCmd.PrintDefaults()
		return nil
	}
	return uploadArtifacts(ctx, cfg, rest[0], rest[1:], *prune)
}

func handleCleanCommand(args []string) error {
	cleanCmd := flag.NewFlagSet("clean", flag.ExitOnError)
	cache := cleanCmd.Bool("cache", false, "Remove downloaded source archives.")
	cores := cleanCmd.Bool("cores", false, "Remove checked-out core sources.")
	logs := cleanCmd.Bool("logs", false, "Remove build logs.")
	output := cleanCmd.Bool("output", false, "Remove built artifacts and manifests.")
	all := cleanCmd.Bool("all", false, "cache, cores, logs and output.")

	if err := cleanCmd.Parse(args); err != nil {
		return err
	}

	if !*cache && !*cores && !*logs && !*output && !*all {
		fmt.Println("Usage: coreforge clean [flag]")
		fmt.Println("You must specify what to clean. Use one of the following flags:")
		cleanCmd.PrintDefaults()
		return nil
	}
	if *all {
		*cache, *cores, *logs, *output = true, true, true, true
	}

	targets := []struct {
		on   bool
		what string
		dir  string
	}{
		{*cache, "download cache", CacheDir},
		{*cores, "core sources", CoresRoot},
		{*logs, "build logs", LogRoot},
		{*output, "built artifacts", OutputRoot},
	}
	for _, t := range targets {
		if !t.on {
			continue
		}
		colArrow.Print("-> ")
		cPrintf(colWarn, "Deleting %s at %s.\n", t.what, t.dir)
		if !askForConfirmation(colArrow, "Are you sure you want to proceed?") {
			colArrow.Print("-> ")
			colSuccess.Printf("Cleanup of %s canceled.\n", t.what)
			continue
		}
		if err := os.RemoveAll(t.dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", t.dir, err)
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Removed %s.\n", t.dir)
	}
	return nil
}
