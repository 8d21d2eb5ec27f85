package coreforge

import (
	"embed"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gookit/color"
)

// isCriticalAtomic is 1 while an artifact copy or manifest write is in
// flight, so the signal handler can refuse a lazy Ctrl+C.
var isCriticalAtomic atomic.Int32

// Populated by initConfig from coreforge.conf and COREFORGE_* overrides.
var (
	RootDir      string
	TargetsDir   string
	RecipesDir   string
	PatchesDir   string
	CoresRoot    string
	CacheDir     string
	OutputRoot   string
	LogRoot      string
	Jobs         int
	FetchJobs    int
	CleanBuild   bool
	SkipExisting bool
	BuildTimeout time.Duration
	PrefixPath   string
	Debug        bool
	Verbose      bool
)

var (
	version   = "dev" // overridden at build time via -ldflags
	hostArch  = runtime.GOARCH
	buildDate = "unknown"
)

//go:embed targets/*.conf
var embeddedTargets embed.FS

var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
