package coreforge

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const defaultConfigFile = "/etc/coreforge.conf"

// Config holds the raw key=value pairs from coreforge.conf plus any
// COREFORGE_* environment overrides.
type Config struct {
	Values map[string]string
}

// loadConfig reads the config file if it exists. A missing file is not
// an error; every key has a default.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	err = scanConf(file, func(key, value string) error {
		cfg.Values[key] = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return cfg, nil
}

// mergeEnvOverrides lets COREFORGE_* environment variables override
// anything the config file set.
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "COREFORGE_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			cfg.Values[parts[0]] = parts[1]
		}
	}
}

// configPath picks the config file: explicit env override, then a
// coreforge.conf in the working directory, then the system location.
func configPath() string {
	if p := os.Getenv("COREFORGE_CONFIG"); p != "" {
		return p
	}
	if fileExists("coreforge.conf") {
		return "coreforge.conf"
	}
	return defaultConfigFile
}

// initConfig resolves every global from cfg, applying defaults. All
// paths hang off COREFORGE_ROOT unless individually overridden.
func initConfig(cfg *Config) {
	get := func(key, def string) string {
		if v, ok := cfg.Values[key]; ok && v != "" {
			return v
		}
		return def
	}

	RootDir = get("COREFORGE_ROOT", ".")
	TargetsDir = get("COREFORGE_TARGETS", filepath.Join(RootDir, "targets"))
	RecipesDir = get("COREFORGE_RECIPES", filepath.Join(RootDir, "recipes"))
	PatchesDir = get("COREFORGE_PATCHES", filepath.Join(RecipesDir, "patches"))
	CoresRoot = get("COREFORGE_CORES_DIR", filepath.Join(RootDir, "cores"))
	CacheDir = get("COREFORGE_CACHE_DIR", filepath.Join(RootDir, "cache"))
	OutputRoot = get("COREFORGE_OUTPUT_DIR", filepath.Join(RootDir, "output"))
	LogRoot = get("COREFORGE_LOG_DIR", filepath.Join(RootDir, "log"))

	Jobs = runtime.NumCPU()
	if n, err := strconv.Atoi(get("COREFORGE_JOBS", "")); err == nil && n > 0 {
		Jobs = n
	}
	FetchJobs = defaultFetchWorkers
	if n, err := strconv.Atoi(get("COREFORGE_FETCH_JOBS", "")); err == nil && n > 0 {
		FetchJobs = n
	}

	CleanBuild = get("COREFORGE_CLEAN", "1") != "0"
	SkipExisting = get("COREFORGE_SKIP_EXISTING", "0") == "1"

	BuildTimeout = 0
	if raw := get("COREFORGE_BUILD_TIMEOUT", ""); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			BuildTimeout = d
		} else {
			cPrintf(colWarn, "Ignoring invalid COREFORGE_BUILD_TIMEOUT %q\n", raw)
		}
	}

	PrefixPath = get("COREFORGE_PREFIX_PATH", "")
	Debug = get("COREFORGE_DEBUG", "0") == "1"
}

func coresDir(family string) string {
	return filepath.Join(CoresRoot, family)
}

func outputDir(family string) string {
	return filepath.Join(OutputRoot, family)
}

func logDir(family string) string {
	return filepath.Join(LogRoot, family)
}
