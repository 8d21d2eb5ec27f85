package coreforge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Build kinds a recipe may declare.
const (
	BuildMake  = "make"
	BuildCMake = "cmake"
)

// Recipe describes how one core is fetched and built. Loaded from
// recipes/<name>.conf.
type Recipe struct {
	Name       string
	Repo       string // owner/name on the forge
	Rev        string // commit hash, tag or branch
	Submodules bool
	Build      string // make or cmake

	// make only
	Dir      string   // working subdirectory inside the source tree
	Makefile string   // makefile name passed via -f
	Platform string   // optional; may still carry an unexpanded $(VAR)
	Args     []string // extra variable assignments, order preserved

	// cmake only
	Opts []string // configure options, order preserved, may need splitting

	Artifact string // path of the built artifact relative to the tree
	Output   string // optional output filename, defaults to the artifact's
}

// OutputName is the filename the artifact is copied to.
func (r *Recipe) OutputName() string {
	if r.Output != "" {
		return r.Output
	}
	return filepath.Base(r.Artifact)
}

// LoadRecipes reads every *.conf in dir in name order. When only is
// non-empty it filters the set and complains about names with no
// recipe. Files that fail to parse come back as RecipeErrors so the
// rest of the run can proceed.
func LoadRecipes(dir string, only []string) ([]*Recipe, []*RecipeError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cannot read recipes directory %s: %v", ErrConfig, dir, err)
	}

	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}

	var recipes []*Recipe
	var bad []*RecipeError
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".conf") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".conf")
		if len(wanted) > 0 && !wanted[name] {
			continue
		}
		delete(wanted, name)

		recipe, err := parseRecipe(name, filepath.Join(dir, entry.Name()))
		if err != nil {
			bad = append(bad, &RecipeError{Core: name, Err: err})
			continue
		}
		recipes = append(recipes, recipe)
	}

	for name := range wanted {
		bad = append(bad, &RecipeError{
			Core: name,
			Err:  fmt.Errorf("%w: no recipe file %s.conf", ErrConfig, name),
		})
	}
	return recipes, bad, nil
}

func parseRecipe(name, path string) (*Recipe, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := &Recipe{Name: name, Dir: ".", Makefile: "Makefile"}
	err = scanConf(file, func(key, value string) error {
		switch key {
		case "repo":
			r.Repo = value
		case "rev":
			r.Rev = value
		case "submodules":
			r.Submodules = value == "1" || value == "true"
		case "build":
			r.Build = value
		case "dir":
			r.Dir = value
		case "makefile":
			r.Makefile = value
		case "platform":
			r.Platform = value
		case "arg":
			r.Args = append(r.Args, value)
		case "opt":
			r.Opts = append(r.Opts, value)
		case "artifact":
			r.Artifact = value
		case "output":
			r.Output = value
		default:
			debugf("recipe %s: ignoring unknown key %q\n", name, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, r.validate()
}

func (r *Recipe) validate() error {
	switch {
	case r.Repo == "" || !strings.Contains(r.Repo, "/"):
		return fmt.Errorf("%w: repo must be owner/name, got %q", ErrConfig, r.Repo)
	case r.Rev == "":
		return fmt.Errorf("%w: missing rev", ErrConfig)
	case r.Build != BuildMake && r.Build != BuildCMake:
		return fmt.Errorf("%w: build must be make or cmake, got %q", ErrConfig, r.Build)
	case r.Artifact == "":
		return fmt.Errorf("%w: missing artifact", ErrConfig)
	}
	return nil
}
