package coreforge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Invocation is one external build-tool command: program, argument
// list, working directory and environment. Composed fresh for every
// build attempt, never stored.
type Invocation struct {
	Prog string
	Args []string
	Dir  string
	Env  []string
}

func (inv *Invocation) String() string {
	return inv.Prog + " " + strings.Join(inv.Args, " ")
}

// coreOverride adjusts composition for a core whose upstream Makefile
// needs family-specific handling: Platform replaces the resolved
// platform token, Extra is appended after the recipe's own arguments
// so it wins any duplicate.
type coreOverride struct {
	Platform func(p *Profile) string
	Extra    func(p *Profile) []string
}

// coreOverrides is the default special-case table. mupen64plus-next
// selects its GLES/vendor paths by platform name rather than probing,
// so the generic platform fallback would build the wrong backend.
var coreOverrides = map[string]coreOverride{
	"mupen64plus_next": {
		Platform: func(p *Profile) string {
			switch p.Name {
			case "s922x":
				return "odroid-n2"
			case "cortex-a72":
				return "rpi4_64"
			case "cortex-a53":
				return "rpi3_64"
			case "cortex-a7", "cortex-a15.a7":
				return "arm"
			}
			return p.DefaultPlatform()
		},
		Extra: func(p *Profile) []string {
			return []string{
				"HAVE_THR_AL=1",
				"FORCE_GLES=1",
				"ARCH=" + string(p.Arch),
				"LDFLAGS=-ldl",
			}
		},
	},
}

// Composer derives build-tool invocations from a profile and a recipe.
// The argument-list methods are pure; only the Invocation wrappers
// touch the ambient environment.
type Composer struct {
	Profile *Profile

	// Overrides maps core names to their special cases. Injected so
	// the general composition logic stays table-free; defaults to
	// coreOverrides.
	Overrides map[string]coreOverride

	// PrefixPath, when set, is appended to cmake configures as the
	// dependency search path. Defaults to COREFORGE_PREFIX_PATH.
	PrefixPath string
}

func NewComposer(p *Profile) *Composer {
	return &Composer{Profile: p, Overrides: coreOverrides, PrefixPath: PrefixPath}
}

// MakeArgs composes the variable assignments for a make recipe, in
// precedence order: toolchain first (upstream platform presets rarely
// set a compiler, so ours must be visible early), then the platform
// token, then the recipe's own arguments, then any special-case
// overrides. Duplicates resolve last-wins through the varSet.
func (c *Composer) MakeArgs(r *Recipe) ([]string, error) {
	if err := c.checkKind(r, BuildMake); err != nil {
		return nil, err
	}
	p := c.Profile
	override, special := c.Overrides[r.Name]

	var vars varSet
	vars.put("CC", "CC="+p.CC())
	vars.put("CXX", "CXX="+p.CXX())
	// Archiver with flags in the value: recipes invoke $(AR) as the
	// complete archive command.
	vars.put("AR", "AR="+p.Triplet+"ar rcs")

	platform := resolvePlatform(p, r)
	if special && override.Platform != nil {
		platform = override.Platform(p)
	}
	vars.put("platform", "platform="+platform)

	for _, arg := range r.Args {
		vars.putAssign(arg)
	}
	if special && override.Extra != nil {
		for _, arg := range override.Extra(p) {
			vars.putAssign(arg)
		}
	}
	return vars.flatten(), nil
}

// resolvePlatform picks the platform token for a make recipe. Empty
// values and values still carrying an unexpanded $(VAR) reference
// (recipes scraped from upstream build files keep those verbatim)
// fall back to the profile default.
func resolvePlatform(p *Profile, r *Recipe) string {
	if r.Platform == "" || strings.Contains(r.Platform, "$(") {
		return p.DefaultPlatform()
	}
	return r.Platform
}

// CMakeArgs composes the configure options for a cmake recipe: the
// recipe's own options first, then the cross-compilation settings so
// a stray recipe entry cannot shadow the toolchain, then a default
// build type only when the recipe did not choose one, then the forced
// standard levels for 32-bit targets.
func (c *Composer) CMakeArgs(r *Recipe) ([]string, error) {
	if err := c.checkKind(r, BuildCMake); err != nil {
		return nil, err
	}
	p := c.Profile

	var vars varSet
	for _, opt := range r.Opts {
		// A single recipe line may carry several options.
		vars.putCMakeTokens(strings.Fields(opt))
	}

	vars.putCMakeTokens([]string{
		"-DCMAKE_C_COMPILER=" + p.CC(),
		"-DCMAKE_CXX_COMPILER=" + p.CXX(),
		"-DCMAKE_C_FLAGS=" + p.CFlags,
		"-DCMAKE_CXX_FLAGS=" + p.CXXFlags,
		"-DCMAKE_SYSTEM_PROCESSOR=" + p.processorHint(),
		"-DTHREADS_PREFER_PTHREAD_FLAG=ON",
	})

	if !vars.has("CMAKE_BUILD_TYPE") {
		vars.putCMakeTokens([]string{"-DCMAKE_BUILD_TYPE=Release"})
	}

	// The 32-bit toolchain miscompiles newer standard levels, so the
	// pinned standards must land last and win over anything the
	// recipe requested.
	if p.Arch == Arch32 {
		vars.putCMakeTokens([]string{
			"-DCMAKE_C_STANDARD=11",
			"-DCMAKE_CXX_STANDARD=14",
		})
	}

	if c.PrefixPath != "" {
		vars.putCMakeTokens([]string{"-DCMAKE_PREFIX_PATH=" + c.PrefixPath})
	}
	return vars.flatten(), nil
}

func (c *Composer) checkKind(r *Recipe, kind string) error {
	if r.Build != kind {
		return fmt.Errorf("%w: recipe %s is %q, not %q", ErrCompose, r.Name, r.Build, kind)
	}
	if kind == BuildMake {
		if r.Makefile == "" {
			return fmt.Errorf("%w: recipe %s: missing makefile", ErrCompose, r.Name)
		}
		if r.Dir == "" {
			return fmt.Errorf("%w: recipe %s: missing dir", ErrCompose, r.Name)
		}
	}
	return nil
}

// makeDir is the directory make runs in: the recipe's declared
// subdirectory inside the source tree.
func makeDir(srcDir string, r *Recipe) string {
	return filepath.Join(srcDir, r.Dir)
}

// cmakeBuildDir is the out-of-tree build directory for cmake flows.
func cmakeBuildDir(srcDir string) string {
	return filepath.Join(srcDir, "build")
}

// MakeBuild returns the build invocation for a make recipe.
func (c *Composer) MakeBuild(r *Recipe, srcDir string, jobs int) (*Invocation, error) {
	vars, err := c.MakeArgs(r)
	if err != nil {
		return nil, err
	}
	args := append([]string{"-f", r.Makefile, fmt.Sprintf("-j%d", jobs)}, vars...)
	return &Invocation{Prog: "make", Args: args, Dir: makeDir(srcDir, r), Env: c.env()}, nil
}

// MakeClean returns the clean invocation for a make recipe. The
// composed variables ride along because platform presets often gate
// which objects the clean target removes.
func (c *Composer) MakeClean(r *Recipe, srcDir string) (*Invocation, error) {
	vars, err := c.MakeArgs(r)
	if err != nil {
		return nil, err
	}
	args := append([]string{"-f", r.Makefile}, vars...)
	args = append(args, "clean")
	return &Invocation{Prog: "make", Args: args, Dir: makeDir(srcDir, r), Env: c.env()}, nil
}

// CMakeConfigure returns the configure invocation, run inside the
// build directory against the parent source tree.
func (c *Composer) CMakeConfigure(r *Recipe, srcDir string) (*Invocation, error) {
	opts, err := c.CMakeArgs(r)
	if err != nil {
		return nil, err
	}
	args := append([]string{".."}, opts...)
	return &Invocation{Prog: "cmake", Args: args, Dir: cmakeBuildDir(srcDir), Env: c.env()}, nil
}

// CMakeBuild returns the compile invocation following a configure.
// No generator is ever passed, so the default generator's tool (make)
// does the building.
func (c *Composer) CMakeBuild(r *Recipe, srcDir string, jobs int) (*Invocation, error) {
	if err := c.checkKind(r, BuildCMake); err != nil {
		return nil, err
	}
	args := []string{fmt.Sprintf("-j%d", jobs)}
	return &Invocation{Prog: "make", Args: args, Dir: cmakeBuildDir(srcDir), Env: c.env()}, nil
}

// env merges the profile's toolchain variables over the ambient
// environment; profile values win so stray host CFLAGS cannot leak
// into a cross build.
func (c *Composer) env() []string {
	overrides := c.Profile.Environment()
	env := make([]string, 0, len(overrides)+len(os.Environ()))
	for _, kv := range os.Environ() {
		if key, _, ok := strings.Cut(kv, "="); ok {
			if _, shadowed := overrides[key]; shadowed {
				continue
			}
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
