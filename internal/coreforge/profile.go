package coreforge

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Arch is the instruction-set width of a CPU family.
type Arch string

const (
	Arch64    Arch = "arm64"
	Arch32    Arch = "arm"
	ArchOther Arch = "other"
)

// Profile is the resolved cross-toolchain description for one CPU
// family. Immutable once loaded; a build never mutates it.
type Profile struct {
	Name     string
	Arch     Arch
	Triplet  string
	CFlags   string
	CXXFlags string
	LDFlags  string
	Platform string
}

// LoadProfile reads targets/<family>.conf, preferring a file on disk
// over the embedded defaults so users can override or add families
// without rebuilding.
func LoadProfile(family string) (*Profile, error) {
	values, err := readTargetConf(family)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		Name:     family,
		Arch:     Arch(values["arch"]),
		Triplet:  values["triplet"],
		CFlags:   values["cflags"],
		CXXFlags: values["cxxflags"],
		LDFlags:  values["ldflags"],
		Platform: values["platform"],
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func readTargetConf(family string) (map[string]string, error) {
	diskPath := filepath.Join(TargetsDir, family+".conf")
	if file, err := os.Open(diskPath); err == nil {
		defer file.Close()
		return parseTargetConf(file, diskPath)
	}

	file, err := embeddedTargets.Open("targets/" + family + ".conf")
	if err != nil {
		return nil, fmt.Errorf("%w: unknown CPU family %q", ErrConfig, family)
	}
	defer file.Close()
	return parseTargetConf(file, family+".conf (embedded)")
}

func parseTargetConf(r io.Reader, name string) (map[string]string, error) {
	values := make(map[string]string)
	err := scanConf(r, func(key, value string) error {
		values[key] = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, name, err)
	}
	return values, nil
}

func (p *Profile) validate() error {
	for key, val := range map[string]string{
		"arch":     string(p.Arch),
		"triplet":  p.Triplet,
		"cflags":   p.CFlags,
		"cxxflags": p.CXXFlags,
	} {
		if val == "" {
			return fmt.Errorf("%w: target %s: missing %s", ErrConfig, p.Name, key)
		}
	}
	switch p.Arch {
	case Arch64, Arch32, ArchOther:
	default:
		return fmt.Errorf("%w: target %s: unknown arch %q", ErrConfig, p.Name, p.Arch)
	}
	// A toolchain prefix names its architecture; catch copy-paste
	// mistakes where the two disagree.
	if strings.HasPrefix(p.Triplet, "aarch64") && p.Arch != Arch64 {
		return fmt.Errorf("%w: target %s: triplet %s is 64-bit but arch is %s",
			ErrConfig, p.Name, p.Triplet, p.Arch)
	}
	if strings.HasPrefix(p.Triplet, "arm") && !strings.HasPrefix(p.Triplet, "aarch64") && p.Arch != Arch32 {
		return fmt.Errorf("%w: target %s: triplet %s is 32-bit but arch is %s",
			ErrConfig, p.Name, p.Triplet, p.Arch)
	}
	return nil
}

func (p *Profile) CC() string  { return p.Triplet + "gcc" }
func (p *Profile) CXX() string { return p.Triplet + "g++" }

// Environment derives the toolchain environment handed to every build
// subprocess. TERM is pinned so build systems keep emitting color into
// the captured logs.
func (p *Profile) Environment() map[string]string {
	return map[string]string{
		"CC":       p.CC(),
		"CXX":      p.CXX(),
		"AR":       p.Triplet + "ar",
		"AS":       p.Triplet + "as",
		"STRIP":    p.Triplet + "strip",
		"CFLAGS":   p.CFlags,
		"CXXFLAGS": p.CXXFlags,
		"LDFLAGS":  p.LDFlags,
		"TERM":     "xterm-256color",
	}
}

// DefaultPlatform is the platform token used when a recipe does not
// declare a usable one.
func (p *Profile) DefaultPlatform() string { return p.Platform }

// processorHint is the CMAKE_SYSTEM_PROCESSOR value for this family.
func (p *Profile) processorHint() string {
	switch p.Arch {
	case Arch64:
		return "aarch64"
	case Arch32:
		return "armv7-a"
	}
	if i := strings.IndexByte(p.Triplet, '-'); i > 0 {
		return p.Triplet[:i]
	}
	return string(p.Arch)
}

// ListFamilies returns every known family name: embedded defaults plus
// any *.conf files in the targets directory, deduplicated and sorted.
func ListFamilies() ([]string, error) {
	seen := make(map[string]bool)

	entries, err := fs.ReadDir(embeddedTargets, "targets")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		seen[strings.TrimSuffix(entry.Name(), ".conf")] = true
	}

	if diskEntries, err := os.ReadDir(TargetsDir); err == nil {
		for _, entry := range diskEntries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".conf") {
				continue
			}
			seen[strings.TrimSuffix(entry.Name(), ".conf")] = true
		}
	}

	families := make([]string, 0, len(seen))
	for name := range seen {
		families = append(families, name)
	}
	sort.Strings(families)
	return families, nil
}
