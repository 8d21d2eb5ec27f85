package coreforge

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const defaultFetchWorkers = 4

// Fetcher materializes recipe source trees under CoresDir, sharing
// downloaded archives across targets through CacheDir.
type Fetcher struct {
	Exec     *Executor
	CoresDir string
	CacheDir string
	Workers  int
	Quiet    bool
}

type fetchOutcome int

const (
	fetchFetched fetchOutcome = iota
	fetchSkipped
)

type fetchResult struct {
	core    string
	outcome fetchOutcome
	err     error
}

// FetchCounts aggregates one acquisition pass.
type FetchCounts struct {
	Fetched int
	Skipped int
	Failed  int
}

// EnsureAll fans recipes out to a bounded worker pool. Workers only
// report results; the single aggregation loop below owns the counters
// and the console.
func (f *Fetcher) EnsureAll(recipes []*Recipe) FetchCounts {
	workers := f.Workers
	if workers <= 0 {
		workers = defaultFetchWorkers
	}
	if workers > len(recipes) {
		workers = len(recipes)
	}

	jobs := make(chan *Recipe)
	results := make(chan fetchResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				outcome, err := f.Ensure(r)
				results <- fetchResult{core: r.Name, outcome: outcome, err: err}
			}
		}()
	}
	go func() {
		for _, r := range recipes {
			if f.Exec.Context.Err() != nil {
				break
			}
			jobs <- r
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var counts FetchCounts
	for res := range results {
		switch {
		case res.err != nil:
			counts.Failed++
			colArrow.Print("-> ")
			colError.Printf("Fetch failed for %s: %v\n", res.core, res.err)
		case res.outcome == fetchSkipped:
			counts.Skipped++
			debugf("sources for %s already present\n", res.core)
		default:
			counts.Fetched++
			colArrow.Print("-> ")
			colSuccess.Printf("Fetched %s\n", res.core)
		}
	}
	return counts
}

// Ensure makes the source tree for r exist on disk. An existing tree
// is trusted as-is and never re-validated; stale trees are the user's
// call via clean -cores.
func (f *Fetcher) Ensure(r *Recipe) (fetchOutcome, error) {
	if r.Repo == "" || r.Rev == "" {
		return 0, fmt.Errorf("%w: recipe %s: missing repo or rev", ErrConfig, r.Name)
	}

	dst := filepath.Join(f.CoresDir, r.Name)
	if dirExists(dst) {
		return fetchSkipped, nil
	}
	if err := os.MkdirAll(f.CoresDir, 0o755); err != nil {
		return 0, err
	}

	var err error
	switch pickStrategy(r) {
	case strategyArchive:
		err = f.fetchArchive(r, dst)
	case strategyFullClone:
		err = f.fullClone(r, dst)
	default:
		err = f.shallowClone(r, dst)
	}
	if err != nil {
		// Never leave a half-fetched tree a rerun would trust.
		os.RemoveAll(dst)
		return 0, err
	}
	return fetchFetched, nil
}

type fetchStrategy int

const (
	strategyArchive fetchStrategy = iota
	strategyShallowClone
	strategyFullClone
)

var commitHashRe = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

func isCommitHash(rev string) bool {
	return commitHashRe.MatchString(rev)
}

// pickStrategy decides how a revision is materialized. Plain commit
// hashes come from forge tarballs and the shared cache; hashes that
// need submodules force a full clone because shallow clones cannot
// check out an arbitrary commit; tags and branches clone shallow.
func pickStrategy(r *Recipe) fetchStrategy {
	if isCommitHash(r.Rev) {
		if r.Submodules {
			return strategyFullClone
		}
		return strategyArchive
	}
	return strategyShallowClone
}

func repoURL(repo string) string {
	return "https://github.com/" + repo + ".git"
}

func (f *Fetcher) fetchArchive(r *Recipe, dst string) error {
	url := fmt.Sprintf("https://github.com/%s/archive/%s.tar.gz", r.Repo, r.Rev)
	cached := f.cachePath(r)

	if !fileExists(cached) {
		if err := f.download(url, cached); err != nil {
			return err
		}
	} else {
		debugf("archive for %s already cached: %s\n", r.Name, cached)
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	if err := extractTar(cached, dst); err != nil {
		// A corrupt cache entry would poison every later run.
		os.Remove(cached)
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(cached), err)
	}
	return nil
}

// cachePath keys the shared archive cache by repository coordinate and
// revision, with readable name parts after the digest.
func (f *Fetcher) cachePath(r *Recipe) string {
	key := hashString(r.Repo + "@" + r.Rev)
	short := r.Rev
	if len(short) > 12 {
		short = short[:12]
	}
	short = strings.ReplaceAll(short, "/", "_")
	name := fmt.Sprintf("%s-%s-%s.tar.gz", key[:16], path.Base(r.Repo), short)
	return filepath.Join(f.CacheDir, name)
}

// download fetches url into dest under a flock, so concurrent workers
// (or a second coreforge) wanting the same archive download it once.
func (f *Fetcher) download(url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	lockPath := dest + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lockFile.Close()

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for %s: %w", dest, err)
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	// Whoever held the lock may have finished the download already.
	if fileExists(dest) {
		os.Remove(lockPath)
		return nil
	}

	debugf("downloading %s\n", url)
	req, err := http.NewRequestWithContext(f.Exec.Context, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := newHTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s failed with status: %s", url, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if f.Quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		_, err = io.Copy(out, resp.Body)
	} else {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(dest))
		_, err = io.Copy(io.MultiWriter(out, bar), resp.Body)
		bar.Finish()
	}
	if err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return err
	}
	os.Remove(lockPath)
	return nil
}

// newHTTPClient allows slow mirrors without hanging forever: generous
// total timeout for multi-hundred-MB archives, tight handshake.
func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second,
	}
}

func (f *Fetcher) shallowClone(r *Recipe, dst string) error {
	args := []string{"clone", "--depth", "1", "--branch", r.Rev, "--single-branch"}
	if r.Submodules {
		args = append(args, "--recurse-submodules", "--shallow-submodules")
	}
	args = append(args, repoURL(r.Repo), dst)
	return f.git("", args...)
}

func (f *Fetcher) fullClone(r *Recipe, dst string) error {
	if err := f.git("", "clone", repoURL(r.Repo), dst); err != nil {
		return err
	}
	if err := f.git(dst, "checkout", r.Rev); err != nil {
		return err
	}
	if r.Submodules {
		return f.git(dst, "submodule", "update", "--init", "--recursive")
	}
	return nil
}

// git runs a git subcommand with output captured, so parallel workers
// do not interleave progress chatter on the terminal.
func (f *Fetcher) git(dir string, args ...string) error {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.Command("git", args...)
	cmd.Stdin = strings.NewReader("")
	return f.Exec.RunLogged(cmd, nil)
}
