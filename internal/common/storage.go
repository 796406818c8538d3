package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// Storage is the mirror root manager of spec.md §2 item 9: it owns the
// final mirror root, the per-repository tree layout within it, and the
// ephemeral staging tree each run writes through before promotion.
type Storage struct {
	root        string // final mirror root
	stagingRoot string // sibling directory holding per-repository staging trees
}

// NewStorage builds a Storage rooted at root, staging through a sibling
// directory. root and stagingRoot must live on the same filesystem so
// promotion can be a rename at the per-file level; the caller is expected
// to have validated that at startup.
func NewStorage(root, stagingRoot string) *Storage {
	return &Storage{root: root, stagingRoot: stagingRoot}
}

// Root returns the final mirror root.
func (s *Storage) Root() string {
	return s.root
}

// RepositoryKey derives a filesystem-safe directory name for a repository
// from its base URL and distribution, scoping the staging tree so two
// suites mirrored from the same host never share a staging directory.
func RepositoryKey(baseURL, distribution string) string {
	return filepath.Join(HostPathKey(baseURL), distribution)
}

// HostPathKey sanitizes a base URL into the path prefix the final mirror
// tree uses for that host, independent of suite — pool/ is conventionally
// shared by every suite a repository publishes, so only dists/<suite>/…
// nests under the suite.
func HostPathKey(baseURL string) string {
	return strings.NewReplacer("://", "_", "/", "_", ":", "_").Replace(baseURL)
}

// SameFilesystem reports whether a and b (both must already exist) live on
// the same device, the prerequisite for promotion's per-file os.Rename to
// be atomic. On a platform where the device can't be determined, it
// returns true rather than blocking startup over an unanswerable check.
func SameFilesystem(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return false, fmt.Errorf("common: stat %s: %w", a, err)
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false, fmt.Errorf("common: stat %s: %w", b, err)
	}

	devA, ok := deviceOf(infoA)
	if !ok {
		return true, nil
	}
	devB, ok := deviceOf(infoB)
	if !ok {
		return true, nil
	}
	return devA == devB, nil
}

func deviceOf(info os.FileInfo) (uint64, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(stat.Dev), true
}

// FinalPath returns an absolute path under the mirror root.
func (s *Storage) FinalPath(parts ...string) string {
	return filepath.Join(append([]string{s.root}, parts...)...)
}

// PoolPath returns the pool directory for a package, following Debian
// convention: pool/component/first-letter/package-name, with "lib"
// packages keyed on their first four characters instead of one.
func PoolPath(component, packageName string) string {
	firstLetter := string(packageName[0])
	if strings.HasPrefix(packageName, "lib") && len(packageName) > 3 {
		firstLetter = packageName[:4]
	}
	return filepath.Join("pool", component, firstLetter, packageName)
}

// PrepareStaging removes any leftover staging directory for key (a crashed
// or aborted prior run) and creates a fresh one, returning its absolute
// path. Called once at the start of processing a repository, never
// globally — other repositories' staging trees are left untouched.
func (s *Storage) PrepareStaging(key string) (string, error) {
	dir := filepath.Join(s.stagingRoot, key)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("common: purging leftover staging for %s: %w", key, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("common: creating staging for %s: %w", key, err)
	}
	return dir, nil
}

// CleanStaging removes a repository's staging tree entirely. Called after
// a successful promotion, after a run that found nothing changed, and
// after a registry computation. A failed run's leftovers are removed by
// PrepareStaging at the start of the next one.
func (s *Storage) CleanStaging(dir string) error {
	return os.RemoveAll(dir)
}

// StagedFile is one file written under a staging tree awaiting promotion.
type StagedFile struct {
	StagingPath string
	FinalPath   string
	// Metadata marks Release/Packages/Sources/index files. Promote moves
	// every non-metadata file first and metadata files last, so a crash
	// mid-promotion can never leave an index on disk that claims to
	// describe content files that aren't actually there yet.
	Metadata bool
}

// Promote moves every staged file to its final path with a per-file
// rename, creating parent directories as needed, content files first and
// metadata files last. If any rename fails, Promote stops and returns the
// error; files already promoted remain promoted; spec.md's atomicity
// guarantee is per-file, not per-repository.
func Promote(files []StagedFile) error {
	ordered := make([]StagedFile, len(files))
	copy(ordered, files)
	sort.SliceStable(ordered, func(i, j int) bool {
		return !ordered[i].Metadata && ordered[j].Metadata
	})

	for _, f := range ordered {
		if err := os.MkdirAll(filepath.Dir(f.FinalPath), 0755); err != nil {
			return fmt.Errorf("common: preparing %s: %w", f.FinalPath, err)
		}
		if err := os.Rename(f.StagingPath, f.FinalPath); err != nil {
			return fmt.Errorf("common: promoting %s: %w", f.FinalPath, err)
		}
	}
	return nil
}
