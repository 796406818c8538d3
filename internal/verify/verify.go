// Package verify implements spec.md §4.7: rehash every file a mirror's
// configured repositories vouch for and report any that are missing or
// whose bytes no longer match.
package verify

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mirrorkit/aptmirror/internal/common"
	"github.com/mirrorkit/aptmirror/internal/config"
)

type registryComputer interface {
	ComputeRegistry(ctx context.Context, repo *config.Repository) (*common.Registry, error)
}

// FailureKind classifies why a registered file failed verification.
type FailureKind int

const (
	Missing FailureKind = iota
	SizeMismatch
	DigestMismatch
)

func (k FailureKind) String() string {
	switch k {
	case Missing:
		return "missing"
	case SizeMismatch:
		return "size mismatch"
	case DigestMismatch:
		return "digest mismatch"
	default:
		return "unknown"
	}
}

// Failure is one file that did not verify.
type Failure struct {
	Path string
	Kind FailureKind
}

// Report is the outcome of one Run. Extraneous on-disk files not named by
// any registry are never reported here; that is prune's job.
type Report struct {
	Failures []Failure
	Checked  int
}

// Run computes the union of every repository's registry (never downloading
// content — ComputeRegistry only fetches Release and index files) and
// rehashes each registered path that exists under storage's mirror root.
func Run(ctx context.Context, storage *common.Storage, scheduler registryComputer, repos []*config.Repository) (*Report, error) {
	report := &Report{}

	seen := make(map[string]bool)
	for _, repo := range repos {
		registry, err := scheduler.ComputeRegistry(ctx, repo)
		if err != nil {
			return nil, fmt.Errorf("verify: computing registry: %w", err)
		}

		for _, rel := range registry.Paths() {
			if seen[rel] {
				continue
			}
			seen[rel] = true

			expected, _ := registry.Lookup(rel)
			report.Checked++

			absPath := storage.FinalPath(rel)
			info, err := os.Stat(absPath)
			if err != nil {
				report.Failures = append(report.Failures, Failure{Path: rel, Kind: Missing})
				continue
			}

			algo, digest, ok := common.StrongestAvailable(expected)
			if !ok {
				// A Release/InRelease file, or an index stored decoded from a
				// compressed variant, carries no expected digest; existence is enough.
				continue
			}

			if expected.Size != 0 && info.Size() != expected.Size {
				report.Failures = append(report.Failures, Failure{Path: rel, Kind: SizeMismatch})
				continue
			}

			actual, err := hashFile(absPath, algo)
			if err != nil {
				return nil, fmt.Errorf("verify: hashing %s: %w", rel, err)
			}
			if !common.EqualFold(actual, digest) {
				report.Failures = append(report.Failures, Failure{Path: rel, Kind: DigestMismatch})
			}
		}
	}

	return report, nil
}

func hashFile(path string, algo common.Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	d := common.NewDigester(algo)
	if _, err := io.Copy(d, f); err != nil {
		return "", err
	}
	return d.Sum(), nil
}
