// Package prune implements spec.md §4.6: delete files under the mirror
// root that no configured repository's registry vouches for.
package prune

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/mirrorkit/aptmirror/internal/common"
	"github.com/mirrorkit/aptmirror/internal/config"
)

// registryComputer is the subset of scheduler.Scheduler prune depends on —
// kept narrow so prune's tests can supply a fake without spinning up a
// real network-backed scheduler.
type registryComputer interface {
	ComputeRegistry(ctx context.Context, repo *config.Repository) (*common.Registry, error)
}

// Report is the outcome of one Run.
type Report struct {
	Removed []string // paths deleted (or, under DryRun, that would have been)
}

// Run walks storage's mirror root, computes the union of every repository's
// registry, and removes whatever is on disk but in no registry. A digest
// sidecar (see common.Downloader) is pruned alongside the decoded file it
// describes; it is never itself registered and so is never orphaned on its
// own.
func Run(ctx context.Context, storage *common.Storage, scheduler registryComputer, repos []*config.Repository, dryRun bool) (*Report, error) {
	registry := common.NewRegistry()
	for _, repo := range repos {
		repoRegistry, err := scheduler.ComputeRegistry(ctx, repo)
		if err != nil {
			return nil, fmt.Errorf("prune: computing registry: %w", err)
		}
		for _, path := range repoRegistry.Paths() {
			checksum, _ := repoRegistry.Lookup(path)
			registry.Add(path, checksum)
		}
	}

	onDisk, err := walkFiles(storage.Root())
	if err != nil {
		return nil, fmt.Errorf("prune: walking mirror root: %w", err)
	}

	var toRemove []string
	for _, path := range onDisk {
		rel, err := filepath.Rel(storage.Root(), path)
		if err != nil {
			return nil, err
		}
		if registry.Contains(rel) {
			continue
		}
		if registry.Contains(trimDigestSuffix(rel)) {
			continue
		}
		toRemove = append(toRemove, path)
	}
	sort.Strings(toRemove)

	report := &Report{Removed: toRemove}
	if dryRun {
		for _, path := range toRemove {
			slog.Info("would remove", "path", path)
		}
		return report, nil
	}

	for _, path := range toRemove {
		if err := os.Remove(path); err != nil {
			return report, fmt.Errorf("prune: removing %s: %w", path, err)
		}
		slog.Info("removed", "path", path)
	}

	if err := pruneEmptyDirs(storage.Root()); err != nil {
		return report, fmt.Errorf("prune: removing empty directories: %w", err)
	}

	return report, nil
}

func trimDigestSuffix(rel string) string {
	const suffix = ".digest"
	if len(rel) > len(suffix) && rel[len(rel)-len(suffix):] == suffix {
		return rel[:len(rel)-len(suffix)]
	}
	return rel
}

func walkFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return files, err
}

// pruneEmptyDirs removes now-empty directories bottom-up, stopping at root
// itself (which is never removed even when the mirror ends up empty).
func pruneEmptyDirs(root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			if err := os.Remove(dir); err != nil {
				return err
			}
		}
	}
	return nil
}
