// Package scheduler drives the per-repository mirror pipeline of spec.md
// §4.4: fetch and verify the Release, diff it against what was mirrored
// last, fetch every index it vouches for, fetch every file those indices
// reference, and then promote the staged Release and index files, each with
// its own rename, once every content file has landed.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aptly-dev/aptly/pgp"
	"github.com/aptly-dev/aptly/utils"
	"github.com/mirrorkit/aptmirror/aptfmt"
	"github.com/mirrorkit/aptmirror/internal/common"
	"github.com/mirrorkit/aptmirror/internal/config"
)

// Result summarizes the outcome of processing one repository.
type Result struct {
	Key          string
	Changed      bool
	FilesFetched int
}

// KeyLoader builds a dedicated pgp.Verifier trusting only the key at path —
// the mechanism behind a repository's pgp_pub_key option, which names a key
// scoped to that one repository rather than the global --pgp-key-path
// trust store.
type KeyLoader func(path string) (pgp.Verifier, error)

// Scheduler processes repositories one at a time, per §5's "no
// interleaving of different repositories" rule; parallelism lives inside
// a single repository's download pool.
type Scheduler struct {
	storage     *common.Storage
	downloader  *common.Downloader
	pgpVerifier pgp.Verifier
	keyLoader   KeyLoader
	force       bool
	setMtime    bool

	repoVerifiersMu sync.Mutex
	repoVerifiers   map[string]pgp.Verifier
}

// New builds a Scheduler. force re-diffs and re-fetches every repository
// regardless of whether its Release changed; setMtime applies the
// Release's Date to every file after a successful promotion. keyLoader may
// be nil when no repository in the configured list uses pgp_pub_key.
func New(storage *common.Storage, downloader *common.Downloader, pgpVerifier pgp.Verifier, keyLoader KeyLoader, force, setMtime bool) *Scheduler {
	return &Scheduler{
		storage:       storage,
		downloader:    downloader,
		pgpVerifier:   pgpVerifier,
		keyLoader:     keyLoader,
		force:         force,
		setMtime:      setMtime,
		repoVerifiers: make(map[string]pgp.Verifier),
	}
}

// verifierFor resolves the pgp.Verifier a repository's Release should be
// checked against: its own pgp_pub_key when configured (cached per path, so
// a key file already loaded for one suite isn't re-parsed for another), or
// the scheduler's shared --pgp-key-path trust store otherwise.
func (s *Scheduler) verifierFor(repo *config.Repository) (pgp.Verifier, error) {
	if repo.PGPPubKey == "" {
		return s.pgpVerifier, nil
	}
	if s.keyLoader == nil {
		return nil, fmt.Errorf("pgp_pub_key %s configured but no key loader available", repo.PGPPubKey)
	}

	s.repoVerifiersMu.Lock()
	defer s.repoVerifiersMu.Unlock()

	if v, ok := s.repoVerifiers[repo.PGPPubKey]; ok {
		return v, nil
	}
	v, err := s.keyLoader(repo.PGPPubKey)
	if err != nil {
		return nil, fmt.Errorf("loading pgp_pub_key %s: %w", repo.PGPPubKey, err)
	}
	s.repoVerifiers[repo.PGPPubKey] = v
	return v, nil
}

// Mirror runs the full pipeline for one repository: fetch, diff,
// enumerate indices, fetch indices, parse and fetch content, promote.
func (s *Scheduler) Mirror(ctx context.Context, repo *config.Repository) (*Result, error) {
	key := common.RepositoryKey(repo.BaseURL, repo.Suite)
	hostKey := common.HostPathKey(repo.BaseURL)

	stagingDir, err := s.storage.PrepareStaging(key)
	if err != nil {
		return nil, err
	}

	bundle, err := s.fetchRelease(ctx, repo, stagingDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	prior := s.loadPriorRelease(hostKey, repo.Suite)
	if !aptfmt.Diff(prior, bundle.Release, s.force) {
		if err := s.storage.CleanStaging(stagingDir); err != nil {
			slog.Warn("cleaning staging after no-op", "repository", key, "error", err)
		}
		slog.Info("unchanged", "repository", key, "suite", repo.Suite)
		return &Result{Key: key, Changed: false}, nil
	}

	targets := enumerateIndexTargets(repo)
	indexFiles, descriptors, err := s.fetchAndParseIndices(ctx, repo, bundle.Release, targets, stagingDir)
	if err != nil {
		return nil, fmt.Errorf("%s: fetching indices: %w", key, err)
	}

	registry := common.NewRegistry()
	contentReqs, err := s.planContentDownloads(repo.BaseURL, hostKey, descriptors, registry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	fetched := 0
	if len(contentReqs) > 0 {
		group := s.downloader.Download(ctx, contentReqs...)
		results, err := group.Wait()
		if err != nil {
			return nil, fmt.Errorf("%s: downloading content: %w (staging left intact for diagnosis)", key, err)
		}
		for _, res := range results {
			if dr, ok := res.(*common.DownloadResult); ok && !dr.Skipped {
				fetched++
			}
		}
	}

	metadataFiles := bundle.StagedFiles(s.storage, hostKey, repo.Suite)
	for _, idx := range indexFiles {
		metadataFiles = append(metadataFiles, common.StagedFile{
			StagingPath: idx.stagingPath,
			FinalPath:   s.storage.FinalPath(hostKey, "dists", repo.Suite, idx.logical),
			Metadata:    true,
		})
	}

	if err := common.Promote(metadataFiles); err != nil {
		return nil, fmt.Errorf("%s: promoting metadata: %w", key, err)
	}
	if err := s.storage.CleanStaging(stagingDir); err != nil {
		slog.Warn("cleaning staging after promotion", "repository", key, "error", err)
	}

	if s.setMtime {
		s.applyMtime(metadataFiles, contentReqs, bundle.Release.Date)
	}

	slog.Info("mirrored", "repository", key, "suite", repo.Suite, "files", fetched)
	return &Result{Key: key, Changed: true, FilesFetched: fetched}, nil
}

// ComputeRegistry re-runs stages 1–4's fetch-and-parse work (never stage
// 4's content downloads) to produce the complete set of paths and digests
// this repository's current Release vouches for — the shared computation
// behind both prune and verify.
func (s *Scheduler) ComputeRegistry(ctx context.Context, repo *config.Repository) (*common.Registry, error) {
	key := common.RepositoryKey(repo.BaseURL, repo.Suite)
	hostKey := common.HostPathKey(repo.BaseURL)

	stagingDir, err := s.storage.PrepareStaging(key)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.storage.CleanStaging(stagingDir); err != nil {
			slog.Warn("cleaning staging after registry computation", "repository", key, "error", err)
		}
	}()

	bundle, err := s.fetchRelease(ctx, repo, stagingDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	targets := enumerateIndexTargets(repo)
	indexFiles, descriptors, err := s.fetchAndParseIndices(ctx, repo, bundle.Release, targets, stagingDir)
	if err != nil {
		return nil, fmt.Errorf("%s: fetching indices: %w", key, err)
	}

	registry := common.NewRegistry()
	for _, f := range bundle.StagedFiles(s.storage, hostKey, repo.Suite) {
		rel, err := filepath.Rel(s.storage.Root(), f.FinalPath)
		if err != nil {
			return nil, err
		}
		registry.Add(rel, utils.ChecksumInfo{})
	}
	for _, idx := range indexFiles {
		rel := filepath.Join(hostKey, "dists", repo.Suite, idx.logical)
		// The Release records the digest of the variant that was fetched;
		// the decoded copy on disk only matches it when nothing was decoded.
		var expected utils.ChecksumInfo
		if idx.sourceKey == idx.logical {
			expected = bundle.Release.Files[idx.sourceKey]
		}
		registry.Add(rel, expected)
	}
	if _, err := s.planContentDownloads(repo.BaseURL, hostKey, descriptors, registry); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	return registry, nil
}

func (s *Scheduler) applyMtime(metadataFiles []common.StagedFile, contentReqs []*common.DownloadRequest, date time.Time) {
	if date.IsZero() {
		return
	}
	for _, f := range metadataFiles {
		if err := os.Chtimes(f.FinalPath, date, date); err != nil {
			slog.Warn("setting mtime", "file", f.FinalPath, "error", err)
		}
	}
	for _, req := range contentReqs {
		if err := os.Chtimes(req.Destination, date, date); err != nil {
			slog.Warn("setting mtime", "file", req.Destination, "error", err)
		}
	}
}

// releaseBundle is the result of stage 1: a verified Release together with
// enough bookkeeping to promote the files that carried it.
type releaseBundle struct {
	Release        *aptfmt.Release
	releaseStaging string
	releaseName    string // "InRelease" or "Release"
	sigStaging     string // "" when there is no detached signature to promote
}

// StagedFiles returns the Release (and, if fetched separately, its
// detached signature) as promotable metadata entries.
func (b *releaseBundle) StagedFiles(storage *common.Storage, hostKey, suite string) []common.StagedFile {
	files := []common.StagedFile{{
		StagingPath: b.releaseStaging,
		FinalPath:   storage.FinalPath(hostKey, "dists", suite, b.releaseName),
		Metadata:    true,
	}}
	if b.sigStaging != "" {
		files = append(files, common.StagedFile{
			StagingPath: b.sigStaging,
			FinalPath:   storage.FinalPath(hostKey, "dists", suite, "Release.gpg"),
			Metadata:    true,
		})
	}
	return files
}

// fetchRelease implements stage 1: fetch InRelease, falling back to
// Release+Release.gpg, and verify whichever signature form is present.
func (s *Scheduler) fetchRelease(ctx context.Context, repo *config.Repository, stagingDir string) (*releaseBundle, error) {
	pgpVerifier, err := s.verifierFor(repo)
	if err != nil {
		return nil, err
	}
	verifier := &aptfmt.Verifier{Verifier: pgpVerifier, Required: repo.PGPVerify}
	distURL := repo.BaseURL + "/dists/" + repo.Suite

	inReleaseStaging := filepath.Join(stagingDir, "InRelease")
	group := s.downloader.Download(ctx, &common.DownloadRequest{
		URL:         distURL + "/InRelease",
		Destination: inReleaseStaging,
		Optional:    true,
	})
	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("fetching InRelease: %w", err)
	}
	inRelease := results[0].(*common.DownloadResult)

	bundle := &releaseBundle{}
	if !inRelease.Missing {
		bundle.releaseStaging = inReleaseStaging
		bundle.releaseName = "InRelease"

		f, err := os.Open(inReleaseStaging)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()

		rc, _, err := verifier.VerifyAndClear(f)
		if err != nil {
			return nil, fmt.Errorf("verifying InRelease: %w", err)
		}
		defer func() { _ = rc.Close() }()

		release, err := aptfmt.ParseRelease(rc)
		if err != nil {
			return nil, err
		}
		bundle.Release = release
		return bundle, nil
	}

	releaseStaging := filepath.Join(stagingDir, "Release")
	sigStaging := filepath.Join(stagingDir, "Release.gpg")
	group = s.downloader.Download(ctx,
		&common.DownloadRequest{URL: distURL + "/Release", Destination: releaseStaging},
		&common.DownloadRequest{URL: distURL + "/Release.gpg", Destination: sigStaging, Optional: true},
	)
	results, err = group.Wait()
	if err != nil {
		return nil, fmt.Errorf("fetching Release: %w", err)
	}
	sig := results[1].(*common.DownloadResult)

	if sig.Missing {
		if repo.PGPVerify {
			return nil, aptfmt.ErrMissingSignature
		}
	} else {
		content, err := os.Open(releaseStaging)
		if err != nil {
			return nil, err
		}
		defer func() { _ = content.Close() }()
		sigFile, err := os.Open(sigStaging)
		if err != nil {
			return nil, err
		}
		defer func() { _ = sigFile.Close() }()

		if _, err := verifier.VerifyDetached(content, sigFile); err != nil {
			return nil, fmt.Errorf("verifying Release.gpg: %w", err)
		}
		bundle.sigStaging = sigStaging
	}

	f, err := os.Open(releaseStaging)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	release, err := aptfmt.ParseRelease(f)
	if err != nil {
		return nil, err
	}
	bundle.Release = release
	bundle.releaseStaging = releaseStaging
	bundle.releaseName = "Release"
	return bundle, nil
}

// loadPriorRelease reads and parses whatever Release/InRelease the last
// successful run promoted, for the differ to compare against. A missing
// or unparsable prior file means "no prior": every file looks new.
func (s *Scheduler) loadPriorRelease(hostKey, suite string) *aptfmt.Release {
	for _, name := range []string{"InRelease", "Release"} {
		path := s.storage.FinalPath(hostKey, "dists", suite, name)
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		var r io.Reader = f
		if name == "InRelease" {
			// This InRelease was already verified and promoted on a prior
			// run; only the clearsign wrapper needs stripping, not another
			// signature check.
			v := &aptfmt.Verifier{Verifier: s.pgpVerifier}
			rc, err2 := v.ExtractClear(f)
			if err2 != nil {
				_ = f.Close()
				continue
			}
			r = rc
			defer func() { _ = rc.Close() }()
		}
		release, err := aptfmt.ParseRelease(r)
		_ = f.Close()
		if err != nil {
			continue
		}
		return release
	}
	return nil
}

type indexKind int

const (
	kindPackages indexKind = iota
	kindSources
	kindInstaller
	kindTranslation
)

// defaultTranslationLanguage is the one per-component Translation file
// every repository is assumed to publish; spec.md's config grammar has no
// per-repository language selector, so "en" is the one fetched.
const defaultTranslationLanguage = "en"

// indexTarget is one logical index the repository descriptor calls for,
// named relative to dists/<suite>/ with no compression suffix.
type indexTarget struct {
	logical string
	kind    indexKind
}

// optional reports whether a missing copy of this index on the remote
// server (a 404) should be ignored rather than failing the repository, per
// spec.md §4.5's optional-file policy. Per-component translations are its
// canonical example; Packages/Sources/installer indices remain mandatory.
func (k indexKind) optional() bool {
	return k == kindTranslation
}

// enumerateIndexTargets lists the logical indices a repository's
// (components, arches, di_arches, udeb) filter calls for.
func enumerateIndexTargets(repo *config.Repository) []indexTarget {
	var targets []indexTarget
	for _, c := range repo.Components {
		targets = append(targets, indexTarget{logical: c + "/source/Sources", kind: kindSources})
		targets = append(targets, indexTarget{logical: fmt.Sprintf("%s/i18n/Translation-%s", c, defaultTranslationLanguage), kind: kindTranslation})
		for _, a := range repo.Architectures {
			targets = append(targets, indexTarget{logical: fmt.Sprintf("%s/binary-%s/Packages", c, a), kind: kindPackages})
			if repo.Udeb {
				targets = append(targets, indexTarget{logical: fmt.Sprintf("%s/debian-installer/binary-%s/Packages", c, a), kind: kindPackages})
			}
		}
	}
	for _, a := range repo.DiArchitectures {
		targets = append(targets, indexTarget{logical: fmt.Sprintf("main/installer-%s/current/images/SHA256SUMS", a), kind: kindInstaller})
	}
	return targets
}

// resolveVariant picks the most-compressed representation of a logical
// index the Release actually lists, per §4.4's "prefer .xz > .bz2 > .gz >
// uncompressed" rule.
func resolveVariant(release *aptfmt.Release, logical string) (sourceKey string, format common.CompressionFormat, found bool) {
	for _, f := range common.PreferenceOrder {
		candidate := logical + f.Extension()
		if _, ok := release.Files[candidate]; ok {
			return candidate, f, true
		}
	}
	return "", common.CompressionNone, false
}

type stagedIndex struct {
	logical     string
	sourceKey   string
	stagingPath string
}

// fetchAndParseIndices implements stages 3–4's parser half: fetch every
// index the Release vouches for (stage 3), then parse each into file
// descriptors for the content it references (stage 4's parse, not its
// download).
func (s *Scheduler) fetchAndParseIndices(ctx context.Context, repo *config.Repository, release *aptfmt.Release, targets []indexTarget, stagingDir string) ([]stagedIndex, []aptfmt.FileDescriptor, error) {
	distURL := repo.BaseURL + "/dists/" + repo.Suite

	var reqs []*common.DownloadRequest
	var staged []stagedIndex
	for _, t := range targets {
		sourceKey, format, ok := resolveVariant(release, t.logical)
		if !ok {
			continue
		}
		stagingPath := filepath.Join(stagingDir, filepath.FromSlash(t.logical))
		reqs = append(reqs, &common.DownloadRequest{
			URL:         distURL + "/" + sourceKey,
			Destination: stagingPath,
			Expected:    release.Files[sourceKey],
			Decompress:  format,
			Optional:    t.kind.optional(),
		})
		staged = append(staged, stagedIndex{logical: t.logical, sourceKey: sourceKey, stagingPath: stagingPath})
	}
	if len(reqs) == 0 {
		return nil, nil, nil
	}

	group := s.downloader.Download(ctx, reqs...)
	results, err := group.Wait()
	if err != nil {
		return nil, nil, err
	}

	// An optional index (a per-component Translation file) that 404'd
	// leaves no staging file behind; drop it rather than trying to parse
	// something that was never written.
	present := staged[:0]
	for i, res := range results {
		if dr, ok := res.(*common.DownloadResult); ok && dr.Missing {
			continue
		}
		present = append(present, staged[i])
	}
	staged = present

	kindByLogical := make(map[string]indexKind, len(targets))
	for _, t := range targets {
		kindByLogical[t.logical] = t.kind
	}

	var descriptors []aptfmt.FileDescriptor
	for _, idx := range staged {
		d, err := parseIndexFile(idx.stagingPath, indexTarget{logical: idx.logical, kind: kindByLogical[idx.logical]}, repo.Suite)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", idx.sourceKey, err)
		}
		descriptors = append(descriptors, d...)
	}

	return staged, descriptors, nil
}

func parseIndexFile(stagingPath string, t indexTarget, suite string) ([]aptfmt.FileDescriptor, error) {
	f, err := os.Open(stagingPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	switch t.kind {
	case kindPackages:
		return descriptorsFromStanzas(f, false)
	case kindSources:
		return descriptorsFromStanzas(f, true)
	case kindInstaller:
		dir := path.Join("dists", suite, path.Dir(t.logical))
		return aptfmt.ParseSHA256SUMS(f, dir)
	case kindTranslation:
		// A Translation file is leaf content: it describes strings for
		// an index entry, not further files to fetch.
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown index kind")
	}
}

func descriptorsFromStanzas(r io.Reader, isSource bool) ([]aptfmt.FileDescriptor, error) {
	pkgs, err := aptfmt.ParsePackageIndex(r, isSource)
	if err != nil {
		return nil, err
	}
	var descriptors []aptfmt.FileDescriptor
	for _, pkg := range pkgs {
		d, err := aptfmt.Descriptors(pkg)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d...)
	}
	return descriptors, nil
}

// planContentDownloads implements stage 4's download half: build one
// mandatory DownloadRequest per distinct path a parsed index referenced,
// inserting every descriptor into the registry first so prune/verify have
// a complete reference set even if a later download fails. Every
// descriptor's Path — whether a pool path from Packages/Sources or a
// dists/-prefixed path from an installer SHA256SUMS — is relative to the
// same repository root, so URL and final-path construction needs no
// further branching on provenance.
func (s *Scheduler) planContentDownloads(baseURL, hostKey string, descriptors []aptfmt.FileDescriptor, registry *common.Registry) ([]*common.DownloadRequest, error) {
	seen := make(map[string]bool, len(descriptors))
	var reqs []*common.DownloadRequest

	// Sort purely for deterministic test/log ordering.
	sorted := make([]aptfmt.FileDescriptor, len(descriptors))
	copy(sorted, descriptors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	for _, d := range sorted {
		// Belt-and-suspenders: every parser already rejects a ".." path
		// component at the point it's read, but this is the last place a
		// path is joined into a filesystem destination before a download
		// is issued, so it's checked again here too.
		if err := common.ValidatePath(d.Path); err != nil {
			return nil, err
		}

		expected := checksumFromDescriptor(d)
		if conflict := registry.Add(filepath.Join(hostKey, d.Path), expected); conflict {
			return nil, fmt.Errorf("conflicting digest recorded for %s across indices", d.Path)
		}
		if seen[d.Path] {
			continue
		}
		seen[d.Path] = true

		reqs = append(reqs, &common.DownloadRequest{
			URL:         baseURL + "/" + d.Path,
			Destination: s.storage.FinalPath(hostKey, d.Path),
			Expected:    expected,
		})
	}

	return reqs, nil
}

func checksumFromDescriptor(d aptfmt.FileDescriptor) utils.ChecksumInfo {
	info := utils.ChecksumInfo{Size: d.Size}
	switch d.Algorithm {
	case common.MD5:
		info.MD5 = d.Digest
	case common.SHA1:
		info.SHA1 = d.Digest
	case common.SHA256:
		info.SHA256 = d.Digest
	case common.SHA512:
		info.SHA512 = d.Digest
	}
	return info
}
