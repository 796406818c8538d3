// Package app wires together a mirror run's components from parsed CLI
// options: storage, downloader, PGP verifier, and the scheduler that
// drives them against a configured repository list.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aptly-dev/aptly/pgp"
	"github.com/mirrorkit/aptmirror/internal/common"
	"github.com/mirrorkit/aptmirror/internal/config"
	"github.com/mirrorkit/aptmirror/internal/scheduler"
)

// Options captures the CLI flags every subcommand shares.
type Options struct {
	ConfigPath string
	Output     string
	// StagingDir overrides the default sibling staging directory. Left
	// empty, New derives one next to Output.
	StagingDir string
	DLThreads  int
	Force      bool
	SetMtime   bool
	PGPKeyPath string
}

// Application holds the initialized runtime components for one invocation.
type Application struct {
	Repos      []*config.Repository
	Storage    *common.Storage
	Downloader *common.Downloader
	Scheduler  *scheduler.Scheduler
}

// New loads the repository list and builds every component a subcommand
// needs to process it.
func New(ctx context.Context, opts Options) (*Application, error) {
	repos, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if opts.Output == "" {
		return nil, fmt.Errorf("app: --output is required")
	}

	stagingRoot := opts.StagingDir
	if stagingRoot == "" {
		stagingRoot = defaultStagingDir(opts.Output)
	}

	if err := os.MkdirAll(opts.Output, 0755); err != nil {
		return nil, fmt.Errorf("app: creating mirror root: %w", err)
	}
	if err := os.MkdirAll(stagingRoot, 0755); err != nil {
		return nil, fmt.Errorf("app: creating staging root: %w", err)
	}
	same, err := common.SameFilesystem(opts.Output, stagingRoot)
	if err != nil {
		return nil, fmt.Errorf("app: checking staging root: %w", err)
	}
	if !same {
		return nil, fmt.Errorf("app: staging root %s must be on the same filesystem as mirror root %s", stagingRoot, opts.Output)
	}

	storage := common.NewStorage(opts.Output, stagingRoot)

	threads := opts.DLThreads
	if threads <= 0 {
		threads = 8
	}
	downloader := common.NewDownloader(ctx, &http.Client{}, threads, opts.Force)

	verifier, err := loadVerifier(opts.PGPKeyPath)
	if err != nil {
		return nil, fmt.Errorf("app: loading PGP keys: %w", err)
	}

	sched := scheduler.New(storage, downloader, verifier, loadSingleKeyVerifier, opts.Force, opts.SetMtime)

	return &Application{
		Repos:      repos,
		Storage:    storage,
		Downloader: downloader,
		Scheduler:  sched,
	}, nil
}

// defaultStagingDir derives a sibling staging directory from the mirror
// root: never nested under it, so a prune run walking the root alone never
// encounters in-progress or crashed staging files.
func defaultStagingDir(output string) string {
	clean := filepath.Clean(output)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".staging")
}

// Shutdown stops the download pool and waits for in-flight transfers.
func (a *Application) Shutdown() {
	a.Downloader.Shutdown()
}

// loadVerifier builds an aptly pgp.Verifier from every key file under dir.
// An empty dir yields a bare GoVerifier: repositories with pgp_verify=true
// then fail signature verification (no keys can possibly match), while
// repositories that don't require it proceed unauthenticated.
func loadVerifier(dir string) (pgp.Verifier, error) {
	v := &pgp.GoVerifier{}
	if dir == "" {
		if err := v.InitKeyring(false); err != nil {
			return nil, err
		}
		return v, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		keyPath, cleanup, err := prepareKeyFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		defer cleanup()
		v.AddKeyring(keyPath)
	}

	if err := v.InitKeyring(false); err != nil {
		return nil, err
	}
	return v, nil
}
