package cmd

import (
	"fmt"
	"log/slog"

	"github.com/mirrorkit/aptmirror/internal/app"
	"github.com/mirrorkit/aptmirror/internal/scheduler"
	"github.com/spf13/cobra"
)

var (
	dlThreads int
	force     bool
	setMtime  bool
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Fetch and verify every configured repository into the mirror root (default command)",
	RunE:  runMirror,
}

func init() {
	registerMirrorFlags(rootCmd)
	registerMirrorFlags(mirrorCmd)
}

func registerMirrorFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&dlThreads, "dl-threads", "d", 8, "download pool size")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "treat all metadata as stale")
	cmd.Flags().BoolVarP(&setMtime, "mtime", "m", false, "after promotion, set each file's mtime to the Release's Date")
}

func runMirror(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	application, err := app.New(ctx, app.Options{
		ConfigPath: cfgFile,
		Output:     outputDir,
		DLThreads:  dlThreads,
		Force:      force,
		SetMtime:   setMtime,
		PGPKeyPath: pgpKeyPath,
	})
	if err != nil {
		return err
	}
	defer application.Shutdown()

	var results []*scheduler.Result
	errs := make(map[string]error)
	for _, repo := range application.Repos {
		result, err := application.Scheduler.Mirror(ctx, repo)
		if err != nil {
			key := repo.BaseURL + " " + repo.Suite
			slog.Error("mirror failed", "repository", repo.BaseURL, "suite", repo.Suite, "error", err)
			errs[key] = err
			continue
		}
		results = append(results, result)
		if result.Changed {
			slog.Info("mirror complete", "repository", result.Key, "files", result.FilesFetched)
		}
	}

	if err := app.WriteReport(outputDir, app.NewRunReport(results, errs)); err != nil {
		slog.Warn("writing run report", "error", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("mirror: %d of %d repositories failed", len(errs), len(application.Repos))
	}
	return nil
}
