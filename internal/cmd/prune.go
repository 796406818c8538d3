package cmd

import (
	"fmt"

	"github.com/mirrorkit/aptmirror/internal/app"
	"github.com/mirrorkit/aptmirror/internal/prune"
	"github.com/spf13/cobra"
)

var dryRun bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete files under the mirror root that no configured repository's registry vouches for",
	RunE:  runPrune,
}

func init() {
	pruneCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "list what would be removed, don't delete")
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	application, err := app.New(ctx, app.Options{
		ConfigPath: cfgFile,
		Output:     outputDir,
		PGPKeyPath: pgpKeyPath,
	})
	if err != nil {
		return err
	}
	defer application.Shutdown()

	report, err := prune.Run(ctx, application.Storage, application.Scheduler, application.Repos, dryRun)
	if err != nil {
		return err
	}

	if len(report.Removed) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to prune")
		return nil
	}
	for _, path := range report.Removed {
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return nil
}
