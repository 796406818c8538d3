package cmd

import (
	"fmt"

	"github.com/mirrorkit/aptmirror/internal/app"
	"github.com/mirrorkit/aptmirror/internal/verify"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Rehash every file a configured repository vouches for and report mismatches",
	RunE:  runVerify,
}

func init() {
	registerDLThreadsFlag(verifyCmd)
}

func registerDLThreadsFlag(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&dlThreads, "dl-threads", "d", 8, "download pool size")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	application, err := app.New(ctx, app.Options{
		ConfigPath: cfgFile,
		Output:     outputDir,
		DLThreads:  dlThreads,
		PGPKeyPath: pgpKeyPath,
	})
	if err != nil {
		return err
	}
	defer application.Shutdown()

	report, err := verify.Run(ctx, application.Storage, application.Scheduler, application.Repos)
	if err != nil {
		return err
	}

	for _, failure := range report.Failures {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", failure.Path, failure.Kind)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "checked %d files, %d failures\n", report.Checked, len(report.Failures))

	if len(report.Failures) > 0 {
		return fmt.Errorf("verify: %d failures", len(report.Failures))
	}
	return nil
}
