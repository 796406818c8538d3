// Package cmd implements the CLI of spec.md §6: mirror (the default
// command), prune, and verify, sharing a common set of repository-list and
// storage flags.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/mirrorkit/aptmirror/internal/config"
	"github.com/mirrorkit/aptmirror/internal/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	outputDir  string
	pgpKeyPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:     "aptmirror",
	Short:   "Mirror APT/Debian package repositories to a local directory tree",
	Version: "0.1.0",
	Long: `aptmirror reproduces the subset of files an APT repository's signed
manifests claim to contain — metadata indices, binary and source packages,
installer images — verifying every byte against the manifests' recorded
digests and, optionally, the manifest's OpenPGP signature.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMirror,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(log.NewHandler(os.Stderr, level)))
	},
}

// ExecuteContext runs the root command with ctx, returning whatever error
// the chosen subcommand reports.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath, "path to repository list file")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "mirror root directory")
	rootCmd.PersistentFlags().StringVarP(&pgpKeyPath, "pgp-key-path", "p", "", "directory of trusted OpenPGP public keys")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	_ = rootCmd.MarkPersistentFlagRequired("output")

	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(verifyCmd)
}
