// Package cli holds the quotareport commands: check gathers and notifies,
// show prints the calling user's cached quota, log and inodes dump raw
// listings for the archive.
package cli

import (
	"github.com/spf13/cobra"

	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
)

var (
	configPath string
	logLevel   string
	dryRun     bool
)

var rootCmd = &cobra.Command{
	Use:   "quotareport",
	Short: "Gather storage quota from GPFS and Lustre and notify exceeders",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cclog.Init(logLevel)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "do not write caches or send mail")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(inodesCmd)
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}
