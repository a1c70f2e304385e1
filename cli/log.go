package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
	"github.com/hpcugent/quotareport/internal/checker"
)

var logLocation string

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Archive the raw quota listings as gzipped JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		location := logLocation
		if location == "" {
			location = cfg.QuotaLogPath
		}

		b := newBackends(cfg)
		now := time.Now()

		failed := 0
		for _, backend := range configuredBackends(cfg) {
			n, err := checker.DumpQuotaLog(cmd.Context(), b.operations(backend), backend, location, now)
			if err != nil {
				return fmt.Errorf("quota log for %s: %w", backend, err)
			}
			failed += n
		}
		if failed > 0 {
			return fmt.Errorf("%d filesystems could not be archived", failed)
		}
		cclog.Info("logged quota for all filesystems")
		return nil
	},
}

func init() {
	logCmd.Flags().StringVar(&logLocation, "location", "", "directory for the gzipped dumps (defaults to the configured path)")
}

// configuredBackends returns the distinct backend types of the configured
// storages, in config order.
func configuredBackends(cfg *Config) []string {
	var res []string
	seen := make(map[string]bool)
	for _, s := range cfg.Storages {
		if !seen[s.Backend] {
			seen[s.Backend] = true
			res = append(res, s.Backend)
		}
	}
	return res
}
