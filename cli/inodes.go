package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
	"github.com/hpcugent/quotareport/internal/checker"
	"github.com/hpcugent/quotareport/internal/filecache"
	"github.com/hpcugent/quotareport/internal/notify"
)

var inodeLocation string

var inodesCmd = &cobra.Command{
	Use:   "inodes",
	Short: "Archive GPFS fileset inode usage and warn about filesets running out",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		location := inodeLocation
		if location == "" {
			location = cfg.InodeLogPath
		}

		b := newBackends(cfg)
		criticals, failed, err := checker.CheckInodes(cmd.Context(), b.gpfs, location, time.Now())
		if err != nil {
			return err
		}
		cclog.Info("found ", len(criticals), " filesets reaching their inode limit")

		if len(criticals) > 0 && cfg.Mail.Admin != "" {
			cache, err := filecache.Open(cfg.ReminderCachePath)
			if err != nil {
				return fmt.Errorf("reminder cache: %w", err)
			}
			notifier := notify.New(cache, &notify.SMTPMailer{Host: cfg.Mail.Host, From: cfg.Mail.From})
			notifier.DryRun = dryRun

			hostname, _ := os.Hostname()
			if err := checker.MailInodeCriticals(notifier, cfg.Mail.Admin, hostname, criticals); err != nil {
				return fmt.Errorf("admin mail: %w", err)
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d filesystems could not be archived", failed)
		}
		return nil
	},
}

func init() {
	inodesCmd.Flags().StringVar(&inodeLocation, "location", "", "directory for the gzipped dumps (defaults to the configured path)")
}
