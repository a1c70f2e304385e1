package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hpcugent/quotareport/filesystems"
	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
	"github.com/hpcugent/quotareport/internal/checker"
	"github.com/hpcugent/quotareport/internal/filecache"
	"github.com/hpcugent/quotareport/internal/notify"
	"github.com/hpcugent/quotareport/internal/sink"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a quota collection pass and notify exceeders",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		return runCheck(cmd, cfg)
	},
}

func runCheck(cmd *cobra.Command, cfg *Config) error {
	cclog.Info("started quota check run")

	cache, err := filecache.Open(cfg.ReminderCachePath)
	if err != nil {
		return fmt.Errorf("reminder cache: %w", err)
	}

	notifier := notify.New(cache, &notify.SMTPMailer{Host: cfg.Mail.Host, From: cfg.Mail.From})
	notifier.Cooldown = cfg.NotificationCooldown
	notifier.DryRun = dryRun

	chk := checker.New()
	chk.Notifier = notifier
	chk.DryRun = dryRun

	if cfg.MetricsPath != "" {
		s, err := sink.Open(cfg.MetricsPath)
		if err != nil {
			cclog.Warn("metric sink unavailable: ", err.Error())
		} else {
			chk.Sink = s
			defer s.Close()
		}
	}

	b := newBackends(cfg)
	ctx := cmd.Context()

	reportGpfsHealth(ctx, cfg, b)

	results := make(map[string]*checker.Result, len(cfg.Storages))
	failed := 0
	for _, storage := range cfg.Storages {
		res, err := chk.Collect(ctx, storage, b.operations(storage.Backend))
		if err != nil {
			cclog.Error("storage ", storage.Name, " failed: ", err.Error())
			failed++
			continue
		}
		chk.StoreSnapshots(storage, res)
		chk.Notify(storage, res)
		results[storage.Name] = res
	}

	if !dryRun {
		if err := cache.Close(); err != nil {
			return fmt.Errorf("reminder cache: %w", err)
		}
	}
	if cfg.StatsPath != "" && !dryRun {
		if err := checker.WriteStats(cfg.StatsPath, results, chk.Now().Unix()); err != nil {
			cclog.Error("writing run stats failed: ", err.Error())
		}
	}

	cclog.Info("quota check run done")
	if failed == len(cfg.Storages) {
		return fmt.Errorf("all %d storages failed", failed)
	}
	return nil
}

// reportGpfsHealth logs degraded mmhealth components before the pass, so a
// pass failing on a sick cluster is easy to diagnose. Best effort only.
func reportGpfsHealth(ctx context.Context, cfg *Config, b *backends) {
	hasGpfs := false
	for _, s := range cfg.Storages {
		if s.Backend == "gpfs" {
			hasGpfs = true
			break
		}
	}
	if !hasGpfs {
		return
	}

	states, err := b.gpfs.HealthState(ctx)
	if err != nil {
		cclog.Debug("mmhealth not available: ", err.Error())
		return
	}
	for entity, status := range states {
		switch filesystems.ClassifyHealth(status) {
		case filesystems.HealthWarning:
			cclog.Warn("component ", entity, " is ", status)
		case filesystems.HealthError:
			cclog.Error("component ", entity, " is ", status)
		}
	}
}
