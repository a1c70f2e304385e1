package cli

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/hpcugent/quotareport/filesystems"
	"github.com/hpcugent/quotareport/internal/checker"
	"github.com/hpcugent/quotareport/internal/notify"
)

// MailConfig configures the outgoing notification mail.
type MailConfig struct {
	Host  string `mapstructure:"host"`
	From  string `mapstructure:"from"`
	Admin string `mapstructure:"admin"`
}

// Config is the full configuration file contents.
type Config struct {
	Storages []checker.StorageConfig `mapstructure:"storages"`

	// LustreHints holds the per-filesystem project configuration; Lustre
	// has no fileset listing command.
	LustreHints map[string]filesystems.Hint `mapstructure:"lustre_hints"`

	// NotificationCooldown is the minimum time in seconds between two
	// mails to the same subject.
	NotificationCooldown int64 `mapstructure:"notification_cooldown"`

	// StaleThreshold is the snapshot age in seconds beyond which show
	// warns instead of reporting.
	StaleThreshold int64 `mapstructure:"stale_threshold"`

	// Workers bounds concurrent per-device backend invocations.
	Workers int `mapstructure:"workers"`

	Mail MailConfig `mapstructure:"mail"`

	ReminderCachePath string `mapstructure:"reminder_cache_path"`
	StatsPath         string `mapstructure:"stats_path"`
	MetricsPath       string `mapstructure:"metrics_path"`
	QuotaLogPath      string `mapstructure:"quota_log_path"`
	InodeLogPath      string `mapstructure:"inode_log_path"`
}

const (
	defaultConfigPath   = "/etc/quotareport.json"
	defaultStaleSeconds = 15 * 60
)

func loadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("notification_cooldown", notify.DefaultCooldown)
	v.SetDefault("stale_threshold", defaultStaleSeconds)
	v.SetDefault("workers", 4)
	v.SetDefault("reminder_cache_path", "/var/cache/quotareport/reminders.json.gz")
	v.SetDefault("quota_log_path", "/var/log/quota/zips")
	v.SetDefault("inode_log_path", "/var/log/quota/inode-zips")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if len(cfg.Storages) == 0 {
		return nil, fmt.Errorf("config %s names no storages", path)
	}
	for _, s := range cfg.Storages {
		if s.Backend != "gpfs" && s.Backend != "lustre" {
			return nil, fmt.Errorf("storage %s has unknown backend %q", s.Name, s.Backend)
		}
	}
	return &cfg, nil
}

// backends builds the operations objects for the configured storages, one
// per backend type, sharing the mount context.
type backends struct {
	mounts *filesystems.MountContext
	gpfs   *filesystems.GpfsOperations
	lustre *filesystems.LustreOperations
}

func newBackends(cfg *Config) *backends {
	runner := filesystems.ExecRunner{}
	mounts := filesystems.NewMountContext(runner)

	gpfs := filesystems.NewGpfsOperations(mounts, runner)
	gpfs.Workers = cfg.Workers

	lustre := filesystems.NewLustreOperations(mounts, runner)
	if cfg.LustreHints != nil {
		lustre.Hints = cfg.LustreHints
	}

	return &backends{mounts: mounts, gpfs: gpfs, lustre: lustre}
}

func (b *backends) operations(backend string) checker.Operations {
	if backend == "lustre" {
		return b.lustre
	}
	return b.gpfs
}
