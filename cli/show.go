package cli

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
	"github.com/hpcugent/quotareport/internal/checker"
	"github.com/hpcugent/quotareport/pkg/quota"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the calling user's cached quota per storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		me, err := user.Current()
		if err != nil {
			return fmt.Errorf("cannot determine calling user: %w", err)
		}
		return runShow(cfg, me.Username, time.Now().Unix())
	},
}

func runShow(cfg *Config, username string, now int64) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Storage", "Fileset", "Used", "Quota", "Limit", "Files", "Expired"})
	tw.SetStyle(table.StyleLight)

	rows := 0
	for _, storage := range cfg.Storages {
		if storage.UserPathTemplate == "" {
			continue
		}
		path := filepath.Join(fmt.Sprintf(storage.UserPathTemplate, username), checker.UserSnapshotFile)

		u, age, err := checker.LoadUserSnapshot(path, now)
		if err != nil {
			cclog.Warn(storage.Name, ": no quota information available (", err.Error(), ")")
			continue
		}
		if age > cfg.StaleThreshold {
			cclog.Warn(storage.Name, ": no recent quota information (age of data is ", age/60, " minutes)")
			continue
		}

		for _, fileset := range sortedFilesets(u.QuotaMap) {
			info := u.QuotaMap[fileset]
			expired := ""
			if info.Expired.Expired {
				expired = "yes"
			}
			tw.AppendRow(table.Row{
				storage.Name,
				fileset,
				humanize.IBytes(uint64(info.Used) * 1024),
				humanize.IBytes(uint64(info.Soft) * 1024),
				humanize.IBytes(uint64(info.Hard) * 1024),
				info.FilesUsed,
				expired,
			})
			rows++
		}
	}

	if rows == 0 {
		fmt.Println("no quota information found")
		return nil
	}
	tw.Render()
	return nil
}

func sortedFilesets(m map[string]quota.Information) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
