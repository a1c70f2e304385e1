package checker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
	"github.com/hpcugent/quotareport/internal/notify"
)

// inodeCriticalFraction marks filesets approaching their inode limit; above
// this share of maxInodes the admins get mailed.
const inodeCriticalFraction = 0.9

// FilesetLister is the backend surface of the inode check; only GPFS reports
// the allocInodes/maxInodes pair.
type FilesetLister interface {
	ListFilesets(ctx context.Context, devices []string, update bool) (map[string]map[string]map[string]string, error)
}

// InodeCritical is one fileset close to its inode limit.
type InodeCritical struct {
	Filesystem string
	Fileset    string
	Allocated  int64
	MaxInodes  int64
}

func (c InodeCritical) String() string {
	percentage := int64(0)
	if c.MaxInodes > 0 {
		percentage = c.Allocated * 100 / c.MaxInodes
	}
	return fmt.Sprintf("%s - %s: used %d (%d%%) of %d", c.Filesystem, c.Fileset, c.Allocated, percentage, c.MaxInodes)
}

// CheckInodes stores the fileset inode usage of every filesystem as gzipped
// JSON under location and returns the filesets above the critical fraction.
func CheckInodes(ctx context.Context, ops FilesetLister, location string, now time.Time) ([]InodeCritical, int, error) {
	filesets, err := ops.ListFilesets(ctx, nil, true)
	if err != nil {
		return nil, 0, fmt.Errorf("fileset listing: %w", err)
	}
	if err := os.MkdirAll(location, 0755); err != nil {
		return nil, 0, err
	}

	var criticals []InodeCritical
	failed := 0
	for _, fs := range sortedKeys(filesets) {
		filename := fmt.Sprintf("gpfs_inodes_%s_%s.gz", now.Format(logTimeFormat), fs)
		if err := writeGzippedJSON(filepath.Join(location, filename), filesets[fs]); err != nil {
			cclog.ComponentError("InodeCheck", "failed storing inode information for filesystem", fs, ":", err.Error())
			failed++
			continue
		}
		cclog.ComponentInfo("InodeCheck", "stored inode information for filesystem", fs)

		before := len(criticals)
		for _, details := range filesets[fs] {
			crit, ok := criticalInodes(fs, details)
			if ok {
				criticals = append(criticals, crit)
			}
		}
		if n := len(criticals) - before; n > 0 {
			cclog.ComponentInfo("InodeCheck", "filesystem", fs, "has", n, "filesets reaching the inode limit")
		}
	}

	sort.Slice(criticals, func(i, j int) bool {
		if criticals[i].Filesystem != criticals[j].Filesystem {
			return criticals[i].Filesystem < criticals[j].Filesystem
		}
		return criticals[i].Fileset < criticals[j].Fileset
	})
	return criticals, failed, nil
}

func criticalInodes(fs string, details map[string]string) (InodeCritical, bool) {
	allocated, err := strconv.ParseInt(details["allocInodes"], 10, 64)
	if err != nil {
		return InodeCritical{}, false
	}
	maxInodes, err := strconv.ParseInt(details["maxInodes"], 10, 64)
	if err != nil || maxInodes == 0 {
		return InodeCritical{}, false
	}
	if float64(allocated) <= inodeCriticalFraction*float64(maxInodes) {
		return InodeCritical{}, false
	}
	return InodeCritical{
		Filesystem: fs,
		Fileset:    details["filesetName"],
		Allocated:  allocated,
		MaxInodes:  maxInodes,
	}, true
}

// MailInodeCriticals sends the admins one mail listing every critical
// fileset of this run.
func MailInodeCriticals(notifier *notify.Notifier, address, hostname string, criticals []InodeCritical) error {
	if len(criticals) == 0 {
		return nil
	}
	lines := make([]string, 0, len(criticals))
	for _, c := range criticals {
		lines = append(lines, c.String())
	}
	body := fmt.Sprintf(`Dear admins,

The following filesets will be running out of inodes soon, or already have.

%s

Kind regards,
your friendly inode watcher
`, strings.Join(lines, "\n"))

	subject := fmt.Sprintf("Inode space running out on %s", hostname)
	return notifier.NotifyAdmin(address, subject, body)
}
