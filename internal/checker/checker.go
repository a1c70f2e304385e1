// Package checker orchestrates one quota collection pass: gather the raw
// records from a backend, fold them into per-subject entities, persist the
// per-subject snapshots, and hand exceeders to the notifier. Failures degrade
// per subject; one unreadable user never aborts the pass.
package checker

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
	"github.com/hpcugent/quotareport/internal/filecache"
	"github.com/hpcugent/quotareport/internal/notify"
	"github.com/hpcugent/quotareport/internal/sink"
	"github.com/hpcugent/quotareport/pkg/quota"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const checkerComponent = "Checker"

// Snapshot file names, one per entity kind, dropped into the subject's own
// directory.
const (
	UserSnapshotFile    = ".quota_user.json.gz"
	FilesetSnapshotFile = ".quota_fileset.json.gz"
)

// snapshotKey is the single cache key inside a per-subject snapshot file.
const snapshotKey = "quota"

// Operations is the backend surface the checker needs. Both the GPFS and the
// Lustre operations satisfy it.
type Operations interface {
	ListQuota(ctx context.Context, devices []string) (map[string]map[string]map[string][]quota.Record, error)
	FilesetNames(ctx context.Context, devices []string) (map[string]map[string]string, error)
}

// StorageConfig describes one storage system to check.
type StorageConfig struct {
	Name       string `mapstructure:"name"`
	Backend    string `mapstructure:"backend"`
	Filesystem string `mapstructure:"filesystem"`

	// Path templates take the subject name as their single %s verb and
	// yield the directory the snapshot file lands in.
	UserPathTemplate    string `mapstructure:"user_path_template"`
	FilesetPathTemplate string `mapstructure:"fileset_path_template"`

	// UserPrefix filters the USR records; accounts outside the prefix
	// (system accounts, daemon uids) carry no notifiable quota.
	UserPrefix string `mapstructure:"user_prefix"`

	// MailDomain turns a user name into a mail address.
	MailDomain string `mapstructure:"mail_domain"`

	// Moderators receive the fileset quota mails for this storage.
	Moderators []string `mapstructure:"moderators"`
}

// UserResolver maps the numeric subject id reported by the backend to an
// account name. Swapped out in tests.
type UserResolver func(uid string) (string, error)

func lookupUser(uid string) (string, error) {
	u, err := user.LookupId(uid)
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// Result is the outcome of one storage pass.
type Result struct {
	Users    map[string]*quota.User
	Filesets map[string]*quota.Fileset
	Groups   map[string]*quota.Group

	// Skipped counts subjects dropped after a per-subject failure.
	Skipped int
	// StoreFailures counts snapshot writes that did not land.
	StoreFailures int
	// NotifyFailures counts exceeders that could not be mailed.
	NotifyFailures int
}

// ExceedingUsers returns the ids of all users over quota, sorted.
func (r *Result) ExceedingUsers() []string {
	var ids []string
	for id, u := range r.Users {
		if u.Exceeds() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// ExceedingFilesets returns the ids of all filesets over quota, sorted.
func (r *Result) ExceedingFilesets() []string {
	var ids []string
	for id, f := range r.Filesets {
		if f.Exceeds() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Checker runs collection passes. Notifier and Sink are optional.
type Checker struct {
	Notifier    *notify.Notifier
	Sink        *sink.Sink
	ResolveUser UserResolver
	DryRun      bool

	// Now is swapped out in tests.
	Now func() time.Time
}

func New() *Checker {
	return &Checker{
		ResolveUser: lookupUser,
		Now:         time.Now,
	}
}

// Collect gathers the quota of one storage and folds it into entities.
func (c *Checker) Collect(ctx context.Context, cfg StorageConfig, ops Operations) (*Result, error) {
	cclog.ComponentInfo(checkerComponent, "processing quota for storage", cfg.Name)

	names, err := ops.FilesetNames(ctx, []string{cfg.Filesystem})
	if err != nil {
		return nil, fmt.Errorf("fileset listing for %s: %w", cfg.Name, err)
	}
	quotaMap, err := ops.ListQuota(ctx, []string{cfg.Filesystem})
	if err != nil {
		return nil, fmt.Errorf("quota listing for %s: %w", cfg.Name, err)
	}
	fsQuota, found := quotaMap[cfg.Filesystem]
	if !found {
		return nil, fmt.Errorf("no quota data for filesystem %s on storage %s", cfg.Filesystem, cfg.Name)
	}

	now := c.Now()
	ts := now.Unix()
	fsNames := names[cfg.Filesystem]

	res := &Result{
		Users:    make(map[string]*quota.User),
		Filesets: make(map[string]*quota.Fileset),
		Groups:   make(map[string]*quota.Group),
	}

	for _, id := range sortedKeys(fsQuota["USR"]) {
		recs := fsQuota["USR"][id]
		username, err := c.ResolveUser(id)
		if err != nil {
			cclog.ComponentDebug(checkerComponent, "cannot resolve uid", id, err.Error())
			continue
		}
		if cfg.UserPrefix != "" && !strings.HasPrefix(username, cfg.UserPrefix) {
			continue
		}
		entity := quota.NewUser(cfg.Name, cfg.Filesystem, username)
		if err := foldRecords(&entity.Entity, recs, fsNames, ts); err != nil {
			cclog.ComponentError(checkerComponent, "skipping user", username, "on", cfg.Name, ":", err.Error())
			res.Skipped++
			continue
		}
		res.Users[username] = entity
		c.emitRecords(cfg, "USR", recs, now)
	}

	for _, id := range sortedKeys(fsQuota["FILESET"]) {
		recs := fsQuota["FILESET"][id]
		name := filesetName(fsNames, id)
		entity := quota.NewFileset(cfg.Name, cfg.Filesystem, name)
		if err := foldRecords(&entity.Entity, recs, fsNames, ts); err != nil {
			cclog.ComponentError(checkerComponent, "skipping fileset", name, "on", cfg.Name, ":", err.Error())
			res.Skipped++
			continue
		}
		res.Filesets[name] = entity
		c.emitRecords(cfg, "FILESET", recs, now)
	}

	for _, id := range sortedKeys(fsQuota["GRP"]) {
		recs := fsQuota["GRP"][id]
		entity := quota.NewGroup(cfg.Name, cfg.Filesystem, id)
		if err := foldRecords(&entity.Entity, recs, fsNames, ts); err != nil {
			cclog.ComponentError(checkerComponent, "skipping group", id, "on", cfg.Name, ":", err.Error())
			res.Skipped++
			continue
		}
		res.Groups[id] = entity
		c.emitRecords(cfg, "GRP", recs, now)
	}

	cclog.ComponentInfo(checkerComponent, "storage", cfg.Name, "has",
		len(res.Users), "users,", len(res.Filesets), "filesets,", len(res.Groups), "groups")
	return res, nil
}

// foldRecords folds backend records into an entity, one snapshot per fileset.
// A grace string outside the grammar fails the whole subject; guessing here
// would silently drop notifications.
func foldRecords(e *quota.Entity, recs []quota.Record, fsNames map[string]string, ts int64) error {
	for _, rec := range recs {
		blockGrace, err := quota.DecodeGrace(rec.BlockGrace)
		if err != nil {
			return err
		}
		filesGrace, err := quota.DecodeGrace(rec.FilesGrace)
		if err != nil {
			return err
		}
		e.Update(filesetName(fsNames, rec.FilesetName), quota.Information{
			Timestamp:    ts,
			Used:         rec.BlockUsed,
			Soft:         rec.BlockSoft,
			Hard:         rec.BlockHard,
			Doubt:        rec.BlockInDoubt,
			Expired:      blockGrace,
			FilesUsed:    rec.FilesUsed,
			FilesSoft:    rec.FilesSoft,
			FilesHard:    rec.FilesHard,
			FilesDoubt:   rec.FilesInDoubt,
			FilesExpired: filesGrace,
		})
	}
	return nil
}

// filesetName resolves a reported fileset id to its name, keeping the raw id
// when the listing does not know it.
func filesetName(fsNames map[string]string, id string) string {
	if name, found := fsNames[id]; found && name != "" {
		return name
	}
	return id
}

func (c *Checker) emitRecords(cfg StorageConfig, quotaType string, recs []quota.Record, now time.Time) {
	if c.Sink == nil {
		return
	}
	for _, rec := range recs {
		if err := c.Sink.WriteRecord(cfg.Name, cfg.Filesystem, quotaType, rec, now); err != nil {
			cclog.ComponentWarn(checkerComponent, "metric emission failed:", err.Error())
			return
		}
	}
}

// StoreSnapshots writes the per-subject snapshot files into the subject
// directories. A failing subject is logged and counted, the rest continue.
func (c *Checker) StoreSnapshots(cfg StorageConfig, res *Result) {
	now := c.Now().Unix()

	if cfg.UserPathTemplate != "" {
		for _, id := range sortedKeys(res.Users) {
			dir := fmt.Sprintf(cfg.UserPathTemplate, id)
			if err := c.storeSnapshot(filepath.Join(dir, UserSnapshotFile), res.Users[id], now); err != nil {
				cclog.ComponentError(checkerComponent, "could not store data for user", id, ":", err.Error())
				res.StoreFailures++
			}
		}
	}
	if cfg.FilesetPathTemplate != "" {
		for _, id := range sortedKeys(res.Filesets) {
			dir := fmt.Sprintf(cfg.FilesetPathTemplate, id)
			if err := c.storeSnapshot(filepath.Join(dir, FilesetSnapshotFile), res.Filesets[id], now); err != nil {
				cclog.ComponentError(checkerComponent, "could not store data for fileset", id, ":", err.Error())
				res.StoreFailures++
			}
		}
	}
}

// storeSnapshot writes one snapshot file next to the subject's data, readable
// for the subject but not for the world. Ownership follows the directory.
func (c *Checker) storeSnapshot(path string, entity interface{}, now int64) error {
	if c.DryRun {
		cclog.ComponentDebug(checkerComponent, "dry run, not writing", path)
		return nil
	}

	cache, err := filecache.Open(path)
	if err != nil {
		// A corrupt snapshot is overwritten, it holds no state we need.
		cclog.ComponentWarn(checkerComponent, "replacing unreadable snapshot", path, ":", err.Error())
		if err := os.Remove(path); err != nil {
			return err
		}
		if cache, err = filecache.Open(path); err != nil {
			return err
		}
	}
	if _, err := cache.Update(snapshotKey, entity, 0, now); err != nil {
		return err
	}
	if err := cache.Close(); err != nil {
		return err
	}

	if err := os.Chmod(path, 0640); err != nil {
		return err
	}
	dirInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return err
	}
	if st, ok := dirInfo.Sys().(*syscall.Stat_t); ok {
		if err := os.Chown(path, int(st.Uid), int(st.Gid)); err != nil {
			return err
		}
	}
	return nil
}

// LoadUserSnapshot reads a previously stored user snapshot, returning its
// age alongside.
func LoadUserSnapshot(path string, now int64) (*quota.User, int64, error) {
	cache, err := filecache.Open(path)
	if err != nil {
		return nil, 0, err
	}
	var u quota.User
	ts, found, err := cache.Load(snapshotKey, &u)
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return nil, 0, fmt.Errorf("no quota entry in %s", path)
	}
	return &u, now - ts, nil
}

// Notify mails every exceeder of the pass through the dedup-gated notifier.
func (c *Checker) Notify(cfg StorageConfig, res *Result) {
	if c.Notifier == nil {
		return
	}
	now := c.Now().Unix()

	exceeding := res.ExceedingUsers()
	cclog.ComponentWarn(checkerComponent, "found", len(exceeding), "users exceeding their quota on", cfg.Name, ":", strings.Join(exceeding, ","))
	for _, id := range exceeding {
		address := id
		if cfg.MailDomain != "" {
			address = id + "@" + cfg.MailDomain
		}
		if err := c.Notifier.NotifyUser(res.Users[id], address, now); err != nil {
			cclog.ComponentError(checkerComponent, err.Error())
			res.NotifyFailures++
		}
	}

	exceeding = res.ExceedingFilesets()
	cclog.ComponentWarn(checkerComponent, "found", len(exceeding), "filesets exceeding their quota on", cfg.Name, ":", strings.Join(exceeding, ","))
	if len(cfg.Moderators) == 0 {
		return
	}
	for _, id := range exceeding {
		if err := c.Notifier.NotifyFileset(res.Filesets[id], cfg.Moderators, now); err != nil {
			cclog.ComponentError(checkerComponent, err.Error())
			res.NotifyFailures++
		}
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
