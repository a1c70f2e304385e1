package checker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcugent/quotareport/pkg/quota"
)

// fakeOps serves canned listings.
type fakeOps struct {
	quota map[string]map[string]map[string][]quota.Record
	names map[string]map[string]string
}

func (f *fakeOps) ListQuota(ctx context.Context, devices []string) (map[string]map[string]map[string][]quota.Record, error) {
	return f.quota, nil
}

func (f *fakeOps) FilesetNames(ctx context.Context, devices []string) (map[string]map[string]string, error) {
	return map[string]map[string]string{"scratchfs": f.names["scratchfs"]}, nil
}

func testConfig() StorageConfig {
	return StorageConfig{
		Name:       "VSC_SCRATCH",
		Backend:    "gpfs",
		Filesystem: "scratchfs",
		UserPrefix: "vsc",
	}
}

func record(used, soft, hard int64, grace, fileset string) quota.Record {
	return quota.Record{
		SubjectID:   "ignored",
		BlockUsed:   used,
		BlockSoft:   soft,
		BlockHard:   hard,
		BlockGrace:  grace,
		FilesGrace:  "none",
		FilesetName: fileset,
		Backend:     quota.BackendGPFS,
	}
}

func newTestChecker() *Checker {
	c := New()
	c.ResolveUser = func(uid string) (string, error) {
		if uid == "2540075" {
			return "vsc40001", nil
		}
		if uid == "0" {
			return "root", nil
		}
		return "", fmt.Errorf("unknown uid %s", uid)
	}
	c.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func testOps() *fakeOps {
	return &fakeOps{
		quota: map[string]map[string]map[string][]quota.Record{
			"scratchfs": {
				"USR": {
					"2540075": {record(2048, 1024, 4096, "6days", "1")},
					"0":       {record(10, 0, 0, "none", "1")},
					"99999":   {record(10, 0, 0, "none", "1")},
				},
				"FILESET": {
					"1": {record(512, 1024, 2048, "none", "1")},
				},
				"GRP": {
					"2640001": {record(100, 200, 300, "none", "1")},
				},
			},
		},
		names: map[string]map[string]string{
			"scratchfs": {"1": "gvo00002"},
		},
	}
}

func TestCollect(t *testing.T) {
	c := newTestChecker()
	res, err := c.Collect(context.Background(), testConfig(), testOps())
	require.NoError(t, err)

	// root lacks the prefix, 99999 cannot be resolved.
	require.Len(t, res.Users, 1)
	u := res.Users["vsc40001"]
	require.NotNil(t, u)
	assert.True(t, u.Exceeds())

	info, found := u.QuotaMap["gvo00002"]
	require.True(t, found, "fileset id was not resolved to its name")
	assert.Equal(t, int64(2048), info.Used)
	assert.True(t, info.Expired.Expired)
	require.NotNil(t, info.Expired.Remaining)
	assert.Equal(t, uint64(6*86400), *info.Expired.Remaining)

	require.Len(t, res.Filesets, 1)
	assert.False(t, res.Filesets["gvo00002"].Exceeds())
	require.Len(t, res.Groups, 1)

	assert.Equal(t, []string{"vsc40001"}, res.ExceedingUsers())
	assert.Empty(t, res.ExceedingFilesets())
}

func TestCollectSkipsSubjectOnBadGrace(t *testing.T) {
	ops := testOps()
	ops.quota["scratchfs"]["USR"]["2540075"] = []quota.Record{record(1, 1, 1, "banana", "1")}

	c := newTestChecker()
	res, err := c.Collect(context.Background(), testConfig(), ops)
	require.NoError(t, err)

	assert.Empty(t, res.Users, "subject with undecodable grace must be dropped")
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.Filesets, 1, "other subjects must survive")
}

func TestCollectUnknownFilesystem(t *testing.T) {
	c := newTestChecker()
	cfg := testConfig()
	cfg.Filesystem = "nosuchfs"
	_, err := c.Collect(context.Background(), cfg, testOps())
	require.Error(t, err)
}

func TestStoreAndLoadSnapshot(t *testing.T) {
	c := newTestChecker()
	res, err := c.Collect(context.Background(), testConfig(), testOps())
	require.NoError(t, err)

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "vsc40001"), 0755))

	cfg := testConfig()
	cfg.UserPathTemplate = filepath.Join(base, "%s")
	c.StoreSnapshots(cfg, res)
	assert.Zero(t, res.StoreFailures)

	path := filepath.Join(base, "vsc40001", UserSnapshotFile)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), fi.Mode().Perm())

	u, age, err := LoadUserSnapshot(path, c.Now().Unix()+60)
	require.NoError(t, err)
	assert.Equal(t, int64(60), age)
	assert.Equal(t, "vsc40001", u.UserID)
	assert.True(t, u.Exceeds())
}

func TestStoreSnapshotsDegradesPerSubject(t *testing.T) {
	c := newTestChecker()
	res, err := c.Collect(context.Background(), testConfig(), testOps())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.UserPathTemplate = filepath.Join(t.TempDir(), "missing", "%s")
	c.StoreSnapshots(cfg, res)
	assert.Equal(t, 1, res.StoreFailures)
}

func TestStoreSnapshotsDryRun(t *testing.T) {
	c := newTestChecker()
	c.DryRun = true
	res, err := c.Collect(context.Background(), testConfig(), testOps())
	require.NoError(t, err)

	base := t.TempDir()
	cfg := testConfig()
	cfg.UserPathTemplate = filepath.Join(base, "%s")
	c.StoreSnapshots(cfg, res)

	_, statErr := os.Stat(filepath.Join(base, "vsc40001", UserSnapshotFile))
	assert.True(t, os.IsNotExist(statErr), "dry run must not write snapshots")
}

func TestWriteStats(t *testing.T) {
	c := newTestChecker()
	res, err := c.Collect(context.Background(), testConfig(), testOps())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "quotareport.prom")
	require.NoError(t, WriteStats(path, map[string]*Result{"VSC_SCRATCH": res}, c.Now().Unix()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `quotareport_users_exceeding{storage="VSC_SCRATCH"} 1`)
	assert.Contains(t, text, `quotareport_filesets_exceeding{storage="VSC_SCRATCH"} 0`)
	assert.Contains(t, text, "quotareport_last_run_timestamp_seconds 1.7e+09")
}

func TestDumpQuotaLog(t *testing.T) {
	location := t.TempDir()
	now := time.Unix(1700000000, 0)

	failed, err := DumpQuotaLog(context.Background(), testOps(), "gpfs", location, now)
	require.NoError(t, err)
	assert.Zero(t, failed)

	entries, err := os.ReadDir(location)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	assert.True(t, strings.HasPrefix(name, "gpfs_quota_"), name)
	assert.True(t, strings.HasSuffix(name, "_scratchfs.gz"), name)
}
