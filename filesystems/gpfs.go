package filesystems

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
	"github.com/hpcugent/quotareport/pkg/quota"
	"github.com/hpcugent/quotareport/pkg/tabular"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	gpfsBinPath   = "/usr/lpp/mmfs/bin"
	gpfsComponent = "GpfsOperations"
)

// HealthSeverity buckets the mmhealth component states.
type HealthSeverity int

const (
	HealthOK HealthSeverity = iota
	HealthWarning
	HealthError
	HealthUnknown
)

// ClassifyHealth maps an mmhealth status string to its severity. States not
// in any known group count as unknown.
func ClassifyHealth(status string) HealthSeverity {
	switch status {
	case "HEALTHY", "DISABLED":
		return HealthOK
	case "DEGRADED":
		return HealthWarning
	case "FAILED", "DEPEND":
		return HealthError
	default:
		return HealthUnknown
	}
}

// automaticMountOnly is the default filesystem filter: only filesystems that
// mount on daemon startup take part in quota collection.
func automaticMountOnly(fs map[string]string) bool {
	opt := fs["automaticMountOption"]
	return opt == "yes" || opt == "automount"
}

// GpfsOperations runs the mm* administrative tools for one GPFS cluster and
// caches the filesystem and fileset listings between calls.
type GpfsOperations struct {
	mounts *MountContext
	runner Runner

	// MountFilter limits ListFilesystems results; defaults to automount
	// enabled filesystems.
	MountFilter func(map[string]string) bool

	// Workers bounds the number of concurrent per-device mmrepquota
	// invocations.
	Workers int

	filesystems map[string]map[string]string
	filesets    map[string]map[string]map[string]string
}

func NewGpfsOperations(mounts *MountContext, runner Runner) *GpfsOperations {
	return &GpfsOperations{
		mounts:      mounts,
		runner:      runner,
		MountFilter: automaticMountOnly,
		Workers:     4,
	}
}

// Invalidate drops the cached listings; the next call re-runs the commands.
func (g *GpfsOperations) Invalidate() {
	g.filesystems = nil
	g.filesets = nil
}

// executeY runs the named mm tool with -Y and assembles its output. Relative
// tool names resolve under the GPFS binary directory. Nonzero exit codes are
// not fatal by themselves; several mm tools exit nonzero while still writing
// a diagnosable message, which the parser turns into a FormatError carrying
// that output.
func (g *GpfsOperations) executeY(ctx context.Context, name string, opts []string, prefix bool) (*tabular.Output, error) {
	cmdname := name
	if !filepath.IsAbs(cmdname) {
		cmdname = filepath.Join(gpfsBinPath, name)
	}

	var args []string
	if prefix {
		args = append([]string{"-Y"}, opts...)
	} else {
		args = append(append(args, opts...), "-Y")
	}

	_, out, err := g.runner.Run(ctx, cmdname, args...)
	if err != nil {
		return nil, err
	}
	return tabular.Parse(name, out)
}

// ListFilesystems maps every known device name to its mmlsfs attributes. The
// result is cached; pass update to force a re-run.
func (g *GpfsOperations) ListFilesystems(ctx context.Context, devices []string, update bool) (map[string]map[string]string, error) {
	if g.filesystems != nil && !update {
		return g.filesystems, nil
	}
	if len(devices) == 0 {
		devices = []string{"all"}
	}

	res := make(map[string]map[string]string)
	for _, device := range devices {
		out, err := g.executeY(ctx, "mmlsfs", []string{device}, false)
		if err != nil {
			return nil, err
		}
		info := out.Columns

		names := info["deviceName"]
		if len(names) == 0 {
			return nil, fmt.Errorf("mmlsfs: no devices found for %s", device)
		}
		fields := info["fieldName"]
		data := info["data"]
		if len(fields) != len(names) || len(data) != len(names) {
			return nil, fmt.Errorf("mmlsfs: inconsistent column lengths for %s", device)
		}
		for i, dev := range names {
			if res[dev] == nil {
				res[dev] = make(map[string]string)
			}
			res[dev][fields[i]] = data[i]
		}
	}

	if g.MountFilter != nil {
		for dev, fs := range res {
			if !g.MountFilter(fs) {
				delete(res, dev)
			}
		}
	}

	g.filesystems = res
	return res, nil
}

// GetFilesystemInfo returns the mmlsfs attributes of one filesystem.
func (g *GpfsOperations) GetFilesystemInfo(ctx context.Context, filesystem string) (map[string]string, error) {
	fss, err := g.ListFilesystems(ctx, nil, false)
	if err != nil {
		return nil, err
	}
	info, found := fss[filesystem]
	if !found {
		return nil, &MissingDeviceError{Device: filesystem}
	}
	return info, nil
}

// ListFilesets returns, per filesystem, the mmlsfileset attributes keyed by
// fileset id. The result is cached; pass update to force a re-run.
func (g *GpfsOperations) ListFilesets(ctx context.Context, devices []string, update bool) (map[string]map[string]map[string]string, error) {
	if g.filesets != nil && !update {
		return g.filesets, nil
	}
	if len(devices) == 0 {
		fss, err := g.ListFilesystems(ctx, nil, false)
		if err != nil {
			return nil, err
		}
		devices = sortedKeys(fss)
	}
	cclog.ComponentDebug(gpfsComponent, "looking up filesets for devices", devices)

	merged := tabular.Table{}
	for _, device := range devices {
		out, err := g.executeY(ctx, "mmlsfileset", []string{device}, false)
		if err != nil {
			return nil, err
		}
		merged = tabular.Merge(merged, out.Columns)
	}

	fsCol := merged["filesystemName"]
	idCol := merged["id"]
	if len(fsCol) == 0 || len(idCol) != len(fsCol) {
		return nil, fmt.Errorf("mmlsfileset: missing filesystemName/id columns")
	}

	res := make(map[string]map[string]map[string]string)
	for i := range fsCol {
		fs, id := fsCol[i], idCol[i]
		if res[fs] == nil {
			res[fs] = make(map[string]map[string]string)
		}
		details := make(map[string]string)
		for name, col := range merged {
			if name == "filesystemName" || name == "id" {
				continue
			}
			details[name] = col[i]
		}
		res[fs][id] = details
	}

	g.filesets = res
	return res, nil
}

// FilesetNames maps fileset ids to fileset names per filesystem.
func (g *GpfsOperations) FilesetNames(ctx context.Context, devices []string) (map[string]map[string]string, error) {
	filesets, err := g.ListFilesets(ctx, devices, false)
	if err != nil {
		return nil, err
	}
	res := make(map[string]map[string]string, len(filesets))
	for fs, fsets := range filesets {
		res[fs] = make(map[string]string, len(fsets))
		for id, details := range fsets {
			res[fs][id] = details["filesetName"]
		}
	}
	return res, nil
}

// GetFilesetInfo looks a fileset up by name instead of id.
func (g *GpfsOperations) GetFilesetInfo(ctx context.Context, filesystem, filesetName string) (map[string]string, error) {
	filesets, err := g.ListFilesets(ctx, nil, false)
	if err != nil {
		return nil, err
	}
	fsets, found := filesets[filesystem]
	if !found {
		return nil, &MissingDeviceError{Device: filesystem}
	}
	for _, fset := range fsets {
		if fset["filesetName"] == filesetName {
			return fset, nil
		}
	}
	return nil, nil
}

// mmrepquota column names (GPFS 3.5 and later).
var gpfsQuotaColumns = []string{
	"filesystemName", "quotaType", "id", "name",
	"blockUsage", "blockQuota", "blockLimit", "blockInDoubt", "blockGrace",
	"filesUsage", "filesQuota", "filesLimit", "filesInDoubt", "filesGrace",
	"filesetname",
}

// ListQuota gathers quota for all USR, GRP and FILESET subjects of the given
// devices (all known devices when none are given). Devices fan out to a
// bounded worker pool; a device whose output cannot be parsed is skipped with
// a warning and does not affect the others. The per-device tables merge in
// device order, which keeps row order deterministic.
//
// The result maps filesystem name -> quota type -> subject id -> records;
// GPFS reports one record per (subject, fileset) pair.
func (g *GpfsOperations) ListQuota(ctx context.Context, devices []string) (map[string]map[string]map[string][]quota.Record, error) {
	if len(devices) == 0 {
		fss, err := g.ListFilesystems(ctx, nil, false)
		if err != nil {
			return nil, err
		}
		devices = sortedKeys(fss)
	}

	results := collectDevices(ctx, devices, g.Workers, func(ctx context.Context, device string) (tabular.Table, error) {
		out, err := g.executeY(ctx, "mmrepquota", []string{"-n", device}, true)
		if err != nil {
			return nil, err
		}
		return out.Columns, nil
	})

	merged := tabular.Table{}
	failed := 0
	for _, r := range results {
		if r.err != nil {
			cclog.ComponentWarn(gpfsComponent, "skipping device", r.device, "after mmrepquota failure:", r.err.Error())
			failed++
			continue
		}
		merged = tabular.Merge(merged, r.table)
	}
	if failed == len(results) {
		return nil, fmt.Errorf("mmrepquota failed for all %d devices", failed)
	}

	for _, name := range gpfsQuotaColumns {
		if _, found := merged[name]; !found {
			return nil, fmt.Errorf("mmrepquota output misses column %q", name)
		}
	}

	res := make(map[string]map[string]map[string][]quota.Record)
	for i := range merged["filesystemName"] {
		fs := merged["filesystemName"][i]
		qt := merged["quotaType"][i]
		id := merged["id"][i]

		rec := quota.Record{
			SubjectID:  merged["name"][i],
			BlockGrace: merged["blockGrace"][i],
			FilesGrace: merged["filesGrace"][i],
			Backend:    quota.BackendGPFS,
		}
		for _, c := range []struct {
			dst *int64
			col string
		}{
			{&rec.BlockUsed, "blockUsage"},
			{&rec.BlockSoft, "blockQuota"},
			{&rec.BlockHard, "blockLimit"},
			{&rec.BlockInDoubt, "blockInDoubt"},
			{&rec.FilesUsed, "filesUsage"},
			{&rec.FilesSoft, "filesQuota"},
			{&rec.FilesHard, "filesLimit"},
			{&rec.FilesInDoubt, "filesInDoubt"},
		} {
			v, err := gpfsInt(merged[c.col][i])
			if err != nil {
				return nil, fmt.Errorf("mmrepquota row %d for %s/%s/%s: bad %s: %w", i, fs, qt, id, c.col, err)
			}
			*c.dst = v
		}

		if qt == "FILESET" {
			// GPFS fileset quota rows leave the filesetname field empty.
			rec.FilesetName = rec.SubjectID
		} else {
			rec.FilesetName = merged["filesetname"][i]
		}

		if res[fs] == nil {
			res[fs] = make(map[string]map[string][]quota.Record)
		}
		if res[fs][qt] == nil {
			res[fs][qt] = make(map[string][]quota.Record)
		}
		res[fs][qt][id] = append(res[fs][qt][id], rec)
	}
	return res, nil
}

func gpfsInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// ListSnapshots returns the snapshot directories of a filesystem. A
// filesystem without snapshots makes mmlssnapshot print an error message
// instead of a header; that case yields an empty list.
func (g *GpfsOperations) ListSnapshots(ctx context.Context, filesystem string) ([]string, error) {
	out, err := g.executeY(ctx, "mmlssnapshot", []string{filesystem}, false)
	if err != nil {
		var ferr *tabular.FormatError
		if asFormatError(err, &ferr) && strings.Contains(ferr.Raw, "No snapshots in file system") {
			cclog.ComponentDebug(gpfsComponent, "no snapshots in filesystem", filesystem)
			return nil, nil
		}
		return nil, err
	}
	return out.Columns["directory"], nil
}

// HealthState returns the mmhealth status per component entity, keyed as
// "<component>_<entityname>". mmhealth is the one tool using the secondary
// record-type header scheme.
func (g *GpfsOperations) HealthState(ctx context.Context) (map[string]string, error) {
	out, err := g.executeY(ctx, "mmhealth", []string{"node", "show"}, false)
	if err != nil {
		return nil, err
	}
	states, found := out.Sections["State"]
	if !found {
		return nil, fmt.Errorf("mmhealth output misses the State section")
	}

	components := states["component"]
	entities := states["entityname"]
	status := states["status"]
	if len(entities) != len(components) || len(status) != len(components) {
		return nil, fmt.Errorf("mmhealth State section has inconsistent columns")
	}

	res := make(map[string]string, len(components))
	for i := range components {
		res[fmt.Sprintf("%s_%s", components[i], entities[i])] = status[i]
	}
	return res, nil
}

func asFormatError(err error, target **tabular.FormatError) bool {
	ferr, ok := err.(*tabular.FormatError)
	if ok {
		*target = ferr
	}
	return ok
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
