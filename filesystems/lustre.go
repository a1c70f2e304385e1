package filesystems

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
	"github.com/hpcugent/quotareport/pkg/quota"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

const (
	lfsBinPath       = "/usr/bin/lfs"
	lctlBinPath      = "/usr/sbin/lctl"
	lustreComponent  = "LustreOperations"
	lustreFsType     = "lustre"

	// The quota master reports this time value for subjects that never
	// exceeded their soft limit. It doubles as "no grace running" next to 0.
	lustreNoGrace = uint64(1) << 48
)

// Subject type to qmt parameter suffix.
var lustreTypeParam = map[string]string{
	"USR":     "usr",
	"GRP":     "grp",
	"FILESET": "prj",
}

// Hint describes where projects of one Lustre filesystem live. Lustre has no
// fileset listing command, so the project directories and the name to project
// id mapping come from configuration.
type Hint struct {
	MountPoint       string            `json:"mountpoint" mapstructure:"mountpoint"`
	ProjectLocations []string          `json:"project_locations" mapstructure:"project_locations"`
	ProjectIDMaps    map[string]int64  `json:"projectid_maps" mapstructure:"projectid_maps"`
}

var pjNameRegex = regexp.MustCompile(`^([a-zA-Z]+)([0-9]+)$`)

// ProjectID derives the project id for a fileset name from the configured
// prefix offsets, e.g. gvo00002 with offset gvo=900000 becomes 900002. The
// result is a candidate only; callers verify it against the live listing.
func (h *Hint) ProjectID(name string) (int64, error) {
	m := pjNameRegex.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("fileset name %q does not match prefix+number", name)
	}
	offset, found := h.ProjectIDMaps[m[1]]
	if !found {
		return 0, fmt.Errorf("project prefix %q not recognized", m[1])
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, err
	}
	return offset + n, nil
}

// SearchPaths returns all paths to scan for project directories. Locations
// may contain glob patterns.
func (h *Hint) SearchPaths() []string {
	res := make([]string, 0, len(h.ProjectLocations))
	for _, loc := range h.ProjectLocations {
		res = append(res, filepath.Join(h.MountPoint, loc))
	}
	return res
}

// LustreOperations gathers quota from the Lustre quota master through lctl
// and discovers filesets through lfs project. One instance serves the node it
// runs on; the quota master target must be local.
type LustreOperations struct {
	mounts *MountContext
	runner Runner

	// Hints maps filesystem names to their project configuration.
	Hints map[string]Hint

	filesets map[string]map[string]map[string]string
}

func NewLustreOperations(mounts *MountContext, runner Runner) *LustreOperations {
	return &LustreOperations{
		mounts: mounts,
		runner: runner,
		Hints:  make(map[string]Hint),
	}
}

// Invalidate drops the cached fileset listing.
func (l *LustreOperations) Invalidate() {
	l.filesets = nil
}

func (l *LustreOperations) executeLfs(ctx context.Context, name string, opts ...string) (int, string, error) {
	return l.runner.Run(ctx, lfsBinPath, append([]string{name}, opts...)...)
}

func (l *LustreOperations) executeLctl(ctx context.Context, opts ...string) (int, string, error) {
	return l.runner.Run(ctx, lctlBinPath, opts...)
}

// lustreQuotaEntry is one global quota record of the quota master.
type lustreQuotaEntry struct {
	ID     int64 `yaml:"id"`
	Limits struct {
		Hard    int64  `yaml:"hard"`
		Soft    int64  `yaml:"soft"`
		Granted int64  `yaml:"granted"`
		Time    uint64 `yaml:"time"`
	} `yaml:"limits"`
}

// quotaMasterEntries reads one glb-* parameter of the quota master. The
// output starts with the parameter name and the pool name; the YAML document
// follows from the third line.
func (l *LustreOperations) quotaMasterEntries(ctx context.Context, device, typ, pool string) ([]lustreQuotaEntry, error) {
	suffix, found := lustreTypeParam[typ]
	if !found {
		return nil, fmt.Errorf("unsupported quota type %s, use USR, GRP or FILESET", typ)
	}

	param := fmt.Sprintf("qmt.%s-*.%s-*.glb-%s", device, pool, suffix)
	_, out, err := l.executeLctl(ctx, "get_param", param)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(out, "\n", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("unexpected lctl get_param %s output: %q", param, out)
	}
	var entries []lustreQuotaEntry
	if err := yaml.Unmarshal([]byte(parts[2]), &entries); err != nil {
		return nil, fmt.Errorf("lctl get_param %s: bad yaml: %w", param, err)
	}
	return entries, nil
}

// ListFilesystems maps the locally mounted Lustre filesystem names to their
// mount point and MGS location. With a non-empty device list every named
// filesystem must be present.
func (l *LustreOperations) ListFilesystems(ctx context.Context, devices []string) (map[string]map[string]string, error) {
	mounts, err := l.mounts.MountsOfType(lustreFsType)
	if err != nil {
		return nil, err
	}

	res := make(map[string]map[string]string)
	for _, m := range mounts {
		loc, name, found := strings.Cut(m.Device, ":/")
		if !found {
			continue
		}
		if len(devices) > 0 && !slices.Contains(devices, name) {
			continue
		}
		res[name] = map[string]string{
			"defaultMountPoint": m.Path,
			"location":          loc,
		}
	}

	if len(devices) == 0 && len(res) == 0 {
		return nil, fmt.Errorf("no lustre filesystems found")
	}
	for _, dev := range devices {
		if _, found := res[dev]; !found {
			return nil, &MissingDeviceError{Device: dev}
		}
	}
	return res, nil
}

// ListQuota gathers the global quota records for all USR, GRP and FILESET
// subjects of the given filesystems (all mounted ones when none are given).
// Block and inode limits come from separate parameters and join on subject
// id. The result has the same shape as the GPFS listing; Lustre tracks no
// in-doubt values, those stay 0.
func (l *LustreOperations) ListQuota(ctx context.Context, devices []string) (map[string]map[string]map[string][]quota.Record, error) {
	if len(devices) == 0 {
		fss, err := l.ListFilesystems(ctx, nil)
		if err != nil {
			return nil, err
		}
		devices = sortedKeys(fss)
	}

	res := make(map[string]map[string]map[string][]quota.Record)
	for _, fsname := range devices {
		res[fsname] = make(map[string]map[string][]quota.Record)
		for _, typ := range []string{"USR", "GRP", "FILESET"} {
			block, err := l.quotaMasterEntries(ctx, fsname, typ, "dt")
			if err != nil {
				return nil, err
			}
			inode, err := l.quotaMasterEntries(ctx, fsname, typ, "md")
			if err != nil {
				return nil, err
			}

			recs := make(map[string]quota.Record, len(block))
			for _, e := range block {
				id := strconv.FormatInt(e.ID, 10)
				recs[id] = quota.Record{
					SubjectID:  id,
					BlockUsed:  e.Limits.Granted,
					BlockSoft:  e.Limits.Soft,
					BlockHard:  e.Limits.Hard,
					BlockGrace: lustreGraceString(e.Limits.Time),
					Backend:    quota.BackendLustre,
				}
			}
			for _, e := range inode {
				id := strconv.FormatInt(e.ID, 10)
				rec, found := recs[id]
				if !found {
					cclog.ComponentWarn(lustreComponent, "inode quota without block quota for", typ, "id", id, "on", fsname)
					rec = quota.Record{SubjectID: id, Backend: quota.BackendLustre}
				}
				rec.FilesUsed = e.Limits.Granted
				rec.FilesSoft = e.Limits.Soft
				rec.FilesHard = e.Limits.Hard
				rec.FilesGrace = lustreGraceString(e.Limits.Time)
				recs[id] = rec
			}

			byID := make(map[string][]quota.Record, len(recs))
			for id, rec := range recs {
				byID[id] = []quota.Record{rec}
			}
			res[fsname][typ] = byID
		}
	}
	return res, nil
}

// ListFilesets discovers the project directories of the given filesystems by
// walking the hint search paths with lfs project. The result maps filesystem
// name to project id to details; cached between calls.
func (l *LustreOperations) ListFilesets(ctx context.Context, devices []string) (map[string]map[string]map[string]string, error) {
	fss, err := l.ListFilesystems(ctx, devices)
	if err != nil {
		return nil, err
	}
	cclog.ComponentDebug(lustreComponent, "looking up filesets for devices", sortedKeys(fss))

	if l.filesets == nil {
		l.filesets = make(map[string]map[string]map[string]string)
	}

	res := make(map[string]map[string]map[string]string)
	for _, dev := range sortedKeys(fss) {
		if cached, found := l.filesets[dev]; found {
			res[dev] = cached
			continue
		}
		hint, found := l.Hints[dev]
		if !found {
			return nil, fmt.Errorf("no project hint configured for filesystem %s", dev)
		}
		filesets, err := l.listDeviceFilesets(ctx, dev, &hint)
		if err != nil {
			return nil, err
		}
		l.filesets[dev] = filesets
		res[dev] = filesets
	}
	return res, nil
}

func (l *LustreOperations) listDeviceFilesets(ctx context.Context, device string, hint *Hint) (map[string]map[string]string, error) {
	filesets := make(map[string]map[string]string)
	for _, pattern := range hint.SearchPaths() {
		paths := []string{pattern}
		if strings.ContainsAny(pattern, "*?[") {
			var err error
			paths, err = filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("bad project location pattern %q: %w", pattern, err)
			}
		}
		for _, spath := range paths {
			ec, out, err := l.executeLfs(ctx, "project", spath)
			if err != nil {
				return nil, err
			}
			if ec != 0 {
				return nil, fmt.Errorf("unable to get projects for path %s", spath)
			}

			for _, line := range strings.Split(out, "\n") {
				fields := strings.Fields(line)
				if len(fields) != 3 {
					continue
				}
				pjid, flag, path := fields[0], fields[1], fields[2]
				if pjid == "0" {
					cclog.ComponentWarn(lustreComponent, "path", path, "is part of default project")
					continue
				}
				if existing, found := filesets[pjid]; found {
					return nil, fmt.Errorf("project id %s on %s maps multiple paths: %s, %s", pjid, device, existing["path"], path)
				}
				if flag != "P" {
					return nil, fmt.Errorf("project inheritance flag not set for project %s: %s", pjid, path)
				}
				filesets[pjid] = map[string]string{
					"path":        path,
					"filesetName": filepath.Base(path),
				}
			}
		}
	}
	return filesets, nil
}

// FilesetNames maps project ids to fileset names per filesystem.
func (l *LustreOperations) FilesetNames(ctx context.Context, devices []string) (map[string]map[string]string, error) {
	filesets, err := l.ListFilesets(ctx, devices)
	if err != nil {
		return nil, err
	}
	res := make(map[string]map[string]string, len(filesets))
	for fs, fsets := range filesets {
		res[fs] = make(map[string]string, len(fsets))
		for pjid, details := range fsets {
			res[fs][pjid] = details["filesetName"]
		}
	}
	return res, nil
}

// GetFilesetInfo looks a fileset up by name instead of project id.
func (l *LustreOperations) GetFilesetInfo(ctx context.Context, filesystem, filesetName string) (map[string]string, error) {
	filesets, err := l.ListFilesets(ctx, []string{filesystem})
	if err != nil {
		return nil, err
	}
	for _, fset := range filesets[filesystem] {
		if fset["filesetName"] == filesetName {
			return fset, nil
		}
	}
	return nil, nil
}

// GetProjectID reads the project id set on a directory. A directory without
// the inheritance flag has no usable project id.
func (l *LustreOperations) GetProjectID(ctx context.Context, projectPath string) (string, error) {
	_, out, err := l.executeLfs(ctx, "project", "-d", projectPath)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) != 3 {
		return "", fmt.Errorf("unexpected lfs project output for %s: %q", projectPath, out)
	}
	pjid, flag, path := fields[0], fields[1], fields[2]
	cclog.ComponentDebug(lustreComponent, "got pjid", pjid, "flag", flag, "path", path)
	if flag == "P" && path == projectPath {
		return pjid, nil
	}
	return "", nil
}

// nowUnix is swapped out in tests.
var nowUnix = func() int64 { return time.Now().Unix() }

// lustreGraceString renders the quota master time field the way the GPFS
// tools report grace. The field holds the expiration timestamp once the soft
// limit is exceeded and a sentinel otherwise.
func lustreGraceString(t uint64) string {
	return lustreGraceStringAt(t, nowUnix())
}

func lustreGraceStringAt(t uint64, now int64) string {
	if t == 0 || t == lustreNoGrace {
		return "none"
	}
	if t <= uint64(now) {
		return "expired"
	}
	remaining := t - uint64(now)
	switch {
	case remaining >= 86400:
		return fmt.Sprintf("%d days", remaining/86400)
	case remaining >= 3600:
		return fmt.Sprintf("%d hours", remaining/3600)
	default:
		return fmt.Sprintf("%d minutes", remaining/60)
	}
}
