package filesystems

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

const procMounts = "/proc/mounts"

// Pseudo filesystems that never carry quota and are dropped from the mount
// scan. Be very careful adding new ones here.
var ignoredFilesystems = map[string]bool{
	"rootfs":      true,
	"configfs":    true,
	"debugfs":     true,
	"usbfs":       true,
	"ipathfs":     true,
	"binfmt_misc": true,
	"rpc_pipefs":  true,
	"fuse.sshfs":  true,
}

// MountPoint is one entry of the local mount table.
type MountPoint struct {
	Device string
	Path   string
	Type   string
}

// MountContext owns the cached local mount table. It replaces the
// process-wide singleton state of the original tools: each operations object
// gets its own context and tests can point it at a fake mount table.
type MountContext struct {
	runner     Runner
	mountsPath string
	mounts     []MountPoint
}

func NewMountContext(runner Runner) *MountContext {
	return &MountContext{
		runner:     runner,
		mountsPath: procMounts,
	}
}

// SetMountsPath overrides the mount table location, for tests.
func (c *MountContext) SetMountsPath(path string) {
	c.mountsPath = path
	c.mounts = nil
}

// Mounts returns the cached local mount table, scanning it on first use.
func (c *MountContext) Mounts() ([]MountPoint, error) {
	if c.mounts != nil {
		return c.mounts, nil
	}
	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c.mounts, nil
}

// Refresh rescans the mount table.
func (c *MountContext) Refresh() error {
	data, err := os.ReadFile(c.mountsPath)
	if err != nil {
		return fmt.Errorf("failed to read mount table %s: %w", c.mountsPath, err)
	}

	var mounts []MountPoint
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if ignoredFilesystems[fields[2]] {
			continue
		}
		mounts = append(mounts, MountPoint{
			Device: fields[0],
			Path:   fields[1],
			Type:   fields[2],
		})
	}
	c.mounts = mounts
	return nil
}

// Invalidate drops the cached mount table; the next Mounts call rescans.
func (c *MountContext) Invalidate() {
	c.mounts = nil
}

// MountsOfType returns the cached mounts with the given filesystem types.
func (c *MountContext) MountsOfType(types ...string) ([]MountPoint, error) {
	all, err := c.Mounts()
	if err != nil {
		return nil, err
	}
	var res []MountPoint
	for _, m := range all {
		for _, t := range types {
			if m.Type == t {
				res = append(res, m)
				break
			}
		}
	}
	return res, nil
}

// FreeSpace returns the free bytes on the filesystem holding path.
func (c *MountContext) FreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
