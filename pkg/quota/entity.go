package quota

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// Information is one quota snapshot for a fileset, for both the block and the
// inode dimension. Block values are in KiB.
type Information struct {
	Timestamp int64 `json:"timestamp"`

	Used  int64 `json:"used"`
	Soft  int64 `json:"soft"`
	Hard  int64 `json:"hard"`
	Doubt int64 `json:"doubt"`

	Expired GraceStatus `json:"expired"`

	FilesUsed  int64 `json:"files_used"`
	FilesSoft  int64 `json:"files_soft"`
	FilesHard  int64 `json:"files_hard"`
	FilesDoubt int64 `json:"files_doubt"`

	FilesExpired GraceStatus `json:"files_expired"`
}

// Entity aggregates the quota of one subject (user, group or fileset) across
// the filesets of a filesystem. It lives for one collection pass only;
// persistence happens through the cache files written by the caller.
type Entity struct {
	Storage    string                 `json:"storage"`
	Filesystem string                 `json:"filesystem"`
	QuotaMap   map[string]Information `json:"quota_map"`
	Exceed     bool                   `json:"exceed"`
}

func newEntity(storage, filesystem string) Entity {
	return Entity{
		Storage:    storage,
		Filesystem: filesystem,
		QuotaMap:   make(map[string]Information),
	}
}

// Update stores the snapshot for the given fileset, replacing any earlier
// snapshot for it. The exceed flag is the OR across all stored snapshots;
// filesets are updated in unspecified order, so a later non-expired fileset
// never clears a flag raised by an earlier one.
func (e *Entity) Update(fileset string, info Information) {
	e.QuotaMap[fileset] = info
	e.Exceed = e.Exceed || info.Expired.Expired || info.FilesExpired.Expired
}

// Exceeds reports whether any stored snapshot has an expired grace period in
// either dimension.
func (e *Entity) Exceeds() bool {
	return e.Exceed
}

// User is the quota entity of one user.
type User struct {
	Entity
	UserID string `json:"user_id"`
}

func NewUser(storage, filesystem, userID string) *User {
	return &User{Entity: newEntity(storage, filesystem), UserID: userID}
}

func (u *User) Key() string {
	return u.UserID
}

// kibibytes renders a KiB quantity for human consumption.
func kibibytes(kib int64) string {
	if kib < 0 {
		kib = 0
	}
	return humanize.IBytes(uint64(kib) * 1024)
}

// String renders a per-fileset usage report in the form used in notification
// mails. VO and project filesets get a suffix so the storage variable names
// in the mail text match the environment variables users know.
func (u *User) String() string {
	var result []string
	for _, fileset := range sortedFilesets(u.QuotaMap) {
		info := u.QuotaMap[fileset]

		suffix := ""
		if strings.HasPrefix(fileset, "gvo") {
			suffix = "_VO"
		} else if strings.HasPrefix(fileset, "gp") {
			suffix = "_PROJECT"
		}

		percentage := 0
		if info.Soft > 0 {
			percentage = int(100 * info.Used / info.Soft)
		}

		blockLimit := "no quota set"
		if info.Hard != 0 {
			blockLimit = fmt.Sprintf("quota %s", kibibytes(info.Hard))
		}

		inodeLimit := "without limit"
		if info.FilesHard != 0 {
			inodeLimit = fmt.Sprintf("with %dk files limit", info.FilesHard/1000)
		}

		s := fmt.Sprintf("%s%s: used %s (%d%%) %s for %dk used files %s",
			u.Storage, suffix, kibibytes(info.Used), percentage, blockLimit, info.FilesUsed/1000, inodeLimit)
		if info.Expired.Expired && info.Expired.Remaining != nil {
			s += fmt.Sprintf(" grace: %d hours", *info.Expired.Remaining/3600)
		}
		result = append(result, s)
	}
	return strings.Join(result, "\n")
}

// Fileset is the quota entity of one fileset.
type Fileset struct {
	Entity
	FilesetID string `json:"fileset_id"`
}

func NewFileset(storage, filesystem, filesetID string) *Fileset {
	return &Fileset{Entity: newEntity(storage, filesystem), FilesetID: filesetID}
}

func (f *Fileset) Key() string {
	return f.FilesetID
}

func (f *Fileset) String() string {
	var result []string
	for _, fileset := range sortedFilesets(f.QuotaMap) {
		info := f.QuotaMap[fileset]
		result = append(result, fmt.Sprintf("%s: fileset %s used %s of %s, %d of %d files",
			f.Storage, fileset, kibibytes(info.Used), kibibytes(info.Hard), info.FilesUsed, info.FilesHard))
	}
	return strings.Join(result, "\n")
}

// Group is the quota entity of one group.
type Group struct {
	Entity
	GroupID string `json:"group_id"`
}

func NewGroup(storage, filesystem, groupID string) *Group {
	return &Group{Entity: newEntity(storage, filesystem), GroupID: groupID}
}

func (g *Group) Key() string {
	return g.GroupID
}

func sortedFilesets(m map[string]Information) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
