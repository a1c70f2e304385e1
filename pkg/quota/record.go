// Package quota holds the canonical quota domain model shared by the GPFS and
// Lustre backends: one record per reported quota line, entities aggregating
// records per user or fileset, and the grace-period decoder.
package quota

// Backend tags the filesystem type a record was gathered from. Field
// semantics differ slightly per backend (Lustre has no in-doubt accounting),
// so consumers switch on the tag instead of guessing from field values.
type Backend int

const (
	BackendGPFS Backend = iota
	BackendLustre
)

func (b Backend) String() string {
	switch b {
	case BackendGPFS:
		return "gpfs"
	case BackendLustre:
		return "lustre"
	}
	return "unknown"
}

// Record is one quota line as reported by the backend, normalized across
// GPFS and Lustre. Block values are in KiB. Grace periods are kept as the raw
// reported strings; DecodeGrace turns them into a canonical form when the
// record is folded into an entity.
//
// Producers guarantee hard >= soft whenever both are nonzero; the parser does
// not re-validate.
type Record struct {
	SubjectID string

	BlockUsed    int64
	BlockSoft    int64
	BlockHard    int64
	BlockInDoubt int64
	BlockGrace   string

	FilesUsed    int64
	FilesSoft    int64
	FilesHard    int64
	FilesInDoubt int64
	FilesGrace   string

	// FilesetName is only meaningful for FILESET-type rows and for rows
	// scoped to a fileset (GPFS can report per-fileset USR lines).
	FilesetName string

	Backend Backend
}
