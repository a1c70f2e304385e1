// Package tabular recovers structure from the colon-delimited, percent-encoded
// output produced by GPFS-style administrative commands when run with -Y.
//
// Output looks like
//
//	mmlsfs::HEADER:version:reserved:reserved:deviceName:fieldName:data:remarks:
//	mmlsfs::0:1:::scratch:minFragmentSize:8192:
//	mmlsfs::0:1:::scratch:inodeSize:512:
//
// Values that may contain ':' are percent encoded by the tool, so each line is
// first split on ':' and the fields are decoded afterwards.
package tabular

import (
	"fmt"
	"net/url"
	"strings"
)

// A Row is one output line split into decoded fields. Count is kept alongside
// the fields because the raggedness of a row (relative to the description row)
// is what drives padding and repair during assembly.
type Row struct {
	Count  int
	Fields []string
}

// FormatError signals output that does not match any recognized header scheme
// or rows that cannot be repaired unambiguously. It always carries the raw
// command output for diagnosis.
type FormatError struct {
	Msg string
	Raw string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unparseable command output: %s", e.Msg)
}

func formatErrorf(raw string, format string, args ...interface{}) *FormatError {
	return &FormatError{Msg: fmt.Sprintf(format, args...), Raw: raw}
}

// decodeField reverses the %XX escaping applied by the wrapped tools. Fields
// with stray '%' characters that are not valid escapes are kept as-is, the
// tools only guarantee encoding of ':' and friends.
func decodeField(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// ParseRows splits raw output into rows of decoded fields.
//
// Some tool versions end every line in a ':', some end none. The first line
// decides: if it carries no trailing colon but a later line does, that colon
// is dropped before splitting. If the first line does carry one, later lines
// are split exactly as observed, a missing trailing colon then shows up as a
// shorter row and is handled by the assembly padding.
func ParseRows(raw string) []Row {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	headerEndsInColon := strings.HasSuffix(lines[0], ":")

	rows := make([]Row, 0, len(lines))
	for _, line := range lines {
		if !headerEndsInColon {
			line = strings.TrimSuffix(line, ":")
		}
		parts := strings.Split(line, ":")
		fields := make([]string, len(parts))
		for i, p := range parts {
			fields[i] = decodeField(p)
		}
		rows = append(rows, Row{Count: len(fields), Fields: fields})
	}
	return rows
}

const headerPrefixLen = 6

// canonicalHeader is the fixed 6-field prefix every regular -Y header row
// starts with: toolName::HEADER:version:reserved:reserved
func canonicalHeader(tool string) []string {
	return []string{tool, "", "HEADER", "version", "reserved", "reserved"}
}

func prefixMatches(fields []string, prefix []string) bool {
	if len(fields) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if fields[i] != p {
			return false
		}
	}
	return true
}

// Output is the assembled result of one command invocation. For the regular
// header scheme only Columns is set. Tools with the secondary record-type
// header scheme (mmhealth) fill Sections instead, one table per discriminator
// value.
type Output struct {
	Columns  Table
	Sections map[string]Table
}

// A headerStrategy locates the rows belonging to one header scheme. It
// reports ok=false when the scheme does not apply to this output, an error
// only when the scheme applies but the rows cannot be assembled.
type headerStrategy interface {
	apply(rows []Row, raw string) (*Output, bool, error)
}

// canonicalStrategy scans forward for the canonical 6-field header, dropping
// any preamble lines the tool emits before it.
type canonicalStrategy struct {
	tool string
}

func (s canonicalStrategy) apply(rows []Row, raw string) (*Output, bool, error) {
	header := canonicalHeader(s.tool)
	start := -1
	for i, row := range rows {
		if prefixMatches(row.Fields, header) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, false, nil
	}
	table, err := assembleFields(rows[start:], raw)
	if err != nil {
		return nil, true, err
	}
	return &Output{Columns: table}, true, nil
}

// discriminatorStrategy groups rows by the record-type value in field index 1
// and assembles each group independently. mmhealth is the only known tool
// using this layout.
type discriminatorStrategy struct {
	types []string
}

func (s discriminatorStrategy) apply(rows []Row, raw string) (*Output, bool, error) {
	sections := make(map[string]Table)
	for _, typ := range s.types {
		var group []Row
		for _, row := range rows {
			if len(row.Fields) > 1 && row.Fields[1] == typ {
				group = append(group, row)
			}
		}
		if len(group) == 0 {
			continue
		}
		table, err := assembleFields(group, raw)
		if err != nil {
			return nil, true, err
		}
		sections[typ] = table
	}
	if len(sections) == 0 {
		return nil, false, nil
	}
	return &Output{Sections: sections}, true, nil
}

// Parse splits, decodes and assembles the raw output of one -Y invocation of
// the named tool. The header schemes are tried in a fixed order; output that
// matches none of them is a FormatError.
func Parse(tool, raw string) (*Output, error) {
	rows := ParseRows(raw)
	if len(rows) == 0 {
		return nil, formatErrorf(raw, "%s: empty output", tool)
	}

	strategies := []headerStrategy{
		canonicalStrategy{tool: tool},
		discriminatorStrategy{types: []string{"State", "Event"}},
	}
	for _, s := range strategies {
		out, ok, err := s.apply(rows, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			return out, nil
		}
	}
	return nil, formatErrorf(raw, "%s: no valid header found", tool)
}
