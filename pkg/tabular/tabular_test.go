package tabular

import (
	"errors"
	"strings"
	"testing"
)

func allCountsEqual(rows []Row) bool {
	counts := make(map[int]bool)
	for _, r := range rows {
		counts[r.Count] = true
	}
	return len(counts) == 1
}

func TestParseRowsTrailingColonVariants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{
			"no trailing colons",
			"this:is:the:header:line\nand:here:is:line:1\nand:here:is:line:2",
		},
		{
			"all trailing colons",
			"this:is:the:header:line:\nand:here:is:line:1:\nand:here:is:line:2:",
		},
		{
			"header without colon, data with colons",
			"this:is:the:header:line\nand:here:is:line:1:\nand:here:is:line:2:",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rows := ParseRows(c.raw)
			if len(rows) != 3 {
				t.Fatalf("got %d rows, want 3", len(rows))
			}
			if !allCountsEqual(rows) {
				t.Errorf("field counts differ: %v", rows)
			}
		})
	}
}

func TestParseRowsKeepsTrailingColonAsymmetry(t *testing.T) {
	// Header carries a trailing colon: later lines are split as observed
	// and a missing trailing colon shows up as a shorter row.
	rows := ParseRows("a:b:c:\na:b:c")
	if rows[0].Count != 4 || rows[1].Count != 3 {
		t.Errorf("got counts %d and %d, want 4 and 3", rows[0].Count, rows[1].Count)
	}
}

func TestParseRowsDecoding(t *testing.T) {
	rows := ParseRows("x:Mon Oct 12 14%3A24%3A41 2015:100%:done")
	want := []string{"x", "Mon Oct 12 14:24:41 2015", "100%", "done"}
	for i, w := range want {
		if rows[0].Fields[i] != w {
			t.Errorf("field %d = %q, want %q", i, rows[0].Fields[i], w)
		}
	}
}

func TestParseRowsSkipsBlankLines(t *testing.T) {
	rows := ParseRows("a:b:\n\n  \na:c:\n")
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
}

func TestParseCanonical(t *testing.T) {
	raw := strings.Join([]string{
		"some preamble the tool printed first",
		"mmfoo::HEADER:version:reserved:reserved:name:val:",
		"mmfoo::0:1:::fs1:10:",
		"mmfoo::0:1:::fs2:20:",
	}, "\n")

	out, err := Parse("mmfoo", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.Columns["name"]; !equalStrings(got, []string{"fs1", "fs2"}) {
		t.Errorf("name column = %v", got)
	}
	if got := out.Columns["val"]; !equalStrings(got, []string{"10", "20"}) {
		t.Errorf("val column = %v", got)
	}
}

func TestParseToleratesRepeatedHeaders(t *testing.T) {
	raw := strings.Join([]string{
		"mmrepquota::HEADER:version:reserved:reserved:name:val:",
		"mmrepquota::0:1:::a:1:",
		"mmrepquota::HEADER:version:reserved:reserved:name:val:",
		"mmrepquota::0:1:::b:2:",
	}, "\n")

	out, err := Parse("mmrepquota", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.Columns["name"]; !equalStrings(got, []string{"a", "b"}) {
		t.Errorf("name column = %v", got)
	}
}

func TestParsePadsShortRows(t *testing.T) {
	raw := strings.Join([]string{
		"mmfoo::HEADER:version:reserved:reserved:one:two:three:",
		"mmfoo::0:1:::x:",
	}, "\n")

	out, err := Parse("mmfoo", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, col := range []string{"one", "two", "three"} {
		if len(out.Columns[col]) != 1 {
			t.Fatalf("column %s has %d values, want 1", col, len(out.Columns[col]))
		}
	}
	if out.Columns["one"][0] != "x" || out.Columns["two"][0] != "" {
		t.Errorf("unexpected values: one=%q two=%q", out.Columns["one"][0], out.Columns["two"][0])
	}
}

func TestParseRepairsMergedRows(t *testing.T) {
	// Two logical rows concatenated without a newline; the recurring
	// sub-header marks the boundary.
	raw := strings.Join([]string{
		"mmfoo::HEADER:version:reserved:reserved:name:val:",
		"mmfoo::0:1:::a:1:mmfoo::0:1:::b:2:",
		"mmfoo::0:1:::c:3:",
	}, "\n")

	out, err := Parse("mmfoo", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.Columns["name"]; !equalStrings(got, []string{"a", "b", "c"}) {
		t.Errorf("name column = %v", got)
	}
	if got := out.Columns["val"]; !equalStrings(got, []string{"1", "2", "3"}) {
		t.Errorf("val column = %v", got)
	}
}

func TestParseRepairsTripleMergedRow(t *testing.T) {
	raw := strings.Join([]string{
		"mmfoo::HEADER:version:reserved:reserved:name:val:",
		"mmfoo::0:1:::a:1:mmfoo::0:1:::b:2:mmfoo::0:1:::c:3:",
	}, "\n")

	out, err := Parse("mmfoo", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.Columns["name"]; !equalStrings(got, []string{"a", "b", "c"}) {
		t.Errorf("name column = %v", got)
	}
}

func TestParseUnrepairableRow(t *testing.T) {
	// Too many fields but the sub-header never recurs.
	raw := strings.Join([]string{
		"mmfoo::HEADER:version:reserved:reserved:name:val:",
		"mmfoo::0:1:::a:1:2:3:4:5:6:7:",
	}, "\n")

	_, err := Parse("mmfoo", raw)
	var ferr *FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("got %v, want a FormatError", err)
	}
	if ferr.Raw != raw {
		t.Errorf("FormatError does not carry the raw output")
	}
}

func TestParseDiscriminator(t *testing.T) {
	raw := strings.Join([]string{
		"mmhealth:State:HEADER:version:reserved:reserved:component:entityname:status:",
		"mmhealth:Event:HEADER:version:reserved:reserved:component:event:severity:",
		"mmhealth:State:0:1:::GPFS:node1:HEALTHY:",
		"mmhealth:State:0:1:::FILESYSTEM:scratch:DEGRADED:",
		"mmhealth:Event:0:1:::GPFS:quorum_up:INFO:",
	}, "\n")

	out, err := Parse("mmhealth", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, found := out.Sections["State"]
	if !found {
		t.Fatal("State section missing")
	}
	if got := state["component"]; !equalStrings(got, []string{"GPFS", "FILESYSTEM"}) {
		t.Errorf("component column = %v", got)
	}
	if got := state["status"]; !equalStrings(got, []string{"HEALTHY", "DEGRADED"}) {
		t.Errorf("status column = %v", got)
	}
	event, found := out.Sections["Event"]
	if !found {
		t.Fatal("Event section missing")
	}
	if got := event["event"]; !equalStrings(got, []string{"quorum_up"}) {
		t.Errorf("event column = %v", got)
	}
}

func TestParseNoHeader(t *testing.T) {
	raw := "mmlssnapshot: No snapshots in file system scratch"
	_, err := Parse("mmlssnapshot", raw)
	var ferr *FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("got %v, want a FormatError", err)
	}
	if !strings.Contains(ferr.Raw, "No snapshots in file system") {
		t.Errorf("FormatError raw output lost: %q", ferr.Raw)
	}
}

func TestParseEmptyOutput(t *testing.T) {
	if _, err := Parse("mmfoo", "\n\n"); err == nil {
		t.Fatal("expected an error for empty output")
	}
}

func TestParseSnapshotListing(t *testing.T) {
	raw := "mmlssnapshot::HEADER:version:reserved:reserved:filesystemName:directory:snapID:status:created:quotas:data:metadata:fileset:snapType: \n" +
		"mmlssnapshot::0:1:::fstest:autumn_20151012:1517:Valid:Mon Oct 12 14%3A24%3A41 2015::0:0:::\n" +
		"mmlssnapshot::0:1:::fstest:okt_20151028:1518:Valid:Wed Oct 28 11%3A34%3A06 2015::0:0:::"

	out, err := Parse("mmlssnapshot", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.Columns["directory"]; !equalStrings(got, []string{"autumn_20151012", "okt_20151028"}) {
		t.Errorf("directory column = %v", got)
	}
	if got := out.Columns["created"][0]; got != "Mon Oct 12 14:24:41 2015" {
		t.Errorf("created[0] = %q", got)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
