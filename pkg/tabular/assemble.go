package tabular

// Table maps a column name to the values of that column, one entry per data
// row. All columns of an assembled table have the same length.
type Table map[string][]string

// Rows returns the number of data rows in the table.
func (t Table) Rows() int {
	for _, col := range t {
		return len(col)
	}
	return 0
}

// Merge appends the columns of the given tables in argument order. Duplicate
// column names accumulate, they are never overwritten; merging quota output
// gathered from several devices relies on that. Merge is associative.
func Merge(tables ...Table) Table {
	res := make(Table)
	for _, t := range tables {
		for name, values := range t {
			res[name] = append(res[name], values...)
		}
	}
	return res
}

func padFields(fields []string, count int) []string {
	for len(fields) < count {
		fields = append(fields, "")
	}
	return fields
}

// findSublist returns the index of the first occurrence of sub in list, or -1.
func findSublist(list, sub []string) int {
	if len(sub) == 0 || len(sub) > len(list) {
		return -1
	}
	for i := 0; i+len(sub) <= len(list); i++ {
		found := true
		for j := range sub {
			if list[i+j] != sub[j] {
				found = false
				break
			}
		}
		if found {
			return i
		}
	}
	return -1
}

// repairRow untangles a row with too many fields. The condition indicates the
// wrapped tool concatenated two logical rows without a newline; the first 6
// fields of the row are the sub-header every sibling row starts with, so the
// position where that prefix recurs marks the boundary. The remainder may
// itself still be merged with a third row and is repaired recursively.
func repairRow(fields []string, descCount int, raw string) ([][]string, error) {
	prefix := fields[:headerPrefixLen]
	rest := fields[headerPrefixLen:]

	idx := findSublist(rest, prefix)
	if idx < 0 {
		return nil, formatErrorf(raw, "row has %d fields (description has %d) and no sub-header boundary was found: %v",
			len(fields), descCount, fields)
	}

	first := make([]string, 0, descCount)
	first = append(first, prefix...)
	first = append(first, rest[:idx]...)
	if len(first) > descCount {
		return nil, formatErrorf(raw, "row still has %d fields after repair (description has %d): %v",
			len(first), descCount, first)
	}
	first = padFields(first, descCount)

	remainder := rest[idx:]
	if len(remainder) > descCount {
		more, err := repairRow(remainder, descCount, raw)
		if err != nil {
			return nil, err
		}
		return append([][]string{first}, more...), nil
	}
	return [][]string{first, padFields(remainder, descCount)}, nil
}

// assembleFields turns retained rows into a column-oriented table. The first
// row is the description row; its fields from index 6 onward are the column
// names. Data rows shorter than the description are right-padded (the tool
// omits trailing empty columns), longer ones are repaired. Repeated header
// rows between quota-type blocks are dropped.
func assembleFields(rows []Row, raw string) (Table, error) {
	if len(rows) == 0 {
		return nil, formatErrorf(raw, "no rows to assemble")
	}
	desc := rows[0]
	if desc.Count < headerPrefixLen {
		return nil, formatErrorf(raw, "description row has only %d fields: %v", desc.Count, desc.Fields)
	}
	descCount := desc.Count
	descPrefix := desc.Fields[:headerPrefixLen]

	var data [][]string
	for _, row := range rows[1:] {
		if prefixMatches(row.Fields, descPrefix) {
			continue
		}
		switch {
		case row.Count == descCount:
			data = append(data, row.Fields)
		case row.Count < descCount:
			data = append(data, padFields(row.Fields, descCount))
		default:
			fixed, err := repairRow(row.Fields, descCount, raw)
			if err != nil {
				return nil, err
			}
			data = append(data, fixed...)
		}
	}

	res := make(Table)
	for i, name := range desc.Fields[headerPrefixLen:] {
		if name == "" {
			continue
		}
		col := make([]string, 0, len(data))
		for _, fields := range data {
			col = append(col, fields[headerPrefixLen+i])
		}
		res[name] = col
	}
	return res, nil
}
