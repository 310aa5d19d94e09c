package rowbuffer

import "fmt"

// Row is an ordered set of column values. Key columns are a prefix of
// Values, matching the schema's KeyColumns() order.
type Row struct {
	Values []Value
}

// Key returns the key-column prefix of the row, given the number of key
// columns in its schema.
func (r Row) Key(keyColumns int) Row {
	if keyColumns > len(r.Values) {
		keyColumns = len(r.Values)
	}
	return Row{Values: r.Values[:keyColumns]}
}

// Clone deep-copies the row so it can outlive the buffer it was read from.
func (r Row) Clone() Row {
	out := make([]Value, len(r.Values))
	copy(out, r.Values)
	return Row{Values: out}
}

// CompareKeys compares two rows by their first n columns in order,
// returning the first non-zero per-column comparison. A comparison error
// on any column (incompatible kinds, per spec §4.F "composite-typed values
// that raise on compare") aborts the whole comparison.
func CompareKeys(a, b Row, n int) (int, error) {
	if n > len(a.Values) || n > len(b.Values) {
		return 0, fmt.Errorf("key comparison: row shorter than %d columns", n)
	}
	for i := 0; i < n; i++ {
		c, err := a.Values[i].Compare(b.Values[i])
		if err != nil {
			return 0, fmt.Errorf("key column %d: %w", i, err)
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

// Permute reorders row's values according to idMapping, where
// idMapping[destinationIndex] = sourceIndex. Used by CaptureAndPermuteRow
// to translate a caller's name-table ordering into the table's schema
// ordering (spec §4.A).
func Permute(row Row, idMapping []int) (Row, error) {
	out := make([]Value, len(idMapping))
	for dst, src := range idMapping {
		if src < 0 {
			out[dst] = NullValue
			continue
		}
		if src >= len(row.Values) {
			return Row{}, fmt.Errorf("permute: source index %d out of range (row has %d columns)", src, len(row.Values))
		}
		out[dst] = row.Values[src]
	}
	return Row{Values: out}, nil
}
