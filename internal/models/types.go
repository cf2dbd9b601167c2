package models

// Package models defines the record-set types shared by the loader, the
// detection engine and the result sink.
//
// A Frame is schema-less. The loader returns whatever columns the warehouse
// table carries (SELECT *) and the sink persists every input column next to
// the derived score columns.

// Frame is a column-ordered record set.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// NewFrame creates an empty frame with the given columns.
func NewFrame(columns ...string) *Frame {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Frame{Columns: cols}
}

// Append adds a row. The row must have one value per column.
func (f *Frame) Append(values ...any) {
	row := make([]any, len(values))
	copy(row, values)
	f.Rows = append(f.Rows, row)
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// ColumnIndex returns the position of the named column, or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// MissingColumns returns the names from want that the frame does not carry,
// in the order given.
func (f *Frame) MissingColumns(want ...string) []string {
	var missing []string
	for _, w := range want {
		if f.ColumnIndex(w) < 0 {
			missing = append(missing, w)
		}
	}
	return missing
}
