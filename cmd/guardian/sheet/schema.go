package sheet

import (
	"context"
	"strconv"
	"strings"
)

// Schema maps trimmed header names to 0-based column indexes.
type Schema struct {
	cols  map[string]int
	width int
}

func NewSchema(header []string) Schema {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			continue
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return Schema{cols: cols, width: len(header)}
}

func (s Schema) Has(name string) bool {
	_, ok := s.cols[name]
	return ok
}

// Col returns the 1-based column number for name, or 0 when absent.
func (s Schema) Col(name string) int {
	idx, ok := s.cols[name]
	if !ok {
		return 0
	}
	return idx + 1
}

func (s Schema) Width() int { return s.width }

// Get reads a named cell. Absent columns and short rows read as "".
func (s Schema) Get(row []string, name string) string {
	idx, ok := s.cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// Int reads a named cell as an integer, 0 when empty or malformed.
func (s Schema) Int(row []string, name string) int64 {
	v, err := strconv.ParseInt(s.Get(row, name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Build lays values out in header order. Unknown keys are dropped.
func (s Schema) Build(values map[string]string) []string {
	row := make([]string, s.width)
	for name, v := range values {
		if idx, ok := s.cols[name]; ok {
			row[idx] = v
		}
	}
	return row
}

// Row is a data row with its 1-based position in the sheet.
type Row struct {
	Index  int
	Values []string
}

// Table is a snapshot of one sheet taken by a single GetTable call.
type Table struct {
	Name   string
	Schema Schema
	rows   [][]string
	store  Store
}

// Open reads the whole table once and resolves its header.
func Open(ctx context.Context, store Store, name string) (*Table, error) {
	all, err := store.GetTable(ctx, name)
	if err != nil {
		return nil, err
	}
	t := &Table{Name: name, store: store}
	if len(all) == 0 {
		t.Schema = NewSchema(nil)
		return t, nil
	}
	t.Schema = NewSchema(all[0])
	t.rows = all[1:]
	return t, nil
}

// Rows returns non-empty data rows in sheet order.
func (t *Table) Rows() []Row {
	out := make([]Row, 0, len(t.rows))
	for i, r := range t.rows {
		if isBlank(r) {
			continue
		}
		out = append(out, Row{Index: i + 2, Values: r})
	}
	return out
}

// Reverse returns non-empty data rows newest first.
func (t *Table) Reverse() []Row {
	rows := t.Rows()
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows
}

// Find returns the first row whose named column equals value.
func (t *Table) Find(name, value string) (Row, bool) {
	if !t.Schema.Has(name) {
		return Row{}, false
	}
	for _, r := range t.Rows() {
		if t.Schema.Get(r.Values, name) == value {
			return r, true
		}
	}
	return Row{}, false
}

// Set writes one named cell. A column missing from the header is a no-op.
func (t *Table) Set(ctx context.Context, row int, name, value string) error {
	col := t.Schema.Col(name)
	if col == 0 {
		return nil
	}
	return t.store.UpdateCell(ctx, t.Name, row, col, value)
}

// Append adds a row built from named values.
func (t *Table) Append(ctx context.Context, values map[string]string) error {
	return t.store.AppendRow(ctx, t.Name, t.Schema.Build(values))
}

func isBlank(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
