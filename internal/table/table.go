package table

import (
	"fmt"
	"strconv"
	"strings"

	"dsstrack/internal/util"
)

// Table is an uploaded spreadsheet held as text cells. Row positions are the
// original indices used everywhere else and never change.
type Table struct {
	Columns []string
	Rows    [][]string
	index   map[string]int
}

// New normalizes the header and pads or trims every row to the header width.
func New(header []string, rows [][]string) (*Table, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("%w: table has no header", util.ErrValidation)
	}
	cols := normalizeHeader(header)
	t := &Table{Columns: cols, Rows: make([][]string, 0, len(rows)), index: make(map[string]int, len(cols))}
	for i, c := range cols {
		t.index[c] = i
	}
	for _, r := range rows {
		if blank(r) {
			continue
		}
		row := make([]string, len(cols))
		copy(row, r)
		t.Rows = append(t.Rows, row)
	}
	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("%w: table has no data rows", util.ErrValidation)
	}
	return t, nil
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// MissingColumns returns the names in cols that are not in the table.
func (t *Table) MissingColumns(cols []string) []string {
	var missing []string
	for _, c := range cols {
		if _, ok := t.index[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// RowTexts joins the selected columns of every row with a single space. Empty
// cells are skipped so they do not add whitespace runs.
func (t *Table) RowTexts(cols []string) ([]string, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: no columns selected", util.ErrValidation)
	}
	if missing := t.MissingColumns(cols); len(missing) > 0 {
		return nil, fmt.Errorf("%w: columns not found: %s", util.ErrValidation, strings.Join(missing, ", "))
	}
	idx := make([]int, len(cols))
	for k, c := range cols {
		idx[k] = t.index[c]
	}
	out := make([]string, len(t.Rows))
	parts := make([]string, 0, len(cols))
	for i, row := range t.Rows {
		parts = parts[:0]
		for _, c := range idx {
			if v := util.SanitizeText(row[c]); v != "" {
				parts = append(parts, v)
			}
		}
		out[i] = strings.Join(parts, " ")
	}
	return out, nil
}

// Values returns row i as typed cell values in column order.
func (t *Table) Values(i int) []any {
	out := make([]any, len(t.Columns))
	for c, cell := range t.Rows[i] {
		out[c] = CellValue(cell)
	}
	return out
}

// Record returns row i keyed by column name.
func (t *Table) Record(i int) map[string]any {
	out := make(map[string]any, len(t.Columns))
	for c, cell := range t.Rows[i] {
		out[t.Columns[c]] = CellValue(cell)
	}
	return out
}

// Head returns up to n leading records.
func (t *Table) Head(n int) []map[string]any {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	if n < 0 {
		n = 0
	}
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, t.Record(i))
	}
	return out
}

// CellValue infers a JSON-friendly value for a raw cell: nil for empty,
// int64 or float64 for numbers, the raw text otherwise. Non-finite floats
// are returned as parsed and must be sanitized before encoding.
func CellValue(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if looksNumeric(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return raw
}

// looksNumeric rejects forms ParseFloat accepts that a spreadsheet would
// treat as text, such as hex floats and underscores.
func looksNumeric(s string) bool {
	lower := strings.ToLower(strings.TrimLeft(s, "+-"))
	switch lower {
	case "nan", "inf", "infinity":
		return true
	}
	for _, r := range lower {
		switch {
		case r >= '0' && r <= '9', r == '.', r == 'e', r == '+', r == '-':
		default:
			return false
		}
	}
	return true
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	suffix := map[string]int{}
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if used[name] {
			base := name
			k := suffix[base]
			for {
				k++
				name = base + "." + strconv.Itoa(k)
				if !used[name] {
					break
				}
			}
			suffix[base] = k
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
