package report

import "dsstrack/internal/util"

// SheetJSON is a view rendered as records for the JSON export.
type SheetJSON struct {
	Name    string           `json:"name"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

type JSON struct {
	Sheets []SheetJSON `json:"sheets"`
}

// ToJSON renders every view as records with non-finite numbers replaced by
// null.
func (r *Report) ToJSON() JSON {
	out := JSON{Sheets: make([]SheetJSON, 0, 4)}
	for _, s := range r.Sheets() {
		rows := make([]map[string]any, 0, len(s.Rows))
		for _, row := range s.Rows {
			rec := make(map[string]any, len(s.Header))
			for c, name := range s.Header {
				if c < len(row) {
					rec[name] = util.SanitizeJSON(row[c])
				}
			}
			rows = append(rows, rec)
		}
		out.Sheets = append(out.Sheets, SheetJSON{Name: s.Name, Columns: s.Header, Rows: rows})
	}
	return out
}
