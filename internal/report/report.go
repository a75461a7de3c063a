package report

import (
	"strings"

	"dsstrack/internal/dedupe"
	"dsstrack/internal/models"
	"dsstrack/internal/table"
	"dsstrack/internal/util"
)

const (
	SheetOriginal     = "Original Data"
	SheetDeduplicated = "De-duplicated Data"
	SheetDuplicates   = "Duplicates"
	SheetStatistics   = "Statistics"
)

// Extra columns appended to every row of the Duplicates sheet.
const (
	ColOriginalRowIndex  = "Original_Row_Index"
	ColCanonicalRowIndex = "Canonical_Row_Index"
	ColIsCanonical       = "Is_Canonical"
	ColDuplicateGroupID  = "Duplicate_Group_ID"
)

// Sheet is one tabular view of the report. Rows hold typed cell values.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]any
}

// Report is the four-view export of a reviewed session.
type Report struct {
	Original     Sheet
	Deduplicated Sheet
	Duplicates   Sheet
	Statistics   Sheet
}

func (r *Report) Sheets() []Sheet {
	return []Sheet{r.Original, r.Deduplicated, r.Duplicates, r.Statistics}
}

// Input is everything Assemble reads. Groups, Verdicts and Resolution must
// come from the same analysis run. Threshold is nil before any analysis.
type Input struct {
	Table      *table.Table
	Groups     []models.DuplicateGroup
	Verdicts   models.VerdictTally
	Resolution *dedupe.Resolution
	Threshold  *float64
	Columns    []string
}

func Assemble(in Input) *Report {
	t := in.Table
	r := &Report{
		Original:     Sheet{Name: SheetOriginal, Header: cloneStrings(t.Columns)},
		Deduplicated: Sheet{Name: SheetDeduplicated, Header: cloneStrings(t.Columns)},
		Duplicates:   Sheet{Name: SheetDuplicates, Header: duplicatesHeader(t.Columns), Rows: [][]any{}},
	}
	r.Original.Rows = make([][]any, 0, t.Len())
	r.Deduplicated.Rows = make([][]any, 0, t.Len()-len(in.Resolution.Removed()))
	for i := 0; i < t.Len(); i++ {
		vals := t.Values(i)
		r.Original.Rows = append(r.Original.Rows, vals)
		if !in.Resolution.IsRemoved(i) {
			r.Deduplicated.Rows = append(r.Deduplicated.Rows, vals)
		}
	}

	for _, g := range in.Resolution.Confirmed() {
		canonical := g.Anchor()
		for _, m := range g.Members {
			row := append(t.Values(m), m, canonical, m == canonical, g.ID)
			r.Duplicates.Rows = append(r.Duplicates.Rows, row)
		}
	}

	r.Statistics = statistics(in, len(r.Original.Rows), len(r.Deduplicated.Rows))
	return r
}

func statistics(in Input, original, deduplicated int) Sheet {
	removed := len(in.Resolution.Removed())
	rowsInGroups := 0
	for _, g := range in.Groups {
		rowsInGroups += len(g.Members)
	}
	var threshold any
	if in.Threshold != nil {
		if f := util.SanitizeFloat(*in.Threshold); f != nil {
			threshold = *f
		}
	}
	return Sheet{
		Name:   SheetStatistics,
		Header: []string{"Metric", "Value"},
		Rows: [][]any{
			{"Original Row Count", original},
			{"De-duplicated Row Count", deduplicated},
			{"Rows Removed", removed},
			{"Potential Duplicate Groups Identified", len(in.Groups)},
			{"Groups Reviewed", in.Verdicts.Reviewed()},
			{"Groups Confirmed as Duplicates", in.Verdicts.ConfirmedDuplicate},
			{"Groups Confirmed as Non-Duplicates", in.Verdicts.ConfirmedNotDuplicate},
			{"Groups Pending Review", in.Verdicts.Pending},
			{"Total Rows in Potential Duplicate Groups", rowsInGroups},
			{"Total Confirmed Duplicate Rows (Removed)", removed},
			{"Similarity Threshold Used", threshold},
			{"Columns Analyzed", strings.Join(in.Columns, ", ")},
		},
	}
}

// duplicatesHeader appends the bookkeeping columns, suffixing any that clash
// with an uploaded column name.
func duplicatesHeader(cols []string) []string {
	used := make(map[string]bool, len(cols)+4)
	out := cloneStrings(cols)
	for _, c := range cols {
		used[c] = true
	}
	for _, extra := range []string{ColOriginalRowIndex, ColCanonicalRowIndex, ColIsCanonical, ColDuplicateGroupID} {
		name := extra
		for used[name] {
			name += "_"
		}
		used[name] = true
		out = append(out, name)
	}
	return out
}

func cloneStrings(s []string) []string {
	return append([]string(nil), s...)
}
