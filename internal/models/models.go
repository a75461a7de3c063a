package models

import "time"

// Verdict is a reviewer's decision on one duplicate group.
type Verdict string

const (
	VerdictPending               Verdict = "pending"
	VerdictConfirmedDuplicate    Verdict = "confirmed_duplicate"
	VerdictConfirmedNotDuplicate Verdict = "confirmed_not_duplicate"
)

// VerdictFor maps the reviewer's boolean answer to a Verdict.
func VerdictFor(isDuplicate bool) Verdict {
	if isDuplicate {
		return VerdictConfirmedDuplicate
	}
	return VerdictConfirmedNotDuplicate
}

// DuplicateGroup is a set of rows proposed as near-duplicates of the anchor.
// Members[0] is the anchor; the remaining members are in ascending row order.
// Scores holds matrix[a][b] for every ordered pair of distinct members.
type DuplicateGroup struct {
	ID      string                  `json:"duplicate_id"`
	Members []int                   `json:"member_indices"`
	Scores  map[int]map[int]float64 `json:"pairwise_scores"`
}

func (g DuplicateGroup) Anchor() int {
	return g.Members[0]
}

// Score returns the recorded similarity of a toward b.
func (g DuplicateGroup) Score(a, b int) (float64, bool) {
	row, ok := g.Scores[a]
	if !ok {
		return 0, false
	}
	s, ok := row[b]
	return s, ok
}

// VerdictTally counts verdicts across the groups of one run.
type VerdictTally struct {
	Pending               int `json:"pending"`
	ConfirmedDuplicate    int `json:"confirmed_duplicate"`
	ConfirmedNotDuplicate int `json:"confirmed_not_duplicate"`
}

func (t VerdictTally) Reviewed() int {
	return t.ConfirmedDuplicate + t.ConfirmedNotDuplicate
}

type UploadSummary struct {
	SessionID string           `json:"session_id"`
	Filename  string           `json:"filename"`
	RowCount  int              `json:"row_count"`
	Columns   []string         `json:"columns"`
	Preview   []map[string]any `json:"preview"`
	SHA256    string           `json:"sha256"`
}

type SessionStatus struct {
	SessionID       string       `json:"session_id"`
	Filename        string       `json:"filename"`
	RowCount        int          `json:"row_count"`
	Columns         []string     `json:"columns"`
	CreatedAt       time.Time    `json:"created_at"`
	LastUsedAt      time.Time    `json:"last_used_at"`
	Analyzed        bool         `json:"analyzed"`
	RunID           string       `json:"run_id,omitempty"`
	Threshold       *float64     `json:"threshold,omitempty"`
	AnalyzedColumns []string     `json:"analyzed_columns,omitempty"`
	GroupCount      int          `json:"group_count"`
	Verdicts        VerdictTally `json:"verdicts"`
	RowsRemoved     int          `json:"rows_removed"`
}

// AnalysisRun is the persisted summary of one analyze call.
type AnalysisRun struct {
	RunID      string    `json:"run_id"`
	SessionID  string    `json:"session_id"`
	Columns    []string  `json:"columns"`
	Threshold  float64   `json:"threshold"`
	RowCount   int       `json:"row_count"`
	GroupCount int       `json:"group_count"`
	Provider   string    `json:"provider"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}
