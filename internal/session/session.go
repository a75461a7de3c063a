package session

import (
	"sync"
	"sync/atomic"
	"time"

	"dsstrack/internal/dedupe"
	"dsstrack/internal/models"
	"dsstrack/internal/providers"
	"dsstrack/internal/table"
)

// Run is one analysis of a session. It is never modified after it becomes
// current except through its Ledger; a new analysis replaces it wholesale, so
// group ids from an older run stop resolving.
type Run struct {
	ID        string
	Columns   []string
	Threshold float64
	Groups    []models.DuplicateGroup
	Provider  providers.ProviderInfo
	CreatedAt time.Time
	Ledger    *dedupe.Ledger

	byID map[string]int
}

func newRun(id string, columns []string, threshold float64, groups []models.DuplicateGroup, provider providers.ProviderInfo, at time.Time) *Run {
	r := &Run{
		ID:        id,
		Columns:   append([]string(nil), columns...),
		Threshold: threshold,
		Groups:    groups,
		Provider:  provider,
		CreatedAt: at,
		Ledger:    dedupe.NewLedger(),
		byID:      make(map[string]int, len(groups)),
	}
	for i, g := range groups {
		r.byID[g.ID] = i
	}
	return r
}

// Group looks up a group of this run by id.
func (r *Run) Group(id string) (models.DuplicateGroup, bool) {
	i, ok := r.byID[id]
	if !ok {
		return models.DuplicateGroup{}, false
	}
	return r.Groups[i], true
}

// RowsInGroups counts rows across all groups, confirmed or not.
func (r *Run) RowsInGroups() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Members)
	}
	return n
}

// Session is one uploaded table and its current analysis run.
type Session struct {
	ID        string
	Filename  string
	SHA256    string
	Table     *table.Table
	CreatedAt time.Time

	lastUsed atomic.Int64

	// analyzeMu serializes analyses; mu guards run.
	analyzeMu sync.Mutex
	mu        sync.RWMutex
	run       *Run
}

// Current returns the current run, or nil before the first analysis.
func (s *Session) Current() *Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}

func (s *Session) setRun(r *Run) {
	s.mu.Lock()
	s.run = r
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.lastUsed.Store(now.UnixNano())
}

func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Status summarizes the session and its current run.
func (s *Session) Status() models.SessionStatus {
	st := models.SessionStatus{
		SessionID:  s.ID,
		Filename:   s.Filename,
		RowCount:   s.Table.Len(),
		Columns:    s.Table.Columns,
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.LastUsed(),
	}
	run := s.Current()
	if run == nil {
		return st
	}
	threshold := run.Threshold
	st.Analyzed = true
	st.RunID = run.ID
	st.Threshold = &threshold
	st.AnalyzedColumns = run.Columns
	st.GroupCount = len(run.Groups)
	verdicts := run.Ledger.Snapshot()
	st.Verdicts = verdicts.Tally(run.Groups)
	if res, err := dedupe.Canonicalize(run.Groups, verdicts); err == nil {
		st.RowsRemoved = len(res.Removed())
	}
	return st
}
