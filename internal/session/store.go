package session

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"dsstrack/internal/analysis"
	"dsstrack/internal/dedupe"
	"dsstrack/internal/models"
	"dsstrack/internal/report"
	"dsstrack/internal/table"
	"dsstrack/internal/util"

	"github.com/google/uuid"
)

// RunRecorder persists analysis run summaries. storage.RunRepo satisfies it.
type RunRecorder interface {
	CreateRun(ctx context.Context, run models.AnalysisRun) error
	FinishRun(ctx context.Context, runID, status, provider string, groupCount int) error
}

type Options struct {
	// TTL expires sessions idle for longer than this. Zero keeps them forever.
	TTL      time.Duration
	Recorder RunRecorder
}

// Store owns every live session.
type Store struct {
	analyzer analysis.Analyzer
	opts     Options

	mu       sync.RWMutex
	sessions map[string]*Session

	now   func() time.Time
	newID func() string
}

func NewStore(analyzer analysis.Analyzer, opts Options) *Store {
	return &Store{
		analyzer: analyzer,
		opts:     opts,
		sessions: map[string]*Session{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *Store) Create(filename, sha string, tbl *table.Table) *Session {
	now := s.now()
	sess := &Session{
		ID:        s.newID(),
		Filename:  filename,
		SHA256:    sha,
		Table:     tbl,
		CreatedAt: now,
	}
	sess.touch(now)
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	log.Printf("session %s created: %s (%d rows, %d columns)", sess.ID, filename, tbl.Len(), len(tbl.Columns))
	return sess
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s not found", util.ErrNotFound, id)
	}
	sess.touch(s.now())
	return sess, nil
}

func (s *Store) Discard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: session %s not found", util.ErrNotFound, id)
	}
	delete(s.sessions, id)
	log.Printf("session %s discarded", id)
	return nil
}

// List returns session ids, oldest first.
func (s *Store) List() []string {
	s.mu.RLock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	ids := make([]string, len(all))
	for i, sess := range all {
		ids[i] = sess.ID
	}
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops sessions idle longer than the TTL and returns how many went.
func (s *Store) Sweep() int {
	if s.opts.TTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.opts.TTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.LastUsed().Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	if n > 0 {
		log.Printf("expired %d idle session(s)", n)
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if s.opts.TTL <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

// Analyze groups the session's rows by the selected columns and makes the
// result the current run. On failure the previous run stays current.
func (s *Store) Analyze(ctx context.Context, sessionID string, columns []string, threshold float64) (*Run, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: similarity threshold must be a finite number", util.ErrValidation)
	}
	texts, err := sess.Table.RowTexts(columns)
	if err != nil {
		return nil, err
	}

	sess.analyzeMu.Lock()
	defer sess.analyzeMu.Unlock()

	runID := s.newID()
	s.recordStart(ctx, models.AnalysisRun{
		RunID:     runID,
		SessionID: sess.ID,
		Columns:   columns,
		Threshold: threshold,
		RowCount:  len(texts),
		Status:    "running",
		CreatedAt: s.now(),
	})
	res, err := s.analyzer.Analyze(ctx, analysis.Request{RunID: runID, SessionID: sess.ID, Texts: texts, Threshold: threshold})
	if err != nil {
		s.recordFinish(ctx, runID, "failed", "", 0)
		return nil, err
	}
	run := newRun(runID, columns, threshold, res.Groups, res.Provider, s.now())
	sess.setRun(run)
	s.recordFinish(ctx, runID, "completed", res.Provider.Name, len(res.Groups))
	log.Printf("session %s run %s: %d group(s) over %d rows at threshold %.3f", sess.ID, runID, len(res.Groups), len(texts), threshold)
	return run, nil
}

// ReviewResult reports the verdict just recorded and progress on the run.
type ReviewResult struct {
	GroupID string
	Verdict models.Verdict
	Tally   models.VerdictTally
	Total   int
}

// Review records a verdict for a group of the current run. Ids from an
// earlier run are not found.
func (s *Store) Review(sessionID, groupID string, isDuplicate bool) (ReviewResult, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return ReviewResult{}, err
	}
	run := sess.Current()
	if run == nil {
		return ReviewResult{}, fmt.Errorf("%w: group %s not found", util.ErrNotFound, groupID)
	}
	if _, ok := run.Group(groupID); !ok {
		return ReviewResult{}, fmt.Errorf("%w: group %s not found", util.ErrNotFound, groupID)
	}
	run.Ledger.SetVerdict(groupID, isDuplicate)
	verdicts := run.Ledger.Snapshot()
	return ReviewResult{
		GroupID: groupID,
		Verdict: verdicts.Verdict(groupID),
		Tally:   verdicts.Tally(run.Groups),
		Total:   len(run.Groups),
	}, nil
}

func (s *Store) Status(sessionID string) (models.SessionStatus, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return models.SessionStatus{}, err
	}
	return sess.Status(), nil
}

// Export canonicalizes the current run and assembles the report views. A
// session that was never analyzed exports with no groups.
func (s *Store) Export(sessionID string) (*Session, *report.Report, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	in := report.Input{Table: sess.Table}
	verdicts := dedupe.Verdicts{}
	if run := sess.Current(); run != nil {
		threshold := run.Threshold
		verdicts = run.Ledger.Snapshot()
		in.Groups = run.Groups
		in.Verdicts = verdicts.Tally(run.Groups)
		in.Threshold = &threshold
		in.Columns = run.Columns
	}
	res, err := dedupe.Canonicalize(in.Groups, verdicts)
	if err != nil {
		return nil, nil, err
	}
	in.Resolution = res
	return sess, report.Assemble(in), nil
}

func (s *Store) recordStart(ctx context.Context, run models.AnalysisRun) {
	if s.opts.Recorder == nil {
		return
	}
	if err := s.opts.Recorder.CreateRun(ctx, run); err != nil {
		log.Printf("record run %s start failed: %v", run.RunID, err)
	}
}

func (s *Store) recordFinish(ctx context.Context, runID, status, provider string, groups int) {
	if s.opts.Recorder == nil {
		return
	}
	if err := s.opts.Recorder.FinishRun(context.WithoutCancel(ctx), runID, status, provider, groups); err != nil {
		log.Printf("record run %s finish failed: %v", runID, err)
	}
}
