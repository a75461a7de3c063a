package dedupe

import (
	"sync"

	"dsstrack/internal/models"
)

// Ledger records reviewer verdicts for the groups of a single run. Groups
// without an entry are pending. Later writes replace earlier ones.
type Ledger struct {
	mu       sync.RWMutex
	verdicts map[string]models.Verdict
}

func NewLedger() *Ledger {
	return &Ledger{verdicts: map[string]models.Verdict{}}
}

func (l *Ledger) SetVerdict(groupID string, isDuplicate bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verdicts[groupID] = models.VerdictFor(isDuplicate)
}

func (l *Ledger) Verdict(groupID string) models.Verdict {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.verdicts[groupID]; ok {
		return v
	}
	return models.VerdictPending
}

// Count returns how many recorded entries carry v. Pending groups have no
// entry, so counting them needs the group list; see Tally.
func (l *Ledger) Count(v models.Verdict) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, got := range l.verdicts {
		if got == v {
			n++
		}
	}
	return n
}

// Tally counts the verdict of every group in groups.
func (l *Ledger) Tally(groups []models.DuplicateGroup) models.VerdictTally {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Verdicts(l.verdicts).Tally(groups)
}

// Snapshot copies the recorded verdicts. Readers that derive more than one
// view from the ledger take a single snapshot so the views agree.
func (l *Ledger) Snapshot() Verdicts {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(Verdicts, len(l.verdicts))
	for k, v := range l.verdicts {
		out[k] = v
	}
	return out
}

// Verdicts is a point-in-time copy of a ledger.
type Verdicts map[string]models.Verdict

func (v Verdicts) Verdict(groupID string) models.Verdict {
	if got, ok := v[groupID]; ok {
		return got
	}
	return models.VerdictPending
}

func (v Verdicts) Tally(groups []models.DuplicateGroup) models.VerdictTally {
	var t models.VerdictTally
	for _, g := range groups {
		switch v[g.ID] {
		case models.VerdictConfirmedDuplicate:
			t.ConfirmedDuplicate++
		case models.VerdictConfirmedNotDuplicate:
			t.ConfirmedNotDuplicate++
		default:
			t.Pending++
		}
	}
	return t
}
