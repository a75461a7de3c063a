package dedupe

import (
	"fmt"
	"sort"

	"dsstrack/internal/models"
	"dsstrack/internal/util"
)

// VerdictSource looks up the verdict of a group.
type VerdictSource interface {
	Verdict(groupID string) models.Verdict
}

// Resolution is the outcome of canonicalizing the confirmed groups of a run.
type Resolution struct {
	canonical map[int]int
	groupOf   map[int]string
	removed   []int
	confirmed []models.DuplicateGroup
}

// Canonicalize picks the anchor of every confirmed group as its canonical row
// and marks the other members for removal. A row that appears in more than one
// confirmed group is an invariant violation.
func Canonicalize(groups []models.DuplicateGroup, verdicts VerdictSource) (*Resolution, error) {
	res := &Resolution{
		canonical: map[int]int{},
		groupOf:   map[int]string{},
	}
	for _, g := range groups {
		if verdicts.Verdict(g.ID) != models.VerdictConfirmedDuplicate {
			continue
		}
		if len(g.Members) < 2 {
			return nil, fmt.Errorf("%w: group %s has %d members", util.ErrInvariant, g.ID, len(g.Members))
		}
		anchor := g.Anchor()
		for _, m := range g.Members {
			if prev, ok := res.groupOf[m]; ok {
				return nil, fmt.Errorf("%w: row %d is in confirmed groups %s and %s", util.ErrInvariant, m, prev, g.ID)
			}
			res.groupOf[m] = g.ID
			res.canonical[m] = anchor
		}
		res.removed = append(res.removed, g.Members[1:]...)
		res.confirmed = append(res.confirmed, g)
	}
	sort.Ints(res.removed)
	return res, nil
}

// Canonical returns the canonical row for i. Rows outside confirmed groups
// are their own canonical.
func (r *Resolution) Canonical(i int) int {
	if c, ok := r.canonical[i]; ok {
		return c
	}
	return i
}

// Mapping returns the canonical row of every member of a confirmed group.
func (r *Resolution) Mapping() map[int]int {
	out := make(map[int]int, len(r.canonical))
	for k, v := range r.canonical {
		out[k] = v
	}
	return out
}

// Removed returns the rows dropped from the de-duplicated view, ascending.
func (r *Resolution) Removed() []int {
	return append([]int(nil), r.removed...)
}

func (r *Resolution) IsRemoved(i int) bool {
	c, ok := r.canonical[i]
	return ok && c != i
}

// GroupOf returns the confirmed group that contains row i.
func (r *Resolution) GroupOf(i int) (string, bool) {
	id, ok := r.groupOf[i]
	return id, ok
}

// Confirmed returns the confirmed groups in run order.
func (r *Resolution) Confirmed() []models.DuplicateGroup {
	return r.confirmed
}
