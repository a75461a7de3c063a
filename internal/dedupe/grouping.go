package dedupe

import (
	"fmt"
	"math"

	"dsstrack/internal/models"
	"dsstrack/internal/util"

	"github.com/google/uuid"
)

// Matrix is a read-only N x N similarity table. Entry (i, j) is the score of
// row i toward row j; symmetry is not assumed.
type Matrix interface {
	Len() int
	At(i, j int) float64
}

// Dense adapts a square [][]float64 to Matrix.
type Dense [][]float64

func (d Dense) Len() int            { return len(d) }
func (d Dense) At(i, j int) float64 { return d[i][j] }

// Validate checks that every row has exactly Len() entries.
func (d Dense) Validate() error {
	for i, row := range d {
		if len(row) != len(d) {
			return fmt.Errorf("%w: similarity row %d has %d entries, want %d", util.ErrValidation, i, len(row), len(d))
		}
	}
	return nil
}

// Grouper partitions rows into candidate duplicate groups.
type Grouper struct {
	newID func() string
}

// NewGrouper returns a Grouper that labels groups with newID, or random UUIDs
// when newID is nil.
func NewGrouper(newID func() string) *Grouper {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Grouper{newID: newID}
}

// Group scans anchors in ascending row order. An unclaimed anchor i collects
// every unclaimed j != i with m.At(i, j) >= threshold; if it collects anything,
// the anchor and its collection form a group and are claimed. A row therefore
// belongs to at most one group, and groups are returned in anchor order.
func (g *Grouper) Group(m Matrix, threshold float64) ([]models.DuplicateGroup, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: threshold must be finite", util.ErrValidation)
	}
	if d, ok := m.(Dense); ok {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}

	n := m.Len()
	claimed := make([]bool, n)
	groups := make([]models.DuplicateGroup, 0)
	for i := 0; i < n; i++ {
		if claimed[i] {
			continue
		}
		members := []int{i}
		for j := 0; j < n; j++ {
			if j == i || claimed[j] {
				continue
			}
			if m.At(i, j) >= threshold {
				members = append(members, j)
			}
		}
		if len(members) == 1 {
			continue
		}
		for _, idx := range members {
			claimed[idx] = true
		}
		groups = append(groups, models.DuplicateGroup{
			ID:      g.newID(),
			Members: members,
			Scores:  pairwiseScores(m, members),
		})
	}
	return groups, nil
}

// Group runs a Grouper with random UUID labels.
func Group(m Matrix, threshold float64) ([]models.DuplicateGroup, error) {
	return NewGrouper(nil).Group(m, threshold)
}

func pairwiseScores(m Matrix, members []int) map[int]map[int]float64 {
	scores := make(map[int]map[int]float64, len(members))
	for _, a := range members {
		row := make(map[int]float64, len(members)-1)
		for _, b := range members {
			if a == b {
				continue
			}
			row[b] = m.At(a, b)
		}
		scores[a] = row
	}
	return scores
}
