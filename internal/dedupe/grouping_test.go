package dedupe

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"dsstrack/internal/util"

	"github.com/stretchr/testify/require"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("g%d", n)
	}
}

func TestGroupSingleCluster(t *testing.T) {
	m := Dense{
		{1, .9, .1},
		{.9, 1, .2},
		{.1, .2, 1},
	}
	groups, err := NewGrouper(seqIDs()).Group(m, 0.85)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "g1", groups[0].ID)
	require.Equal(t, 0, groups[0].Anchor())
	require.Equal(t, []int{0, 1}, groups[0].Members)
	require.NotContains(t, groups[0].Members, 2)

	s, ok := groups[0].Score(0, 1)
	require.True(t, ok)
	require.Equal(t, .9, s)
}

func TestGroupAllBelowThreshold(t *testing.T) {
	m := Dense{
		{1, .5, .5, .5},
		{.5, 1, .5, .5},
		{.5, .5, 1, .5},
		{.5, .5, .5, 1},
	}
	groups, err := Group(m, 0.85)
	require.NoError(t, err)
	require.Empty(t, groups)
}

func TestGroupSingleRow(t *testing.T) {
	groups, err := Group(Dense{{1}}, 0)
	require.NoError(t, err)
	require.Empty(t, groups)
}

func TestGroupThresholdInclusive(t *testing.T) {
	m := Dense{
		{1, .85},
		{.85, 1},
	}
	groups, err := Group(m, 0.85)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, []int{0, 1}, groups[0].Members)
}

func TestGroupIgnoresDiagonal(t *testing.T) {
	m := Dense{
		{5, 0},
		{0, 5},
	}
	groups, err := Group(m, 1)
	require.NoError(t, err)
	require.Empty(t, groups)
}

func TestGroupReadsAnchorRowOnly(t *testing.T) {
	// Row 0 does not reach row 1, but row 1 reaches row 0.
	m := Dense{
		{1, .1, .2},
		{.95, 1, .3},
		{.2, .3, 1},
	}
	groups, err := Group(m, 0.9)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, []int{1, 0}, groups[0].Members)

	// Scores are stored as read, including the asymmetric pair.
	s, _ := groups[0].Score(1, 0)
	require.Equal(t, .95, s)
	s, _ = groups[0].Score(0, 1)
	require.Equal(t, .1, s)
}

func TestGroupFirstAnchorWins(t *testing.T) {
	// Row 2 is closer to row 3 but row 0 claims it first.
	m := Dense{
		{1, .1, .86, .1},
		{.1, 1, .1, .1},
		{.86, .1, 1, .99},
		{.1, .1, .99, 1},
	}
	groups, err := Group(m, 0.85)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, []int{0, 2}, groups[0].Members)
}

func TestGroupStoresAllPairs(t *testing.T) {
	m := Dense{
		{1, .9, .95},
		{.9, 1, .4},
		{.95, .41, 1},
	}
	groups, err := Group(m, 0.85)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	g := groups[0]
	require.Equal(t, []int{0, 1, 2}, g.Members)
	for _, a := range g.Members {
		require.Len(t, g.Scores[a], 2)
	}
	s, _ := g.Score(1, 2)
	require.Equal(t, .4, s)
	s, _ = g.Score(2, 1)
	require.Equal(t, .41, s)
}

func TestGroupRejectsBadInput(t *testing.T) {
	_, err := Group(Dense{{1, 2}, {1}}, 0.5)
	require.ErrorIs(t, err, util.ErrValidation)

	_, err = Group(Dense{{1}}, math.NaN())
	require.ErrorIs(t, err, util.ErrValidation)
}

func TestGroupPropertiesOnRandomMatrices(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(30)
		m := randomMatrix(rng, n)
		threshold := rng.Float64()*2 - 1

		first, err := Group(m, threshold)
		require.NoError(t, err)

		seen := map[int]bool{}
		for _, g := range first {
			require.GreaterOrEqual(t, len(g.Members), 2)
			anchor := g.Anchor()
			for k, member := range g.Members {
				require.False(t, seen[member], "row %d appears twice", member)
				seen[member] = true
				if k == 0 {
					continue
				}
				require.GreaterOrEqual(t, m.At(anchor, member), threshold)
				if k > 1 {
					require.Greater(t, member, g.Members[k-1])
				}
			}
		}
		for k := 1; k < len(first); k++ {
			require.Greater(t, first[k].Anchor(), first[k-1].Anchor())
		}

		second, err := Group(m, threshold)
		require.NoError(t, err)
		require.Len(t, second, len(first))
		for k := range first {
			require.Equal(t, first[k].Members, second[k].Members)
			require.NotEqual(t, first[k].ID, second[k].ID)
		}
	}
}

func TestGroupMonotoneOnSeparatedClusters(t *testing.T) {
	// Three tight clusters with different internal similarity and no cross
	// cluster similarity above any tested threshold.
	clusters := [][]int{{0, 1, 2}, {3, 4}, {5, 6, 7, 8}}
	inner := []float64{.97, .91, .88}
	n := 9
	m := make(Dense, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	for c, rows := range clusters {
		for _, a := range rows {
			for _, b := range rows {
				if a != b {
					m[a][b] = inner[c]
				}
			}
		}
	}

	prev := n + 1
	for _, threshold := range []float64{.5, .88, .9, .95, .99} {
		groups, err := Group(m, threshold)
		require.NoError(t, err)
		grouped := 0
		for _, g := range groups {
			grouped += len(g.Members)
		}
		require.LessOrEqual(t, grouped, prev, "threshold %v", threshold)
		prev = grouped
	}
}

func randomMatrix(rng *rand.Rand, n int) Dense {
	m := make(Dense, n)
	for i := range m {
		m[i] = make([]float64, n)
		for j := range m[i] {
			if i == j {
				m[i][j] = 1
				continue
			}
			m[i][j] = rng.Float64()*2 - 1
		}
	}
	return m
}
