package vector

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// CosineSimilarity returns a value between -1 and 1, where 1 means identical
// direction. Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize returns v scaled to unit length. A zero vector is returned as zeros.
func Normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var norm float64
	for i, x := range v {
		out[i] = float64(x)
		norm += out[i] * out[i]
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}

// Matrix is a dense row-major N x N score table.
type Matrix struct {
	n    int
	data []float64
}

func NewMatrix(n int) *Matrix {
	return &Matrix{n: n, data: make([]float64, n*n)}
}

func (m *Matrix) Len() int            { return m.n }
func (m *Matrix) At(i, j int) float64 { return m.data[i*m.n+j] }
func (m *Matrix) Set(i, j int, v float64) {
	m.data[i*m.n+j] = v
}

// Rows copies the matrix into nested slices.
func (m *Matrix) Rows() [][]float64 {
	out := make([][]float64, m.n)
	for i := range out {
		out[i] = append([]float64(nil), m.data[i*m.n:(i+1)*m.n]...)
	}
	return out
}

// CosineMatrix computes pairwise cosine similarity of vectors. Rows are split
// across at most workers goroutines.
func CosineMatrix(ctx context.Context, vectors [][]float32, workers int) (*Matrix, error) {
	n := len(vectors)
	unit := make([][]float64, n)
	for i, v := range vectors {
		if len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), len(vectors[0]))
		}
		unit[i] = Normalize(v)
	}

	m := NewMatrix(n)
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for j := 0; j < n; j++ {
				m.Set(i, j, dot(unit[i], unit[j]))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compute similarity matrix: %w", err)
	}
	return m, nil
}

func dot(a, b []float64) float64 {
	var s float64
	for k := range a {
		s += a[k] * b[k]
	}
	return s
}
