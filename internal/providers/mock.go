package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// MockProvider embeds text without a model. Each word and each character
// trigram is hashed into a signed bucket, so texts that share words or spelling
// land close together. Output is deterministic and unit length.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 384
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	info := ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		if err := ctx.Err(); err != nil {
			return nil, info, err
		}
		vectors = append(vectors, featureVector(input, dim))
	}
	return vectors, info, nil
}

func featureVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		addFeature(vec, "w:"+w, 1)
		padded := []rune(" " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			addFeature(vec, "t:"+string(padded[i:i+3]), 0.5)
		}
	}
	return normalize(vec)
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
