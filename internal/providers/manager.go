package providers

import (
	"fmt"
	"strings"

	"dsstrack/internal/config"
)

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

// Manager holds the configured embedding providers in failover order.
type Manager struct {
	embedProviders []NamedEmbedProvider
	dim            int
}

func NewManager(cfg config.Config) (*Manager, error) {
	m := &Manager{dim: cfg.EmbedDim}
	for _, ref := range ParseProviderList(cfg.EmbedProviders) {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: p})
	}
	return m, nil
}

// NewStaticManager wraps already built providers. Used by tests and by
// callers that construct providers themselves.
func NewStaticManager(dim int, providers ...NamedEmbedProvider) *Manager {
	return &Manager{embedProviders: providers, dim: dim}
}

func (m *Manager) Dimension() int {
	return m.dim
}

func (m *Manager) EmbedProviderByIndex(i int) (EmbeddingProvider, ProviderRef) {
	if len(m.embedProviders) == 0 {
		return NewMockProvider(m.dim), ProviderRef{Raw: "mock", Name: "mock"}
	}
	if i < 0 || i >= len(m.embedProviders) {
		i = 0
	}
	return m.embedProviders[i].Provider, m.embedProviders[i].Ref
}

func (m *Manager) EmbedCount() int {
	return len(m.embedProviders)
}

// PreferredEmbedOrder lists real providers before the mock.
func (m *Manager) PreferredEmbedOrder() []int {
	n := len(m.embedProviders)
	if n == 0 {
		return []int{0}
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if m.embedProviders[i].Ref.Name != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if m.embedProviders[i].Ref.Name == "mock" {
			out = append(out, i)
		}
	}
	return out
}

func (m *Manager) EmbedProviderRefs() []ProviderRef {
	out := make([]ProviderRef, 0, len(m.embedProviders))
	for i := range m.embedProviders {
		out = append(out, m.embedProviders[i].Ref)
	}
	return out
}

func (m *Manager) FindEmbedProviderIndex(raw string) int {
	target := strings.ToLower(strings.TrimSpace(raw))
	if target == "" {
		return -1
	}
	for i := range m.embedProviders {
		ref := m.embedProviders[i].Ref
		if target == strings.ToLower(ref.Raw) || target == ref.Name || target == strings.ToLower(ref.String()) {
			return i
		}
	}
	return -1
}

func buildProvider(ref ProviderRef, dim int) (EmbeddingProvider, error) {
	switch ref.Name {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaEmbeddingProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ref.Raw)
	}
}
