package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dsstrack/internal/dedupe"
	"dsstrack/internal/providers"
	"dsstrack/internal/storage"
	"dsstrack/internal/util"

	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	name  string
	mu    sync.Mutex
	calls int
	errs  []error
}

func (p *scriptedProvider) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	p.mu.Lock()
	call := p.calls
	p.calls++
	p.mu.Unlock()
	info := providers.ProviderInfo{Name: p.name, Model: p.name + "-model"}
	if call < len(p.errs) && p.errs[call] != nil {
		return nil, info, p.errs[call]
	}
	return providers.NewMockProvider(req.Dimension).Embed(ctx, req)
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]float32
	puts int
}

func (c *memCache) GetMany(_ context.Context, keys []string) (map[string][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string][]float32{}
	for _, k := range keys {
		if v, ok := c.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (c *memCache) PutMany(_ context.Context, entries []storage.CachedEmbedding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.data[e.Key] = e.Vector
		c.puts++
	}
	return nil
}

type memAudit struct {
	mu   sync.Mutex
	recs []storage.EmbedCallRecord
}

func (a *memAudit) Insert(_ context.Context, rec storage.EmbedCallRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func named(name string, p providers.EmbeddingProvider) providers.NamedEmbedProvider {
	return providers.NamedEmbedProvider{Ref: providers.ProviderRef{Raw: name, Name: name}, Provider: p}
}

func newTestEmbedder(opts EmbedderOptions, ps ...providers.NamedEmbedProvider) *Embedder {
	e := NewEmbedder(providers.NewStaticManager(32, ps...), opts)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestEmbedAllBatchesInOrder(t *testing.T) {
	p := &scriptedProvider{name: "ollama"}
	e := newTestEmbedder(EmbedderOptions{BatchSize: 2, Concurrency: 3}, named("ollama", p))
	texts := []string{"a", "b", "c", "d", "a"}

	vecs, info, err := e.EmbedAll(context.Background(), CallMeta{}, texts)
	require.NoError(t, err)
	require.Equal(t, "mock", info.Name)
	require.Len(t, vecs, 5)
	require.Equal(t, vecs[0], vecs[4])
	require.NotEqual(t, vecs[0], vecs[1])
	require.Equal(t, 3, p.Calls())
}

func TestEmbedAllRetriesTransientThenSucceeds(t *testing.T) {
	p := &scriptedProvider{name: "ollama", errs: []error{errors.New("ollama embedding error 503: loading")}}
	audit := &memAudit{}
	e := newTestEmbedder(EmbedderOptions{BatchSize: 10, Audit: audit}, named("ollama", p))

	_, _, err := e.EmbedAll(context.Background(), CallMeta{RunID: "r1"}, []string{"x"})
	require.NoError(t, err)
	require.Equal(t, 2, p.Calls())
	require.Len(t, audit.recs, 2)
	require.Equal(t, "failed", audit.recs[0].Status)
	require.Equal(t, "transient", audit.recs[0].ErrorType)
	require.Equal(t, "ok", audit.recs[1].Status)
	require.Equal(t, "r1", audit.recs[1].RunID)
}

func TestEmbedAllFailsOverWholeCall(t *testing.T) {
	bad := &scriptedProvider{name: "openai", errs: []error{errors.New("openai embedding error 401: invalid key")}}
	good := &scriptedProvider{name: "ollama"}
	e := newTestEmbedder(EmbedderOptions{BatchSize: 1}, named("openai", bad), named("ollama", good))

	vecs, _, err := e.EmbedAll(context.Background(), CallMeta{}, []string{"x", "y"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, 1, bad.Calls())
	require.Equal(t, 2, good.Calls())

	// The failed provider is cooling down and is skipped next time.
	_, _, err = e.EmbedAll(context.Background(), CallMeta{}, []string{"z"})
	require.NoError(t, err)
	require.Equal(t, 1, bad.Calls())
}

func TestEmbedAllUnavailableWhenAllFail(t *testing.T) {
	bad := &scriptedProvider{name: "openai", errs: []error{errors.New("insufficient_quota")}}
	e := newTestEmbedder(EmbedderOptions{}, named("openai", bad))

	_, _, err := e.EmbedAll(context.Background(), CallMeta{}, []string{"x"})
	require.ErrorIs(t, err, util.ErrUnavailable)

	_, _, err = e.EmbedAll(context.Background(), CallMeta{}, []string{"x"})
	require.ErrorIs(t, err, util.ErrUnavailable)
	require.Equal(t, 1, bad.Calls())
}

func TestEmbedAllContextLengthIsValidation(t *testing.T) {
	bad := &scriptedProvider{name: "openai", errs: []error{errors.New("maximum context length exceeded")}}
	e := newTestEmbedder(EmbedderOptions{}, named("openai", bad))
	_, _, err := e.EmbedAll(context.Background(), CallMeta{}, []string{"x"})
	require.ErrorIs(t, err, util.ErrValidation)
}

func TestEmbedAllUsesCache(t *testing.T) {
	p := &scriptedProvider{name: "ollama"}
	cache := &memCache{data: map[string][]float32{}}
	e := newTestEmbedder(EmbedderOptions{BatchSize: 10, Cache: cache}, named("ollama", p))

	first, _, err := e.EmbedAll(context.Background(), CallMeta{}, []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, 1, p.Calls())
	require.Equal(t, 2, cache.puts)

	second, _, err := e.EmbedAll(context.Background(), CallMeta{}, []string{"b", "a", "c"})
	require.NoError(t, err)
	require.Equal(t, 2, p.Calls())
	require.Equal(t, first[1], second[0])
	require.Equal(t, first[0], second[1])
}

func TestReadinessWarm(t *testing.T) {
	var r Readiness
	require.False(t, r.Ready())

	attempts := 0
	err := r.Warm(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("model loading")
		}
		return nil
	}, 3, time.Millisecond)
	require.NoError(t, err)
	require.True(t, r.Ready())
	require.NoError(t, r.LastError())

	var never Readiness
	err = never.Warm(context.Background(), func(context.Context) error { return errors.New("down") }, 2, time.Millisecond)
	require.ErrorIs(t, err, util.ErrUnavailable)
	require.False(t, never.Ready())
	require.ErrorIs(t, never.requireReady(), util.ErrUnavailable)
}

func TestLocalAnalyze(t *testing.T) {
	e := newTestEmbedder(EmbedderOptions{BatchSize: 2}, named("mock", providers.NewMockProvider(32)))
	l := NewLocal(e, dedupe.NewGrouper(nil), 2)

	_, err := l.Analyze(context.Background(), Request{Texts: []string{"a"}, Threshold: 0.9})
	require.ErrorIs(t, err, util.ErrUnavailable)

	require.NoError(t, l.Warmup(context.Background(), 1, 0))
	require.True(t, l.Ready())

	_, err = l.Analyze(context.Background(), Request{Threshold: 0.9})
	require.ErrorIs(t, err, util.ErrValidation)

	res, err := l.Analyze(context.Background(), Request{
		Texts:     []string{"Acme Corp Berlin", "Globex Springfield", "Acme Corp Berlin", "Initech Austin"},
		Threshold: 0.99,
	})
	require.NoError(t, err)
	require.Equal(t, "mock", res.Provider.Name)
	require.Len(t, res.Groups, 1)
	require.Equal(t, []int{0, 2}, res.Groups[0].Members)
}
