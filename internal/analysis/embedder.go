package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"dsstrack/internal/providers"
	"dsstrack/internal/storage"
	"dsstrack/internal/util"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// EmbeddingCache is satisfied by storage.EmbeddingCacheRepo.
type EmbeddingCache interface {
	GetMany(ctx context.Context, keys []string) (map[string][]float32, error)
	PutMany(ctx context.Context, entries []storage.CachedEmbedding) error
}

// CallAuditor is satisfied by storage.EmbedAuditRepo.
type CallAuditor interface {
	Insert(ctx context.Context, rec storage.EmbedCallRecord) error
}

type EmbedderOptions struct {
	BatchSize   int
	Concurrency int
	Cooldown    time.Duration
	Cache       EmbeddingCache
	Audit       CallAuditor
}

// CallMeta tags provider calls for the audit log.
type CallMeta struct {
	RunID     string
	SessionID string
	Operation string
}

// Embedder turns row texts into vectors using the configured providers.
// Every vector of one EmbedAll call comes from the same provider so scores
// stay comparable; failover moves the whole call to the next provider.
type Embedder struct {
	pm   *providers.Manager
	opts EmbedderOptions

	mu            sync.Mutex
	disabledUntil map[int]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEmbedder(pm *providers.Manager, opts EmbedderOptions) *Embedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 15 * time.Minute
	}
	return &Embedder{
		pm:            pm,
		opts:          opts,
		disabledUntil: map[int]time.Time{},
		now:           time.Now,
		sleep:         sleepCtx,
	}
}

// Probe embeds a short text, bypassing the cache, and succeeds as soon as any
// provider answers.
func (e *Embedder) Probe(ctx context.Context) error {
	meta := CallMeta{Operation: "warmup"}
	var lastErr error
	for _, idx := range e.pm.PreferredEmbedOrder() {
		p, ref := e.pm.EmbedProviderByIndex(idx)
		_, info, err := p.Embed(ctx, providers.EmbedRequest{Operation: meta.Operation, Inputs: []string{"warm up"}, Dimension: e.pm.Dimension()})
		e.audit(ctx, meta, ref, info, 1, err)
		if err == nil {
			return nil
		}
		lastErr = fmt.Errorf("%s: %w", ref.String(), err)
	}
	return lastErr
}

func (e *Embedder) EmbedAll(ctx context.Context, meta CallMeta, texts []string) ([][]float32, providers.ProviderInfo, error) {
	if len(texts) == 0 {
		return nil, providers.ProviderInfo{}, nil
	}
	var lastErr error
	for _, idx := range e.pm.PreferredEmbedOrder() {
		if e.isDisabled(idx) {
			continue
		}
		vecs, info, err := e.embedWith(ctx, meta, idx, texts)
		if err == nil {
			return vecs, info, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, providers.ProviderInfo{}, ctxErr
		}
		lastErr = err
		errType := providers.ClassifyError(err)
		_, ref := e.pm.EmbedProviderByIndex(idx)
		log.Printf("embed provider %s failed (%s): %v", ref.String(), errType, err)
		switch errType {
		case providers.ErrorContext:
			return nil, providers.ProviderInfo{}, fmt.Errorf("%w: row text too long for embedding model: %v", util.ErrValidation, err)
		case providers.ErrorQuota:
			e.disableFor(idx, e.opts.Cooldown)
		case providers.ErrorRate:
			e.disableFor(idx, 2*time.Minute)
		case providers.ErrorPermanent:
			e.disableFor(idx, time.Minute)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("all embed providers cooling down")
	}
	return nil, providers.ProviderInfo{}, fmt.Errorf("%w: %v", util.ErrUnavailable, lastErr)
}

// embedWith embeds every text on provider idx, serving what it can from the
// cache and splitting the rest into concurrent batches.
func (e *Embedder) embedWith(ctx context.Context, meta CallMeta, idx int, texts []string) ([][]float32, providers.ProviderInfo, error) {
	provider, ref := e.pm.EmbedProviderByIndex(idx)
	dim := e.pm.Dimension()
	out := make([][]float32, len(texts))
	info := providers.ProviderInfo{Name: ref.Name, Key: ref.KeyAlias}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = util.EmbeddingKey(ref.String(), dim, t)
	}
	missing := e.fillFromCache(ctx, keys, out)
	if len(missing) == 0 {
		return out, info, nil
	}

	var infoMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for start := 0; start < len(missing); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(missing))
		batch := missing[start:end]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			inputs := make([]string, len(batch))
			for k, i := range batch {
				inputs[k] = texts[i]
			}
			vecs, got, err := e.callWithRetry(gctx, meta, provider, ref, dim, inputs)
			if err != nil {
				return err
			}
			if len(vecs) != len(inputs) {
				return fmt.Errorf("provider %s returned %d vectors for %d inputs", ref.String(), len(vecs), len(inputs))
			}
			entries := make([]storage.CachedEmbedding, 0, len(batch))
			for k, i := range batch {
				out[i] = vecs[k]
				entries = append(entries, storage.CachedEmbedding{Key: keys[i], Model: got.Model, Dimension: dim, Vector: vecs[k]})
			}
			infoMu.Lock()
			info = got
			infoMu.Unlock()
			e.storeInCache(gctx, entries)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, info, err
	}
	return out, info, nil
}

// callWithRetry retries rate limited and transient failures twice on the
// same provider before giving up.
func (e *Embedder) callWithRetry(ctx context.Context, meta CallMeta, p providers.EmbeddingProvider, ref providers.ProviderRef, dim int, inputs []string) ([][]float32, providers.ProviderInfo, error) {
	var lastErr error
	for retry := 0; retry <= 2; retry++ {
		vecs, info, err := p.Embed(ctx, providers.EmbedRequest{Operation: meta.Operation, Inputs: inputs, Dimension: dim})
		e.audit(ctx, meta, ref, info, len(inputs), err)
		if err == nil {
			return vecs, info, nil
		}
		lastErr = err
		errType := providers.ClassifyError(err)
		if errType != providers.ErrorRate && errType != providers.ErrorTransient {
			return nil, info, err
		}
		if retry == 2 {
			break
		}
		backoff := time.Duration(retry+1) * time.Second
		if errType == providers.ErrorRate {
			backoff *= 2
		}
		if err := e.sleep(ctx, backoff); err != nil {
			return nil, info, err
		}
	}
	return nil, providers.ProviderInfo{}, lastErr
}

func (e *Embedder) fillFromCache(ctx context.Context, keys []string, out [][]float32) []int {
	missing := make([]int, 0, len(keys))
	var hits map[string][]float32
	if e.opts.Cache != nil {
		got, err := e.opts.Cache.GetMany(ctx, uniqueKeys(keys))
		if err != nil {
			log.Printf("embedding cache lookup failed: %v", err)
		} else {
			hits = got
		}
	}
	for i, k := range keys {
		if v, ok := hits[k]; ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}
	return missing
}

func (e *Embedder) storeInCache(ctx context.Context, entries []storage.CachedEmbedding) {
	if e.opts.Cache == nil {
		return
	}
	if err := e.opts.Cache.PutMany(ctx, entries); err != nil {
		log.Printf("embedding cache write failed: %v", err)
	}
}

func (e *Embedder) audit(ctx context.Context, meta CallMeta, ref providers.ProviderRef, info providers.ProviderInfo, n int, callErr error) {
	if e.opts.Audit == nil {
		return
	}
	rec := storage.EmbedCallRecord{
		CallID:       uuid.NewString(),
		RunID:        meta.RunID,
		SessionID:    meta.SessionID,
		ProviderName: ref.String(),
		Model:        info.Model,
		InputCount:   n,
		Status:       "ok",
	}
	if callErr != nil {
		rec.Status = "failed"
		rec.ErrorType = string(providers.ClassifyError(callErr))
	}
	if err := e.opts.Audit.Insert(ctx, rec); err != nil {
		log.Printf("embed audit insert failed: %v", err)
	}
}

func (e *Embedder) isDisabled(idx int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.disabledUntil[idx]
	return ok && e.now().Before(until)
}

func (e *Embedder) disableFor(idx int, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disabledUntil[idx] = e.now().Add(d)
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
