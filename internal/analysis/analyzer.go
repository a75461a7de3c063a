package analysis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dsstrack/internal/models"
	"dsstrack/internal/providers"
	"dsstrack/internal/util"
)

// Request is one analysis of a session's rows.
type Request struct {
	RunID     string
	SessionID string
	Texts     []string
	Threshold float64
}

type Result struct {
	Groups   []models.DuplicateGroup
	Provider providers.ProviderInfo
}

// Analyzer embeds row texts, scores every pair and groups near-duplicates.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Result, error)
	Ready() bool
}

// Readiness tracks whether the embedding backend has answered a probe.
type Readiness struct {
	ready atomic.Bool
	mu    sync.Mutex
	err   error
}

func (r *Readiness) Ready() bool {
	return r.ready.Load()
}

// LastError returns the most recent warm-up failure.
func (r *Readiness) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Warm runs probe up to attempts times, delay apart, and marks the backend
// ready on the first success.
func (r *Readiness) Warm(ctx context.Context, probe func(context.Context) error, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = probe(ctx); err == nil {
			r.ready.Store(true)
			r.setErr(nil)
			log.Printf("embedder ready after %d attempt(s)", attempt)
			return nil
		}
		r.setErr(err)
		log.Printf("embedder warm-up attempt %d/%d failed: %v", attempt, attempts, err)
		if attempt == attempts {
			break
		}
		if serr := sleepCtx(ctx, delay); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("%w: embedder warm-up failed after %d attempts: %v", util.ErrUnavailable, attempts, err)
}

func (r *Readiness) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Readiness) requireReady() error {
	if r.Ready() {
		return nil
	}
	if err := r.LastError(); err != nil {
		return fmt.Errorf("%w: embedding model not loaded: %v", util.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: embedding model not loaded", util.ErrUnavailable)
}

func validate(req Request) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no rows to analyze", util.ErrValidation)
	}
	return nil
}
