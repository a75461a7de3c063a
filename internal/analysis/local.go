package analysis

import (
	"context"
	"fmt"
	"time"

	"dsstrack/internal/dedupe"
	"dsstrack/internal/vector"
)

// Local runs the whole analysis in process.
type Local struct {
	Readiness
	embedder *Embedder
	grouper  *dedupe.Grouper
	workers  int
}

func NewLocal(embedder *Embedder, grouper *dedupe.Grouper, workers int) *Local {
	if grouper == nil {
		grouper = dedupe.NewGrouper(nil)
	}
	if workers <= 0 {
		workers = 1
	}
	return &Local{embedder: embedder, grouper: grouper, workers: workers}
}

func (l *Local) Warmup(ctx context.Context, attempts int, delay time.Duration) error {
	return l.Warm(ctx, l.embedder.Probe, attempts, delay)
}

func (l *Local) Analyze(ctx context.Context, req Request) (Result, error) {
	if err := l.requireReady(); err != nil {
		return Result{}, err
	}
	if err := validate(req); err != nil {
		return Result{}, err
	}
	vecs, info, err := l.embedder.EmbedAll(ctx, CallMeta{RunID: req.RunID, SessionID: req.SessionID, Operation: "analyze"}, req.Texts)
	if err != nil {
		return Result{}, err
	}
	m, err := vector.CosineMatrix(ctx, vecs, l.workers)
	if err != nil {
		return Result{}, err
	}
	groups, err := l.grouper.Group(m, req.Threshold)
	if err != nil {
		return Result{}, fmt.Errorf("group rows: %w", err)
	}
	return Result{Groups: groups, Provider: info}, nil
}
