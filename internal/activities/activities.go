package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"dsstrack/internal/config"
	"dsstrack/internal/dedupe"
	"dsstrack/internal/providers"
	"dsstrack/internal/storage"
	"dsstrack/internal/util"
	"dsstrack/internal/vector"
)

// Auditor is satisfied by storage.EmbedAuditRepo.
type Auditor interface {
	Insert(ctx context.Context, rec storage.EmbedCallRecord) error
}

type Activities struct {
	cfg       config.Config
	audit     Auditor
	providers *providers.Manager
	grouper   *dedupe.Grouper

	mu    sync.Mutex
	texts map[string][]string
}

// RunDir is where one run's staged texts, batch vectors and groups live. The
// API and the worker must share DSSTRACK_DATA_OUT.
func RunDir(root, runID string) string {
	return util.SafeJoin(filepath.Join(root, "runs"), runID)
}

func TextsPath(root, runID string) string {
	return filepath.Join(RunDir(root, runID), "texts.json")
}

func GroupsPath(root, runID string) string {
	return filepath.Join(RunDir(root, runID), "groups.json")
}

// New builds the worker activities. db may be nil, in which case embed calls
// are only logged.
func New(cfg config.Config, db *storage.DB) (*Activities, error) {
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	var audit Auditor
	if db != nil {
		audit = storage.NewEmbedAuditRepo(db)
	}
	return NewWithManager(cfg, pm, audit), nil
}

// NewWithManager is New with an already built provider manager.
func NewWithManager(cfg config.Config, pm *providers.Manager, audit Auditor) *Activities {
	return &Activities{cfg: cfg, providers: pm, audit: audit, grouper: dedupe.NewGrouper(nil), texts: map[string][]string{}}
}

// runTexts loads the staged row texts of a run once per worker process.
func (a *Activities) runTexts(runID string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if texts, ok := a.texts[runID]; ok {
		return texts, nil
	}
	b, err := os.ReadFile(TextsPath(a.cfg.DataOutRoot, runID))
	if err != nil {
		return nil, fmt.Errorf("read staged texts: %w", err)
	}
	var texts []string
	if err := json.Unmarshal(b, &texts); err != nil {
		return nil, fmt.Errorf("decode staged texts: %w", err)
	}
	a.texts[runID] = texts
	return texts, nil
}

// providerIndex maps a preference slot from the workflow to a position in
// the configured provider list.
func (a *Activities) providerIndex(slot int) int {
	order := a.providers.PreferredEmbedOrder()
	if slot < 0 || slot >= len(order) {
		return order[0]
	}
	return order[slot]
}

func (a *Activities) EmbedRowsActivity(ctx context.Context, in EmbedRowsInput) (EmbedRowsOutput, error) {
	idx := a.providerIndex(in.ProviderIndex)
	if in.ProviderRef != "" {
		if idx = a.providers.FindEmbedProviderIndex(in.ProviderRef); idx < 0 {
			return EmbedRowsOutput{}, fmt.Errorf("embed provider ref not configured in worker: %s", in.ProviderRef)
		}
	}
	all, err := a.runTexts(in.RunID)
	if err != nil {
		return EmbedRowsOutput{}, err
	}
	if in.Start < 0 || in.End > len(all) || in.Start > in.End {
		return EmbedRowsOutput{}, fmt.Errorf("batch %d rows [%d, %d) outside %d staged texts", in.BatchIndex, in.Start, in.End, len(all))
	}
	texts := all[in.Start:in.End]
	provider, ref := a.providers.EmbedProviderByIndex(idx)
	vectors, info, err := provider.Embed(ctx, providers.EmbedRequest{
		Operation: "analyze",
		Inputs:    texts,
		Dimension: a.cfg.EmbedDim,
	})
	if err != nil {
		return EmbedRowsOutput{}, fmt.Errorf("embed via %s failed: %w", ref.Raw, err)
	}
	if len(vectors) != len(texts) {
		return EmbedRowsOutput{}, fmt.Errorf("embed via %s returned %d vectors for %d rows", ref.Raw, len(vectors), len(texts))
	}
	path := filepath.Join(RunDir(a.cfg.DataOutRoot, in.RunID), "embeddings", strconv.Itoa(in.BatchIndex)+".json")
	if err := util.WriteJSONAtomic(path, vectors); err != nil {
		return EmbedRowsOutput{}, fmt.Errorf("write batch vectors: %w", err)
	}
	return EmbedRowsOutput{
		Path:          path,
		Count:         len(vectors),
		ProviderIndex: in.ProviderIndex,
		ProviderName:  info.Name,
		Model:         info.Model,
	}, nil
}

func (a *Activities) GroupRowsActivity(ctx context.Context, in GroupRowsInput) (GroupRowsOutput, error) {
	var all [][]float32
	for _, p := range in.Paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return GroupRowsOutput{}, fmt.Errorf("read batch vectors: %w", err)
		}
		var batch [][]float32
		if err := json.Unmarshal(b, &batch); err != nil {
			return GroupRowsOutput{}, fmt.Errorf("decode batch vectors %s: %w", p, err)
		}
		all = append(all, batch...)
	}
	m, err := vector.CosineMatrix(ctx, all, a.cfg.EmbedConcurrency)
	if err != nil {
		return GroupRowsOutput{}, err
	}
	groups, err := a.grouper.Group(m, in.Threshold)
	if err != nil {
		return GroupRowsOutput{}, err
	}
	path := GroupsPath(a.cfg.DataOutRoot, in.RunID)
	if err := util.WriteJSONAtomic(path, groups); err != nil {
		return GroupRowsOutput{}, fmt.Errorf("write groups: %w", err)
	}
	return GroupRowsOutput{Path: path, Count: len(groups)}, nil
}

func (a *Activities) LogEmbedCallActivity(ctx context.Context, in LogEmbedCallInput) error {
	rec := storage.EmbedCallRecord{
		CallID:       in.CallID,
		RunID:        in.RunID,
		SessionID:    in.SessionID,
		ProviderName: in.ProviderName,
		Model:        in.Model,
		InputCount:   in.InputCount,
		Status:       in.Status,
		ErrorType:    in.ErrorType,
	}
	if a.audit == nil {
		log.Printf("embed call run=%s provider=%s status=%s error_type=%s", rec.RunID, rec.ProviderName, rec.Status, rec.ErrorType)
		return nil
	}
	return a.audit.Insert(ctx, rec)
}

// CleanupRunActivity drops a run's batch vectors and staged texts. The groups
// file is left for the API, which removes the run directory once read.
func (a *Activities) CleanupRunActivity(ctx context.Context, in CleanupRunInput) error {
	_ = ctx
	a.mu.Lock()
	delete(a.texts, in.RunID)
	a.mu.Unlock()
	dir := RunDir(a.cfg.DataOutRoot, in.RunID)
	if err := os.RemoveAll(filepath.Join(dir, "embeddings")); err != nil {
		return fmt.Errorf("remove run vectors: %w", err)
	}
	if err := os.Remove(TextsPath(a.cfg.DataOutRoot, in.RunID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staged texts: %w", err)
	}
	return nil
}
