package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"dsstrack/internal/activities"
	"dsstrack/internal/models"
	"dsstrack/internal/providers"
	"dsstrack/internal/util"
	"dsstrack/internal/workflows"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

// TemporalOptions configures the workflow-backed analyzer. DataOut must be
// the same directory the worker sees as DSSTRACK_DATA_OUT.
type TemporalOptions struct {
	TaskQueue       string
	DataOut         string
	BatchSize       int
	EmbedProviders  int
	CooldownSeconds int
}

// Temporal runs the analysis as AnalyzeWorkflow on a worker and waits for it.
type Temporal struct {
	Readiness
	client client.Client
	opts   TemporalOptions
}

func NewTemporal(c client.Client, opts TemporalOptions) *Temporal {
	return &Temporal{client: c, opts: opts}
}

// Warmup waits for the Temporal frontend to answer a health check.
func (t *Temporal) Warmup(ctx context.Context, attempts int, delay time.Duration) error {
	return t.Warm(ctx, func(ctx context.Context) error {
		_, err := t.client.CheckHealth(ctx, &client.CheckHealthRequest{})
		return err
	}, attempts, delay)
}

func (t *Temporal) Analyze(ctx context.Context, req Request) (Result, error) {
	if err := t.requireReady(); err != nil {
		return Result{}, err
	}
	if err := validate(req); err != nil {
		return Result{}, err
	}
	workflowID := "analyze-" + req.RunID
	runDir := activities.RunDir(t.opts.DataOut, req.RunID)
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			log.Printf("remove run dir %s: %v", runDir, err)
		}
	}()
	if err := util.WriteJSONAtomic(activities.TextsPath(t.opts.DataOut, req.RunID), req.Texts); err != nil {
		return Result{}, fmt.Errorf("stage row texts: %w", err)
	}
	run, err := t.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                t.opts.TaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.AnalyzeWorkflow, workflows.AnalyzeInput{
		RunID:           req.RunID,
		SessionID:       req.SessionID,
		RowCount:        len(req.Texts),
		Threshold:       req.Threshold,
		BatchSize:       t.opts.BatchSize,
		EmbedProviders:  t.opts.EmbedProviders,
		CooldownSeconds: t.opts.CooldownSeconds,
	})
	if err != nil {
		if unreachable(err) {
			return Result{}, fmt.Errorf("%w: start analysis workflow: %v", util.ErrUnavailable, err)
		}
		return Result{}, fmt.Errorf("start analysis workflow: %w", err)
	}
	var out workflows.AnalyzeOutput
	if err := run.Get(ctx, &out); err != nil {
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) {
			switch appErr.Type() {
			case workflows.ErrTypeEmbedUnavailable:
				return Result{}, fmt.Errorf("%w: %v", util.ErrUnavailable, appErr)
			case workflows.ErrTypeInputTooLong:
				return Result{}, fmt.Errorf("%w: row text too long for embedding model: %v", util.ErrValidation, appErr)
			}
		}
		if unreachable(err) {
			return Result{}, fmt.Errorf("%w: analysis workflow %s: %v", util.ErrUnavailable, workflowID, err)
		}
		return Result{}, fmt.Errorf("analysis workflow %s: %w", workflowID, err)
	}
	groups, err := readGroups(activities.GroupsPath(t.opts.DataOut, req.RunID), out.GroupCount)
	if err != nil {
		return Result{}, err
	}
	return Result{Groups: groups, Provider: providers.ProviderInfo{Name: out.ProviderName, Model: out.Model}}, nil
}

// unreachable reports whether err means the Temporal frontend could not be
// reached, as opposed to a rejected request.
func unreachable(err error) bool {
	var unavailable *serviceerror.Unavailable
	var deadline *serviceerror.DeadlineExceeded
	return errors.As(err, &unavailable) || errors.As(err, &deadline) || errors.Is(err, context.DeadlineExceeded)
}

func readGroups(path string, want int) ([]models.DuplicateGroup, error) {
	if want == 0 {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read analysis groups: %w", err)
	}
	var groups []models.DuplicateGroup
	if err := json.Unmarshal(b, &groups); err != nil {
		return nil, fmt.Errorf("decode analysis groups: %w", err)
	}
	if len(groups) != want {
		return nil, fmt.Errorf("%w: groups file has %d groups, workflow reported %d", util.ErrInvariant, len(groups), want)
	}
	return groups, nil
}

// Progress queries a running or finished analysis workflow.
func (t *Temporal) Progress(ctx context.Context, runID string) (workflows.AnalyzeProgress, error) {
	var prog workflows.AnalyzeProgress
	resp, err := t.client.QueryWorkflow(ctx, "analyze-"+runID, "", workflows.QueryGetProgress)
	if err != nil {
		return prog, fmt.Errorf("%w: analysis run %s: %v", util.ErrNotFound, runID, err)
	}
	if err := resp.Get(&prog); err != nil {
		return prog, fmt.Errorf("decode progress: %w", err)
	}
	return prog, nil
}
