package workflows

import (
	"fmt"
	"time"

	"dsstrack/internal/activities"
	"dsstrack/internal/providers"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetProgress = "GetProgress"

// ErrTypeEmbedUnavailable marks a workflow failure caused by every embedding
// provider failing, as opposed to a bug or bad input.
const ErrTypeEmbedUnavailable = "EmbedUnavailable"

// ErrTypeInputTooLong marks a row text the embedding model rejected as too
// long. Switching provider does not help.
const ErrTypeInputTooLong = "EmbedInputTooLong"

type providerState struct {
	disabledUntil map[int]time.Time
}

func newProviderState() providerState {
	return providerState{disabledUntil: map[int]time.Time{}}
}

// AnalyzeWorkflow embeds rows batch by batch, then groups them. The first
// batch may fail over across providers; later batches are pinned to the
// provider that served the first so every vector shares one model. Provider
// indices are slots in the worker's preferred order, so slot 0 is the first
// real provider.
func AnalyzeWorkflow(ctx workflow.Context, input AnalyzeInput) (AnalyzeOutput, error) {
	progress := AnalyzeProgress{RunID: input.RunID, Stage: "init", ProviderIndex: -1, RetryCounts: map[string]int{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (AnalyzeProgress, error) {
		return progress, nil
	}); err != nil {
		return AnalyzeOutput{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	embedCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	cooldown := durationOrDefault(input.CooldownSeconds, 900)
	providerCount := defaultCount(input.EmbedProviders)
	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	batches := splitBatches(input.RowCount, batchSize)
	progress.TotalBatches = len(batches)
	state := newProviderState()

	progress.Stage = "embed"
	paths := make([]string, 0, len(batches))
	var out AnalyzeOutput
	for i, b := range batches {
		in := activities.EmbedRowsInput{
			RunID:      input.RunID,
			SessionID:  input.SessionID,
			BatchIndex: i,
			Start:      b[0],
			End:        b[1],
		}
		embedOut, err := callEmbedWithFailover(embedCtx, &state, providerCount, cooldown, in, progress.RetryCounts, progress.ProviderIndex, i > 0)
		if err != nil {
			progress.Stage = "failed"
			cleanupRun(ctx, input.RunID)
			errType := ErrTypeEmbedUnavailable
			if providers.ClassifyError(err) == providers.ErrorContext {
				errType = ErrTypeInputTooLong
			}
			return AnalyzeOutput{}, temporal.NewNonRetryableApplicationError(fmt.Sprintf("embed batch %d: %v", i, err), errType, err)
		}
		progress.ProviderIndex = embedOut.ProviderIndex
		progress.EmbeddedRows += embedOut.Count
		out.ProviderName = embedOut.ProviderName
		out.Model = embedOut.Model
		paths = append(paths, embedOut.Path)
	}

	progress.Stage = "group"
	var groupOut activities.GroupRowsOutput
	if err := workflow.ExecuteActivity(ctx, "GroupRowsActivity", activities.GroupRowsInput{RunID: input.RunID, Paths: paths, Threshold: input.Threshold}).Get(ctx, &groupOut); err != nil {
		progress.Stage = "failed"
		cleanupRun(ctx, input.RunID)
		return AnalyzeOutput{}, err
	}
	out.GroupsPath = groupOut.Path
	out.GroupCount = groupOut.Count
	progress.GroupCount = groupOut.Count

	cleanupRun(ctx, input.RunID)
	progress.Stage = "completed"
	return out, nil
}

func callEmbedWithFailover(ctx workflow.Context, state *providerState, providerCount int, cooldown time.Duration, input activities.EmbedRowsInput, retryCounts map[string]int, preferredIdx int, strict bool) (activities.EmbedRowsOutput, error) {
	if retryCounts == nil {
		retryCounts = map[string]int{}
	}
	var lastErr error
	maxAttempts := providerCount * 4
	if strict && preferredIdx >= 0 {
		maxAttempts = 4
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		idx := attempt % providerCount
		if strict && preferredIdx >= 0 {
			idx = preferredIdx
		} else if preferredIdx >= 0 {
			idx = (preferredIdx + attempt) % providerCount
		}
		if !strict && isProviderDisabled(ctx, state, idx) {
			continue
		}
		input.ProviderIndex = idx
		var out activities.EmbedRowsOutput
		err := workflow.ExecuteActivity(ctx, "EmbedRowsActivity", input).Get(ctx, &out)
		if err == nil {
			_ = workflow.ExecuteActivity(ctx, "LogEmbedCallActivity", activities.LogEmbedCallInput{RunID: input.RunID, SessionID: input.SessionID, ProviderName: out.ProviderName, Model: out.Model, InputCount: input.End - input.Start, Status: "ok"}).Get(ctx, nil)
			return out, nil
		}
		lastErr = err
		errType := providers.ClassifyError(err)
		_ = workflow.ExecuteActivity(ctx, "LogEmbedCallActivity", activities.LogEmbedCallInput{RunID: input.RunID, SessionID: input.SessionID, ProviderName: fmt.Sprintf("provider-%d", idx), InputCount: input.End - input.Start, Status: "failed", ErrorType: string(errType)}).Get(ctx, nil)
		key := fmt.Sprintf("embed-%d", idx)
		retryCounts[key]++
		switch errType {
		case providers.ErrorQuota:
			disableProviderUntil(ctx, state, idx, cooldown)
		case providers.ErrorRate:
			if retryCounts[key] <= 2 {
				workflow.Sleep(ctx, time.Duration(retryCounts[key]*2)*time.Second)
			} else {
				disableProviderUntil(ctx, state, idx, 2*time.Minute)
			}
		case providers.ErrorTransient:
			if retryCounts[key] <= 2 {
				workflow.Sleep(ctx, time.Duration(retryCounts[key])*time.Second)
			}
		case providers.ErrorContext:
			return activities.EmbedRowsOutput{}, err
		default:
			disableProviderUntil(ctx, state, idx, time.Minute)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all embed providers exhausted")
	}
	return activities.EmbedRowsOutput{}, lastErr
}

// cleanupRun frees the worker side of a run. Failures are ignored; the API
// removes the run directory when it finishes with the run.
func cleanupRun(ctx workflow.Context, runID string) {
	_ = workflow.ExecuteActivity(ctx, "CleanupRunActivity", activities.CleanupRunInput{RunID: runID}).Get(ctx, nil)
}

func isProviderDisabled(ctx workflow.Context, state *providerState, idx int) bool {
	until, ok := state.disabledUntil[idx]
	if !ok {
		return false
	}
	return workflow.Now(ctx).Before(until)
}

func disableProviderUntil(ctx workflow.Context, state *providerState, idx int, d time.Duration) {
	state.disabledUntil[idx] = workflow.Now(ctx).Add(d)
}

// splitBatches returns [start, end) bounds covering n items.
func splitBatches(n, size int) [][2]int {
	out := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

func durationOrDefault(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func defaultCount(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
