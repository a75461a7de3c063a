package activities

// EmbedRowsInput selects rows [Start, End) of the run's staged texts.
// ProviderIndex is a position in the worker's preferred provider order, not
// in the raw configured list.
type EmbedRowsInput struct {
	RunID         string `json:"run_id"`
	SessionID     string `json:"session_id"`
	BatchIndex    int    `json:"batch_index"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
	ProviderIndex int    `json:"provider_index"`
	ProviderRef   string `json:"provider_ref,omitempty"`
}

// EmbedRowsOutput points at the vectors written for one batch. Vectors stay
// on disk so workflow history only carries paths.
type EmbedRowsOutput struct {
	Path          string `json:"path"`
	Count         int    `json:"count"`
	ProviderIndex int    `json:"provider_index"`
	ProviderName  string `json:"provider_name"`
	Model         string `json:"model"`
}

type GroupRowsInput struct {
	RunID     string   `json:"run_id"`
	Paths     []string `json:"paths"`
	Threshold float64  `json:"threshold"`
}

// GroupRowsOutput points at the groups file; pairwise scores grow with the
// square of the group size and stay out of workflow history.
type GroupRowsOutput struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

type LogEmbedCallInput struct {
	CallID       string `json:"call_id"`
	RunID        string `json:"run_id"`
	SessionID    string `json:"session_id"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
	InputCount   int    `json:"input_count"`
	Status       string `json:"status"`
	ErrorType    string `json:"error_type,omitempty"`
}

type CleanupRunInput struct {
	RunID string `json:"run_id"`
}
