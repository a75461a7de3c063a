package workflows

// AnalyzeInput refers to row texts staged at activities.TextsPath; only the
// row count travels in the start payload.
type AnalyzeInput struct {
	RunID           string  `json:"run_id"`
	SessionID       string  `json:"session_id"`
	RowCount        int     `json:"row_count"`
	Threshold       float64 `json:"threshold"`
	BatchSize       int     `json:"batch_size"`
	EmbedProviders  int     `json:"embed_providers"`
	CooldownSeconds int     `json:"cooldown_seconds"`
}

type AnalyzeOutput struct {
	GroupsPath   string `json:"groups_path"`
	GroupCount   int    `json:"group_count"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
}

type AnalyzeProgress struct {
	RunID         string         `json:"run_id"`
	Stage         string         `json:"stage"`
	TotalBatches  int            `json:"total_batches"`
	EmbeddedRows  int            `json:"embedded_rows"`
	ProviderIndex int            `json:"provider_index"`
	RetryCounts   map[string]int `json:"retry_counts"`
	GroupCount    int            `json:"group_count"`
}
