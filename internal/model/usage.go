package model

import "time"

// UsageEntry is one accounting row per LLM invocation, recorded whether or
// not the call's content was usable.
type UsageEntry struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Operation    string    `json:"operation"` // "generate_text" or "rank"
	Pass         int       `json:"pass"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	CreatedAt    time.Time `json:"created_at"`
}
