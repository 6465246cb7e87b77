package model

import "time"

// RunStatus represents the current state of a ranking run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Relevance tags for ranked leads.
const (
	RelevanceRelevant   = "relevant"
	RelevanceIrrelevant = "irrelevant"
)

// Persona is the free-text buyer profile a run scores against. Stored once
// per run, never deduplicated.
type Persona struct {
	ID        string    `json:"id"`
	Spec      string    `json:"spec"`
	CreatedAt time.Time `json:"created_at"`
}

// RankingRun is the durable record of one ranking execution. A run is
// append-only until its terminal status is set exactly once.
type RankingRun struct {
	ID          string    `json:"id"`
	PersonaID   string    `json:"persona_id"`
	IngestionID string    `json:"ingestion_id,omitempty"`
	TopN        int       `json:"top_n"`
	MinScore    float64   `json:"min_score"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AxisScores holds optional 0-5 sub-scores backing a final score. Partial
// population is valid; absent axes lower confidence, they are not an error.
type AxisScores struct {
	Role        *float64 `json:"role,omitempty"`
	Seniority   *float64 `json:"seniority,omitempty"`
	Industry    *float64 `json:"industry,omitempty"`
	Size        *float64 `json:"size,omitempty"`
	DataQuality *float64 `json:"data_quality,omitempty"`
}

// Values returns the populated axis scores in declaration order.
func (a *AxisScores) Values() []float64 {
	if a == nil {
		return nil
	}
	var out []float64
	for _, p := range []*float64{a.Role, a.Seniority, a.Industry, a.Size, a.DataQuality} {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// RankedLead is the per-run, per-lead result row.
type RankedLead struct {
	RunID       string      `json:"run_id"`
	LeadID      string      `json:"lead_id"`
	CompanyID   string      `json:"company_id"`
	FullName    string      `json:"full_name"`
	Title       string      `json:"title"`
	Score       *float64    `json:"score"`
	Relevance   string      `json:"relevance"`
	Rank        int         `json:"rank"`
	Selected    bool        `json:"selected"`
	Reason      string      `json:"reason"`
	Confidence  float64     `json:"confidence"`
	NeedsReview bool        `json:"needs_review"`
	Axes        *AxisScores `json:"axes,omitempty"`
}

// CompanyResult is the full per-company ranking payload, streamed to
// consumers as soon as the company finishes.
type CompanyResult struct {
	CompanyID   string       `json:"company_id"`
	CompanyName string       `json:"company_name"`
	Leads       []RankedLead `json:"leads"`
}

// RunPayload is the final result shape exposed to the transport layer.
type RunPayload struct {
	RunID       string          `json:"run_id"`
	TopN        int             `json:"top_n"`
	MinScore    float64         `json:"min_score"`
	PersonaSpec string          `json:"persona_spec"`
	Companies   []CompanyResult `json:"companies"`
}

// CachedScore is a previously computed per-lead score served from the
// ranking cache.
type CachedScore struct {
	LeadID string      `json:"lead_id"`
	Score  float64     `json:"score"`
	Axes   *AxisScores `json:"axes,omitempty"`
}
