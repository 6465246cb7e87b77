package model

// Company is the grouping key for per-company ranking. The same company ID is
// referenced by many leads.
type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lead is a contact sourced from ingestion. Leads are immutable once
// ingested; the engine only scores them.
type Lead struct {
	ID          string            `json:"id"`
	CompanyID   string            `json:"company_id"`
	FullName    string            `json:"full_name"`
	Title       string            `json:"title"`
	Email       string            `json:"email"`
	LinkedInURL string            `json:"linkedin_url"`
	Data        map[string]string `json:"data,omitempty"`
	IngestionID string            `json:"ingestion_id,omitempty"`
}

// DisplayText is the lead text presented to the model for scoring.
func (l Lead) DisplayText() string {
	out := l.FullName
	if l.Title != "" {
		if out != "" {
			out += " - "
		}
		out += l.Title
	}
	if out == "" {
		out = "(no name)"
	}
	return out
}

// CompanyLeads pairs a company with all its leads for one run.
type CompanyLeads struct {
	Company Company
	Leads   []Lead
}
