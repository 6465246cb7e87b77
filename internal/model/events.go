package model

// EventType tags a ProgressEvent.
type EventType string

const (
	EventStart         EventType = "start"
	EventPersonaReady  EventType = "persona_ready"
	EventCompanyStart  EventType = "company_start"
	EventCompanyResult EventType = "company_result"
	EventComplete      EventType = "complete"
	EventError         EventType = "error"
)

// ProgressEvent is streamed to consumers as a run advances. persona_ready and
// start precede all company_* events; complete or error is terminal and
// emitted at most once.
type ProgressEvent struct {
	Type           EventType      `json:"type"`
	TotalCompanies int            `json:"total_companies,omitempty"`
	CompanyIndex   int            `json:"company_index,omitempty"`
	CompanyID      string         `json:"company_id,omitempty"`
	CompanyName    string         `json:"company_name,omitempty"`
	Result         *CompanyResult `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// EventSink receives progress events. Implementations must tolerate being
// called from multiple goroutines.
type EventSink func(ProgressEvent)
