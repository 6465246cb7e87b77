package store

import (
	"context"
	"time"

	"github.com/sells-group/lead-ranker/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ranking engine.
type Store interface {
	// Personas
	CreatePersona(ctx context.Context, spec string) (*model.Persona, error)
	GetPersona(ctx context.Context, personaID string) (*model.Persona, error)

	// Runs
	CreateRun(ctx context.Context, run *model.RankingRun) error
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.RankingRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RankingRun, error)

	// Leads
	UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error)
	UpsertLeads(ctx context.Context, leads []model.Lead) (int64, error)
	ListCompanyLeads(ctx context.Context, ingestionID string) ([]model.CompanyLeads, error)

	// Results
	InsertRankedLeads(ctx context.Context, rows []model.RankedLead) error
	GetRankedLeads(ctx context.Context, runID string) ([]model.RankedLead, error)

	// Rank cache
	GetRankCache(ctx context.Context, key string) ([]model.CachedScore, bool, error)
	PutRankCache(ctx context.Context, key, companyID, personaHash string, scores []model.CachedScore, expiresAt time.Time) error
	IncrementRankCacheHit(ctx context.Context, key string) error
	PurgeExpiredRankCache(ctx context.Context) (int, error)

	// Usage accounting
	RecordUsage(ctx context.Context, entry model.UsageEntry) error
	RunUsage(ctx context.Context, runID string) ([]model.UsageEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
