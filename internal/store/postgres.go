package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ranker/internal/db"
	"github.com/sells-group/lead-ranker/internal/model"
)

// DefaultInsertBatchSize bounds one ranked-lead insert statement.
const DefaultInsertBatchSize = 500

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool      db.Pool
	closeFn   func()
	batchSize int
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_persona":    `INSERT INTO personas (id, spec, created_at) VALUES ($1, $2, $3)`,
	"get_persona":       `SELECT id, spec, created_at FROM personas WHERE id = $1`,
	"insert_run":        `INSERT INTO ranking_runs (id, persona_id, ingestion_id, top_n, min_score, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"update_run_status": `UPDATE ranking_runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, persona_id, ingestion_id, top_n, min_score, status, error, created_at, updated_at FROM ranking_runs WHERE id = $1`,
	"get_rank_cache":    `SELECT scores FROM rank_cache WHERE key = $1 AND expires_at > now()`,
	"put_rank_cache":    `INSERT INTO rank_cache (key, company_id, persona_hash, scores, hits, created_at, expires_at) VALUES ($1, $2, $3, $4, 0, $5, $6) ON CONFLICT (key) DO UPDATE SET scores = $4, persona_hash = $3, created_at = $5, expires_at = $6`,
	"hit_rank_cache":    `UPDATE rank_cache SET hits = hits + 1 WHERE key = $1`,
	"insert_usage":      `INSERT INTO usage_log (id, run_id, provider, model, operation, pass, input_tokens, output_tokens, cost_usd, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, batchSize: DefaultInsertBatchSize}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// SetInsertBatchSize overrides how many ranked-lead rows one insert batch
// carries. Non-positive values keep the current size.
func (s *PostgresStore) SetInsertBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL REFERENCES companies(id),
	full_name    TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	data         JSONB,
	ingestion_id TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_company_id ON leads(company_id);
CREATE INDEX IF NOT EXISTS idx_leads_ingestion_id ON leads(ingestion_id);

CREATE TABLE IF NOT EXISTS personas (
	id         TEXT PRIMARY KEY,
	spec       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ranking_runs (
	id           TEXT PRIMARY KEY,
	persona_id   TEXT NOT NULL REFERENCES personas(id),
	ingestion_id TEXT NOT NULL DEFAULT '',
	top_n        INTEGER NOT NULL,
	min_score    DOUBLE PRECISION NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ranking_runs_status ON ranking_runs(status);

CREATE TABLE IF NOT EXISTS ranked_leads (
	run_id       TEXT NOT NULL REFERENCES ranking_runs(id),
	lead_id      TEXT NOT NULL,
	company_id   TEXT NOT NULL,
	full_name    TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	score        DOUBLE PRECISION,
	relevance    TEXT NOT NULL,
	rank         INTEGER NOT NULL,
	selected     BOOLEAN NOT NULL DEFAULT false,
	reason       TEXT NOT NULL DEFAULT '',
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	needs_review BOOLEAN NOT NULL DEFAULT false,
	axes         JSONB,
	PRIMARY KEY (run_id, lead_id)
);

CREATE INDEX IF NOT EXISTS idx_ranked_leads_run_company ON ranked_leads(run_id, company_id);

CREATE TABLE IF NOT EXISTS rank_cache (
	key          TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	persona_hash TEXT NOT NULL,
	scores       JSONB NOT NULL,
	hits         INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rank_cache_expires_at ON rank_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_rank_cache_company_id ON rank_cache(company_id);

CREATE TABLE IF NOT EXISTS usage_log (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	operation     TEXT NOT NULL,
	pass          INTEGER NOT NULL DEFAULT 0,
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_usage_log_run_id ON usage_log(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreatePersona(ctx context.Context, spec string) (*model.Persona, error) {
	p := &model.Persona{
		ID:        uuid.New().String(),
		Spec:      spec,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO personas (id, spec, created_at) VALUES ($1, $2, $3)`,
		p.ID, p.Spec, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert persona")
	}
	return p, nil
}

func (s *PostgresStore) GetPersona(ctx context.Context, personaID string) (*model.Persona, error) {
	var p model.Persona
	err := s.pool.QueryRow(ctx,
		`SELECT id, spec, created_at FROM personas WHERE id = $1`,
		personaID,
	).Scan(&p.ID, &p.Spec, &p.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get persona %s", personaID)
	}
	return &p, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.RankingRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ranking_runs (id, persona_id, ingestion_id, top_n, min_score, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.PersonaID, run.IngestionID, run.TopN, run.MinScore, string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ranking_runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.RankingRun, error) {
	var r model.RankingRun
	err := s.pool.QueryRow(ctx,
		`SELECT id, persona_id, ingestion_id, top_n, min_score, status, error, created_at, updated_at FROM ranking_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.PersonaID, &r.IngestionID, &r.TopN, &r.MinScore, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RankingRun, error) {
	query := `SELECT id, persona_id, ingestion_id, top_n, min_score, status, error, created_at, updated_at FROM ranking_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RankingRun
	for rows.Next() {
		var r model.RankingRun
		if err := rows.Scan(&r.ID, &r.PersonaID, &r.IngestionID, &r.TopN, &r.MinScore, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error) {
	rows := make([][]any, len(companies))
	for i, c := range companies {
		rows[i] = []any{c.ID, c.Name}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "companies",
		Columns:      []string{"id", "name"},
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert companies")
}

func (s *PostgresStore) UpsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	rows := make([][]any, 0, len(leads))
	for _, l := range leads {
		dataJSON, err := marshalNullable(l.Data)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal lead data %s", l.ID)
		}
		rows = append(rows, []any{l.ID, l.CompanyID, l.FullName, l.Title, l.Email, l.LinkedInURL, dataJSON, l.IngestionID})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "leads",
		Columns:      []string{"id", "company_id", "full_name", "title", "email", "linkedin_url", "data", "ingestion_id"},
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert leads")
}

func (s *PostgresStore) ListCompanyLeads(ctx context.Context, ingestionID string) ([]model.CompanyLeads, error) {
	query := `SELECT l.id, l.company_id, c.name, l.full_name, l.title, l.email, l.linkedin_url, l.data, l.ingestion_id
	          FROM leads l JOIN companies c ON c.id = l.company_id`
	args := []any{}
	if ingestionID != "" {
		query += ` WHERE l.ingestion_id = $1`
		args = append(args, ingestionID)
	}
	query += ` ORDER BY l.company_id, l.id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list company leads")
	}
	defer rows.Close()

	var out []model.CompanyLeads
	byCompany := map[string]int{}
	for rows.Next() {
		var l model.Lead
		var companyName string
		var dataJSON []byte
		if err := rows.Scan(&l.ID, &l.CompanyID, &companyName, &l.FullName, &l.Title, &l.Email, &l.LinkedInURL, &dataJSON, &l.IngestionID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &l.Data); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal lead data %s", l.ID)
			}
		}

		idx, ok := byCompany[l.CompanyID]
		if !ok {
			idx = len(out)
			byCompany[l.CompanyID] = idx
			out = append(out, model.CompanyLeads{Company: model.Company{ID: l.CompanyID, Name: companyName}})
		}
		out[idx].Leads = append(out[idx].Leads, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list company leads iterate")
}

func (s *PostgresStore) InsertRankedLeads(ctx context.Context, rankedRows []model.RankedLead) error {
	batchSize := s.batchSize
	if batchSize <= 0 {
		batchSize = DefaultInsertBatchSize
	}

	columns := []string{
		"run_id", "lead_id", "company_id", "full_name", "title",
		"score", "relevance", "rank", "selected", "reason",
		"confidence", "needs_review", "axes",
	}

	for start := 0; start < len(rankedRows); start += batchSize {
		end := start + batchSize
		if end > len(rankedRows) {
			end = len(rankedRows)
		}

		batch := make([][]any, 0, end-start)
		for _, rl := range rankedRows[start:end] {
			axesJSON, err := marshalNullable(rl.Axes)
			if err != nil {
				return eris.Wrapf(err, "postgres: marshal axes for lead %s", rl.LeadID)
			}
			batch = append(batch, []any{
				rl.RunID, rl.LeadID, rl.CompanyID, rl.FullName, rl.Title,
				rl.Score, rl.Relevance, rl.Rank, rl.Selected, rl.Reason,
				rl.Confidence, rl.NeedsReview, axesJSON,
			})
		}

		if _, err := db.CopyFrom(ctx, s.pool, "ranked_leads", columns, batch); err != nil {
			return eris.Wrap(err, "postgres: insert ranked leads")
		}
	}
	return nil
}

func (s *PostgresStore) GetRankedLeads(ctx context.Context, runID string) ([]model.RankedLead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, lead_id, company_id, full_name, title, score, relevance, rank, selected, reason, confidence, needs_review, axes
		 FROM ranked_leads WHERE run_id = $1 ORDER BY company_id, rank, lead_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get ranked leads %s", runID)
	}
	defer rows.Close()

	var out []model.RankedLead
	for rows.Next() {
		var rl model.RankedLead
		var axesJSON []byte
		if err := rows.Scan(&rl.RunID, &rl.LeadID, &rl.CompanyID, &rl.FullName, &rl.Title, &rl.Score, &rl.Relevance, &rl.Rank, &rl.Selected, &rl.Reason, &rl.Confidence, &rl.NeedsReview, &axesJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ranked lead")
		}
		if len(axesJSON) > 0 {
			rl.Axes = &model.AxisScores{}
			if err := json.Unmarshal(axesJSON, rl.Axes); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal axes")
			}
		}
		out = append(out, rl)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get ranked leads iterate")
}

func (s *PostgresStore) GetRankCache(ctx context.Context, key string) ([]model.CachedScore, bool, error) {
	var scoresJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT scores FROM rank_cache WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&scoresJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, eris.Wrap(err, "postgres: get rank cache")
	}

	var scores []model.CachedScore
	if err := json.Unmarshal(scoresJSON, &scores); err != nil {
		return nil, false, eris.Wrap(err, "postgres: unmarshal cached scores")
	}
	return scores, true, nil
}

func (s *PostgresStore) PutRankCache(ctx context.Context, key, companyID, personaHash string, scores []model.CachedScore, expiresAt time.Time) error {
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cached scores")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO rank_cache (key, company_id, persona_hash, scores, hits, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6)
		 ON CONFLICT (key) DO UPDATE SET scores = $4, persona_hash = $3, created_at = $5, expires_at = $6`,
		key, companyID, personaHash, scoresJSON, time.Now().UTC(), expiresAt,
	)
	return eris.Wrap(err, "postgres: put rank cache")
}

func (s *PostgresStore) IncrementRankCacheHit(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rank_cache SET hits = hits + 1 WHERE key = $1`,
		key,
	)
	return eris.Wrap(err, "postgres: increment rank cache hit")
}

func (s *PostgresStore) PurgeExpiredRankCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rank_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge expired rank cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RecordUsage(ctx context.Context, entry model.UsageEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_log (id, run_id, provider, model, operation, pass, input_tokens, output_tokens, cost_usd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.RunID, entry.Provider, entry.Model, entry.Operation, entry.Pass,
		entry.InputTokens, entry.OutputTokens, entry.CostUSD, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: record usage")
}

func (s *PostgresStore) RunUsage(ctx context.Context, runID string) ([]model.UsageEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, provider, model, operation, pass, input_tokens, output_tokens, cost_usd, created_at
		 FROM usage_log WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: run usage %s", runID)
	}
	defer rows.Close()

	var entries []model.UsageEntry
	for rows.Next() {
		var e model.UsageEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Provider, &e.Model, &e.Operation, &e.Pass, &e.InputTokens, &e.OutputTokens, &e.CostUSD, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: run usage iterate")
}

// marshalNullable marshals v to JSON, mapping nil maps and pointers to SQL
// NULL instead of the JSON literal "null".
func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]string:
		if t == nil {
			return nil, nil
		}
	case *model.AxisScores:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
