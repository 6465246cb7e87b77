package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-ranker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db        *sql.DB
	batchSize int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, batchSize: DefaultInsertBatchSize}, nil
}

// SetInsertBatchSize overrides how many ranked-lead rows one insert batch
// carries. Non-positive values keep the current size.
func (s *SQLiteStore) SetInsertBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL REFERENCES companies(id),
	full_name    TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	data         TEXT,
	ingestion_id TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_company_id ON leads(company_id);
CREATE INDEX IF NOT EXISTS idx_leads_ingestion_id ON leads(ingestion_id);

CREATE TABLE IF NOT EXISTS personas (
	id         TEXT PRIMARY KEY,
	spec       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ranking_runs (
	id           TEXT PRIMARY KEY,
	persona_id   TEXT NOT NULL REFERENCES personas(id),
	ingestion_id TEXT NOT NULL DEFAULT '',
	top_n        INTEGER NOT NULL,
	min_score    REAL NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_ranking_runs_status ON ranking_runs(status);

CREATE TABLE IF NOT EXISTS ranked_leads (
	run_id       TEXT NOT NULL REFERENCES ranking_runs(id),
	lead_id      TEXT NOT NULL,
	company_id   TEXT NOT NULL,
	full_name    TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	score        REAL,
	relevance    TEXT NOT NULL,
	"rank"       INTEGER NOT NULL,
	selected     INTEGER NOT NULL DEFAULT 0,
	reason       TEXT NOT NULL DEFAULT '',
	confidence   REAL NOT NULL DEFAULT 0,
	needs_review INTEGER NOT NULL DEFAULT 0,
	axes         TEXT,
	PRIMARY KEY (run_id, lead_id)
);

CREATE INDEX IF NOT EXISTS idx_ranked_leads_run_company ON ranked_leads(run_id, company_id);

CREATE TABLE IF NOT EXISTS rank_cache (
	key          TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	persona_hash TEXT NOT NULL,
	scores       TEXT NOT NULL,
	hits         INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rank_cache_expires_at ON rank_cache(expires_at);

CREATE TABLE IF NOT EXISTS usage_log (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	operation     TEXT NOT NULL,
	pass          INTEGER NOT NULL DEFAULT 0,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_usage_log_run_id ON usage_log(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreatePersona(ctx context.Context, spec string) (*model.Persona, error) {
	p := &model.Persona{
		ID:        uuid.New().String(),
		Spec:      spec,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO personas (id, spec, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Spec, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert persona")
	}
	return p, nil
}

func (s *SQLiteStore) GetPersona(ctx context.Context, personaID string) (*model.Persona, error) {
	var p model.Persona
	err := s.db.QueryRowContext(ctx,
		`SELECT id, spec, created_at FROM personas WHERE id = ?`,
		personaID,
	).Scan(&p.ID, &p.Spec, &p.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get persona %s", personaID)
	}
	return &p, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.RankingRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ranking_runs (id, persona_id, ingestion_id, top_n, min_score, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.PersonaID, run.IngestionID, run.TopN, run.MinScore, string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ranking_runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RankingRun, error) {
	var r model.RankingRun
	err := s.db.QueryRowContext(ctx,
		`SELECT id, persona_id, ingestion_id, top_n, min_score, status, error, created_at, updated_at FROM ranking_runs WHERE id = ?`,
		runID,
	).Scan(&r.ID, &r.PersonaID, &r.IngestionID, &r.TopN, &r.MinScore, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RankingRun, error) {
	query := `SELECT id, persona_id, ingestion_id, top_n, min_score, status, error, created_at, updated_at FROM ranking_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RankingRun
	for rows.Next() {
		var r model.RankingRun
		if err := rows.Scan(&r.ID, &r.PersonaID, &r.IngestionID, &r.TopN, &r.MinScore, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error) {
	if len(companies) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert companies begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO companies (id, name) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert companies prepare")
	}
	defer stmt.Close()

	var n int64
	for _, c := range companies {
		res, err := stmt.ExecContext(ctx, c.ID, c.Name)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert company %s", c.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert companies commit")
	}
	return n, nil
}

func (s *SQLiteStore) UpsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert leads begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (id, company_id, full_name, title, email, linkedin_url, data, ingestion_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   company_id = excluded.company_id, full_name = excluded.full_name,
		   title = excluded.title, email = excluded.email,
		   linkedin_url = excluded.linkedin_url, data = excluded.data,
		   ingestion_id = excluded.ingestion_id`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert leads prepare")
	}
	defer stmt.Close()

	var n int64
	for _, l := range leads {
		var dataJSON any
		if l.Data != nil {
			b, err := json.Marshal(l.Data)
			if err != nil {
				return 0, eris.Wrapf(err, "sqlite: marshal lead data %s", l.ID)
			}
			dataJSON = string(b)
		}
		res, err := stmt.ExecContext(ctx, l.ID, l.CompanyID, l.FullName, l.Title, l.Email, l.LinkedInURL, dataJSON, l.IngestionID)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert lead %s", l.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert leads commit")
	}
	return n, nil
}

func (s *SQLiteStore) ListCompanyLeads(ctx context.Context, ingestionID string) ([]model.CompanyLeads, error) {
	query := `SELECT l.id, l.company_id, c.name, l.full_name, l.title, l.email, l.linkedin_url, l.data, l.ingestion_id
	          FROM leads l JOIN companies c ON c.id = l.company_id`
	var args []any
	if ingestionID != "" {
		query += ` WHERE l.ingestion_id = ?`
		args = append(args, ingestionID)
	}
	query += ` ORDER BY l.company_id, l.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list company leads")
	}
	defer rows.Close()

	var out []model.CompanyLeads
	byCompany := map[string]int{}
	for rows.Next() {
		var l model.Lead
		var companyName string
		var dataJSON sql.NullString
		if err := rows.Scan(&l.ID, &l.CompanyID, &companyName, &l.FullName, &l.Title, &l.Email, &l.LinkedInURL, &dataJSON, &l.IngestionID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &l.Data); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal lead data %s", l.ID)
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
	return out, eris.Wrap(rows.Err(), "sqlite: list company leads iterate")
}

func (s *SQLiteStore) InsertRankedLeads(ctx context.Context, rankedRows []model.RankedLead) error {
	if len(rankedRows) == 0 {
		return nil
	}

	batchSize := s.batchSize
	if batchSize <= 0 {
		batchSize = DefaultInsertBatchSize
	}

	for start := 0; start < len(rankedRows); start += batchSize {
		end := start + batchSize
		if end > len(rankedRows) {
			end = len(rankedRows)
		}
		if err := s.insertRankedBatch(ctx, rankedRows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) insertRankedBatch(ctx context.Context, batch []model.RankedLead) error {
	placeholders := make([]string, 0, len(batch))
	args := make([]any, 0, len(batch)*13)
	for _, rl := range batch {
		var axesJSON any
		if rl.Axes != nil {
			b, err := json.Marshal(rl.Axes)
			if err != nil {
				return eris.Wrapf(err, "sqlite: marshal axes for lead %s", rl.LeadID)
			}
			axesJSON = string(b)
		}
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			rl.RunID, rl.LeadID, rl.CompanyID, rl.FullName, rl.Title,
			rl.Score, rl.Relevance, rl.Rank, rl.Selected, rl.Reason,
			rl.Confidence, rl.NeedsReview, axesJSON,
		)
	}

	query := fmt.Sprintf(
		`INSERT INTO ranked_leads (run_id, lead_id, company_id, full_name, title, score, relevance, "rank", selected, reason, confidence, needs_review, axes) VALUES %s`,
		strings.Join(placeholders, ", "),
	)
	_, err := s.db.ExecContext(ctx, query, args...)
	return eris.Wrap(err, "sqlite: insert ranked leads")
}

func (s *SQLiteStore) GetRankedLeads(ctx context.Context, runID string) ([]model.RankedLead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, lead_id, company_id, full_name, title, score, relevance, "rank", selected, reason, confidence, needs_review, axes
		 FROM ranked_leads WHERE run_id = ? ORDER BY company_id, "rank", lead_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get ranked leads %s", runID)
	}
	defer rows.Close()

	var out []model.RankedLead
	for rows.Next() {
		var rl model.RankedLead
		var axesJSON sql.NullString
		if err := rows.Scan(&rl.RunID, &rl.LeadID, &rl.CompanyID, &rl.FullName, &rl.Title, &rl.Score, &rl.Relevance, &rl.Rank, &rl.Selected, &rl.Reason, &rl.Confidence, &rl.NeedsReview, &axesJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ranked lead")
		}
		if axesJSON.Valid && axesJSON.String != "" {
			rl.Axes = &model.AxisScores{}
			if err := json.Unmarshal([]byte(axesJSON.String), rl.Axes); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal axes")
			}
		}
		out = append(out, rl)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get ranked leads iterate")
}

func (s *SQLiteStore) GetRankCache(ctx context.Context, key string) ([]model.CachedScore, bool, error) {
	var scoresJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT scores FROM rank_cache WHERE key = ? AND expires_at > ?`,
		key, time.Now().UTC(),
	).Scan(&scoresJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get rank cache")
	}

	var scores []model.CachedScore
	if err := json.Unmarshal([]byte(scoresJSON), &scores); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: unmarshal cached scores")
	}
	return scores, true, nil
}

func (s *SQLiteStore) PutRankCache(ctx context.Context, key, companyID, personaHash string, scores []model.CachedScore, expiresAt time.Time) error {
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cached scores")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rank_cache (key, company_id, persona_hash, scores, hits, created_at, expires_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
		   scores = excluded.scores, persona_hash = excluded.persona_hash,
		   created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, companyID, personaHash, string(scoresJSON), time.Now().UTC(), expiresAt,
	)
	return eris.Wrap(err, "sqlite: put rank cache")
}

func (s *SQLiteStore) IncrementRankCacheHit(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rank_cache SET hits = hits + 1 WHERE key = ?`,
		key,
	)
	return eris.Wrap(err, "sqlite: increment rank cache hit")
}

func (s *SQLiteStore) PurgeExpiredRankCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rank_cache WHERE expires_at <= ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge expired rank cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, entry model.UsageEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log (id, run_id, provider, model, operation, pass, input_tokens, output_tokens, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunID, entry.Provider, entry.Model, entry.Operation, entry.Pass,
		entry.InputTokens, entry.OutputTokens, entry.CostUSD, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: record usage")
}

func (s *SQLiteStore) RunUsage(ctx context.Context, runID string) ([]model.UsageEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, provider, model, operation, pass, input_tokens, output_tokens, cost_usd, created_at
		 FROM usage_log WHERE run_id = ? ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: run usage %s", runID)
	}
	defer rows.Close()

	var entries []model.UsageEntry
	for rows.Next() {
		var e model.UsageEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Provider, &e.Model, &e.Operation, &e.Pass, &e.InputTokens, &e.OutputTokens, &e.CostUSD, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: run usage iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
