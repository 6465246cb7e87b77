package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ranker/internal/model"
)

// RunStore is the persistence surface the orchestrator needs. Failures on any
// of these are run-fatal; the rank cache and usage accounting have their own
// soft-failure paths elsewhere.
type RunStore interface {
	CreatePersona(ctx context.Context, spec string) (*model.Persona, error)
	CreateRun(ctx context.Context, run *model.RankingRun) error
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
	ListCompanyLeads(ctx context.Context, ingestionID string) ([]model.CompanyLeads, error)
	InsertRankedLeads(ctx context.Context, rows []model.RankedLead) error
}

// PersonaExpander rewrites a persona spec into a scoring rubric, falling back
// to the raw spec on any failure.
type PersonaExpander interface {
	ExpandPersona(ctx context.Context, runID, spec string) string
}

// RunParams are the operator inputs for one ranking run.
type RunParams struct {
	PersonaSpec string
	TopN        int
	MinScore    float64
	IngestionID string
}

// Orchestrator owns run lifecycle: persona and run rows, lead loading, persona
// expansion, scheduling, bulk persistence, and the terminal status.
type Orchestrator struct {
	store    RunStore
	ranker   *Ranker
	sched    *Scheduler
	expander PersonaExpander
}

// NewOrchestrator wires the orchestrator. expander may be nil, in which case
// the raw persona spec is used as the scoring rubric.
func NewOrchestrator(store RunStore, ranker *Ranker, sched *Scheduler, expander PersonaExpander) *Orchestrator {
	return &Orchestrator{store: store, ranker: ranker, sched: sched, expander: expander}
}

// Execute runs one ranking run end to end and returns the final payload. On
// failure the run row carries the terminal status (failed, or cancelled when
// the error derives from ctx) and the complete event is suppressed.
func (o *Orchestrator) Execute(ctx context.Context, params RunParams, sink model.EventSink) (*model.RunPayload, error) {
	emit := func(ev model.ProgressEvent) {
		if sink != nil {
			sink(ev)
		}
	}

	p, err := o.store.CreatePersona(ctx, params.PersonaSpec)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create persona")
	}

	run := &model.RankingRun{
		PersonaID:   p.ID,
		IngestionID: params.IngestionID,
		TopN:        params.TopN,
		MinScore:    params.MinScore,
		Status:      model.RunStatusRunning,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	log := zap.L().With(zap.String("run_id", run.ID))

	companies, err := o.store.ListCompanyLeads(ctx, params.IngestionID)
	if err != nil {
		return nil, o.fail(ctx, run.ID, eris.Wrap(err, "pipeline: load leads"), emit)
	}

	personaQuery := params.PersonaSpec
	if o.expander != nil {
		personaQuery = o.expander.ExpandPersona(ctx, run.ID, params.PersonaSpec)
	}
	emit(model.ProgressEvent{Type: model.EventPersonaReady})
	emit(model.ProgressEvent{Type: model.EventStart, TotalCompanies: len(companies)})

	log.Info("run started",
		zap.Int("companies", len(companies)),
		zap.Int("top_n", params.TopN),
		zap.Float64("min_score", params.MinScore),
	)

	results, err := o.sched.Run(ctx, companies, sink, func(ctx context.Context, cl model.CompanyLeads) (*model.CompanyResult, error) {
		return o.ranker.RankCompany(ctx, run.ID, params.PersonaSpec, personaQuery, cl, params.TopN, params.MinScore)
	})
	if err != nil {
		return nil, o.fail(ctx, run.ID, err, emit)
	}

	var rows []model.RankedLead
	for _, res := range results {
		rows = append(rows, res.Leads...)
	}
	if err := o.store.InsertRankedLeads(ctx, rows); err != nil {
		return nil, o.fail(ctx, run.ID, eris.Wrap(err, "pipeline: persist ranked leads"), emit)
	}

	if err := o.store.UpdateRunStatus(ctx, run.ID, model.RunStatusCompleted, ""); err != nil {
		return nil, o.fail(ctx, run.ID, eris.Wrap(err, "pipeline: complete run"), emit)
	}

	emit(model.ProgressEvent{Type: model.EventComplete})
	log.Info("run completed", zap.Int("ranked_leads", len(rows)))

	return &model.RunPayload{
		RunID:       run.ID,
		TopN:        params.TopN,
		MinScore:    params.MinScore,
		PersonaSpec: params.PersonaSpec,
		Companies:   results,
	}, nil
}

// fail records the terminal status for an aborted run. A cancellation marks
// the run cancelled and surfaces no error event; anything else marks it
// failed and emits one terminal error event.
func (o *Orchestrator) fail(ctx context.Context, runID string, runErr error, emit func(model.ProgressEvent)) error {
	status := model.RunStatusFailed
	if isCancellation(ctx, runErr) {
		status = model.RunStatusCancelled
	}

	// The run's own context may already be done; the status write must still
	// land.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.store.UpdateRunStatus(bctx, runID, status, runErr.Error()); err != nil {
		zap.L().Warn("pipeline: terminal status write failed",
			zap.String("run_id", runID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}

	if status == model.RunStatusFailed {
		emit(model.ProgressEvent{Type: model.EventError, Error: runErr.Error()})
	}

	zap.L().Warn("run aborted",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Error(runErr),
	)
	return runErr
}

func isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil
}
