package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-ranker/internal/model"
	"github.com/sells-group/lead-ranker/internal/shortlist"
)

// fakeRunStore is an in-memory RunStore recording every mutation.
type fakeRunStore struct {
	mu        sync.Mutex
	companies []model.CompanyLeads
	persona   *model.Persona
	run       *model.RankingRun
	statuses  []model.RunStatus
	lastError string
	inserted  []model.RankedLead
	insertErr error
	listErr   error
}

func (f *fakeRunStore) CreatePersona(_ context.Context, spec string) (*model.Persona, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persona = &model.Persona{ID: "persona-1", Spec: spec}
	return f.persona, nil
}

func (f *fakeRunStore) CreateRun(_ context.Context, run *model.RankingRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.ID = "run-1"
	f.run = run
	return nil
}

func (f *fakeRunStore) UpdateRunStatus(_ context.Context, _ string, status model.RunStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.lastError = errMsg
	return nil
}

func (f *fakeRunStore) ListCompanyLeads(_ context.Context, _ string) ([]model.CompanyLeads, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.companies, nil
}

func (f *fakeRunStore) InsertRankedLeads(_ context.Context, rows []model.RankedLead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, rows...)
	return nil
}

func (f *fakeRunStore) finalStatus() model.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

// staticExpander returns a fixed rubric.
type staticExpander struct{ rubric string }

func (e staticExpander) ExpandPersona(_ context.Context, _, spec string) string {
	if e.rubric == "" {
		return spec
	}
	return e.rubric
}

func newTestOrchestrator(store *fakeRunStore, scorer Scorer) *Orchestrator {
	ranker := NewRanker(scorer, nil, shortlist.DefaultBounds)
	return NewOrchestrator(store, ranker, NewScheduler(2), staticExpander{rubric: "expanded rubric"})
}

func TestOrchestrator_SuccessfulRun(t *testing.T) {
	store := &fakeRunStore{companies: []model.CompanyLeads{twoLeadCompany()}}
	scorer := &stubScorer{scores: map[string]float64{"lead-0": 0.9, "lead-1": 0.2}}
	o := newTestOrchestrator(store, scorer)
	rec := &eventRecorder{}

	payload, err := o.Execute(context.Background(), RunParams{
		PersonaSpec: salesPersona, TopN: 1, MinScore: 0.5,
	}, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, "run-1", payload.RunID)
	assert.Equal(t, salesPersona, payload.PersonaSpec)
	require.Len(t, payload.Companies, 1)
	assert.Len(t, store.inserted, 2)
	assert.Equal(t, model.RunStatusCompleted, store.finalStatus())

	events := rec.all()
	require.GreaterOrEqual(t, len(events), 5)
	assert.Equal(t, model.EventPersonaReady, events[0].Type)
	assert.Equal(t, model.EventStart, events[1].Type)
	assert.Equal(t, 1, events[1].TotalCompanies)
	assert.Equal(t, model.EventComplete, events[len(events)-1].Type)
}

func TestOrchestrator_ScorerFailureMarksRunFailed(t *testing.T) {
	store := &fakeRunStore{companies: []model.CompanyLeads{twoLeadCompany()}}
	scorer := &stubScorer{err: eris.New("auth failure")}
	o := newTestOrchestrator(store, scorer)
	rec := &eventRecorder{}

	_, err := o.Execute(context.Background(), RunParams{PersonaSpec: salesPersona, TopN: 1, MinScore: 0.5}, rec.sink)
	require.Error(t, err)

	assert.Equal(t, model.RunStatusFailed, store.finalStatus())
	assert.Contains(t, store.lastError, "auth failure")
	assert.Empty(t, store.inserted)

	var sawError, sawComplete bool
	for _, ev := range rec.all() {
		switch ev.Type {
		case model.EventError:
			sawError = true
		case model.EventComplete:
			sawComplete = true
		}
	}
	assert.True(t, sawError)
	assert.False(t, sawComplete)
}

func TestOrchestrator_CancellationMarksRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &fakeRunStore{companies: []model.CompanyLeads{twoLeadCompany()}}
	scorer := &stubScorer{scores: map[string]float64{"lead-0": 0.9}}
	o := newTestOrchestrator(store, scorer)
	rec := &eventRecorder{}

	_, err := o.Execute(ctx, RunParams{PersonaSpec: salesPersona, TopN: 1, MinScore: 0.5}, rec.sink)
	require.Error(t, err)

	assert.Equal(t, model.RunStatusCancelled, store.finalStatus())
	assert.Empty(t, store.inserted)

	for _, ev := range rec.all() {
		assert.NotEqual(t, model.EventComplete, ev.Type)
		assert.NotEqual(t, model.EventError, ev.Type)
	}
}

func TestOrchestrator_InsertFailureMarksRunFailed(t *testing.T) {
	store := &fakeRunStore{
		companies: []model.CompanyLeads{twoLeadCompany()},
		insertErr: eris.New("disk full"),
	}
	scorer := &stubScorer{scores: map[string]float64{"lead-0": 0.9, "lead-1": 0.2}}
	o := newTestOrchestrator(store, scorer)

	_, err := o.Execute(context.Background(), RunParams{PersonaSpec: salesPersona, TopN: 1, MinScore: 0.5}, nil)
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, store.finalStatus())
	assert.Contains(t, store.lastError, "disk full")
}

func TestOrchestrator_EmptyCompanyList(t *testing.T) {
	store := &fakeRunStore{}
	scorer := &stubScorer{scores: map[string]float64{}}
	o := newTestOrchestrator(store, scorer)
	rec := &eventRecorder{}

	payload, err := o.Execute(context.Background(), RunParams{PersonaSpec: salesPersona, TopN: 5, MinScore: 0.5}, rec.sink)
	require.NoError(t, err)
	assert.Empty(t, payload.Companies)
	assert.Equal(t, model.RunStatusCompleted, store.finalStatus())

	events := rec.all()
	assert.Equal(t, model.EventStart, events[1].Type)
	assert.Equal(t, 0, events[1].TotalCompanies)
	assert.Equal(t, model.EventComplete, events[len(events)-1].Type)
}
