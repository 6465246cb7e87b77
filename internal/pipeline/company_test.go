package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-ranker/internal/model"
	"github.com/sells-group/lead-ranker/internal/rankcache"
	"github.com/sells-group/lead-ranker/internal/scoring"
	"github.com/sells-group/lead-ranker/internal/shortlist"
)

// stubScorer returns fixed per-lead scores and counts invocations.
type stubScorer struct {
	mu     sync.Mutex
	scores map[string]float64
	axes   map[string]*model.AxisScores
	err    error
	calls  int
}

func (s *stubScorer) ScoreShortlist(_ context.Context, _, _ string, _ model.Company, entries []shortlist.Entry) (map[string]*scoring.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}

	aggs := make(map[string]*scoring.Aggregate, len(entries))
	for _, e := range entries {
		agg := &scoring.Aggregate{}
		if score, ok := s.scores[e.Lead.ID]; ok {
			agg.Sum = score
			agg.Count = 1
			agg.Axes = s.axes[e.Lead.ID]
		}
		aggs[e.Lead.ID] = agg
	}
	return aggs, nil
}

func (s *stubScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeCacheStore is an in-memory rankcache.Store.
type fakeCacheStore struct {
	mu      sync.Mutex
	entries map[string][]model.CachedScore
	puts    int
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{entries: map[string][]model.CachedScore{}}
}

func (f *fakeCacheStore) GetRankCache(_ context.Context, key string) ([]model.CachedScore, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scores, ok := f.entries[key]
	return scores, ok, nil
}

func (f *fakeCacheStore) PutRankCache(_ context.Context, key, _, _ string, scores []model.CachedScore, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = scores
	f.puts++
	return nil
}

func (f *fakeCacheStore) IncrementRankCacheHit(_ context.Context, _ string) error { return nil }

func twoLeadCompany() model.CompanyLeads {
	return model.CompanyLeads{
		Company: model.Company{ID: "co-1", Name: "Acme"},
		Leads: []model.Lead{
			{ID: "lead-0", CompanyID: "co-1", FullName: "Dana Fox", Title: "VP Finance"},
			{ID: "lead-1", CompanyID: "co-1", FullName: "Sam Roe", Title: "Engineer"},
		},
	}
}

const salesPersona = "Target: VP Sales, Head of Sales. Avoid: Engineering."

func TestRankCompany_SelectsTopRelevantLead(t *testing.T) {
	scorer := &stubScorer{scores: map[string]float64{"lead-0": 0.9, "lead-1": 0.2}}
	r := NewRanker(scorer, nil, shortlist.DefaultBounds)

	result, err := r.RankCompany(context.Background(), "run-1", salesPersona, salesPersona, twoLeadCompany(), 1, 0.5)
	require.NoError(t, err)
	require.Len(t, result.Leads, 2)

	first, second := result.Leads[0], result.Leads[1]
	assert.Equal(t, "lead-0", first.LeadID)
	assert.Equal(t, 1, first.Rank)
	assert.True(t, first.Selected)
	assert.Equal(t, model.RelevanceRelevant, first.Relevance)

	assert.Equal(t, "lead-1", second.LeadID)
	assert.Equal(t, 2, second.Rank)
	assert.False(t, second.Selected)
	assert.Equal(t, model.RelevanceIrrelevant, second.Relevance)
}

func TestRankCompany_RanksAreContiguous(t *testing.T) {
	leads := make([]model.Lead, 7)
	scores := map[string]float64{}
	for i := range leads {
		id := string(rune('a' + i))
		leads[i] = model.Lead{ID: id, CompanyID: "co-1", FullName: "Lead " + id}
		if i%2 == 0 {
			scores[id] = float64(i) / 10
		}
	}
	scorer := &stubScorer{scores: scores}
	r := NewRanker(scorer, nil, shortlist.DefaultBounds)

	result, err := r.RankCompany(context.Background(), "run-1", "Target: CFO", "rubric",
		model.CompanyLeads{Company: model.Company{ID: "co-1", Name: "Acme"}, Leads: leads}, 3, 0.5)
	require.NoError(t, err)
	require.Len(t, result.Leads, 7)

	for i, rl := range result.Leads {
		assert.Equal(t, i+1, rl.Rank)
	}
}

func TestRankCompany_NullScoresRankLastAndNeverSelected(t *testing.T) {
	scorer := &stubScorer{scores: map[string]float64{"lead-1": 0.8}}
	r := NewRanker(scorer, nil, shortlist.DefaultBounds)

	result, err := r.RankCompany(context.Background(), "run-1", salesPersona, salesPersona, twoLeadCompany(), 5, 0.5)
	require.NoError(t, err)

	// lead-0 never parsed: null score, ranked last, review flagged.
	last := result.Leads[1]
	assert.Equal(t, "lead-0", last.LeadID)
	assert.Nil(t, last.Score)
	assert.False(t, last.Selected)
	assert.Equal(t, model.RelevanceIrrelevant, last.Relevance)
	assert.True(t, last.NeedsReview)
	assert.Equal(t, 0.0, last.Confidence)
}

func TestRankCompany_SelectionSkipsIrrelevantLeads(t *testing.T) {
	cl := model.CompanyLeads{
		Company: model.Company{ID: "co-1", Name: "Acme"},
		Leads: []model.Lead{
			{ID: "a", CompanyID: "co-1", FullName: "A"},
			{ID: "b", CompanyID: "co-1", FullName: "B"},
			{ID: "c", CompanyID: "co-1", FullName: "C"},
			{ID: "d", CompanyID: "co-1", FullName: "D"},
		},
	}
	// b falls below minScore but ranks second; it must not consume a slot.
	scorer := &stubScorer{scores: map[string]float64{"a": 0.9, "b": 0.45, "c": 0.7, "d": 0.6}}
	r := NewRanker(scorer, nil, shortlist.DefaultBounds)

	result, err := r.RankCompany(context.Background(), "run-1", "Target: CFO", "rubric", cl, 2, 0.5)
	require.NoError(t, err)

	selected := map[string]bool{}
	for _, rl := range result.Leads {
		if rl.Selected {
			selected[rl.LeadID] = true
			assert.Equal(t, model.RelevanceRelevant, rl.Relevance)
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "c": true}, selected)
}

func TestRankCompany_CacheHitSkipsScorer(t *testing.T) {
	cl := twoLeadCompany()
	key := rankcache.Key(salesPersona, cl.Company.ID, cl.Leads)

	cacheStore := newFakeCacheStore()
	cacheStore.entries[key] = []model.CachedScore{
		{LeadID: "lead-0", Score: 0.9},
		{LeadID: "lead-1", Score: 0.2},
	}

	scorer := &stubScorer{scores: map[string]float64{}}
	r := NewRanker(scorer, rankcache.New(cacheStore, 0), shortlist.DefaultBounds)

	result, err := r.RankCompany(context.Background(), "run-1", salesPersona, salesPersona, cl, 1, 0.5)
	require.NoError(t, err)

	assert.Equal(t, 0, scorer.callCount())
	require.NotNil(t, result.Leads[0].Score)
	assert.InDelta(t, 0.9, *result.Leads[0].Score, 0.001)
	assert.True(t, result.Leads[0].Selected)
}

func TestRankCompany_CacheMissStoresScores(t *testing.T) {
	cl := twoLeadCompany()
	cacheStore := newFakeCacheStore()

	scorer := &stubScorer{scores: map[string]float64{"lead-0": 0.9, "lead-1": 0.2}}
	r := NewRanker(scorer, rankcache.New(cacheStore, 0), shortlist.DefaultBounds)

	_, err := r.RankCompany(context.Background(), "run-1", salesPersona, salesPersona, cl, 1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, scorer.callCount())

	key := rankcache.Key(salesPersona, cl.Company.ID, cl.Leads)
	cached, ok := cacheStore.entries[key]
	require.True(t, ok)
	assert.Len(t, cached, 2)

	// Second run within the TTL: identical scores, no new LLM traffic.
	result, err := r.RankCompany(context.Background(), "run-2", salesPersona, salesPersona, cl, 1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, scorer.callCount())
	assert.InDelta(t, 0.9, *result.Leads[0].Score, 0.001)
}

func TestRankCompany_ScorerErrorAbortsCompany(t *testing.T) {
	scorer := &stubScorer{err: eris.New("llm unavailable")}
	r := NewRanker(scorer, nil, shortlist.DefaultBounds)

	_, err := r.RankCompany(context.Background(), "run-1", salesPersona, salesPersona, twoLeadCompany(), 1, 0.5)
	assert.Error(t, err)
}

func TestRankCompany_ReasonAndAxesCarriedThrough(t *testing.T) {
	cl := model.CompanyLeads{
		Company: model.Company{ID: "co-1", Name: "Acme"},
		Leads: []model.Lead{
			{ID: "lead-0", CompanyID: "co-1", FullName: "Dana Fox", Title: "VP Sales"},
			{ID: "lead-1", CompanyID: "co-1", FullName: "Sam Roe", Title: "Engineering Manager"},
		},
	}
	role := 5.0
	scorer := &stubScorer{
		scores: map[string]float64{"lead-0": 0.9, "lead-1": 0.2},
		axes:   map[string]*model.AxisScores{"lead-0": {Role: &role}},
	}
	r := NewRanker(scorer, nil, shortlist.DefaultBounds)

	result, err := r.RankCompany(context.Background(), "run-1", salesPersona, salesPersona, cl, 1, 0.5)
	require.NoError(t, err)

	require.NotNil(t, result.Leads[0].Axes)
	assert.Equal(t, 5.0, *result.Leads[0].Axes.Role)
	assert.Contains(t, result.Leads[0].Reason, "target phrase")

	var engineer model.RankedLead
	for _, rl := range result.Leads {
		if rl.LeadID == "lead-1" {
			engineer = rl
		}
	}
	assert.Contains(t, engineer.Reason, "avoid phrase")
}
