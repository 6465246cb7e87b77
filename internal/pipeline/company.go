// Package pipeline drives ranking runs: a per-company pipeline that turns raw
// leads into ranked rows, a bounded-worker scheduler that streams per-company
// results, and the orchestrator that owns run lifecycle and persistence.
package pipeline

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/lead-ranker/internal/model"
	"github.com/sells-group/lead-ranker/internal/persona"
	"github.com/sells-group/lead-ranker/internal/rankcache"
	"github.com/sells-group/lead-ranker/internal/scoring"
	"github.com/sells-group/lead-ranker/internal/shortlist"
)

// Scorer is the LLM scoring surface the pipeline needs.
type Scorer interface {
	ScoreShortlist(ctx context.Context, runID, personaQuery string, company model.Company, entries []shortlist.Entry) (map[string]*scoring.Aggregate, error)
}

// Ranker runs the per-company pipeline: shortlist, cache check, LLM scoring,
// aggregation, ranking. It never persists; ranked rows go back to the caller.
type Ranker struct {
	scorer Scorer
	cache  *rankcache.Cache
	bounds shortlist.Bounds
}

// NewRanker creates a Ranker. Zero bounds fall back to the defaults.
func NewRanker(scorer Scorer, cache *rankcache.Cache, bounds shortlist.Bounds) *Ranker {
	if bounds.Min <= 0 && bounds.Max <= 0 && bounds.Multiplier <= 0 {
		bounds = shortlist.DefaultBounds
	}
	return &Ranker{scorer: scorer, cache: cache, bounds: bounds}
}

// leadOutcome accumulates everything known about one lead before ranking.
type leadOutcome struct {
	lead      model.Lead
	index     int
	heuristic float64
	score     *float64
	axes      *model.AxisScores
}

// RankCompany executes the company state machine and returns the full ranked
// lead list. Heuristics run against the raw persona spec; LLM scoring uses the
// expanded persona query. A scoring error aborts the company.
func (r *Ranker) RankCompany(ctx context.Context, runID, personaSpec, personaQuery string, cl model.CompanyLeads, topN int, minScore float64) (*model.CompanyResult, error) {
	lists := persona.ExtractPhraseLists(personaSpec)
	sl := shortlist.Select(cl.Leads, lists, topN, r.bounds)

	outcomes := make([]leadOutcome, len(cl.Leads))
	for i, lead := range cl.Leads {
		outcomes[i] = leadOutcome{lead: lead, index: i, heuristic: sl.Scores[i]}
	}

	key := rankcache.Key(personaSpec, cl.Company.ID, cl.Leads)
	if cached, hit := r.cachedScores(ctx, key, cl.Company.ID); hit {
		for i := range outcomes {
			if cs, ok := cached[outcomes[i].lead.ID]; ok {
				score := cs.Score
				outcomes[i].score = &score
				outcomes[i].axes = cs.Axes
			}
		}
	} else {
		aggs, err := r.scorer.ScoreShortlist(ctx, runID, personaQuery, cl.Company, sl.Entries)
		if err != nil {
			return nil, err
		}

		var toCache []model.CachedScore
		for i := range outcomes {
			agg, ok := aggs[outcomes[i].lead.ID]
			if !ok {
				continue
			}
			mean := agg.Mean()
			outcomes[i].score = mean
			outcomes[i].axes = agg.Axes
			if mean != nil {
				toCache = append(toCache, model.CachedScore{
					LeadID: outcomes[i].lead.ID,
					Score:  *mean,
					Axes:   agg.Axes,
				})
			}
		}

		if r.cache != nil && len(toCache) > 0 {
			r.cache.Put(ctx, key, cl.Company.ID, rankcache.PersonaHash(personaSpec), toCache)
		}
	}

	rows := rankOutcomes(runID, cl.Company, outcomes, lists, topN, minScore)
	return &model.CompanyResult{
		CompanyID:   cl.Company.ID,
		CompanyName: cl.Company.Name,
		Leads:       rows,
	}, nil
}

func (r *Ranker) cachedScores(ctx context.Context, key, companyID string) (map[string]model.CachedScore, bool) {
	if r.cache == nil {
		return nil, false
	}
	cached, hit := r.cache.Check(ctx, key, companyID)
	if hit {
		zap.L().Debug("pipeline: rank cache hit", zap.String("company_id", companyID))
	}
	return cached, hit
}

// rankOutcomes sorts, ranks, and flags the company's leads. Sorting is by
// (score desc, heuristic desc, original index asc) with null scores last;
// ranks are dense 1..N. A lead is relevant iff its score is non-null and at
// least minScore; the first topN relevant leads in rank order are selected.
func rankOutcomes(runID string, company model.Company, outcomes []leadOutcome, lists persona.PhraseLists, topN int, minScore float64) []model.RankedLead {
	order := make([]int, len(outcomes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		oa, ob := outcomes[order[a]], outcomes[order[b]]
		switch {
		case oa.score != nil && ob.score == nil:
			return true
		case oa.score == nil && ob.score != nil:
			return false
		case oa.score != nil && ob.score != nil && *oa.score != *ob.score:
			return *oa.score > *ob.score
		}
		if oa.heuristic != ob.heuristic {
			return oa.heuristic > ob.heuristic
		}
		return oa.index < ob.index
	})

	rows := make([]model.RankedLead, 0, len(outcomes))
	selectedCount := 0
	for pos, idx := range order {
		o := outcomes[idx]

		relevant := o.score != nil && *o.score >= minScore
		relevance := model.RelevanceIrrelevant
		if relevant {
			relevance = model.RelevanceRelevant
		}

		selected := false
		if relevant && selectedCount < topN {
			selected = true
			selectedCount++
		}

		confidence, needsReview := scoring.Confidence(o.score, o.axes)

		rows = append(rows, model.RankedLead{
			RunID:       runID,
			LeadID:      o.lead.ID,
			CompanyID:   company.ID,
			FullName:    o.lead.FullName,
			Title:       o.lead.Title,
			Score:       o.score,
			Relevance:   relevance,
			Rank:        pos + 1,
			Selected:    selected,
			Reason:      persona.Reason(o.lead, lists),
			Confidence:  confidence,
			NeedsReview: needsReview,
			Axes:        o.axes,
		})
	}
	return rows
}
