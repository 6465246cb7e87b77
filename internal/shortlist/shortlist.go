// Package shortlist heuristically pre-ranks a company's leads so only a
// bounded subset reaches LLM scoring. LLM cost scales with tokens sent;
// shortlisting caps the worst case for very large companies while small
// companies are always fully scored.
package shortlist

import (
	"sort"

	"github.com/sells-group/lead-ranker/internal/model"
	"github.com/sells-group/lead-ranker/internal/persona"
)

// Bounds configures the shortlist size formula
// min(leadCount, Max, max(Min, topN*Multiplier)).
type Bounds struct {
	Min        int
	Max        int
	Multiplier int
}

// DefaultBounds are the documented defaults.
var DefaultBounds = Bounds{Min: 20, Max: 200, Multiplier: 8}

// Entry is one shortlisted lead. Ephemeral: recomputed per company per run,
// never persisted.
type Entry struct {
	Lead    model.Lead
	Index   int // original position in the company's lead slice
	Score   float64
	Quality float64
}

// Result holds the shortlist plus the full per-lead heuristic score array
// (same length and order as the input leads, used downstream as a
// tie-breaker) and the set of original indices that were shortlisted.
type Result struct {
	Entries []Entry
	Scores  []float64
	Picked  map[int]bool
}

// Size computes the shortlist bound for a company.
func (b Bounds) Size(leadCount, topN int) int {
	size := topN * b.Multiplier
	if size < b.Min {
		size = b.Min
	}
	if size > b.Max {
		size = b.Max
	}
	if size > leadCount {
		size = leadCount
	}
	return size
}

// Select scores every lead against the persona phrase lists and returns the
// ordered shortlist. When the company has no more leads than the bound, no
// filtering occurs and entries preserve original order. Ties break on
// (quality desc, original index asc) so repeated calls with identical input
// pick the same leads.
func Select(leads []model.Lead, lists persona.PhraseLists, topN int, bounds Bounds) Result {
	entries := make([]Entry, len(leads))
	scores := make([]float64, len(leads))
	for i, lead := range leads {
		score, quality := persona.HeuristicScore(lead, lists)
		entries[i] = Entry{Lead: lead, Index: i, Score: score, Quality: quality}
		scores[i] = score
	}

	size := bounds.Size(len(leads), topN)

	picked := make(map[int]bool, size)
	if size >= len(leads) {
		for i := range leads {
			picked[i] = true
		}
		return Result{Entries: entries, Scores: scores, Picked: picked}
	}

	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		if ordered[i].Quality != ordered[j].Quality {
			return ordered[i].Quality > ordered[j].Quality
		}
		return ordered[i].Index < ordered[j].Index
	})

	ordered = ordered[:size]
	for _, e := range ordered {
		picked[e.Index] = true
	}

	return Result{Entries: ordered, Scores: scores, Picked: picked}
}
