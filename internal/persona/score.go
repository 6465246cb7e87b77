package persona

import (
	"fmt"
	"strings"

	"github.com/sells-group/lead-ranker/internal/model"
)

// Signed weights for phrase matches. Avoid matches subtract heavily so they
// sink in the shortlist without being excluded outright.
const (
	targetWeight    = 4.0
	preferWeight    = 2.0
	avoidWeight     = -6.0
	seniorityWeight = 1.5
	qualityFactor   = 0.1
)

// seniorityKeywords matches common leadership titles. Word-boundary matching
// happens against normalized text, so "vp" matches "VP, Finance" but not
// "supervisor".
var seniorityKeywords = []string{
	"chief", "ceo", "cfo", "cto", "coo", "cmo", "cro",
	"vp", "vice president", "evp", "svp",
	"president", "founder", "co founder", "owner", "partner", "principal",
	"head of", "director", "managing director",
}

// QualityScore rates how complete a lead's contact data is, 0-7.
// Email is worth the most since outreach depends on it.
func QualityScore(lead model.Lead) float64 {
	var q float64
	if strings.TrimSpace(lead.FullName) != "" {
		q++
	}
	if strings.TrimSpace(lead.Title) != "" {
		q++
	}
	if strings.TrimSpace(lead.LinkedInURL) != "" {
		q += 2
	}
	if strings.TrimSpace(lead.Email) != "" {
		q += 3
	}
	return q
}

// containsPhrase reports whether the normalized haystack contains the
// normalized phrase on word boundaries.
func containsPhrase(normText, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(normText[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || normText[start-1] == ' '
		afterOK := end == len(normText) || normText[end] == ' '
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

// SenioritySignal returns the first seniority keyword found in the
// normalized text, if any.
func SenioritySignal(normText string) (string, bool) {
	for _, kw := range seniorityKeywords {
		if containsPhrase(normText, kw) {
			return kw, true
		}
	}
	return "", false
}

// HeuristicScore computes the cheap pre-LLM relevance score for one lead:
// signed phrase-match weights plus a seniority signal plus 10% of the lead
// quality score. Returns (score, quality).
func HeuristicScore(lead model.Lead, lists PhraseLists) (float64, float64) {
	normText := Normalize(lead.FullName + " " + lead.Title)
	quality := QualityScore(lead)

	var score float64
	for _, p := range lists.Target {
		if containsPhrase(normText, p) {
			score += targetWeight
		}
	}
	for _, p := range lists.Prefer {
		if containsPhrase(normText, p) {
			score += preferWeight
		}
	}
	for _, p := range lists.Avoid {
		if containsPhrase(normText, p) {
			score += avoidWeight
		}
	}
	if _, ok := SenioritySignal(normText); ok {
		score += seniorityWeight
	}
	score += quality * qualityFactor

	return score, quality
}

// Reason builds the human-readable explanation for a ranked lead from the
// same phrase heuristics used in shortlisting. It is an explainability layer
// over the LLM score, never a scoring input.
func Reason(lead model.Lead, lists PhraseLists) string {
	normText := Normalize(lead.FullName + " " + lead.Title)

	for _, p := range lists.Avoid {
		if containsPhrase(normText, p) {
			return fmt.Sprintf("matches avoid phrase %q", p)
		}
	}
	for _, p := range lists.Target {
		if containsPhrase(normText, p) {
			return fmt.Sprintf("matches target phrase %q", p)
		}
	}
	for _, p := range lists.Prefer {
		if containsPhrase(normText, p) {
			return fmt.Sprintf("matches prefer phrase %q", p)
		}
	}
	if kw, ok := SenioritySignal(normText); ok {
		return fmt.Sprintf("seniority signal %q", kw)
	}
	return "no persona phrase match"
}
