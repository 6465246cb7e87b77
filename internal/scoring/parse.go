package scoring

import (
	"encoding/json"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/lead-ranker/internal/model"
	"github.com/sells-group/lead-ranker/pkg/anthropic"
)

// scoreItem is one entry of the model's score array. Score and Final are
// both accepted; models use either key.
type scoreItem struct {
	Index  int                `json:"index"`
	Score  *float64           `json:"score"`
	Final  *float64           `json:"final"`
	Scores map[string]float64 `json:"scores"`
}

// leadScore holds a validated per-lead score with optional axis sub-scores.
type leadScore struct {
	index int
	score float64
	axes  *model.AxisScores
}

// extractText concatenates all text content blocks from a message response.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// stripFences removes markdown code fences wrapping the model output.
func stripFences(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	return strings.TrimSpace(text)
}

// extractItems pulls the first well-formed JSON array (or single object) out
// of model output. Truncated arrays are repaired by cutting back to the last
// complete element; items that still fail to parse are dropped by the caller.
func extractItems(text string) []json.RawMessage {
	text = stripFences(text)

	if start := strings.Index(text, "["); start >= 0 {
		candidates := []string{text[start:]}
		// A doubled opening bracket means the response carried its own "["
		// on top of a prefilled one; the inner array is the real payload.
		if strings.HasPrefix(text[start:], "[[") {
			candidates = append(candidates, text[start+1:])
		}

		for _, candidate := range candidates {
			if end := strings.LastIndex(candidate, "]"); end >= 0 {
				if items, ok := tryArray(candidate[:end+1]); ok {
					return items
				}
			}
		}
		// Truncated output: cut back to the last complete object and close
		// the array ourselves.
		for _, candidate := range candidates {
			if last := strings.LastIndex(candidate, "}"); last >= 0 {
				if items, ok := tryArray(candidate[:last+1] + "]"); ok {
					return items
				}
			}
		}
	}

	// No array at all: accept a single bare object.
	objStart := strings.Index(text, "{")
	objEnd := strings.LastIndex(text, "}")
	if objStart >= 0 && objEnd > objStart {
		raw := json.RawMessage(text[objStart : objEnd+1])
		if json.Valid(raw) {
			return []json.RawMessage{raw}
		}
	}

	return nil
}

func tryArray(s string) ([]json.RawMessage, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, false
	}
	return items, true
}

// parseScores validates each extracted item against the shortlist size.
// Unparseable, out-of-range, or non-finite items are dropped, degrading
// coverage rather than aborting the company.
func parseScores(text string, n int) []leadScore {
	items := extractItems(text)

	var out []leadScore
	dropped := 0
	for _, raw := range items {
		var item scoreItem
		if err := json.Unmarshal(raw, &item); err != nil {
			dropped++
			continue
		}

		val := item.Score
		if val == nil {
			val = item.Final
		}
		if val == nil || math.IsNaN(*val) || math.IsInf(*val, 0) {
			dropped++
			continue
		}
		if item.Index < 0 || item.Index >= n {
			dropped++
			continue
		}

		score := *val
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}

		out = append(out, leadScore{
			index: item.Index,
			score: score,
			axes:  parseAxes(item.Scores),
		})
	}

	if dropped > 0 {
		zap.L().Debug("scoring: dropped invalid score items",
			zap.Int("dropped", dropped),
			zap.Int("accepted", len(out)),
		)
	}

	return out
}

// parseAxes converts the model's axis map into AxisScores. Unknown keys and
// non-finite values are ignored; a fully empty map yields nil.
func parseAxes(raw map[string]float64) *model.AxisScores {
	if len(raw) == 0 {
		return nil
	}

	axes := &model.AxisScores{}
	any := false
	for key, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		val := v
		switch key {
		case "role":
			axes.Role = &val
		case "seniority":
			axes.Seniority = &val
		case "industry":
			axes.Industry = &val
		case "size":
			axes.Size = &val
		case "data_quality":
			axes.DataQuality = &val
		default:
			continue
		}
		any = true
	}

	if !any {
		return nil
	}
	return axes
}
