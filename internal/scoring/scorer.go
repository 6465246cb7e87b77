// Package scoring owns every LLM interaction of the ranking engine: persona
// query expansion, multi-pass lead scoring with defensive output parsing, and
// the confidence estimate derived from the results.
package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-ranker/internal/cost"
	"github.com/sells-group/lead-ranker/internal/model"
	"github.com/sells-group/lead-ranker/internal/shortlist"
	"github.com/sells-group/lead-ranker/pkg/anthropic"
)

// UsageRecorder persists one accounting entry per LLM invocation.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, entry model.UsageEntry) error
}

// Config holds scoring knobs. Zero values fall back to documented defaults.
type Config struct {
	Model               string
	ExpandModel         string
	MaxTokens           int64
	Passes              int
	SinglePassThreshold int
	RequestsPerSec      float64
}

const scoreSystemPrompt = `You are a sales research analyst scoring leads against a buyer persona. For each numbered lead, judge how well the person matches the persona. Respond with a valid JSON array only, one object per lead:
[{"index": <lead number>, "score": <0.0-1.0 overall match>, "scores": {"role": <0-5>, "seniority": <0-5>, "industry": <0-5>, "size": <0-5>, "data_quality": <0-5>}}]
Omit the "scores" object when you cannot judge the sub-dimensions.`

const scoreUserPrompt = `Buyer persona:
%s

Company: %s

Leads:
%s

Score every lead. Return only the JSON array.`

// Scorer performs rate-limited, usage-accounted scoring calls.
type Scorer struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
	calc    *cost.Calculator
	usage   UsageRecorder
}

// New creates a Scorer. client may be nil (no credentials); scoring then
// fails fast and expansion falls back to the raw spec. usage may be nil.
func New(client anthropic.Client, cfg Config, calc *cost.Calculator, usage UsageRecorder) *Scorer {
	if cfg.Passes <= 0 {
		cfg.Passes = 2
	}
	if cfg.SinglePassThreshold <= 0 {
		cfg.SinglePassThreshold = 20
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	return &Scorer{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		calc:    calc,
		usage:   usage,
	}
}

// Aggregate accumulates scores for one lead across passes.
type Aggregate struct {
	Sum   float64
	Count int
	Axes  *model.AxisScores
}

// Mean returns the mean score over passes in which the lead received a valid
// score, or nil if it never parsed successfully.
func (a Aggregate) Mean() *float64 {
	if a.Count == 0 {
		return nil
	}
	m := a.Sum / float64(a.Count)
	return &m
}

// passOrder returns the presentation order for a pass: natural, reversed,
// then rotated. Multiple passes in different orders average out the position
// bias inherent to LLM list-scoring.
func passOrder(n, pass int) []int {
	order := make([]int, n)
	switch {
	case pass == 0:
		for i := range order {
			order[i] = i
		}
	case pass == 1:
		for i := range order {
			order[i] = n - 1 - i
		}
	default:
		offset := pass % n
		if offset == 0 {
			zap.L().Debug("scoring: pass rotation collides with natural order",
				zap.Int("pass", pass),
				zap.Int("shortlist_size", n),
			)
		}
		for i := range order {
			order[i] = (i + offset) % n
		}
	}
	return order
}

// PassCount returns how many scoring passes a shortlist of the given size
// gets. Small shortlists take one pass: re-ordering does not meaningfully
// change a small set's ranking.
func (s *Scorer) PassCount(shortlistSize int) int {
	if shortlistSize <= s.cfg.SinglePassThreshold {
		return 1
	}
	return s.cfg.Passes
}

// ScoreShortlist runs the multi-pass scoring loop for one company and
// returns per-lead aggregates keyed by lead ID. Parse failures degrade
// coverage; a failed LLM call (after the unstructured retry) aborts the
// company, and a context cancellation surfaces as ctx.Err().
func (s *Scorer) ScoreShortlist(ctx context.Context, runID, personaQuery string, company model.Company, entries []shortlist.Entry) (map[string]*Aggregate, error) {
	if s.client == nil {
		return nil, eris.New("scoring: no LLM client configured")
	}

	aggregates := make(map[string]*Aggregate, len(entries))
	for _, e := range entries {
		aggregates[e.Lead.ID] = &Aggregate{}
	}

	passes := s.PassCount(len(entries))
	for pass := 0; pass < passes; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		order := passOrder(len(entries), pass)
		scores, err := s.scorePass(ctx, runID, personaQuery, company, entries, order, pass)
		if err != nil {
			return nil, err
		}

		for _, ls := range scores {
			entry := entries[order[ls.index]]
			agg := aggregates[entry.Lead.ID]
			agg.Sum += ls.score
			agg.Count++
			if agg.Axes == nil {
				agg.Axes = ls.axes
			}
		}
	}

	return aggregates, nil
}

// scorePass sends one scoring sweep over the shortlist in the given
// presentation order. The first attempt constrains output with an assistant
// "[" prefill; on request failure it retries once unconstrained before
// giving up on the pass.
func (s *Scorer) scorePass(ctx context.Context, runID, personaQuery string, company model.Company, entries []shortlist.Entry, order []int, pass int) ([]leadScore, error) {
	prompt := fmt.Sprintf(scoreUserPrompt, personaQuery, company.Name, formatLeadList(entries, order))

	resp, prefilled, err := s.invoke(ctx, prompt, true)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zap.L().Warn("scoring: structured request failed, retrying unconstrained",
			zap.String("company_id", company.ID),
			zap.Int("pass", pass),
			zap.Error(err),
		)
		resp, prefilled, err = s.invoke(ctx, prompt, false)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, eris.Wrapf(err, "scoring: pass %d for company %s", pass, company.ID)
		}
	}

	s.recordUsage(ctx, runID, resp, "rank", pass)

	text := extractText(resp)
	if prefilled {
		text = "[" + text
	}

	scores := parseScores(text, len(entries))
	if len(scores) == 0 {
		zap.L().Warn("scoring: pass produced no parseable scores",
			zap.String("company_id", company.ID),
			zap.Int("pass", pass),
			zap.Int("shortlist_size", len(entries)),
		)
	}
	return scores, nil
}

// invoke sends one rate-limited message. prefill constrains the model to
// continue a JSON array.
func (s *Scorer) invoke(ctx context.Context, prompt string, prefill bool) (*anthropic.MessageResponse, bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	msgs := []anthropic.Message{{Role: "user", Content: prompt}}
	if prefill {
		msgs = append(msgs, anthropic.Message{Role: "assistant", Content: "["})
	}

	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(scoreSystemPrompt),
		Messages:  msgs,
	})
	if err != nil {
		return nil, prefill, err
	}
	return resp, prefill, nil
}

// formatLeadList renders the numbered shortlist for the prompt. Indices are
// positions in the presented order; parse results map back through it.
func formatLeadList(entries []shortlist.Entry, order []int) string {
	var b strings.Builder
	for i, idx := range order {
		e := entries[idx]
		fmt.Fprintf(&b, "%d. %s", i, e.Lead.DisplayText())
		var extras []string
		if e.Lead.Email != "" {
			extras = append(extras, "email on file")
		}
		if e.Lead.LinkedInURL != "" {
			extras = append(extras, "linkedin on file")
		}
		if len(extras) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(extras, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// recordUsage logs cost attribution and writes one accounting entry for an
// LLM invocation. The write is detached: failure is logged and never affects
// the caller.
func (s *Scorer) recordUsage(ctx context.Context, runID string, resp *anthropic.MessageResponse, operation string, pass int) {
	if resp == nil {
		return
	}
	resp.Usage.LogCost(resp.Model, operation)
	if s.usage == nil {
		return
	}

	entry := model.UsageEntry{
		RunID:        runID,
		Provider:     "anthropic",
		Model:        resp.Model,
		Operation:    operation,
		Pass:         pass,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if s.calc != nil {
		entry.CostUSD = s.calc.Claude(resp.Model,
			int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens),
			int(resp.Usage.CacheCreationInputTokens), int(resp.Usage.CacheReadInputTokens))
	} else {
		entry.CostUSD = resp.Usage.EstimateCost(resp.Model)
	}

	go func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.usage.RecordUsage(bctx, entry); err != nil {
			zap.L().Warn("scoring: usage accounting failed",
				zap.String("run_id", runID),
				zap.String("operation", operation),
				zap.Error(err),
			)
		}
	}()
}
