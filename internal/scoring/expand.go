package scoring

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/lead-ranker/pkg/anthropic"
)

const expandSystemPrompt = `You rewrite buyer persona descriptions into precise scoring rubrics for ranking sales leads. Expand the persona into concrete criteria: target roles and titles, seniority expectations, disqualifiers, and preference signals. Keep it under 300 words. Respond with the rubric text only.`

const expandUserPrompt = `Persona description:
%s

Rewrite this as a scoring rubric.`

// ExpandPersona performs the one-per-run persona query expansion. Expansion
// is a quality enhancement, never a hard dependency: on any failure (missing
// credentials, request error, empty response) the raw spec is returned
// unchanged.
func (s *Scorer) ExpandPersona(ctx context.Context, runID, spec string) string {
	if s.client == nil {
		zap.L().Info("scoring: no LLM client, using raw persona spec")
		return spec
	}

	model := s.cfg.ExpandModel
	if model == "" {
		model = s.cfg.Model
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return spec
	}

	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     model,
		MaxTokens: s.cfg.MaxTokens,
		System:    []anthropic.SystemBlock{{Text: expandSystemPrompt}},
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(expandUserPrompt, spec)},
		},
	})
	if err != nil {
		zap.L().Warn("scoring: persona expansion failed, using raw spec",
			zap.String("run_id", runID),
			zap.Error(err),
		)
		return spec
	}

	s.recordUsage(ctx, runID, resp, "generate_text", 0)

	expanded := strings.TrimSpace(extractText(resp))
	if expanded == "" {
		zap.L().Warn("scoring: persona expansion returned empty text, using raw spec",
			zap.String("run_id", runID),
		)
		return spec
	}
	return expanded
}
