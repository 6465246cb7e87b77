package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/lead-ranker/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.RankingRun{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusCompleted,
			TopN:      10,
			MinScore:  0.5,
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusFailed,
			TopN:      3,
			MinScore:  0.65,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-50 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "completed")
	assert.Contains(t, output, "def12345")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "0.65")
	assert.Contains(t, output, "2026-08-15 10:30")
	assert.Contains(t, output, "2m0s")
}

func TestFormatUsage(t *testing.T) {
	entries := []model.UsageEntry{
		{
			Operation: "generate_text", Model: "claude-sonnet-4-5-20250929",
			InputTokens: 500, OutputTokens: 150, CostUSD: 0.00375,
		},
		{
			Operation: "rank", Pass: 0, Model: "claude-haiku-4-5-20251001",
			InputTokens: 1200, OutputTokens: 300, CostUSD: 0.00216,
		},
		{
			Operation: "rank", Pass: 1, Model: "claude-haiku-4-5-20251001",
			InputTokens: 1200, OutputTokens: 280, CostUSD: 0.00208,
		},
	}

	var buf bytes.Buffer
	formatUsage(&buf, entries)

	output := buf.String()
	assert.Contains(t, output, "OPERATION")
	assert.Contains(t, output, "generate_text")
	assert.Contains(t, output, "rank")
	assert.Contains(t, output, "claude-haiku-4-5-20251001")
	assert.Contains(t, output, "Total: $0.0080 over 3 calls")
}
