package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/lead-ranker/internal/model"
)

func f64(v float64) *float64 { return &v }

func TestFormatRunPayload(t *testing.T) {
	payload := &model.RunPayload{
		RunID:    "abc12345-6789-0000-0000-000000000000",
		TopN:     2,
		MinScore: 0.5,
		Companies: []model.CompanyResult{
			{
				CompanyID:   "co-1",
				CompanyName: "Acme Corp",
				Leads: []model.RankedLead{
					{
						Rank: 1, FullName: "Dana Fox", Title: "CFO",
						Score: f64(0.92), Confidence: 0.88, Selected: true,
						Reason: "matched target phrase \"cfo\"",
					},
					{
						Rank: 2, FullName: "Kim Lee", Title: "VP Finance",
						Score: f64(0.61), Confidence: 0.41, Selected: true, NeedsReview: true,
					},
					{
						Rank: 3, FullName: "Sam Roe", Title: "Engineer",
						Score: f64(0.12), Confidence: 0.9,
					},
				},
			},
		},
	}

	var buf bytes.Buffer
	formatRunPayload(&buf, payload)
	output := buf.String()

	assert.Contains(t, output, "COMPANY")
	assert.Contains(t, output, "Acme Corp")
	assert.Contains(t, output, "Dana Fox")
	assert.Contains(t, output, "0.92")
	assert.Contains(t, output, "matched target phrase")

	// Review flag rides on the confidence column.
	assert.Contains(t, output, "0.41 *")

	// Unselected leads stay out of the summary table.
	assert.NotContains(t, output, "Sam Roe")

	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "runs show abc12345-6789-0000-0000-000000000000")
}

func TestFormatRunPayload_NilScore(t *testing.T) {
	payload := &model.RunPayload{
		RunID: "run-1",
		Companies: []model.CompanyResult{
			{
				CompanyName: "Acme",
				Leads: []model.RankedLead{
					{Rank: 1, FullName: "Dana Fox", Title: "CFO", Selected: true, NeedsReview: true},
				},
			},
		},
	}

	var buf bytes.Buffer
	formatRunPayload(&buf, payload)

	assert.Contains(t, buf.String(), "-")
	assert.Contains(t, buf.String(), "Dana Fox")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
