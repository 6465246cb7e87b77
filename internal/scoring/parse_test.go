package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-ranker/pkg/anthropic"
)

func TestParseScores_PlainArray(t *testing.T) {
	text := `[{"index":0,"score":0.9},{"index":1,"score":0.2}]`
	scores := parseScores(text, 2)

	require.Len(t, scores, 2)
	assert.Equal(t, 0, scores[0].index)
	assert.InDelta(t, 0.9, scores[0].score, 0.001)
	assert.Equal(t, 1, scores[1].index)
	assert.InDelta(t, 0.2, scores[1].score, 0.001)
}

func TestParseScores_MarkdownFences(t *testing.T) {
	text := "```json\n[{\"index\":0,\"score\":0.7}]\n```"
	scores := parseScores(text, 1)
	require.Len(t, scores, 1)
	assert.InDelta(t, 0.7, scores[0].score, 0.001)
}

func TestParseScores_FinalKey(t *testing.T) {
	text := `[{"index":0,"final":0.55}]`
	scores := parseScores(text, 1)
	require.Len(t, scores, 1)
	assert.InDelta(t, 0.55, scores[0].score, 0.001)
}

func TestParseScores_DoubledBracket(t *testing.T) {
	// Prefill reassembly prepends "["; a model that echoed the bracket
	// anyway leaves a doubled opening. The inner array must still parse.
	text := "[" + `[{"index":0,"score":0.9},{"index":1,"score":0.2}]`
	scores := parseScores(text, 2)

	require.Len(t, scores, 2)
	assert.Equal(t, 0, scores[0].index)
	assert.InDelta(t, 0.9, scores[0].score, 0.001)
	assert.Equal(t, 1, scores[1].index)
	assert.InDelta(t, 0.2, scores[1].score, 0.001)
}

func TestParseScores_DoubledBracketTruncated(t *testing.T) {
	text := `[[{"index":0,"score":0.8},{"index":1,"sc`
	scores := parseScores(text, 2)

	require.Len(t, scores, 1)
	assert.Equal(t, 0, scores[0].index)
	assert.InDelta(t, 0.8, scores[0].score, 0.001)
}

func TestParseScores_TruncatedArray(t *testing.T) {
	// Output cut mid-element: the complete leading items survive.
	text := `[{"index":0,"score":0.8},{"index":1,"score":0.6},{"index":2,"sco`
	scores := parseScores(text, 3)

	require.Len(t, scores, 2)
	assert.Equal(t, 0, scores[0].index)
	assert.Equal(t, 1, scores[1].index)
}

func TestParseScores_OutOfRangeDropped(t *testing.T) {
	text := `[{"index":-1,"score":0.5},{"index":5,"score":0.5},{"index":0,"score":0.5}]`
	scores := parseScores(text, 2)
	require.Len(t, scores, 1)
	assert.Equal(t, 0, scores[0].index)
}

func TestParseScores_MissingScoreDropped(t *testing.T) {
	text := `[{"index":0},{"index":1,"score":0.4}]`
	scores := parseScores(text, 2)
	require.Len(t, scores, 1)
	assert.Equal(t, 1, scores[0].index)
}

func TestParseScores_ClampsRange(t *testing.T) {
	text := `[{"index":0,"score":1.7},{"index":1,"score":-0.2}]`
	scores := parseScores(text, 2)
	require.Len(t, scores, 2)
	assert.Equal(t, 1.0, scores[0].score)
	assert.Equal(t, 0.0, scores[1].score)
}

func TestParseScores_SingleObject(t *testing.T) {
	text := `Here is the result: {"index":0,"score":0.66}`
	scores := parseScores(text, 1)
	require.Len(t, scores, 1)
	assert.InDelta(t, 0.66, scores[0].score, 0.001)
}

func TestParseScores_Garbage(t *testing.T) {
	assert.Empty(t, parseScores("I cannot score these leads.", 5))
	assert.Empty(t, parseScores("", 5))
}

func TestParseScores_AxisScores(t *testing.T) {
	text := `[{"index":0,"score":0.8,"scores":{"role":5,"seniority":4,"bogus":3}}]`
	scores := parseScores(text, 1)

	require.Len(t, scores, 1)
	require.NotNil(t, scores[0].axes)
	require.NotNil(t, scores[0].axes.Role)
	assert.Equal(t, 5.0, *scores[0].axes.Role)
	require.NotNil(t, scores[0].axes.Seniority)
	assert.Equal(t, 4.0, *scores[0].axes.Seniority)
	assert.Nil(t, scores[0].axes.Industry)
}

func TestExtractText_JoinsBlocks(t *testing.T) {
	resp := &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{
			{Type: "text", Text: "part one"},
			{Type: "text", Text: "part two"},
		},
	}
	assert.Equal(t, "part one\npart two", extractText(resp))
	assert.Equal(t, "", extractText(nil))
}
