package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"VP, Sales", "vp sales"},
		{"  Head of  Sales!  ", "head of sales"},
		{"Chargé d'Affaires", "charge d affaires"},
		{"C.T.O.", "c t o"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestExtractPhraseLists(t *testing.T) {
	spec := "Target: VP Sales, Head of Sales. Avoid: Engineering. Prefer: SaaS / B2B"
	lists := ExtractPhraseLists(spec)

	assert.Equal(t, []string{"vp sales", "head of sales"}, lists.Target)
	assert.Equal(t, []string{"engineering"}, lists.Avoid)
	assert.Equal(t, []string{"saas", "b2b"}, lists.Prefer)
}

func TestExtractPhraseLists_Multiline(t *testing.T) {
	spec := "target:\nCFO\nController; Treasurer\navoid: interns"
	lists := ExtractPhraseLists(spec)

	assert.Equal(t, []string{"cfo", "controller", "treasurer"}, lists.Target)
	assert.Equal(t, []string{"interns"}, lists.Avoid)
	assert.Empty(t, lists.Prefer)
}

func TestExtractPhraseLists_NoLabels(t *testing.T) {
	lists := ExtractPhraseLists("senior finance decision makers at mid-market firms")
	assert.True(t, lists.Empty())
}
