package shortlist

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-ranker/internal/model"
	"github.com/sells-group/lead-ranker/internal/persona"
)

func leadN(i int, title string) model.Lead {
	return model.Lead{
		ID:       fmt.Sprintf("lead-%d", i),
		FullName: fmt.Sprintf("Lead %d", i),
		Title:    title,
	}
}

func TestBoundsSize(t *testing.T) {
	b := DefaultBounds

	// topN=3 → 24 > min 20, capped at leadCount
	assert.Equal(t, 24, b.Size(300, 3))
	// topN=1 → 8 < min 20
	assert.Equal(t, 20, b.Size(300, 1))
	// topN=50 → 400 > max 200
	assert.Equal(t, 200, b.Size(300, 50))
	// fewer leads than bound
	assert.Equal(t, 5, b.Size(5, 3))
}

func TestSelect_SmallCompanyNoFiltering(t *testing.T) {
	leads := []model.Lead{leadN(0, "CEO"), leadN(1, "Intern"), leadN(2, "VP Sales")}
	lists := persona.ExtractPhraseLists("Target: VP Sales")

	res := Select(leads, lists, 1, DefaultBounds)

	require.Len(t, res.Entries, 3)
	require.Len(t, res.Scores, 3)
	// No filtering: original order preserved.
	for i, e := range res.Entries {
		assert.Equal(t, i, e.Index)
		assert.True(t, res.Picked[i])
	}
}

func TestSelect_LargeCompanyCappedAtMax(t *testing.T) {
	leads := make([]model.Lead, 300)
	for i := range leads {
		leads[i] = leadN(i, "Account Manager")
	}
	lists := persona.ExtractPhraseLists("Target: VP Sales")

	res := Select(leads, lists, 50, DefaultBounds)

	assert.Len(t, res.Entries, 200)
	assert.Len(t, res.Scores, 300)
	assert.Len(t, res.Picked, 200)

	// Deterministic on repeated calls with identical input.
	res2 := Select(leads, lists, 50, DefaultBounds)
	require.Len(t, res2.Entries, 200)
	for i := range res.Entries {
		assert.Equal(t, res.Entries[i].Index, res2.Entries[i].Index)
	}
}

func TestSelect_AvoidSinksButNotExcluded(t *testing.T) {
	leads := make([]model.Lead, 30)
	for i := range leads {
		leads[i] = leadN(i, "Sales Rep")
	}
	leads[0].Title = "Engineering Lead"
	lists := persona.ExtractPhraseLists("Target: Sales. Avoid: Engineering.")

	// Bound of 20 with 30 leads: filtering happens, the avoid lead ranks last.
	res := Select(leads, lists, 1, Bounds{Min: 20, Max: 200, Multiplier: 8})

	require.Len(t, res.Entries, 20)
	assert.False(t, res.Picked[0], "avoid-matched lead should fall below the cut")

	// With a bound large enough, the avoid lead still reaches the LLM pass.
	resAll := Select(leads, lists, 1, Bounds{Min: 30, Max: 200, Multiplier: 8})
	assert.True(t, resAll.Picked[0])
}

func TestSelect_TieBreakOnQualityThenIndex(t *testing.T) {
	leads := []model.Lead{
		leadN(0, "Manager"),
		{ID: "lead-1", FullName: "Lead 1", Title: "Manager", Email: "l1@x.com"},
		leadN(2, "Manager"),
	}
	for i := 3; i < 25; i++ {
		leads = append(leads, leadN(i, "Analyst"))
	}
	lists := persona.ExtractPhraseLists("Target: Manager")

	res := Select(leads, lists, 1, Bounds{Min: 2, Max: 2, Multiplier: 1})

	require.Len(t, res.Entries, 2)
	// lead 1 wins on quality (email), then lead 0 on index.
	assert.Equal(t, 1, res.Entries[0].Index)
	assert.Equal(t, 0, res.Entries[1].Index)
}
