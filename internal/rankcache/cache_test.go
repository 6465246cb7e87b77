package rankcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-ranker/internal/model"
)

type fakeStore struct {
	mu       sync.Mutex
	rows     map[string][]model.CachedScore
	hits     map[string]int
	getErr   error
	putErr   error
	putCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string][]model.CachedScore{}, hits: map[string]int{}}
}

func (f *fakeStore) GetRankCache(_ context.Context, key string) ([]model.CachedScore, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	rows, ok := f.rows[key]
	return rows, ok, nil
}

func (f *fakeStore) PutRankCache(_ context.Context, key, _, _ string, scores []model.CachedScore, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCount++
	if f.putErr != nil {
		return f.putErr
	}
	f.rows[key] = scores
	return nil
}

func (f *fakeStore) IncrementRankCacheHit(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[key]++
	return nil
}

func (f *fakeStore) hitCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

func TestKey_StableUnderLeadOrder(t *testing.T) {
	a := model.Lead{ID: "1", Title: "CFO", FullName: "Ann"}
	b := model.Lead{ID: "2", Title: "CEO", FullName: "Bob"}

	k1 := Key("spec", "co-1", []model.Lead{a, b})
	k2 := Key("spec", "co-1", []model.Lead{b, a})
	assert.Equal(t, k1, k2)
}

func TestKey_ChangesWithMembershipAndFields(t *testing.T) {
	a := model.Lead{ID: "1", Title: "CFO", FullName: "Ann"}
	b := model.Lead{ID: "2", Title: "CEO", FullName: "Bob"}

	base := Key("spec", "co-1", []model.Lead{a, b})
	assert.NotEqual(t, base, Key("spec", "co-1", []model.Lead{a}))
	assert.NotEqual(t, base, Key("other spec", "co-1", []model.Lead{a, b}))
	assert.NotEqual(t, base, Key("spec", "co-2", []model.Lead{a, b}))

	retitled := a
	retitled.Title = "Controller"
	assert.NotEqual(t, base, Key("spec", "co-1", []model.Lead{retitled, b}))
}

func TestCheck_MissThenHit(t *testing.T) {
	st := newFakeStore()
	c := New(st, time.Hour)

	_, ok := c.Check(context.Background(), "k1", "co-1")
	assert.False(t, ok)

	c.Put(context.Background(), "k1", "co-1", "ph", []model.CachedScore{
		{LeadID: "lead-1", Score: 0.8},
	})

	got, ok := c.Check(context.Background(), "k1", "co-1")
	require.True(t, ok)
	assert.InDelta(t, 0.8, got["lead-1"].Score, 0.001)

	// Hit counter increments asynchronously, best effort.
	assert.Eventually(t, func() bool { return st.hitCount("k1") == 1 }, time.Second, 10*time.Millisecond)
}

func TestCheck_ReadErrorIsMiss(t *testing.T) {
	st := newFakeStore()
	st.getErr = errors.New("connection refused")
	c := New(st, time.Hour)

	_, ok := c.Check(context.Background(), "k1", "co-1")
	assert.False(t, ok)
}

func TestPut_StoreFailureAbsorbed(t *testing.T) {
	st := newFakeStore()
	st.putErr = errors.New("disk full")
	c := New(st, time.Hour)

	// Must not panic or propagate.
	c.Put(context.Background(), "k1", "co-1", "ph", []model.CachedScore{{LeadID: "l", Score: 0.5}})
	assert.Equal(t, 1, st.putCount)
}
