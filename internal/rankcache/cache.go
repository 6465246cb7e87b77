// Package rankcache is the content-addressed result cache for company
// rankings. The cache is a derived, TTL-bounded optimization layer: it may be
// dropped and rebuilt without loss of correctness, and no cache failure is
// allowed to fail a run.
package rankcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-ranker/internal/model"
)

// DefaultTTL is the cache row lifetime. Expiry is lazy: a read after expiry
// is a miss, not a delete.
const DefaultTTL = 7 * 24 * time.Hour

// Store is the persistence surface the cache needs. Implementations must
// treat expired rows as absent on read and upsert on write (last write wins
// on the unique key).
type Store interface {
	GetRankCache(ctx context.Context, key string) ([]model.CachedScore, bool, error)
	PutRankCache(ctx context.Context, key, companyID, personaHash string, scores []model.CachedScore, expiresAt time.Time) error
	IncrementRankCacheHit(ctx context.Context, key string) error
}

// Key derives the content hash for a (persona, company, lead-set) triple.
// Lead identity fields are part of the hash, so membership or title/name
// changes naturally bypass stale entries instead of serving them.
func Key(personaSpec, companyID string, leads []model.Lead) string {
	tuples := make([]string, len(leads))
	for i, l := range leads {
		tuples[i] = fmt.Sprintf("%s:%s:%s", l.ID, l.Title, l.FullName)
	}
	sort.Strings(tuples)

	h := sha256.New()
	h.Write([]byte(personaSpec))
	h.Write([]byte{0})
	h.Write([]byte(companyID))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(tuples, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

// PersonaHash is the short content hash stored alongside cache rows for
// observability.
func PersonaHash(spec string) string {
	sum := sha256.Sum256([]byte(spec))
	return hex.EncodeToString(sum[:8])
}

// Cache wraps a Store with the check/store semantics the pipeline needs.
type Cache struct {
	store Store
	ttl   time.Duration
}

// New creates a Cache. A zero ttl falls back to DefaultTTL.
func New(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl}
}

// Check returns previously computed scores keyed by lead ID, or (nil, false)
// on a miss. Read errors are logged and treated as misses. A hit increments
// the row's hit counter asynchronously, best effort.
func (c *Cache) Check(ctx context.Context, key, companyID string) (map[string]model.CachedScore, bool) {
	scores, found, err := c.store.GetRankCache(ctx, key)
	if err != nil {
		zap.L().Warn("rankcache: read failed, treating as miss",
			zap.String("company_id", companyID),
			zap.Error(err),
		)
		return nil, false
	}
	if !found {
		return nil, false
	}

	go func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.store.IncrementRankCacheHit(bctx, key); err != nil {
			zap.L().Debug("rankcache: hit count increment failed", zap.Error(err))
		}
	}()

	byLead := make(map[string]model.CachedScore, len(scores))
	for _, s := range scores {
		byLead[s.LeadID] = s
	}
	return byLead, true
}

// Put upserts computed scores with a fresh TTL. Store failures are logged,
// never propagated: the ranking result is already computed and caching is
// strictly an optimization.
func (c *Cache) Put(ctx context.Context, key, companyID, personaHash string, scores []model.CachedScore) {
	expiresAt := time.Now().UTC().Add(c.ttl)
	if err := c.store.PutRankCache(ctx, key, companyID, personaHash, scores, expiresAt); err != nil {
		zap.L().Warn("rankcache: store failed",
			zap.String("company_id", companyID),
			zap.Error(err),
		)
	}
}
