package cache

import (
	"strings"
	"time"
)

const defaultCostTTL = 30 * time.Second

// CostResolverCache stores hot-path action price lookups. The TTL is kept short
// so a price change reaches new consumptions quickly; the pipeline still
// re-resolves on every attempt rather than reusing a price captured earlier.
type CostResolverCache interface {
	GetCost(actionType, itemID string) (int64, bool)
	SetCost(actionType, itemID string, credits int64)
	Invalidate(actionType, itemID string)
}

type costResolverCache struct {
	costs Cache[string, int64]
	ttl   time.Duration
}

// NewCostResolverCache returns an in-memory cache tuned for cost resolution.
func NewCostResolverCache() CostResolverCache {
	return &costResolverCache{
		costs: NewTTLCache[string, int64](),
		ttl:   defaultCostTTL,
	}
}

func (c *costResolverCache) GetCost(actionType, itemID string) (int64, bool) {
	return c.costs.Get(cacheKey(actionType, itemID))
}

func (c *costResolverCache) SetCost(actionType, itemID string, credits int64) {
	if credits < 0 {
		return
	}
	c.costs.Set(cacheKey(actionType, itemID), credits, c.ttl)
}

func (c *costResolverCache) Invalidate(actionType, itemID string) {
	c.costs.Delete(cacheKey(actionType, itemID))
}

func cacheKey(parts ...string) string {
	return strings.Join(parts, "|")
}
