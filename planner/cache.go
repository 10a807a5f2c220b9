package planner

import (
	"sync"
	"time"

	"github.com/BaSui01/answerflow/types"
)

// planCache 缓存规划结果。计划对同一查询是确定性的（模型辅助部分
// 低温 + 结构化输出），重复查询可以安全复用。
type planCache struct {
	entries map[string]*planCacheEntry
	mu      sync.RWMutex
	ttl     time.Duration
}

type planCacheEntry struct {
	plan      *types.QueryPlan
	expiresAt time.Time
}

func newPlanCache(ttl time.Duration) *planCache {
	return &planCache{
		entries: make(map[string]*planCacheEntry),
		ttl:     ttl,
	}
}

func (c *planCache) get(key string) (*types.QueryPlan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.plan, true
}

func (c *planCache) set(key string, plan *types.QueryPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &planCacheEntry{
		plan:      plan,
		expiresAt: time.Now().Add(c.ttl),
	}
}
