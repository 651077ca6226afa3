package workflow

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// definitionCache 只缓存已发布的定义, 已发布的定义内容不可变, 只有删除和激活状态变化需要失效
type definitionCache struct {
	store *cache.Cache
}

func newDefinitionCache(ttl time.Duration) *definitionCache {
	if ttl <= 0 {
		return nil
	}
	return &definitionCache{store: cache.New(ttl, 2*ttl)}
}

func definitionCacheKey(id int64) string {
	return "definition_" + strconv.FormatInt(id, 10)
}

func (c *definitionCache) get(id int64) (*WorkflowDefinition, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.store.Get(definitionCacheKey(id))
	if !ok {
		return nil, false
	}
	def, ok := v.(*WorkflowDefinition)
	return def, ok
}

func (c *definitionCache) set(def *WorkflowDefinition) {
	if c == nil || def == nil || !def.IsPublished {
		return
	}
	c.store.SetDefault(definitionCacheKey(def.ID), def)
}

func (c *definitionCache) invalidate(ids ...int64) {
	if c == nil {
		return
	}
	for _, id := range ids {
		c.store.Delete(definitionCacheKey(id))
	}
}
