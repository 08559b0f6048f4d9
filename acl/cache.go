package acl

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/poiesic/sift/core"
)

const (
	defaultCacheMaxCost = 1 << 26 // cost is entry count weighted by set size
	defaultCacheTTL     = 5 * time.Minute
)

// Cache is the read-through ACL cache. It holds three entry shapes:
// per-user allowed-resource-sets, per-resource allowed-user-sets, and
// per-group flattened expansions (served to Recompute so resources
// sharing a granted group expand it once between invalidations). Keys
// are composed with the tenant ID so cross-tenant collisions cannot
// occur.
//
// The TTL is a backstop only. Correctness comes from the invalidation
// protocol in Service: every entry is purged in the same logical step
// that commits the store row it was derived from.
type Cache struct {
	cache *ristretto.Cache[string, any]
	ttl   time.Duration
}

// NewCache creates an ACL cache. maxCost <= 0 and ttl <= 0 select defaults.
func NewCache(maxCost int64, ttl time.Duration) (*Cache, error) {
	if maxCost <= 0 {
		maxCost = defaultCacheMaxCost
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 1e6,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{cache: cache, ttl: ttl}, nil
}

func userKey(tenantID string, userID core.ID) string {
	return fmt.Sprintf("usr\x00%s\x00%d", tenantID, userID)
}

func resourceCacheKey(tenantID, resourceID string, rt core.ResourceType) string {
	return fmt.Sprintf("res\x00%s\x00%d\x00%s", tenantID, rt, resourceID)
}

func groupKey(tenantID, provider, groupID string) string {
	return fmt.Sprintf("grp\x00%s\x00%s\x00%s", tenantID, provider, groupID)
}

// GetUserResources returns the cached allowed-resource-set for a user.
func (c *Cache) GetUserResources(tenantID string, userID core.ID) (map[core.ResourceKey]struct{}, bool) {
	value, found := c.cache.Get(userKey(tenantID, userID))
	if !found {
		return nil, false
	}
	set, ok := value.(map[core.ResourceKey]struct{})
	return set, ok
}

// SetUserResources caches the allowed-resource-set for a user.
func (c *Cache) SetUserResources(tenantID string, userID core.ID, resources map[core.ResourceKey]struct{}) {
	c.cache.SetWithTTL(userKey(tenantID, userID), resources, int64(len(resources))+1, c.ttl)
}

// GetResourceUsers returns the cached allowed-user-set for a resource.
func (c *Cache) GetResourceUsers(tenantID, resourceID string, rt core.ResourceType) (map[core.ID]struct{}, bool) {
	value, found := c.cache.Get(resourceCacheKey(tenantID, resourceID, rt))
	if !found {
		return nil, false
	}
	set, ok := value.(map[core.ID]struct{})
	return set, ok
}

// SetResourceUsers caches the allowed-user-set for a resource.
func (c *Cache) SetResourceUsers(tenantID, resourceID string, rt core.ResourceType, users map[core.ID]struct{}) {
	c.cache.SetWithTTL(resourceCacheKey(tenantID, resourceID, rt), users, int64(len(users))+1, c.ttl)
}

// GroupExpansion is the cached flattened view of a granted group: the
// transitive member set plus every group folded into it. Only complete
// expansions are ever cached.
type GroupExpansion struct {
	Members map[core.ID]struct{}
	Groups  []string
}

// GetGroupExpansion returns the cached flattened view of a group.
func (c *Cache) GetGroupExpansion(tenantID, provider, groupID string) (*GroupExpansion, bool) {
	value, found := c.cache.Get(groupKey(tenantID, provider, groupID))
	if !found {
		return nil, false
	}
	expansion, ok := value.(*GroupExpansion)
	return expansion, ok
}

// SetGroupExpansion caches the flattened view of a group.
func (c *Cache) SetGroupExpansion(tenantID, provider, groupID string, expansion *GroupExpansion) {
	c.cache.SetWithTTL(groupKey(tenantID, provider, groupID), expansion, int64(len(expansion.Members))+1, c.ttl)
}

// PurgeUser removes a user's allowed-resource-set.
func (c *Cache) PurgeUser(tenantID string, userID core.ID) {
	c.cache.Del(userKey(tenantID, userID))
}

// PurgeResource removes a resource's allowed-user-set.
func (c *Cache) PurgeResource(tenantID, resourceID string, rt core.ResourceType) {
	c.cache.Del(resourceCacheKey(tenantID, resourceID, rt))
}

// PurgeGroup removes a group's flattened expansion.
func (c *Cache) PurgeGroup(tenantID, provider, groupID string) {
	c.cache.Del(groupKey(tenantID, provider, groupID))
}

// Wait blocks until all buffered cache operations have been applied.
// Invalidation calls it so a purge is visible before the purge is
// reported complete.
func (c *Cache) Wait() {
	c.cache.Wait()
}

// Close releases cache resources.
func (c *Cache) Close() {
	c.cache.Close()
}
