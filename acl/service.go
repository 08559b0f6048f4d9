package acl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/expansion"
	"github.com/poiesic/sift/identity"
	"github.com/poiesic/sift/storage"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Service owns the expanded ACLs and their read-through cache.
//
// Ordering contract: an ExpandedACL write and the purge of every cache
// entry derived from the old row happen inside one critical section
// (serveGate write lock), and cache fills happen under the read lock. A
// fill therefore either completes before the commit, in which case its
// entry is purged, or starts after it, in which case it reads the new
// row. Once Recompute or Invalidate returns, no stale entry can be
// served. The entry TTL is a backstop, never the correctness mechanism.
//
// Permission checks fail closed: any cache or store failure inside
// IsAllowed answers "not allowed".
type Service struct {
	grants   storage.GrantRepository
	acls     storage.ACLRepository
	groups   storage.GroupRepository
	expander *expansion.Expander
	resolver *identity.Resolver

	cache          *Cache
	serveGate      sync.RWMutex
	recomputeLocks *resourceLocks

	pool        *ants.Pool
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithCache replaces the default cache configuration.
func WithCache(maxCost int64, ttl time.Duration) Option {
	return func(s *Service) error {
		cache, err := NewCache(maxCost, ttl)
		if err != nil {
			return err
		}
		if s.cache != nil {
			s.cache.Close()
		}
		s.cache = cache
		return nil
	}
}

// WithPoolSize sets the background recompute worker pool size.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(s *Service) error {
		if size < 1 {
			size = 1
		}
		if s.pool != nil {
			s.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		s.pool = pool
		return nil
	}
}

// WithRetry sets the retry policy for background recomputation.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *Service) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		s.maxAttempts = maxAttempts
		s.baseDelay = baseDelay
		return nil
	}
}

// NewService creates the ACL service.
func NewService(
	grants storage.GrantRepository,
	acls storage.ACLRepository,
	groups storage.GroupRepository,
	expander *expansion.Expander,
	resolver *identity.Resolver,
	opts ...Option,
) (*Service, error) {
	if grants == nil {
		return nil, ErrGrantRepositoryRequired
	}
	if acls == nil {
		return nil, ErrACLRepositoryRequired
	}
	if groups == nil {
		return nil, ErrGroupRepositoryRequired
	}
	if expander == nil {
		return nil, ErrExpanderRequired
	}
	if resolver == nil {
		return nil, ErrResolverRequired
	}

	cache, err := NewCache(0, 0)
	if err != nil {
		return nil, err
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		cache.Close()
		return nil, err
	}

	s := &Service{
		grants:         grants,
		acls:           acls,
		groups:         groups,
		expander:       expander,
		resolver:       resolver,
		cache:          cache,
		recomputeLocks: newResourceLocks(),
		pool:           pool,
		maxAttempts:    defaultMaxAttempts,
		baseDelay:      defaultBaseDelay,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close releases the worker pool and cache.
// In-flight background recomputations are abandoned.
func (s *Service) Close() {
	if s.pool != nil {
		s.pool.Release()
	}
	if s.cache != nil {
		s.cache.Close()
	}
}

// GetAllowedUsers returns the set of users allowed to read a resource.
// A resource with no computed ACL yields an empty set. The returned set
// is shared with the cache and must not be mutated.
func (s *Service) GetAllowedUsers(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType) (map[core.ID]struct{}, error) {
	if set, ok := s.cache.GetResourceUsers(tenantID, resourceID, resourceType); ok {
		return set, nil
	}

	s.serveGate.RLock()
	defer s.serveGate.RUnlock()

	row, err := s.acls.GetExpandedACL(ctx, tenantID, resourceID, resourceType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			empty := map[core.ID]struct{}{}
			s.cache.SetResourceUsers(tenantID, resourceID, resourceType, empty)
			return empty, nil
		}
		return nil, err
	}

	set := make(map[core.ID]struct{}, len(row.AllowedUserIDs))
	for _, id := range row.AllowedUserIDs {
		set[id] = struct{}{}
	}
	s.cache.SetResourceUsers(tenantID, resourceID, resourceType, set)
	return set, nil
}

// GetAllowedResources returns the set of resources a user may read.
// The returned set is shared with the cache and must not be mutated.
func (s *Service) GetAllowedResources(ctx context.Context, tenantID string, userID core.ID) (map[core.ResourceKey]struct{}, error) {
	if set, ok := s.cache.GetUserResources(tenantID, userID); ok {
		return set, nil
	}

	s.serveGate.RLock()
	defer s.serveGate.RUnlock()

	keys, err := s.acls.GetResourcesForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[core.ResourceKey]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	s.cache.SetUserResources(tenantID, userID, set)
	return set, nil
}

// IsAllowed reports whether a user may read a resource, using whichever
// cache shape is warm before falling back to a read-through lookup.
//
// IsAllowed fails closed: a lookup failure answers false and the cause is
// logged for operators, never surfaced as an allow.
func (s *Service) IsAllowed(ctx context.Context, tenantID string, userID core.ID, resourceID string, resourceType core.ResourceType) bool {
	if set, ok := s.cache.GetResourceUsers(tenantID, resourceID, resourceType); ok {
		_, allowed := set[userID]
		return allowed
	}
	if set, ok := s.cache.GetUserResources(tenantID, userID); ok {
		_, allowed := set[core.ResourceKey{ResourceID: resourceID, ResourceType: resourceType}]
		return allowed
	}

	set, err := s.GetAllowedUsers(ctx, tenantID, resourceID, resourceType)
	if err != nil {
		s.logger.Warn("ACL lookup failed, denying access",
			"tenantID", tenantID, "userID", uint64(userID),
			"resourceID", resourceID, "resourceType", int(resourceType), "err", err)
		return false
	}
	_, allowed := set[userID]
	return allowed
}

// Invalidate processes a permission-change event. The purge of affected
// cache entries is unconditional and synchronous: when Invalidate
// returns, no query can answer from state predating the event. The
// recomputation work itself is scheduled on the background pool.
func (s *Service) Invalidate(ctx context.Context, event core.InvalidationEvent) error {
	if event.TenantID == "" {
		return core.ErrEmptyTenant
	}

	switch event.Kind {
	case core.InvalidationResourcePermissions:
		s.purgeResource(ctx, event.TenantID, event.ResourceID, event.ResourceType)
		s.scheduleRecompute(event.TenantID, event.ResourceID, event.ResourceType)
		return nil

	case core.InvalidationGroupMembership:
		// Drop the stored flattened set first so recomputation cannot
		// reuse it.
		if err := s.groups.DeleteExpandedGroup(ctx, event.TenantID, event.Provider, event.GroupID); err != nil {
			return err
		}
		// The reverse index is transitive, so this finds resources
		// granted to any ancestor of the changed group, not only the
		// group itself.
		resources, err := s.acls.GetResourcesForGroup(ctx, event.TenantID, event.GroupID)
		if err != nil {
			return err
		}
		// Every group folded into an affected resource may sit above the
		// changed group, and its stored expansion would then still carry
		// the old members. Dropping all of them over-invalidates
		// unrelated source groups, which costs a re-expansion, never a
		// wrong answer.
		stale := map[string]struct{}{event.GroupID: {}}
		for _, key := range resources {
			row, err := s.acls.GetExpandedACL(ctx, event.TenantID, key.ResourceID, key.ResourceType)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			for _, groupID := range row.SourceGroups {
				stale[groupID] = struct{}{}
			}
		}
		for groupID := range stale {
			if err := s.groups.DeleteExpandedGroup(ctx, event.TenantID, event.Provider, groupID); err != nil {
				return err
			}
		}
		s.serveGate.Lock()
		for groupID := range stale {
			s.cache.PurgeGroup(event.TenantID, event.Provider, groupID)
		}
		s.cache.Wait()
		s.serveGate.Unlock()
		for _, key := range resources {
			s.purgeResource(ctx, event.TenantID, key.ResourceID, key.ResourceType)
			s.scheduleRecompute(event.TenantID, key.ResourceID, key.ResourceType)
		}
		return nil

	case core.InvalidationUserRemoved:
		resources, err := s.acls.GetResourcesForUser(ctx, event.TenantID, event.UserID)
		if err != nil {
			return err
		}
		s.serveGate.Lock()
		s.cache.PurgeUser(event.TenantID, event.UserID)
		for _, key := range resources {
			s.cache.PurgeResource(event.TenantID, key.ResourceID, key.ResourceType)
		}
		s.cache.Wait()
		s.serveGate.Unlock()
		for _, key := range resources {
			s.scheduleRecompute(event.TenantID, key.ResourceID, key.ResourceType)
		}
		return nil

	default:
		return fmt.Errorf("%w: %d", ErrUnknownEventKind, event.Kind)
	}
}

// purgeResource removes the resource entry and the user entries derived
// from its current ACL row.
func (s *Service) purgeResource(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType) {
	var affected []core.ID
	if row, err := s.acls.GetExpandedACL(ctx, tenantID, resourceID, resourceType); err == nil {
		affected = row.AllowedUserIDs
	} else if !errors.Is(err, storage.ErrNotFound) {
		// Cannot tell which users were allowed; purging only the
		// resource entry keeps user entries correct because they are
		// rebuilt from the store index, which the coming recompute
		// rewrites.
		s.logger.Warn("reading ACL row for purge failed",
			"tenantID", tenantID, "resourceID", resourceID, "err", err)
	}

	s.serveGate.Lock()
	s.cache.PurgeResource(tenantID, resourceID, resourceType)
	for _, userID := range affected {
		s.cache.PurgeUser(tenantID, userID)
	}
	s.cache.Wait()
	s.serveGate.Unlock()
}

// Recompute rebuilds the ExpandedACL row for one resource from its
// current grants, then purges the cache entries the old row fed, all
// before any query may observe the new row through the cache.
//
// Recomputations of the same resource serialize on a per-resource lock;
// different resources run in parallel. The write itself is guarded by an
// optimistic ExpansionVersion check as a second line of defense across
// processes.
func (s *Service) Recompute(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType) error {
	if tenantID == "" {
		return core.ErrEmptyTenant
	}
	if err := core.ValidateResourceType(resourceType); err != nil {
		return err
	}

	unlock := s.recomputeLocks.lock(recomputeKey(tenantID, resourceID, resourceType))
	defer unlock()

	grants, err := s.grants.GetGrants(ctx, tenantID, resourceID, resourceType)
	if err != nil {
		return fmt.Errorf("reading grants for %q: %w", resourceID, err)
	}

	now := time.Now().UTC()
	allowed := make(map[core.ID]struct{})
	groupSet := make(map[string]struct{})

	for _, grant := range grants {
		if grant.Expired(now) {
			continue
		}
		switch grant.PrincipalType {
		case core.PrincipalTypeUser:
			userID, err := s.resolver.Resolve(ctx, tenantID, grant.Provider, grant.PrincipalID)
			if err != nil {
				if errors.Is(err, core.ErrPrincipalNotFound) {
					s.logger.Warn("dropping unresolved user grant",
						"tenantID", tenantID, "resourceID", resourceID,
						"principal", grant.PrincipalID, "provider", grant.Provider)
					continue
				}
				return fmt.Errorf("resolving principal %q: %w", grant.PrincipalID, err)
			}
			allowed[userID] = struct{}{}

		case core.PrincipalTypeGroup:
			expansion, err := s.expandGrantGroup(ctx, tenantID, grant.Provider, grant.PrincipalID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					s.logger.Warn("dropping grant for unknown group",
						"tenantID", tenantID, "resourceID", resourceID,
						"groupID", grant.PrincipalID, "provider", grant.Provider)
					continue
				}
				return err
			}
			for userID := range expansion.Members {
				allowed[userID] = struct{}{}
			}
			// Every folded group, nested ones included, goes into the
			// reverse index; a membership change anywhere in the tree
			// must be able to find this resource.
			for _, groupID := range expansion.Groups {
				groupSet[groupID] = struct{}{}
			}
			groupSet[grant.PrincipalID] = struct{}{}

		default:
			s.logger.Warn("dropping grant with unknown principal type",
				"tenantID", tenantID, "resourceID", resourceID, "principalType", int(grant.PrincipalType))
		}
	}

	prevVersion := uint64(0)
	var oldAllowed []core.ID
	if old, err := s.acls.GetExpandedACL(ctx, tenantID, resourceID, resourceType); err == nil {
		prevVersion = old.ExpansionVersion
		oldAllowed = old.AllowedUserIDs
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	next := &core.ExpandedACL{
		TenantID:         tenantID,
		ResourceID:       resourceID,
		ResourceType:     resourceType,
		AllowedUserIDs:   sortedIDs(allowed),
		SourceGroups:     sortedStrings(groupSet),
		ExpansionVersion: prevVersion + 1,
		ExpandedAt:       now,
	}

	// Commit and purge inside one critical section: a cache fill either
	// finished before this block (its entry is purged below) or starts
	// after it (and reads the committed row).
	s.serveGate.Lock()
	err = s.acls.PutExpandedACL(ctx, next, prevVersion)
	if err == nil {
		s.cache.PurgeResource(tenantID, resourceID, resourceType)
		for _, userID := range oldAllowed {
			s.cache.PurgeUser(tenantID, userID)
		}
		for _, userID := range next.AllowedUserIDs {
			s.cache.PurgeUser(tenantID, userID)
		}
		s.cache.Wait()
	}
	s.serveGate.Unlock()

	if err != nil {
		return fmt.Errorf("committing ACL for %q: %w", resourceID, err)
	}

	s.logger.Debug("recomputed ACL",
		"tenantID", tenantID, "resourceID", resourceID,
		"allowedUsers", len(next.AllowedUserIDs), "version", next.ExpansionVersion)
	return nil
}

// expandGrantGroup returns the flattened view of a granted group,
// serving from the group cache shape when warm. An expansion with failed
// subtrees becomes an error and is never cached: an incomplete union must
// not be persisted, so the caller fails and the background worker retries
// after the failed subtrees recover.
func (s *Service) expandGrantGroup(ctx context.Context, tenantID, provider, groupID string) (*GroupExpansion, error) {
	if cached, ok := s.cache.GetGroupExpansion(tenantID, provider, groupID); ok {
		return cached, nil
	}

	// Fill under the read lock, like the user and resource shapes: an
	// invalidation purge holds the write lock, so a fill either finished
	// before it (and is purged) or starts after the stale store rows are
	// already gone.
	s.serveGate.RLock()
	defer s.serveGate.RUnlock()

	result, err := s.expander.Expand(ctx, tenantID, provider, groupID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("expanding group %q: %w", groupID, err)
	}
	if len(result.Failed) > 0 {
		return nil, fmt.Errorf("%w: group %q expansion incomplete (failed: %v)",
			core.ErrUpstreamUnavailable, groupID, result.Failed)
	}
	for _, warning := range result.Warnings {
		s.logger.Warn("group expansion warning",
			"tenantID", tenantID, "groupID", groupID, "warning", warning)
	}

	expansion := &GroupExpansion{Members: result.Members, Groups: result.Groups}
	s.cache.SetGroupExpansion(tenantID, provider, groupID, expansion)
	return expansion, nil
}

// scheduleRecompute submits a recomputation to the worker pool with
// retry. Pool exhaustion falls back to inline execution so an
// invalidation is never silently dropped.
func (s *Service) scheduleRecompute(tenantID, resourceID string, resourceType core.ResourceType) {
	task := func() {
		ctx := context.Background()
		err := RetryWithBackoff(ctx, func() error {
			return s.Recompute(ctx, tenantID, resourceID, resourceType)
		}, s.maxAttempts, s.baseDelay)
		if err != nil {
			s.logger.Error("background ACL recompute failed",
				"tenantID", tenantID, "resourceID", resourceID, "err", err)
		}
	}
	if err := s.pool.Submit(task); err != nil {
		s.logger.Warn("recompute pool unavailable, running inline", "err", err)
		task()
	}
}

func recomputeKey(tenantID, resourceID string, resourceType core.ResourceType) string {
	return fmt.Sprintf("%s\x00%d\x00%s", tenantID, resourceType, resourceID)
}

func sortedIDs(set map[core.ID]struct{}) []core.ID {
	ids := make([]core.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func sortedStrings(set map[string]struct{}) []string {
	values := make([]string, 0, len(set))
	for value := range set {
		values = append(values, value)
	}
	slices.Sort(values)
	return values
}
