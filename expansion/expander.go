package expansion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/identity"
	"github.com/poiesic/sift/storage"
)

// Result is the outcome of one group expansion.
//
// Members is the flattened set of internal user IDs. Groups lists every
// group whose membership was folded into Members, the root included;
// callers record it so a later change in any nested group can be traced
// back to what it fed. Warnings record cycles and unresolved principals;
// both truncate their branch instead of failing the expansion. Failed
// lists groups whose membership could not be fetched — their subtrees
// are missing from Members and the caller should retry them on the next
// sync pass rather than treat them as empty.
type Result struct {
	Members  map[core.ID]struct{}
	Groups   []string
	Warnings []string
	Failed   []string
}

// Expander flattens nested external groups into sets of internal user IDs.
//
// The membership graph is walked iteratively with an explicit stack and a
// visited guard, so cyclic graphs terminate and deep nesting cannot
// exhaust the call stack. Completed expansions are cached as
// ExpandedGroup rows so a subgroup shared by several parents is computed
// once per sync pass.
type Expander struct {
	groups   storage.GroupRepository
	resolver *identity.Resolver
	logger   *slog.Logger
}

// Option configures an Expander.
type Option func(*Expander) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Expander) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewExpander creates a new expander.
func NewExpander(groups storage.GroupRepository, resolver *identity.Resolver, opts ...Option) (*Expander, error) {
	if groups == nil {
		return nil, ErrGroupRepositoryRequired
	}
	if resolver == nil {
		return nil, ErrResolverRequired
	}

	e := &Expander{
		groups:   groups,
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// frame is one group being expanded on the explicit traversal stack.
type frame struct {
	groupID string
	record  *core.GroupRecord
	next    int
	members map[core.ID]struct{}
	groups  map[string]struct{} // this group plus every group folded in below it
	failed  bool                // a fetch failure somewhere in this group's subtree
}

func newFrame(groupID string, record *core.GroupRecord) *frame {
	return &frame{
		groupID: groupID,
		record:  record,
		members: make(map[core.ID]struct{}),
		groups:  map[string]struct{}{groupID: {}},
	}
}

// memoEntry carries a finished subtree within one Expand call. The
// failed flag travels with the member set: merging an incomplete subtree
// from the memo must poison the parent the same way expanding it would.
type memoEntry struct {
	members map[core.ID]struct{}
	groups  []string
	failed  bool
}

// Expand flattens a group into its transitive member set.
//
// A cached ExpandedGroup row short-circuits the traversal entirely; sync
// invalidation deletes those rows when membership changes. The result is
// deterministic for a fixed membership snapshot.
func (e *Expander) Expand(ctx context.Context, tenantID, provider, groupID string) (*Result, error) {
	if tenantID == "" {
		return nil, core.ErrEmptyTenant
	}

	if cached, err := e.groups.GetExpandedGroup(ctx, tenantID, provider, groupID); err == nil {
		return &Result{Members: toSet(cached.MemberUserIDs), Groups: sourceGroups(cached)}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	root, err := e.groups.GetGroup(ctx, tenantID, provider, groupID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fetching group %q: %w", core.ErrUpstreamUnavailable, groupID, err)
	}

	res := &Result{Members: make(map[core.ID]struct{})}
	memo := make(map[string]*memoEntry)
	onPath := map[string]bool{groupID: true}
	stack := []*frame{newFrame(groupID, root)}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := stack[len(stack)-1]

		if f.next < len(f.record.DirectMembers) {
			member := f.record.DirectMembers[f.next]
			f.next++

			switch member.PrincipalType {
			case core.PrincipalTypeUser:
				userID, err := e.resolver.Resolve(ctx, tenantID, provider, member.ExternalID)
				if err != nil {
					// Non-fatal per principal: drop and continue, never allow.
					res.Warnings = append(res.Warnings,
						fmt.Sprintf("principal %q in group %q unresolved: %v", member.ExternalID, f.groupID, err))
					e.logger.Warn("dropping unresolved principal from expansion",
						"tenantID", tenantID, "provider", provider,
						"groupID", f.groupID, "principal", member.ExternalID, "err", err)
					continue
				}
				f.members[userID] = struct{}{}

			case core.PrincipalTypeGroup:
				childID := member.ExternalID
				if onPath[childID] {
					res.Warnings = append(res.Warnings,
						fmt.Sprintf("cycle detected: group %q reached again via %q", childID, f.groupID))
					e.logger.Warn("skipping group membership cycle",
						"tenantID", tenantID, "provider", provider,
						"groupID", childID, "via", f.groupID)
					continue
				}
				if entry, ok := memo[childID]; ok {
					union(f.members, entry.members)
					addGroups(f.groups, entry.groups)
					f.failed = f.failed || entry.failed
					continue
				}
				if cached, err := e.groups.GetExpandedGroup(ctx, tenantID, provider, childID); err == nil {
					entry := &memoEntry{members: toSet(cached.MemberUserIDs), groups: sourceGroups(cached)}
					memo[childID] = entry
					union(f.members, entry.members)
					addGroups(f.groups, entry.groups)
					continue
				} else if !errors.Is(err, storage.ErrNotFound) {
					f.failed = true
					res.Failed = append(res.Failed, childID)
					res.Warnings = append(res.Warnings,
						fmt.Sprintf("subtree of group %q aborted: %v", childID, err))
					continue
				}

				child, err := e.groups.GetGroup(ctx, tenantID, provider, childID)
				if err != nil {
					// Abort only this subtree; siblings still merge. The
					// failed group is reported so the next sync pass
					// retries it instead of treating it as empty.
					f.failed = true
					res.Failed = append(res.Failed, childID)
					res.Warnings = append(res.Warnings,
						fmt.Sprintf("subtree of group %q aborted: %v", childID, err))
					e.logger.Warn("group fetch failed, aborting subtree",
						"tenantID", tenantID, "provider", provider, "groupID", childID, "err", err)
					continue
				}
				onPath[childID] = true
				stack = append(stack, newFrame(childID, child))

			default:
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("unknown principal type %d in group %q", member.PrincipalType, f.groupID))
			}
			continue
		}

		// Frame complete: memoize, cache, and merge into the parent.
		stack = stack[:len(stack)-1]
		delete(onPath, f.groupID)
		groupList := toSortedGroups(f.groups)
		memo[f.groupID] = &memoEntry{members: f.members, groups: groupList, failed: f.failed}

		if !f.failed {
			e.cacheExpansion(ctx, tenantID, provider, f.groupID, f.members, groupList, f.record.LastSyncedAt)
		}

		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			union(parent.members, f.members)
			addGroups(parent.groups, groupList)
			parent.failed = parent.failed || f.failed
		} else {
			res.Members = f.members
			res.Groups = groupList
		}
	}

	return res, nil
}

// cacheExpansion persists the flattened set for reuse within the sync
// pass. Incomplete expansions (failed subtrees) are never cached, so the
// failure is retried rather than frozen. ExpansionVersion records the
// pass that produced the row.
func (e *Expander) cacheExpansion(ctx context.Context, tenantID, provider, groupID string, members map[core.ID]struct{}, groups []string, syncedAt time.Time) {
	expanded := &core.ExpandedGroup{
		TenantID:         tenantID,
		Provider:         provider,
		ExternalGroupID:  groupID,
		MemberUserIDs:    toSlice(members),
		SourceGroupIDs:   groups,
		ExpansionVersion: uint64(time.Now().UnixMicro()),
		LastSyncedAt:     syncedAt,
	}
	if err := e.groups.PutExpandedGroup(ctx, expanded); err != nil {
		e.logger.Warn("failed to cache group expansion",
			"tenantID", tenantID, "provider", provider, "groupID", groupID, "err", err)
	}
}

func toSet(ids []core.ID) map[core.ID]struct{} {
	set := make(map[core.ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func toSlice(set map[core.ID]struct{}) []core.ID {
	ids := make([]core.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func union(dst, src map[core.ID]struct{}) {
	for id := range src {
		dst[id] = struct{}{}
	}
}

func addGroups(dst map[string]struct{}, src []string) {
	for _, g := range src {
		dst[g] = struct{}{}
	}
}

func toSortedGroups(set map[string]struct{}) []string {
	groups := make([]string, 0, len(set))
	for g := range set {
		groups = append(groups, g)
	}
	slices.Sort(groups)
	return groups
}

// sourceGroups reads the folded-group list off a cached row; rows written
// before the field existed fall back to the group itself.
func sourceGroups(cached *core.ExpandedGroup) []string {
	if len(cached.SourceGroupIDs) > 0 {
		return cached.SourceGroupIDs
	}
	return []string{cached.ExternalGroupID}
}
