// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package acl

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/sift/core"
)

// ApplyGrants replaces the stored grant list for a resource with the
// state reported by a connector sync pass, then invalidates. Grants are
// replaced wholesale; the source-of-truth permission list arrives
// complete on every pass, so there is no merge.
func (s *Service) ApplyGrants(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType, grants []*core.GrantEntry) error {
	if tenantID == "" {
		return core.ErrEmptyTenant
	}
	if resourceID == "" {
		return core.ErrEmptyResource
	}
	if err := core.ValidateResourceType(resourceType); err != nil {
		return err
	}

	now := time.Now().UTC()
	for i, grant := range grants {
		if grant == nil {
			return fmt.Errorf("grant %d for %q: %w", i, resourceID, core.ErrInvalidGrant)
		}
		grant.TenantID = tenantID
		grant.ResourceID = resourceID
		grant.ResourceType = resourceType
		grant.SyncedAt = now
		if err := core.ValidateGrantEntry(grant); err != nil {
			return fmt.Errorf("grant %d for %q: %w", i, resourceID, err)
		}
	}

	if err := s.grants.ReplaceGrants(ctx, tenantID, resourceID, resourceType, grants); err != nil {
		return err
	}

	return s.Invalidate(ctx, core.InvalidationEvent{
		Kind:         core.InvalidationResourcePermissions,
		TenantID:     tenantID,
		ResourceID:   resourceID,
		ResourceType: resourceType,
	})
}

// ApplyGroup replaces a group's direct membership record, then
// invalidates every resource whose ACL depends on the group.
func (s *Service) ApplyGroup(ctx context.Context, group *core.GroupRecord) error {
	if group == nil {
		return core.ErrEmptyPrincipal
	}
	if group.TenantID == "" {
		return core.ErrEmptyTenant
	}
	if group.ExternalGroupID == "" {
		return core.ErrEmptyPrincipal
	}
	if group.LastSyncedAt.IsZero() {
		group.LastSyncedAt = time.Now().UTC()
	}

	if err := s.groups.PutGroup(ctx, group); err != nil {
		return err
	}

	return s.Invalidate(ctx, core.InvalidationEvent{
		Kind:     core.InvalidationGroupMembership,
		TenantID: group.TenantID,
		Provider: group.Provider,
		GroupID:  group.ExternalGroupID,
	})
}

// RemoveUser invalidates every cached projection involving a departing
// user. Grant rows naming the user are the connector's to clean up;
// recomputation of the affected resources picks up whatever state the
// next sync pass leaves behind.
func (s *Service) RemoveUser(ctx context.Context, tenantID string, userID core.ID) error {
	if tenantID == "" {
		return core.ErrEmptyTenant
	}
	return s.Invalidate(ctx, core.InvalidationEvent{
		Kind:     core.InvalidationUserRemoved,
		TenantID: tenantID,
		UserID:   userID,
	})
}
