package storage

import (
	"context"

	"github.com/poiesic/sift/core"
)

// Repository provides common lifecycle operations shared across all
// repositories. Implementations must be thread-safe and support
// concurrent access.
type Repository interface {
	// Close closes the repository and releases resources.
	Close() error
}

// GrantRepository persists raw permission facts per resource.
// The grant list for a resource is replaced wholesale on each sync pass;
// superseded entries are deleted, never left behind as stale partial state.
type GrantRepository interface {
	Repository

	// ReplaceGrants atomically replaces the grant list for a resource.
	// Passing an empty list removes all grants for the resource.
	ReplaceGrants(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType, grants []*core.GrantEntry) error

	// GetGrants retrieves the current grant list for a resource.
	// Returns an empty slice when the resource has no grants.
	GetGrants(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType) ([]*core.GrantEntry, error)
}

// GroupRepository persists external group membership and cached expansions.
type GroupRepository interface {
	Repository

	// PutGroup stores the direct membership of an external group.
	PutGroup(ctx context.Context, group *core.GroupRecord) error

	// GetGroup retrieves the direct membership of an external group.
	// Returns ErrNotFound if the group is unknown.
	GetGroup(ctx context.Context, tenantID, provider, groupID string) (*core.GroupRecord, error)

	// PutExpandedGroup stores a flattened membership set for a group.
	PutExpandedGroup(ctx context.Context, expanded *core.ExpandedGroup) error

	// GetExpandedGroup retrieves the cached flattened membership for a group.
	// Returns ErrNotFound if no expansion has been cached.
	GetExpandedGroup(ctx context.Context, tenantID, provider, groupID string) (*core.ExpandedGroup, error)

	// DeleteExpandedGroup removes a cached expansion so the next sync pass
	// recomputes it. Deleting a missing row is not an error.
	DeleteExpandedGroup(ctx context.Context, tenantID, provider, groupID string) error
}

// IdentityRepository persists identity links and the minimal user records
// the resolver needs for email matching.
type IdentityRepository interface {
	Repository

	// GetLink retrieves an identity link.
	// Returns ErrNotFound if no link exists.
	GetLink(ctx context.Context, tenantID, provider, externalID string) (*core.IdentityLink, error)

	// PutLink stores an identity link.
	PutLink(ctx context.Context, link *core.IdentityLink) error

	// GetUserByEmail retrieves the internal user ID for an email address.
	// The email is matched case-insensitively. Returns ErrNotFound if no
	// user has the address.
	GetUserByEmail(ctx context.Context, tenantID, email string) (core.ID, error)

	// PutUser stores a user record, indexed by email.
	PutUser(ctx context.Context, user *core.User) error
}

// ACLRepository persists ExpandedACL rows with the reverse indexes needed
// for invalidation: user to resources and group to resources.
type ACLRepository interface {
	Repository

	// GetExpandedACL retrieves the ACL row for a resource.
	// Returns ErrNotFound if the resource has never been computed.
	GetExpandedACL(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType) (*core.ExpandedACL, error)

	// PutExpandedACL replaces the ACL row for a resource and updates both
	// reverse indexes in a single transaction. prevVersion is the
	// ExpansionVersion the caller read before recomputing; the write is
	// rejected with ErrVersionConflict when the stored row has moved past
	// it. A resource with no existing row uses prevVersion 0.
	PutExpandedACL(ctx context.Context, acl *core.ExpandedACL, prevVersion uint64) error

	// DeleteExpandedACL removes the ACL row and its index entries, e.g. on
	// resource deletion cascade. Deleting a missing row is not an error.
	DeleteExpandedACL(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType) error

	// GetResourcesForUser retrieves every resource a user is allowed to
	// read, from the user index.
	GetResourcesForUser(ctx context.Context, tenantID string, userID core.ID) ([]core.ResourceKey, error)

	// GetResourcesForGroup retrieves every resource whose ACL was derived
	// from the given group, from the group index.
	GetResourcesForGroup(ctx context.Context, tenantID, groupID string) ([]core.ResourceKey, error)
}

// ChunkRepository persists searchable chunks with precomputed embeddings.
type ChunkRepository interface {
	Repository

	// AddChunks adds chunks to storage. Chunks with ID 0 get a
	// content-derived ID. Returns the chunks with IDs and timestamps
	// populated.
	AddChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error)

	// GetChunk retrieves a single chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, tenantID string, id core.ID) (*core.Chunk, error)

	// ScanChunks visits every chunk of a tenant. Iteration stops when fn
	// returns an error, which is propagated to the caller.
	ScanChunks(ctx context.Context, tenantID string, fn func(*core.Chunk) error) error

	// DeleteChunksByResource removes every chunk of a resource, as part of
	// a deletion cascade.
	DeleteChunksByResource(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType) error
}
