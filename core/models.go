package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for internal entities (users, chunks).
// It is generated using content-based hashing or assigned by the
// identity subsystem.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ResourceType identifies the kind of resource a grant or chunk belongs to.
type ResourceType int

const (
	// ResourceTypeDocument represents an ingested document.
	ResourceTypeDocument ResourceType = iota + 1
	// ResourceTypeEmail represents an ingested email.
	ResourceTypeEmail
)

// PrincipalType identifies whether a grant names a user or a group.
type PrincipalType int

const (
	// PrincipalTypeUser is an individual user principal.
	PrincipalTypeUser PrincipalType = iota + 1
	// PrincipalTypeGroup is a group principal that must be expanded.
	PrincipalTypeGroup
)

// PermissionRead is the only permission level carried by grants.
// Write/admin permissions never reach the retrieval layer.
const PermissionRead = "read"

// Resource identifies a document or email chunk collection within a tenant.
type Resource struct {
	TenantID     string
	ResourceID   string
	ResourceType ResourceType
}

// ResourceKey identifies a resource within an already tenant-scoped call.
type ResourceKey struct {
	ResourceID   string
	ResourceType ResourceType
}

// GrantEntry is a raw permission fact synced from an external source system.
// Entries are replaced wholesale on each sync pass; superseded entries are
// deleted, never mutated in place.
type GrantEntry struct {
	TenantID      string
	ResourceID    string
	ResourceType  ResourceType
	PrincipalID   string // external principal identifier
	PrincipalType PrincipalType
	Permission    string // always PermissionRead
	Provider      string // source system the fact came from
	SyncedAt      time.Time
	ExpiresAt     time.Time // zero means no expiry
}

// Expired reports whether the grant has expired as of now.
func (g *GrantEntry) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt)
}

// GroupMember is a direct member of an external group, before expansion.
type GroupMember struct {
	PrincipalType PrincipalType
	ExternalID    string
}

// GroupRecord holds the direct membership of an external group as synced
// from the source system. Nested groups appear as GroupMember entries with
// PrincipalTypeGroup.
type GroupRecord struct {
	TenantID        string
	Provider        string
	ExternalGroupID string
	DirectMembers   []GroupMember
	LastSyncedAt    time.Time
}

// ExpandedGroup caches the fully flattened membership of an external group
// (transitive closure over nested groups). SourceGroupIDs lists every
// group folded into MemberUserIDs, the group itself included; a membership
// change in any of them makes this row stale. Rows are recomputed per sync
// pass so a shared subgroup is expanded once, not once per parent.
type ExpandedGroup struct {
	TenantID         string
	Provider         string
	ExternalGroupID  string
	MemberUserIDs    []ID
	SourceGroupIDs   []string
	ExpansionVersion uint64
	LastSyncedAt     time.Time
}

// ExpandedACL is the authoritative query-time permission record for a
// resource: the union of direct user grants and the flattened members of
// every granted group, at a single expansion version. Rows are replaced
// all-or-nothing; partial unions are never persisted.
type ExpandedACL struct {
	TenantID         string
	ResourceID       string
	ResourceType     ResourceType
	AllowedUserIDs []ID

	// SourceGroups lists every group, nested ones included, whose
	// membership fed AllowedUserIDs. The reverse index built from it is
	// how a membership change deep in a group tree finds the resources
	// it must invalidate.
	SourceGroups []string

	ExpansionVersion uint64
	ExpandedAt       time.Time
}

// AllowsUser reports whether userID appears in the allowed set.
func (a *ExpandedACL) AllowsUser(userID ID) bool {
	for _, id := range a.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IdentityLink maps an external principal to an internal user.
// Links auto-created from an email match are marked unverified.
type IdentityLink struct {
	TenantID   string
	Provider   string
	ExternalID string
	UserID     ID
	Verified   bool
	CreatedAt  time.Time
}

// User is the minimal internal user record the resolver needs.
type User struct {
	ID       ID
	TenantID string
	Email    string
}

// ChunkLocation carries human-readable provenance for a chunk, used when
// presenting citations.
type ChunkLocation struct {
	Source  string // file name, mailbox, folder path
	Section string // heading, subject line
	Page    int    // zero when not paginated
}

// Chunk is a searchable fragment of a resource with a precomputed
// embedding. Chunks arrive from the ingestion subsystem; this engine
// never extracts or embeds text itself.
type Chunk struct {
	ID           ID
	TenantID     string
	ResourceID   string
	ResourceType ResourceType
	Content      string
	Vector       []float32
	Location     ChunkLocation
	Timestamp    time.Time // source document timestamp, used by date filters
	InsertedAt   time.Time
}

// SearchHit is a per-query, never-persisted result from hybrid search.
// KeywordRank and VectorRank are 1-based positions in the respective
// branch result lists; zero means the branch did not return the chunk.
type SearchHit struct {
	ChunkID      ID
	ResourceID   string
	ResourceType ResourceType
	Content      string
	Location     ChunkLocation
	KeywordRank  int
	VectorRank   int
	FusedScore   float64
}

// ContextChunk is a chunk accepted into a generation context, scoped to
// one retrieval call. CitationIndex is its 1-based position in the
// accepted list.
type ContextChunk struct {
	ChunkID       ID
	ResourceID    string
	Content       string
	CitationIndex int
	TokenCount    int
	Location      ChunkLocation
}

// Citation ties a bracketed marker in generated text back to the source
// chunk it references. SupportScore and WeakSupport are populated by
// verification; a weak citation is flagged, never removed.
type Citation struct {
	Index        int
	ResourceID   string
	ChunkID      ID
	Snippet      string
	Location     ChunkLocation
	SupportScore float64
	WeakSupport  bool
}
