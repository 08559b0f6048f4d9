package core

// InvalidationKind discriminates permission-change events delivered by the
// sync layer.
type InvalidationKind int

const (
	// InvalidationResourcePermissions signals that the grant list of a
	// resource changed.
	InvalidationResourcePermissions InvalidationKind = iota + 1
	// InvalidationGroupMembership signals that the membership of an
	// external group changed.
	InvalidationGroupMembership
	// InvalidationUserRemoved signals that a user was removed from a
	// tenant entirely.
	InvalidationUserRemoved
)

// InvalidationEvent describes a permission change that must purge derived
// cache state before any query is allowed to observe the old answer.
// Only the fields relevant to the Kind are set.
type InvalidationEvent struct {
	Kind         InvalidationKind
	TenantID     string
	ResourceID   string       // InvalidationResourcePermissions
	ResourceType ResourceType // InvalidationResourcePermissions
	Provider     string       // InvalidationGroupMembership
	GroupID      string       // InvalidationGroupMembership
	UserID       ID           // InvalidationUserRemoved
}
