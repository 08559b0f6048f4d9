package acl

import "errors"

var (
	// ErrGrantRepositoryRequired is returned when a grant repository is not provided.
	ErrGrantRepositoryRequired = errors.New("grant repository required")

	// ErrACLRepositoryRequired is returned when an ACL repository is not provided.
	ErrACLRepositoryRequired = errors.New("ACL repository required")

	// ErrGroupRepositoryRequired is returned when a group repository is not provided.
	ErrGroupRepositoryRequired = errors.New("group repository required")

	// ErrExpanderRequired is returned when a group expander is not provided.
	ErrExpanderRequired = errors.New("group expander required")

	// ErrResolverRequired is returned when an identity resolver is not provided.
	ErrResolverRequired = errors.New("identity resolver required")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrUnknownEventKind is returned for an invalidation event with an
	// unrecognized kind. Unknown events fail loudly; silently ignoring
	// one would leave stale permissions cached.
	ErrUnknownEventKind = errors.New("unknown invalidation event kind")
)
