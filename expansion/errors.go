package expansion

import "errors"

var (
	// ErrGroupRepositoryRequired is returned when a group repository is not provided.
	ErrGroupRepositoryRequired = errors.New("group repository required")

	// ErrResolverRequired is returned when an identity resolver is not provided.
	ErrResolverRequired = errors.New("identity resolver required")
)
