package identity

import "errors"

var (
	// ErrIdentityRepositoryRequired is returned when an identity repository is not provided.
	ErrIdentityRepositoryRequired = errors.New("identity repository required")
)
