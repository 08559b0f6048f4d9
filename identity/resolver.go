package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

// Resolver maps external principal identifiers to internal user IDs.
//
// Resolution order: exact identity-link match, then email match (which
// auto-creates an unverified link), then core.ErrPrincipalNotFound. An
// unresolved principal is dropped from ACL computation by its caller; it
// never defaults to allowed.
type Resolver struct {
	repo   storage.IdentityRepository
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewResolver creates a new resolver.
func NewResolver(repo storage.IdentityRepository, opts ...Option) (*Resolver, error) {
	if repo == nil {
		return nil, ErrIdentityRepositoryRequired
	}

	r := &Resolver{
		repo:   repo,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Resolve maps an external principal to an internal user ID.
//
// When no identity link exists and the external ID looks like an email
// address, the resolver falls back to an email match and records a new
// unverified link for the audit trail. Returns core.ErrPrincipalNotFound
// when neither path resolves.
func (r *Resolver) Resolve(ctx context.Context, tenantID, provider, externalID string) (core.ID, error) {
	if tenantID == "" {
		return 0, core.ErrEmptyTenant
	}
	if externalID == "" {
		return 0, core.ErrEmptyPrincipal
	}

	link, err := r.repo.GetLink(ctx, tenantID, provider, externalID)
	if err == nil {
		return link.UserID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}

	// Email fallback: only attempted when the external ID is itself an
	// address, which is common for directory-synced principals.
	if !strings.Contains(externalID, "@") {
		return 0, core.ErrPrincipalNotFound
	}

	userID, err := r.repo.GetUserByEmail(ctx, tenantID, externalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, core.ErrPrincipalNotFound
		}
		return 0, err
	}

	newLink := &core.IdentityLink{
		TenantID:   tenantID,
		Provider:   provider,
		ExternalID: externalID,
		UserID:     userID,
		Verified:   false,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.repo.PutLink(ctx, newLink); err != nil {
		// The match itself is still valid; the link will be recreated on
		// the next resolution.
		r.logger.Warn("failed to persist auto-created identity link",
			"tenantID", tenantID, "provider", provider, "externalID", externalID, "err", err)
		return userID, nil
	}

	r.logger.Warn("auto-created unverified identity link from email match",
		"tenantID", tenantID, "provider", provider, "externalID", externalID, "userID", uint64(userID))
	return userID, nil
}
