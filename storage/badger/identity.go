package badger

import (
	"context"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

// IdentityRepository implements storage.IdentityRepository for BadgerDB.
type IdentityRepository struct {
	backend *Backend
}

var _ storage.IdentityRepository = (*IdentityRepository)(nil)

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(backend *Backend) *IdentityRepository {
	return &IdentityRepository{backend: backend}
}

// Close implements storage.Repository. The backend is owned by the caller.
func (r *IdentityRepository) Close() error {
	return nil
}

// GetLink retrieves an identity link.
func (r *IdentityRepository) GetLink(ctx context.Context, tenantID, provider, externalID string) (*core.IdentityLink, error) {
	var link *core.IdentityLink
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeIdentityLinkKey(tenantID, provider, externalID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			link, unmarshalErr = storage.UnmarshalIdentityLink(val)
			return unmarshalErr
		})
	}, false)
	return link, err
}

// PutLink stores an identity link.
func (r *IdentityRepository) PutLink(ctx context.Context, link *core.IdentityLink) error {
	value, err := storage.MarshalIdentityLink(link)
	if err != nil {
		return err
	}
	key := makeIdentityLinkKey(link.TenantID, link.Provider, link.ExternalID)
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetUserByEmail retrieves the internal user ID for an email address.
func (r *IdentityRepository) GetUserByEmail(ctx context.Context, tenantID, email string) (core.ID, error) {
	var userID core.ID
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeIdentityEmailKey(tenantID, strings.ToLower(email)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			userID, unmarshalErr = storage.UnmarshalID(val)
			return unmarshalErr
		})
	}, false)
	return userID, err
}

// PutUser stores a user record, indexed by lowercased email.
func (r *IdentityRepository) PutUser(ctx context.Context, user *core.User) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if user.Email != "" {
			key := makeIdentityEmailKey(user.TenantID, strings.ToLower(user.Email))
			if err := tx.Set(key, storage.MarshalID(user.ID)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}
