package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

// GrantRepository implements storage.GrantRepository for BadgerDB.
//
// The full grant list of a resource is stored as one row, so a sync pass
// replaces it in a single write and superseded entries can never survive
// as stale partial state.
type GrantRepository struct {
	backend *Backend
}

var _ storage.GrantRepository = (*GrantRepository)(nil)

// NewGrantRepository creates a new GrantRepository.
func NewGrantRepository(backend *Backend) *GrantRepository {
	return &GrantRepository{backend: backend}
}

// Close implements storage.Repository. The backend is owned by the caller.
func (r *GrantRepository) Close() error {
	return nil
}

// ReplaceGrants atomically replaces the grant list for a resource.
func (r *GrantRepository) ReplaceGrants(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType, grants []*core.GrantEntry) error {
	key := makeGrantKey(tenantID, resourceID, resourceType)
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if len(grants) == 0 {
			if err := tx.Delete(key); err != nil {
				return err
			}
			return tx.Commit()
		}
		value, err := storage.MarshalGrantList(grants)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetGrants retrieves the current grant list for a resource.
func (r *GrantRepository) GetGrants(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType) ([]*core.GrantEntry, error) {
	var grants []*core.GrantEntry
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeGrantKey(tenantID, resourceID, resourceType))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			grants, unmarshalErr = storage.UnmarshalGrantList(val)
			return unmarshalErr
		})
	}, false)
	if err != nil {
		return nil, err
	}
	if grants == nil {
		grants = []*core.GrantEntry{}
	}
	return grants, nil
}
