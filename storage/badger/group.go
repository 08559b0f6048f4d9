package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

// GroupRepository implements storage.GroupRepository for BadgerDB.
type GroupRepository struct {
	backend *Backend
}

var _ storage.GroupRepository = (*GroupRepository)(nil)

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(backend *Backend) *GroupRepository {
	return &GroupRepository{backend: backend}
}

// Close implements storage.Repository. The backend is owned by the caller.
func (r *GroupRepository) Close() error {
	return nil
}

// PutGroup stores the direct membership of an external group.
func (r *GroupRepository) PutGroup(ctx context.Context, group *core.GroupRecord) error {
	value, err := storage.MarshalGroupRecord(group)
	if err != nil {
		return err
	}
	key := makeGroupKey(group.TenantID, group.Provider, group.ExternalGroupID)
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetGroup retrieves the direct membership of an external group.
func (r *GroupRepository) GetGroup(ctx context.Context, tenantID, provider, groupID string) (*core.GroupRecord, error) {
	var group *core.GroupRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeGroupKey(tenantID, provider, groupID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			group, unmarshalErr = storage.UnmarshalGroupRecord(val)
			return unmarshalErr
		})
	}, false)
	return group, err
}

// PutExpandedGroup stores a flattened membership set for a group.
func (r *GroupRepository) PutExpandedGroup(ctx context.Context, expanded *core.ExpandedGroup) error {
	value, err := storage.MarshalExpandedGroup(expanded)
	if err != nil {
		return err
	}
	key := makeExpandedGroupKey(expanded.TenantID, expanded.Provider, expanded.ExternalGroupID)
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetExpandedGroup retrieves a cached flattened membership set.
func (r *GroupRepository) GetExpandedGroup(ctx context.Context, tenantID, provider, groupID string) (*core.ExpandedGroup, error) {
	var expanded *core.ExpandedGroup
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeExpandedGroupKey(tenantID, provider, groupID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			expanded, unmarshalErr = storage.UnmarshalExpandedGroup(val)
			return unmarshalErr
		})
	}, false)
	return expanded, err
}

// DeleteExpandedGroup removes a cached expansion.
func (r *GroupRepository) DeleteExpandedGroup(ctx context.Context, tenantID, provider, groupID string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeExpandedGroupKey(tenantID, provider, groupID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
