package badger

import (
	"context"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

// ACLRepository implements storage.ACLRepository for BadgerDB.
//
// Each ExpandedACL row is written together with its user and group
// reverse-index entries in one transaction, so the indexes can never
// disagree with the row they point at.
type ACLRepository struct {
	backend *Backend
}

var _ storage.ACLRepository = (*ACLRepository)(nil)

// NewACLRepository creates a new ACLRepository.
func NewACLRepository(backend *Backend) *ACLRepository {
	return &ACLRepository{backend: backend}
}

// Close implements storage.Repository. The backend is owned by the caller.
func (r *ACLRepository) Close() error {
	return nil
}

// GetExpandedACL retrieves the ACL row for a resource.
func (r *ACLRepository) GetExpandedACL(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType) (*core.ExpandedACL, error) {
	var acl *core.ExpandedACL
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var readErr error
		acl, readErr = readExpandedACL(tx, makeACLKey(tenantID, resourceID, resourceType))
		if readErr != nil {
			return readErr
		}
		if acl == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return acl, err
}

// PutExpandedACL replaces the ACL row for a resource, rejecting the write
// when the stored ExpansionVersion has moved past prevVersion. Index
// entries are diffed against the old row: entries for users and groups no
// longer in the allowed set are deleted, new ones are written, all in the
// same transaction as the row itself.
func (r *ACLRepository) PutExpandedACL(ctx context.Context, acl *core.ExpandedACL, prevVersion uint64) error {
	key := makeACLKey(acl.TenantID, acl.ResourceID, acl.ResourceType)
	return r.backend.WithTx(func(tx *badger.Txn) error {
		old, err := readExpandedACL(tx, key)
		if err != nil {
			return err
		}
		oldVersion := uint64(0)
		if old != nil {
			oldVersion = old.ExpansionVersion
		}
		if oldVersion != prevVersion {
			return storage.ErrVersionConflict
		}

		value, err := storage.MarshalExpandedACL(acl)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}

		resourceKey := core.ResourceKey{ResourceID: acl.ResourceID, ResourceType: acl.ResourceType}
		indexValue, err := storage.MarshalResourceKey(resourceKey)
		if err != nil {
			return err
		}

		// Diff user index entries
		var oldUsers []core.ID
		var oldGroups []string
		if old != nil {
			oldUsers = old.AllowedUserIDs
			oldGroups = old.SourceGroups
		}
		for _, userID := range oldUsers {
			if !slices.Contains(acl.AllowedUserIDs, userID) {
				if err := tx.Delete(makeACLUserKey(acl.TenantID, userID, acl.ResourceType, acl.ResourceID)); err != nil {
					return err
				}
			}
		}
		for _, userID := range acl.AllowedUserIDs {
			if err := tx.Set(makeACLUserKey(acl.TenantID, userID, acl.ResourceType, acl.ResourceID), indexValue); err != nil {
				return err
			}
		}

		// Diff group index entries
		for _, groupID := range oldGroups {
			if !slices.Contains(acl.SourceGroups, groupID) {
				if err := tx.Delete(makeACLGroupKey(acl.TenantID, groupID, acl.ResourceType, acl.ResourceID)); err != nil {
					return err
				}
			}
		}
		for _, groupID := range acl.SourceGroups {
			if err := tx.Set(makeACLGroupKey(acl.TenantID, groupID, acl.ResourceType, acl.ResourceID), indexValue); err != nil {
				return err
			}
		}

		return tx.Commit()
	}, true)
}

// DeleteExpandedACL removes the ACL row and its index entries.
func (r *ACLRepository) DeleteExpandedACL(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType) error {
	key := makeACLKey(tenantID, resourceID, resourceType)
	return r.backend.WithTx(func(tx *badger.Txn) error {
		old, err := readExpandedACL(tx, key)
		if err != nil {
			return err
		}
		if old == nil {
			return nil
		}
		for _, userID := range old.AllowedUserIDs {
			if err := tx.Delete(makeACLUserKey(tenantID, userID, resourceType, resourceID)); err != nil {
				return err
			}
		}
		for _, groupID := range old.SourceGroups {
			if err := tx.Delete(makeACLGroupKey(tenantID, groupID, resourceType, resourceID)); err != nil {
				return err
			}
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetResourcesForUser retrieves every resource a user may read, from the
// user reverse index.
func (r *ACLRepository) GetResourcesForUser(ctx context.Context, tenantID string, userID core.ID) ([]core.ResourceKey, error) {
	return r.scanResourceIndex(makePartialACLUserKey(tenantID, userID))
}

// GetResourcesForGroup retrieves every resource whose ACL was derived from
// the given group, from the group reverse index.
func (r *ACLRepository) GetResourcesForGroup(ctx context.Context, tenantID, groupID string) ([]core.ResourceKey, error) {
	return r.scanResourceIndex(makePartialACLGroupKey(tenantID, groupID))
}

func (r *ACLRepository) scanResourceIndex(prefix []byte) ([]core.ResourceKey, error) {
	var keys []core.ResourceKey
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var resourceKey core.ResourceKey
			err := iter.Item().Value(func(val []byte) error {
				var unmarshalErr error
				resourceKey, unmarshalErr = storage.UnmarshalResourceKey(val)
				return unmarshalErr
			})
			if err != nil {
				return err
			}
			keys = append(keys, resourceKey)
		}
		return nil
	}, false)
	return keys, err
}

// readExpandedACL reads an ACL row from the transaction.
// Returns nil without error when the row does not exist.
func readExpandedACL(tx *badger.Txn, key []byte) (*core.ExpandedACL, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var acl *core.ExpandedACL
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		acl, unmarshalErr = storage.UnmarshalExpandedACL(val)
		return unmarshalErr
	})
	return acl, err
}
