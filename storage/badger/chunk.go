package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

// Close implements storage.Repository. The backend is owned by the caller.
func (r *ChunkRepository) Close() error {
	return nil
}

// AddChunks adds chunks to storage. Chunks with ID 0 get a deterministic
// content-derived ID, so re-ingesting the same chunk overwrites rather
// than duplicates.
func (r *ChunkRepository) AddChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			if err := core.ValidateChunk(chunk); err != nil {
				return err
			}
			if chunk.ID == 0 {
				chunk.ID = core.IDFromContent(chunk.TenantID + "\x00" + chunk.ResourceID + "\x00" + chunk.Content)
			}
			chunk.InsertedAt = time.Now().UTC()

			value, err := storage.MarshalChunk(chunk)
			if err != nil {
				return err
			}
			if err := tx.Set(makeChunkKey(chunk.TenantID, chunk.ID), value); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	return chunks, err
}

// GetChunk retrieves a single chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, tenantID string, id core.ID) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeChunkKey(tenantID, id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			chunk, unmarshalErr = storage.UnmarshalChunk(val)
			return unmarshalErr
		})
	}, false)
	return chunk, err
}

// ScanChunks visits every chunk of a tenant.
func (r *ChunkRepository) ScanChunks(ctx context.Context, tenantID string, fn func(*core.Chunk) error) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkKey(tenantID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var chunk *core.Chunk
			err := iter.Item().Value(func(val []byte) error {
				var unmarshalErr error
				chunk, unmarshalErr = storage.UnmarshalChunk(val)
				return unmarshalErr
			})
			if err != nil {
				return err
			}
			if err := fn(chunk); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// DeleteChunksByResource removes every chunk of a resource.
func (r *ChunkRepository) DeleteChunksByResource(ctx context.Context, tenantID, resourceID string, resourceType core.ResourceType) error {
	// Collect first, then delete in a write transaction; chunk keys are
	// ID-based so the resource match needs the row contents.
	var doomed []core.ID
	err := r.ScanChunks(ctx, tenantID, func(chunk *core.Chunk) error {
		if chunk.ResourceID == resourceID && chunk.ResourceType == resourceType {
			doomed = append(doomed, chunk.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(doomed) == 0 {
		return nil
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range doomed {
			if err := tx.Delete(makeChunkKey(tenantID, id)); err != nil {
				return fmt.Errorf("deleting chunk %d: %w", id, err)
			}
		}
		return tx.Commit()
	}, true)
}
