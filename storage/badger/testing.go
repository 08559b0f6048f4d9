// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

// Store bundles every repository backed by one Backend. It exists for
// wiring and tests; production code should depend on the storage
// interfaces, not on this struct.
type Store struct {
	Backend  *Backend
	Grants   *GrantRepository
	Groups   *GroupRepository
	Identity *IdentityRepository
	ACLs     *ACLRepository
	Chunks   *ChunkRepository
}

// NewMemoryStore creates an in-memory store for testing.
// Caller must close the store when done.
func NewMemoryStore() (*Store, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	return newStore(backend), nil
}

// NewStore creates a file-backed store at the given path.
// Caller must close the store when done.
func NewStore(filePath string) (*Store, error) {
	backend, err := OpenBackend(filePath, false)
	if err != nil {
		return nil, err
	}
	return newStore(backend), nil
}

func newStore(backend *Backend) *Store {
	return &Store{
		Backend:  backend,
		Grants:   NewGrantRepository(backend),
		Groups:   NewGroupRepository(backend),
		Identity: NewIdentityRepository(backend),
		ACLs:     NewACLRepository(backend),
		Chunks:   NewChunkRepository(backend),
	}
}

// Close closes every repository and the underlying backend.
func (s *Store) Close() error {
	s.Grants.Close()
	s.Groups.Close()
	s.Identity.Close()
	s.ACLs.Close()
	s.Chunks.Close()
	return s.Backend.Close()
}
