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


// Package storage provides the storage abstraction layer for sift.
//
// This package defines repository interfaces that decouple storage
// implementation from the permission and search logic. It allows
// different storage backends (BadgerDB, in-memory, etc.) to be used
// interchangeably.
//
// # Repositories
//
//   - GrantRepository: raw permission facts, replaced per sync pass
//   - GroupRepository: external group membership and cached expansions
//   - IdentityRepository: identity links and email lookups
//   - ACLRepository: ExpandedACL rows with user and group reverse indexes
//   - ChunkRepository: searchable chunks with precomputed embeddings
//
// # Tenant scoping
//
// Every repository method takes an explicit tenant ID and every backend
// key is composed with it, so cross-tenant key collisions are impossible
// by construction. There is no ambient "current tenant" state anywhere
// in the engine.
//
// # Thread safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context support
//
// All repository methods accept context.Context for cancellation and
// timeout support.
package storage
