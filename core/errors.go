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


package core

import "errors"

// Domain errors
var (
	// ErrPrincipalNotFound indicates an external principal could not be
	// resolved to an internal user. Callers drop the principal and
	// continue; unresolved never means allowed.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrCycleDetected indicates a cycle in a group membership graph.
	// Expansion truncates the cycle and records a warning.
	ErrCycleDetected = errors.New("group membership cycle detected")

	// ErrUpstreamUnavailable indicates an external identity, search, or
	// embedding dependency failed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrCacheInconsistent indicates a suspected invalidation race.
	// Permission checks treat it as not allowed.
	ErrCacheInconsistent = errors.New("cache inconsistent")

	// ErrInvalidGrant indicates a GrantEntry failed validation.
	ErrInvalidGrant = errors.New("invalid grant entry")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrEmptyTenant indicates a missing tenant identifier. Every call
	// into the engine is tenant-scoped; there is no ambient tenant.
	ErrEmptyTenant = errors.New("tenant id cannot be empty")

	// ErrEmptyResource indicates a missing resource identifier.
	ErrEmptyResource = errors.New("resource id cannot be empty")

	// ErrEmptyPrincipal indicates a missing principal identifier.
	ErrEmptyPrincipal = errors.New("principal id cannot be empty")

	// ErrEmptyContent indicates the chunk Content field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidResourceType indicates an invalid ResourceType value.
	ErrInvalidResourceType = errors.New("invalid resource type")

	// ErrInvalidPrincipalType indicates an invalid PrincipalType value.
	ErrInvalidPrincipalType = errors.New("invalid principal type")
)
