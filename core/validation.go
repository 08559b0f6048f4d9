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

import "fmt"

// ValidateResourceType checks a ResourceType value.
func ValidateResourceType(rt ResourceType) error {
	switch rt {
	case ResourceTypeDocument, ResourceTypeEmail:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInvalidResourceType, rt)
	}
}

// ValidatePrincipalType checks a PrincipalType value.
func ValidatePrincipalType(pt PrincipalType) error {
	switch pt {
	case PrincipalTypeUser, PrincipalTypeGroup:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInvalidPrincipalType, pt)
	}
}

// ValidateGrantEntry validates a GrantEntry according to domain rules.
//
// Validation rules:
//   - TenantID, ResourceID, and PrincipalID must not be empty
//   - ResourceType and PrincipalType must be valid
//
// NOT validated:
//   - ExpiresAt (zero is valid and means no expiry)
//   - SyncedAt (set by the sync layer)
func ValidateGrantEntry(grant *GrantEntry) error {
	if grant == nil {
		return fmt.Errorf("%w: grant is nil", ErrInvalidGrant)
	}
	if grant.TenantID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidGrant, ErrEmptyTenant)
	}
	if grant.ResourceID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidGrant, ErrEmptyResource)
	}
	if grant.PrincipalID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidGrant, ErrEmptyPrincipal)
	}
	if err := ValidateResourceType(grant.ResourceType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGrant, err)
	}
	if err := ValidatePrincipalType(grant.PrincipalType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGrant, err)
	}
	return nil
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - TenantID and ResourceID must not be empty
//   - Content must not be empty
//   - ResourceType must be valid
//
// NOT validated:
//   - Vector (a chunk without an embedding is still keyword-searchable)
//   - ID (0 means derive from content on insert)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.TenantID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyTenant)
	}
	if chunk.ResourceID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyResource)
	}
	if chunk.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}
	if err := ValidateResourceType(chunk.ResourceType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}
	return nil
}
