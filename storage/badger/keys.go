package badger

import (
	"encoding/binary"

	"github.com/poiesic/sift/core"
)

// Key prefixes for different data types. Every key embeds the tenant ID
// immediately after the prefix, so cross-tenant collisions are impossible
// by construction.
const (
	grantPrefix      = "grant"
	groupPrefix      = "group"
	groupExpPrefix   = "groupx"
	aclPrefix        = "aclrec"
	aclUserPrefix    = "aclusr"
	aclGroupPrefix   = "aclgrp"
	identLinkPrefix  = "idlink"
	identEmailPrefix = "idmail"
	chunkPrefix      = "chunk"
)

// keySep separates key segments. Tenant, provider, and resource
// identifiers come from external systems as printable strings and never
// contain NUL, so the separator is unambiguous.
const keySep = byte(0x00)

// makeKey joins string and byte-slice segments with keySep.
func makeKey(segments ...[]byte) []byte {
	size := 0
	for _, s := range segments {
		size += len(s) + 1
	}
	buf := make([]byte, 0, size)
	for i, s := range segments {
		if i > 0 {
			buf = append(buf, keySep)
		}
		buf = append(buf, s...)
	}
	return buf
}

// idBytes encodes an ID in BigEndian order so lexicographic sort works
// correctly inside composite keys.
func idBytes(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func resourceTypeByte(rt core.ResourceType) []byte {
	return []byte{byte(rt)}
}

// makeGrantKey generates the key for a resource's grant list.
func makeGrantKey(tenantID, resourceID string, rt core.ResourceType) []byte {
	return makeKey([]byte(grantPrefix), []byte(tenantID), resourceTypeByte(rt), []byte(resourceID))
}

// makeGroupKey generates the key for an external group's direct membership.
func makeGroupKey(tenantID, provider, groupID string) []byte {
	return makeKey([]byte(groupPrefix), []byte(tenantID), []byte(provider), []byte(groupID))
}

// makeExpandedGroupKey generates the key for a cached group expansion.
func makeExpandedGroupKey(tenantID, provider, groupID string) []byte {
	return makeKey([]byte(groupExpPrefix), []byte(tenantID), []byte(provider), []byte(groupID))
}

// makeACLKey generates the key for an ExpandedACL row.
func makeACLKey(tenantID, resourceID string, rt core.ResourceType) []byte {
	return makeKey([]byte(aclPrefix), []byte(tenantID), resourceTypeByte(rt), []byte(resourceID))
}

// makeACLUserKey generates a composite key for the user reverse index.
// Format: prefix:tenant:userID:resourceType:resourceID
func makeACLUserKey(tenantID string, userID core.ID, rt core.ResourceType, resourceID string) []byte {
	return makeKey([]byte(aclUserPrefix), []byte(tenantID), idBytes(userID), resourceTypeByte(rt), []byte(resourceID))
}

// makePartialACLUserKey generates the scan prefix for one user's index entries.
func makePartialACLUserKey(tenantID string, userID core.ID) []byte {
	key := makeKey([]byte(aclUserPrefix), []byte(tenantID), idBytes(userID))
	return append(key, keySep)
}

// makeACLGroupKey generates a composite key for the group reverse index.
// Format: prefix:tenant:groupID:resourceType:resourceID
func makeACLGroupKey(tenantID, groupID string, rt core.ResourceType, resourceID string) []byte {
	return makeKey([]byte(aclGroupPrefix), []byte(tenantID), []byte(groupID), resourceTypeByte(rt), []byte(resourceID))
}

// makePartialACLGroupKey generates the scan prefix for one group's index entries.
func makePartialACLGroupKey(tenantID, groupID string) []byte {
	key := makeKey([]byte(aclGroupPrefix), []byte(tenantID), []byte(groupID))
	return append(key, keySep)
}

// makeIdentityLinkKey generates the key for an identity link.
func makeIdentityLinkKey(tenantID, provider, externalID string) []byte {
	return makeKey([]byte(identLinkPrefix), []byte(tenantID), []byte(provider), []byte(externalID))
}

// makeIdentityEmailKey generates the key for an email lookup.
// The caller lowercases the address.
func makeIdentityEmailKey(tenantID, email string) []byte {
	return makeKey([]byte(identEmailPrefix), []byte(tenantID), []byte(email))
}

// makeChunkKey generates the key for a chunk by ID.
func makeChunkKey(tenantID string, id core.ID) []byte {
	return makeKey([]byte(chunkPrefix), []byte(tenantID), idBytes(id))
}

// makePartialChunkKey generates the scan prefix for one tenant's chunks.
func makePartialChunkKey(tenantID string) []byte {
	key := makeKey([]byte(chunkPrefix), []byte(tenantID))
	return append(key, keySep)
}
