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


package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/poiesic/sift/core"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer encoding,
// no indefinite-length items. The same logical record always produces
// identical bytes.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown fields, so old rows
// remain readable after a struct gains a field.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

func unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return nil
}

// MarshalID serializes an ID to 8 fixed bytes, big-endian so index keys
// sort numerically.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("%w: id needs 8 bytes, got %d", ErrSerializationFailed, len(data))
	}
	return core.ID(binary.BigEndian.Uint64(data)), nil
}

// MarshalGrantList serializes the full grant list of a resource.
func MarshalGrantList(grants []*core.GrantEntry) ([]byte, error) {
	return marshal(grants)
}

// UnmarshalGrantList deserializes a grant list.
func UnmarshalGrantList(data []byte) ([]*core.GrantEntry, error) {
	var grants []*core.GrantEntry
	if err := unmarshal(data, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// MarshalGroupRecord serializes a GroupRecord.
func MarshalGroupRecord(group *core.GroupRecord) ([]byte, error) {
	return marshal(group)
}

// UnmarshalGroupRecord deserializes a GroupRecord.
func UnmarshalGroupRecord(data []byte) (*core.GroupRecord, error) {
	var group core.GroupRecord
	if err := unmarshal(data, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// MarshalExpandedGroup serializes an ExpandedGroup.
func MarshalExpandedGroup(expanded *core.ExpandedGroup) ([]byte, error) {
	return marshal(expanded)
}

// UnmarshalExpandedGroup deserializes an ExpandedGroup.
func UnmarshalExpandedGroup(data []byte) (*core.ExpandedGroup, error) {
	var expanded core.ExpandedGroup
	if err := unmarshal(data, &expanded); err != nil {
		return nil, err
	}
	return &expanded, nil
}

// MarshalExpandedACL serializes an ExpandedACL.
func MarshalExpandedACL(acl *core.ExpandedACL) ([]byte, error) {
	return marshal(acl)
}

// UnmarshalExpandedACL deserializes an ExpandedACL.
func UnmarshalExpandedACL(data []byte) (*core.ExpandedACL, error) {
	var acl core.ExpandedACL
	if err := unmarshal(data, &acl); err != nil {
		return nil, err
	}
	return &acl, nil
}

// MarshalIdentityLink serializes an IdentityLink.
func MarshalIdentityLink(link *core.IdentityLink) ([]byte, error) {
	return marshal(link)
}

// UnmarshalIdentityLink deserializes an IdentityLink.
func UnmarshalIdentityLink(data []byte) (*core.IdentityLink, error) {
	var link core.IdentityLink
	if err := unmarshal(data, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// MarshalChunk serializes a Chunk.
func MarshalChunk(chunk *core.Chunk) ([]byte, error) {
	return marshal(chunk)
}

// UnmarshalChunk deserializes a Chunk.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	var chunk core.Chunk
	if err := unmarshal(data, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// MarshalResourceKey serializes a ResourceKey for index values.
func MarshalResourceKey(key core.ResourceKey) ([]byte, error) {
	return marshal(key)
}

// UnmarshalResourceKey deserializes a ResourceKey.
func UnmarshalResourceKey(data []byte) (core.ResourceKey, error) {
	var key core.ResourceKey
	if err := unmarshal(data, &key); err != nil {
		return core.ResourceKey{}, err
	}
	return key, nil
}
