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

// Package acl maintains flattened per-resource permission sets and the
// cache that serves permission checks.
//
// Source-of-truth permissions arrive as grant lists naming users and
// groups. The Service flattens group grants through the expansion
// package into explicit user ID sets (ExpandedACL rows), keeps a
// read-through cache over both directions of the mapping (resource to
// users, user to resources), and processes invalidation events so that
// a processed revocation is never followed by a stale allow.
package acl
