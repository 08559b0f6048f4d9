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

// Package search provides hybrid, permission-aware retrieval over
// ingested chunks.
//
// The Fuser runs two branches concurrently and merges them with
// reciprocal rank fusion:
//   - Keyword search using BM25 scoring with stop-word filtering
//   - Semantic search using cosine similarity over embeddings
//
// The Retriever wraps the Fuser with access control: hits are filtered
// through the ACL service in fused order, over-fetching to compensate
// for hits the user cannot read. A failed branch degrades retrieval to
// the surviving source; a failed permission check drops the hit.
package search
