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

package compose

import "errors"

var (
	// ErrInvalidBudget is returned when a non-positive token budget is given.
	ErrInvalidBudget = errors.New("token budget must be positive")

	// ErrInvalidThreshold is returned when a support threshold outside (0, 1] is given.
	ErrInvalidThreshold = errors.New("support threshold must be in (0, 1]")
)
