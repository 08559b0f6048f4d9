package search

import (
	"time"

	"github.com/poiesic/sift/core"
)

// Filters restricts which chunks a search branch may consider. Both
// branches apply the same filters before fusion so ranks are computed
// over identical candidate pools. The zero value matches everything.
type Filters struct {
	// ResourceTypes limits results to the listed types. Empty means all.
	ResourceTypes []core.ResourceType

	// After and Before bound the source document timestamp. Zero values
	// are open ends.
	After  time.Time
	Before time.Time

	// AllowedResources, when non-nil, restricts results to the listed
	// resources. Used for pre-filtered retrieval where the caller
	// already holds the permitted set.
	AllowedResources map[core.ResourceKey]struct{}
}

func (f Filters) match(chunk *core.Chunk) bool {
	if len(f.ResourceTypes) > 0 {
		found := false
		for _, rt := range f.ResourceTypes {
			if chunk.ResourceType == rt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.After.IsZero() && chunk.Timestamp.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && chunk.Timestamp.After(f.Before) {
		return false
	}
	if f.AllowedResources != nil {
		key := core.ResourceKey{ResourceID: chunk.ResourceID, ResourceType: chunk.ResourceType}
		if _, ok := f.AllowedResources[key]; !ok {
			return false
		}
	}
	return true
}
