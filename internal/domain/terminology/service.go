package terminology

import (
	"context"
	"fmt"
)

// BuildMapper merges the built-in table with the rows of each source and
// freezes the result. Sources are read once; later changes to them are not
// observed.
func BuildMapper(ctx context.Context, sources ...ConditionSource) (*Mapper, error) {
	entries := DefaultEntries()
	for _, src := range sources {
		if src == nil {
			continue
		}
		extra, err := src.ListConditionTerms(ctx)
		if err != nil {
			return nil, fmt.Errorf("load condition terms: %w", err)
		}
		entries = append(entries, extra...)
	}
	return NewMapper(entries)
}
