package terminology

import "context"

// ConditionSource supplies extra condition table rows at startup.
type ConditionSource interface {
	ListConditionTerms(ctx context.Context) ([]Entry, error)
}

// StaticSource is a ConditionSource over a fixed slice.
type StaticSource []Entry

func (s StaticSource) ListConditionTerms(_ context.Context) ([]Entry, error) {
	return s, nil
}
