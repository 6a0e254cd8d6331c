package pagination

const (
	DefaultMaxPages  = 3
	DefaultPageSize  = 50
	DefaultResultCap = 100
	MaxPageSize      = 1000
)

// Budget bounds a paginated fetch against a remote search endpoint.
type Budget struct {
	MaxPages  int
	PageSize  int
	ResultCap int
}

// Normalize fills zero or negative fields with defaults and clamps the page
// size so that a single page never asks for more than the result cap.
func (b Budget) Normalize() Budget {
	if b.MaxPages <= 0 {
		b.MaxPages = DefaultMaxPages
	}
	if b.ResultCap <= 0 {
		b.ResultCap = DefaultResultCap
	}
	if b.PageSize <= 0 {
		b.PageSize = DefaultPageSize
	}
	if b.PageSize > MaxPageSize {
		b.PageSize = MaxPageSize
	}
	if b.PageSize > b.ResultCap {
		b.PageSize = b.ResultCap
	}
	return b
}

// Continue reports whether another page should be requested after
// pagesIssued pages produced recordsHeld records in total.
func (b Budget) Continue(pagesIssued, recordsHeld int, hasNext bool) bool {
	if !hasNext {
		return false
	}
	if recordsHeld >= b.ResultCap {
		return false
	}
	return pagesIssued < b.MaxPages
}

// Limit returns n clamped to the result cap.
func (b Budget) Limit(n int) int {
	if n > b.ResultCap {
		return b.ResultCap
	}
	return n
}
