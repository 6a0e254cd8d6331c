package fhir

import (
	"context"
	"fmt"
	"os"

	"github.com/ehr/nlq/pkg/pagination"
)

// StaticFetcher serves a fixed record set as if it were paged by a server.
// It backs offline mode and tests.
type StaticFetcher struct {
	records []Record
	total   *int
}

// NewStaticFetcher creates a fetcher over records.
func NewStaticFetcher(records []Record) *StaticFetcher {
	n := len(records)
	return &StaticFetcher{records: records, total: &n}
}

// LoadBundleFile reads a Bundle (or single resource) JSON file into a
// StaticFetcher.
func LoadBundleFile(path string) (*StaticFetcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	page, err := ParsePage(data)
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	f := NewStaticFetcher(page.Records)
	if page.Total != nil {
		f.total = page.Total
	}
	return f, nil
}

// Len returns the number of records held.
func (s *StaticFetcher) Len() int {
	return len(s.records)
}

// Fetch returns the records the same budget would yield from a live server.
func (s *StaticFetcher) Fetch(ctx context.Context, req FetchRequest) *FetchResult {
	res := &FetchResult{State: StateIdle, Total: s.total}
	if err := ctx.Err(); err != nil {
		res.FailedIn = StateIdle
		res.State = StateAborted
		res.Err = err
		return res
	}

	budget := pagination.Budget{
		MaxPages:  req.MaxPages,
		PageSize:  req.PageSize,
		ResultCap: req.ResultCap,
	}.Normalize()

	for offset := 0; ; offset += budget.PageSize {
		end := offset + budget.PageSize
		if end > len(s.records) {
			end = len(s.records)
		}
		res.Pages++
		res.Records = append(res.Records, s.records[offset:end]...)
		if !budget.Continue(res.Pages, len(res.Records), end < len(s.records)) {
			break
		}
	}
	res.State = StateComplete
	res.Records = res.Records[:budget.Limit(len(res.Records))]
	return res
}
