package fhir

import (
	"encoding/json"
	"time"
)

// Bundle link relations.
const (
	LinkSelf     = "self"
	LinkNext     = "next"
	LinkPrevious = "previous"
)

// Bundle search entry modes.
const (
	SearchModeMatch   = "match"
	SearchModeInclude = "include"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode  string   `json:"mode,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// LinkURL returns the URL of the first link with the given relation, or ""
// when the bundle has none.
func (b *Bundle) LinkURL(relation string) string {
	for _, l := range b.Link {
		if l.Relation == relation {
			return l.URL
		}
	}
	return ""
}

// NextLink returns the continuation URL of a searchset page.
func (b *Bundle) NextLink() string {
	return b.LinkURL(LinkNext)
}

// Records converts the bundle entries to records in entry order. Entries
// without a resource are skipped.
func (b *Bundle) Records() ([]Record, error) {
	out := make([]Record, 0, len(b.Entry))
	for _, e := range b.Entry {
		if len(e.Resource) == 0 {
			continue
		}
		rec, err := NewRecord(e.Resource)
		if err != nil {
			return nil, err
		}
		if rec.ID == "" {
			rec.ID = e.FullURL
		}
		if e.Search != nil {
			rec.Mode = e.Search.Mode
		}
		out = append(out, rec)
	}
	return out, nil
}

// NewSearchBundle creates a searchset Bundle holding the given records as
// match entries. A non-empty next becomes the bundle's continuation link.
func NewSearchBundle(records []Record, total *int, self, next string) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(records))
	for i, r := range records {
		mode := r.Mode
		if mode == "" {
			mode = SearchModeMatch
		}
		entries[i] = BundleEntry{
			FullURL:  r.Reference(),
			Resource: r.Raw,
			Search:   &BundleSearch{Mode: mode},
		}
	}

	b := &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        total,
		Timestamp:    &now,
		Entry:        entries,
	}
	if self != "" {
		b.Link = append(b.Link, BundleLink{Relation: LinkSelf, URL: self})
	}
	if next != "" {
		b.Link = append(b.Link, BundleLink{Relation: LinkNext, URL: next})
	}
	return b
}
