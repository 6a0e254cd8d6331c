package fhir

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ehr/nlq/pkg/fhirmodels"
)

// ErrOperationOutcome is returned when a server answers a search with an
// OperationOutcome instead of results.
var ErrOperationOutcome = errors.New("server returned OperationOutcome")

// Page is one parsed search response.
type Page struct {
	Records []Record
	// Next is the continuation URL; empty on the last page.
	Next string
	// Total is the server-declared size of the whole result set, if sent.
	Total *int
}

// ParsePage decodes a search response body. A Bundle yields its entries and
// next link; any other resource yields a single record and no continuation.
func ParsePage(body []byte) (*Page, error) {
	var hdr Resource
	if err := json.Unmarshal(body, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch hdr.ResourceType {
	case "":
		return nil, fmt.Errorf("%w: missing resourceType", ErrMalformedPayload)
	case fhirmodels.ResourceOperationOutcome:
		var oo OperationOutcome
		if err := json.Unmarshal(body, &oo); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrOperationOutcome, oo.Summary())
	case fhirmodels.ResourceBundle:
		var b Bundle
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		records, err := b.Records()
		if err != nil {
			return nil, err
		}
		return &Page{Records: records, Next: b.NextLink(), Total: b.Total}, nil
	default:
		rec, err := NewRecord(append(json.RawMessage(nil), body...))
		if err != nil {
			return nil, err
		}
		return &Page{Records: []Record{rec}}, nil
	}
}
