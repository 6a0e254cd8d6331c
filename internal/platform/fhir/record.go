package fhir

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when a response body is not a FHIR
// resource.
var ErrMalformedPayload = errors.New("malformed FHIR payload")

// Record is one resource returned by a record server. The payload is kept
// verbatim; only the header fields are decoded.
type Record struct {
	ResourceType string
	ID           string
	// Mode is the bundle search mode the record arrived with, if any.
	Mode string
	Raw  json.RawMessage
}

// NewRecord decodes the resource header of raw. The payload must be a JSON
// object carrying a resourceType.
func NewRecord(raw json.RawMessage) (Record, error) {
	var hdr Resource
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if hdr.ResourceType == "" {
		return Record{}, fmt.Errorf("%w: missing resourceType", ErrMalformedPayload)
	}
	return Record{ResourceType: hdr.ResourceType, ID: hdr.ID, Raw: raw}, nil
}

// MustRecord is NewRecord for literals in tests and fixtures.
func MustRecord(raw string) Record {
	r, err := NewRecord(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return r
}

// MarshalJSON writes the original resource.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	rec, err := NewRecord(append(json.RawMessage(nil), data...))
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// Reference returns the relative reference "Type/id", or "" when the record
// has no id.
func (r Record) Reference() string {
	if r.ID == "" {
		return ""
	}
	return r.ResourceType + "/" + r.ID
}

// Decode unmarshals the payload into v.
func (r Record) Decode(v interface{}) error {
	return json.Unmarshal(r.Raw, v)
}

// Contained returns the resources nested in the record's contained array.
func (r Record) Contained() ([]Record, error) {
	var body struct {
		Contained []json.RawMessage `json:"contained"`
	}
	if err := json.Unmarshal(r.Raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	out := make([]Record, 0, len(body.Contained))
	for _, raw := range body.Contained {
		rec, err := NewRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
