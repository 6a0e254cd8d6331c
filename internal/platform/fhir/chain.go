package fhir

import "strings"

// HasParam represents a _has reverse-chain search parameter.
// Example: "_has:Condition:subject:code=44054006" -> TargetType="Condition", TargetParam="subject", SearchParam="code", Value="44054006"
type HasParam struct {
	TargetType  string // The resource type that has a reference to the current resource
	TargetParam string // The reference search parameter on the target resource
	SearchParam string // The search parameter to filter on the target resource
	Value       string // The value to match
}

// Name renders the parameter name, e.g. "_has:Condition:subject:code".
func (h HasParam) Name() string {
	return "_has:" + h.TargetType + ":" + h.TargetParam + ":" + h.SearchParam
}

// ParseHasParam parses a _has parameter name.
// Format: "_has:TargetType:targetParam:searchParam"
func ParseHasParam(paramName string) (*HasParam, bool) {
	if !strings.HasPrefix(paramName, "_has:") {
		return nil, false
	}

	rest := strings.TrimPrefix(paramName, "_has:")
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, false
	}

	return &HasParam{
		TargetType:  parts[0],
		TargetParam: parts[1],
		SearchParam: parts[2],
	}, true
}

// IncludeParam represents an _include directive.
// Example: "Condition:subject" -> SourceType="Condition", SearchParam="subject"
type IncludeParam struct {
	SourceType  string
	SearchParam string
	TargetType  string // optional
}

// String renders the directive value.
func (p IncludeParam) String() string {
	s := p.SourceType + ":" + p.SearchParam
	if p.TargetType != "" {
		s += ":" + p.TargetType
	}
	return s
}

// ParseIncludeParam parses an _include value such as "Condition:subject" or
// "Condition:subject:Patient".
func ParseIncludeParam(value string) (*IncludeParam, bool) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return nil, false
	}
	p := &IncludeParam{SourceType: parts[0], SearchParam: parts[1]}
	if len(parts) == 3 {
		p.TargetType = parts[2]
	}
	return p, true
}
