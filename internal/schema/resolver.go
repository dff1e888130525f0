// Package schema resolves declarative type definitions into field specs.
//
// Schemas arrive in two shapes: a structured value (already-decoded JSON) or a
// serialized string, sometimes double-encoded by older producers. Resolution
// normalizes both; a malformed string fails closed with an empty field map and
// a *ParseError so callers render zero declared fields instead of crashing.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fincraft/ledgerform/internal/types"
)

// ParseError signals a malformed schema document. Recoverable: callers log it
// and proceed with no declared fields.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schema parse: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// wireFieldSpec is the JSON shape of one property declaration.
type wireFieldSpec struct {
	Type           string                `json:"type"`
	Format         string                `json:"format"`
	Enum           []json.RawMessage     `json:"enum"`
	Default        json.RawMessage       `json:"default"`
	Description    string                `json:"description"`
	CrossReference *types.CrossReference `json:"cross_reference"`
}

// wireSchema is the JSON shape of a full schema document, including the two
// custom cross-reference extensions consumed by transaction categories.
type wireSchema struct {
	Properties        map[string]wireFieldSpec `json:"properties"`
	Required          []string                 `json:"required"`
	ValidInstruments  []string                 `json:"valid_instruments"`
	ValidContraGroups []string                 `json:"valid_contra_groups"`
}

// Resolve normalizes a schema delivered as a structured value or serialized
// string into an ordered field-spec collection. On failure it returns an empty
// collection plus a *ParseError; it never panics and never returns nil.
func Resolve(raw any) (*types.Fields, error) {
	fields, _, _, err := resolve(raw)
	return fields, err
}

// ResolveTransaction resolves a transaction-category schema, additionally
// extracting the valid_instruments and valid_contra_groups extensions.
func ResolveTransaction(raw any) (fields *types.Fields, validInstruments, validContraGroups []string, err error) {
	return resolve(raw)
}

func resolve(raw any) (*types.Fields, []string, []string, error) {
	if fields, ok := raw.(*types.Fields); ok && fields != nil {
		return fields, nil, nil, nil
	}
	data, err := normalize(raw)
	if err != nil {
		return types.NewFields(), nil, nil, &ParseError{Err: err}
	}
	if len(data) == 0 {
		return types.NewFields(), nil, nil, nil
	}

	var doc wireSchema
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return types.NewFields(), nil, nil, &ParseError{Err: err}
	}

	required := make(map[string]bool, len(doc.Required))
	for _, name := range doc.Required {
		required[name] = true
	}

	fields := types.NewFields()
	for _, name := range propertyOrder(data, doc.Properties) {
		fields.Set(name, toSpec(doc.Properties[name], required[name]))
	}
	return fields, doc.ValidInstruments, doc.ValidContraGroups, nil
}

// normalize reduces the accepted input shapes to raw JSON bytes. A serialized
// string that itself decodes to a JSON string is unwrapped exactly one level;
// deeper nesting is treated as malformed.
func normalize(raw any) ([]byte, error) {
	switch x := raw.(type) {
	case nil:
		return nil, nil
	case []byte:
		return unwrap(x)
	case json.RawMessage:
		return unwrap(x)
	case string:
		return unwrap([]byte(x))
	case map[string]any:
		return json.Marshal(x)
	default:
		return nil, fmt.Errorf("unsupported schema shape %T", raw)
	}
}

func unwrap(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, err
		}
		return []byte(inner), nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON document")
	}
	return trimmed, nil
}

// propertyOrder walks the raw document tokens to recover the declaration order
// of the properties object. Falls back to sorted names when the walk fails
// (structured inputs re-marshaled through a Go map have no stable order).
func propertyOrder(data []byte, props map[string]wireFieldSpec) []string {
	ordered := tokenOrder(data)
	if len(ordered) == len(props) {
		return ordered
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func tokenOrder(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	// Expect the opening of the top-level object.
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, _ := keyTok.(string)
		if key != "properties" {
			// Skip this member's value entirely.
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil
			}
			continue
		}
		if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
			return nil
		}
		var names []string
		for dec.More() {
			nameTok, err := dec.Token()
			if err != nil {
				return nil
			}
			name, ok := nameTok.(string)
			if !ok {
				return nil
			}
			names = append(names, name)
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil
			}
		}
		return names
	}
	return nil
}

func toSpec(w wireFieldSpec, required bool) types.FieldSpec {
	spec := types.FieldSpec{
		Type:           types.ParseFieldType(w.Type),
		Format:         w.Format,
		Required:       required,
		Description:    w.Description,
		CrossReference: w.CrossReference,
	}
	for _, raw := range w.Enum {
		var v types.FieldValue
		if err := v.UnmarshalJSON(raw); err == nil {
			spec.Enum = append(spec.Enum, v)
		}
	}
	if len(w.Default) > 0 && !bytes.Equal(bytes.TrimSpace(w.Default), []byte("null")) {
		var v types.FieldValue
		if err := v.UnmarshalJSON(w.Default); err == nil {
			spec.Default = &v
		}
	}
	return spec
}
