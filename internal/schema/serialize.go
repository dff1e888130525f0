package schema

import (
	"encoding/json"
	"fmt"

	"github.com/fincraft/ledgerform/internal/types"
)

// Serialize renders an ordered field-spec collection back into the wire
// document shape accepted by Resolve.
func Serialize(fields *types.Fields) (string, error) {
	return SerializeTransaction(fields, nil, nil)
}

// SerializeTransaction renders a transaction-category schema, including the
// valid_instruments and valid_contra_groups extensions.
func SerializeTransaction(fields *types.Fields, validInstruments, validContraGroups []string) (string, error) {
	doc := wireSchema{
		Properties:        make(map[string]wireFieldSpec, fields.Len()),
		Required:          []string{},
		ValidInstruments:  validInstruments,
		ValidContraGroups: validContraGroups,
	}

	for _, name := range fields.Names() {
		spec, _ := fields.Get(name)
		w, err := fromSpec(spec)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", name, err)
		}
		doc.Properties[name] = w
		if spec.Required {
			doc.Required = append(doc.Required, name)
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	return string(data), nil
}

func fromSpec(spec types.FieldSpec) (wireFieldSpec, error) {
	w := wireFieldSpec{
		Type:           string(spec.Type),
		Format:         spec.Format,
		Description:    spec.Description,
		CrossReference: spec.CrossReference,
	}
	for _, v := range spec.Enum {
		raw, err := v.MarshalJSON()
		if err != nil {
			return w, fmt.Errorf("marshal enum value: %w", err)
		}
		w.Enum = append(w.Enum, raw)
	}
	if spec.Default != nil {
		raw, err := spec.Default.MarshalJSON()
		if err != nil {
			return w, fmt.Errorf("marshal default: %w", err)
		}
		w.Default = raw
	}
	return w, nil
}
