// Package reconcile merges the divergent sources of field data (declared
// schema, previously persisted values, and free-form live edits) into one
// ordered, de-duplicated field list.
package reconcile

import (
	"github.com/fincraft/ledgerform/internal/types"
)

// Merge produces the reconciled field list. A single ordered pass over the
// three sources with an explicit seen-set: declared fields first (schema
// order), then persisted-only keys, then live-edit-only keys, each in sorted
// key order. Keys absent from the schema get their type inferred from the
// value's runtime shape and are never required.
//
// Merge never fails; the worst case is an empty list.
func Merge(declared *types.Fields, persisted, liveEdits types.PropertyMap) []types.ReconciledField {
	seen := make(map[string]bool, declared.Len()+len(persisted)+len(liveEdits))
	out := make([]types.ReconciledField, 0, declared.Len()+len(persisted)+len(liveEdits))

	for _, key := range declared.Names() {
		spec, _ := declared.Get(key)
		value := types.Null()
		if v, ok := liveEdits[key]; ok {
			value = v
		}
		out = append(out, types.ReconciledField{
			Key:          key,
			InferredType: spec.Type,
			Format:       spec.Format,
			Required:     spec.Required,
			Value:        value,
			IsDeclared:   true,
			Enum:         spec.Enum,
			Description:  spec.Description,
		})
		seen[key] = true
	}

	for _, key := range persisted.Keys() {
		if seen[key] {
			continue
		}
		out = append(out, inferredField(key, persisted[key]))
		seen[key] = true
	}

	for _, key := range liveEdits.Keys() {
		if seen[key] {
			continue
		}
		out = append(out, inferredField(key, liveEdits[key]))
		seen[key] = true
	}

	return out
}

func inferredField(key string, value types.FieldValue) types.ReconciledField {
	return types.ReconciledField{
		Key:          key,
		InferredType: value.InferredType(),
		Required:     false,
		Value:        value,
		IsDeclared:   false,
	}
}
