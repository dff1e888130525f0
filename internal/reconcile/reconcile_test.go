package reconcile

import (
	"testing"

	"github.com/fincraft/ledgerform/internal/types"
)

func declaredTrade() *types.Fields {
	f := types.NewFields()
	f.Set("amount", types.FieldSpec{Type: types.TypeNumber, Required: true})
	f.Set("trade_date", types.FieldSpec{Type: types.TypeString, Format: "date"})
	return f
}

func TestMergeNoDuplicatesAndFullUnion(t *testing.T) {
	persisted := types.PropertyMap{
		"amount":      types.Int(100), // also declared; must not duplicate
		"legacy_note": types.String("carried over"),
	}
	live := types.PropertyMap{
		"amount": types.Int(250),
		"custom": types.Bool(true),
	}

	fields := Merge(declaredTrade(), persisted, live)

	seen := map[string]int{}
	for _, f := range fields {
		seen[f.Key]++
	}
	for key, n := range seen {
		if n != 1 {
			t.Errorf("key %q appears %d times", key, n)
		}
	}
	for _, key := range []string{"amount", "trade_date", "legacy_note", "custom"} {
		if seen[key] != 1 {
			t.Errorf("key %q missing from reconciled list", key)
		}
	}
}

func TestMergeOrderIsDeclaredThenPersistedThenLive(t *testing.T) {
	persisted := types.PropertyMap{"zz_old": types.Int(1), "aa_old": types.Int(2)}
	live := types.PropertyMap{"mm_new": types.String("x")}

	fields := Merge(declaredTrade(), persisted, live)

	want := []string{"amount", "trade_date", "aa_old", "zz_old", "mm_new"}
	if len(fields) != len(want) {
		t.Fatalf("got %d fields, want %d", len(fields), len(want))
	}
	for i, key := range want {
		if fields[i].Key != key {
			t.Errorf("fields[%d].Key = %q, want %q", i, fields[i].Key, key)
		}
	}

	// Stable given stable inputs.
	again := Merge(declaredTrade(), persisted, live)
	for i := range fields {
		if fields[i].Key != again[i].Key {
			t.Fatalf("merge is not deterministic at index %d", i)
		}
	}
}

func TestMergeDeclaredTakesValueFromLiveEdits(t *testing.T) {
	live := types.PropertyMap{"amount": types.Int(42)}
	fields := Merge(declaredTrade(), nil, live)

	if !fields[0].Value.Equal(types.Int(42)) {
		t.Errorf("amount value = %v, want 42", fields[0].Value)
	}
	if !fields[1].Value.IsNull() {
		t.Errorf("trade_date value = %v, want empty", fields[1].Value)
	}
}

func TestMergeDroppedSchemaFieldSurvivesAsUndeclared(t *testing.T) {
	// The schema no longer declares legacy_note but a stored value exists.
	persisted := types.PropertyMap{"legacy_note": types.String("keep me")}
	fields := Merge(declaredTrade(), persisted, nil)

	var legacy *types.ReconciledField
	for i := range fields {
		if fields[i].Key == "legacy_note" {
			legacy = &fields[i]
		}
	}
	if legacy == nil {
		t.Fatal("legacy_note missing")
	}
	if legacy.IsDeclared {
		t.Error("legacy_note must be undeclared")
	}
	if legacy.Required {
		t.Error("inferred fields are never required")
	}
	if legacy.InferredType != types.TypeString {
		t.Errorf("inferred type = %v, want string", legacy.InferredType)
	}
}

func TestMergeInference(t *testing.T) {
	tests := []struct {
		name  string
		value types.FieldValue
		want  types.FieldType
	}{
		{"boolean", types.Bool(true), types.TypeBoolean},
		{"integral", types.Int(7), types.TypeInteger},
		{"fractional", types.Float(7.5), types.TypeNumber},
		{"array", types.Array([]types.FieldValue{types.Int(1)}), types.TypeArray},
		{"object", types.Object(map[string]types.FieldValue{"a": types.Int(1)}), types.TypeObject},
		{"null", types.Null(), types.TypeString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := Merge(types.NewFields(), types.PropertyMap{"k": tt.value}, nil)
			if len(fields) != 1 {
				t.Fatalf("got %d fields", len(fields))
			}
			if fields[0].InferredType != tt.want {
				t.Errorf("inferred type = %v, want %v", fields[0].InferredType, tt.want)
			}
		})
	}
}

func TestMergeEmptyInputs(t *testing.T) {
	if got := Merge(types.NewFields(), nil, nil); len(got) != 0 {
		t.Errorf("Merge(empty) = %v, want empty", got)
	}
	if got := Merge(nil, nil, nil); len(got) != 0 {
		t.Errorf("Merge(nil) = %v, want empty", got)
	}
}
