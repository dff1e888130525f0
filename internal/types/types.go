// Package types holds the domain model shared across the authoring engine:
// the closed field-value union, schema field specs, type definitions, records,
// and the wire shapes exchanged with the HTTP surface.
package types

import (
	"encoding/json"
	"time"
)

// FieldType is the declared schema type of a field. The engine consumes
// exactly this subset of schema semantics; anything unrecognized defaults to
// string.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
)

// ParseFieldType normalizes a raw type name, defaulting to string.
func ParseFieldType(s string) FieldType {
	switch FieldType(s) {
	case TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		return FieldType(s)
	default:
		return TypeString
	}
}

// CrossReference carries the schema hints that tie a field's legal values to
// a catalog category.
type CrossReference struct {
	SourceCategory      string `json:"source_category"`
	SourceConstraintKey string `json:"source_constraint_key"`
}

// FieldSpec is one declared field in a type's schema.
type FieldSpec struct {
	Type           FieldType       `json:"type"`
	Format         string          `json:"format,omitempty"` // "date", "email", "decimal"
	Required       bool            `json:"required"`
	Enum           []FieldValue    `json:"enum,omitempty"`
	Default        *FieldValue     `json:"default,omitempty"`
	Description    string          `json:"description,omitempty"`
	CrossReference *CrossReference `json:"cross_reference,omitempty"`
}

// Fields is an ordered field-spec collection. Order follows the schema
// document where one exists, else sorted key order, so downstream merging is
// deterministic.
type Fields struct {
	order []string
	specs map[string]FieldSpec
}

// NewFields builds an empty collection.
func NewFields() *Fields {
	return &Fields{specs: make(map[string]FieldSpec)}
}

// Set adds or replaces a field spec, preserving first-insertion order.
func (f *Fields) Set(name string, spec FieldSpec) {
	if f.specs == nil {
		f.specs = make(map[string]FieldSpec)
	}
	if _, ok := f.specs[name]; !ok {
		f.order = append(f.order, name)
	}
	f.specs[name] = spec
}

// Get returns the spec for name.
func (f *Fields) Get(name string) (FieldSpec, bool) {
	if f == nil {
		return FieldSpec{}, false
	}
	spec, ok := f.specs[name]
	return spec, ok
}

// Names returns field names in declaration order.
func (f *Fields) Names() []string {
	if f == nil {
		return nil
	}
	return f.order
}

// Len returns the number of declared fields.
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.order)
}

// MarshalJSON renders the collection as a name -> spec object.
func (f *Fields) MarshalJSON() ([]byte, error) {
	if f == nil || f.specs == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f.specs)
}

// TypeDefinition describes one catalog type: an entity type, an instrument
// type, or a client-group type. ShortCode is the compact identifier used for
// cross-reference matching; it may be empty for types that never participate
// in cross-reference rules.
type TypeDefinition struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Category  string  `json:"category"` // "entity", "instrument", "group"
	ShortCode string  `json:"short_code,omitempty"`
	Schema    *Fields `json:"schema,omitempty"`
}

// Catalog categories for reference records.
const (
	CategoryEntity     = "entity"
	CategoryInstrument = "instrument"
	CategoryGroup      = "group"
)

// TransactionType is the TypeDefinition specialization for transaction
// categories. ValidInstruments and ValidContraGroups hold short codes consumed
// only by the cross-reference filter.
type TransactionType struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Schema            *Fields  `json:"schema,omitempty"`
	ValidInstruments  []string `json:"valid_instruments"`
	ValidContraGroups []string `json:"valid_contra_groups"`
}

// Lifecycle is the record lifecycle state.
type Lifecycle string

const (
	LifecycleIncomplete Lifecycle = "incomplete"
	LifecycleComplete   Lifecycle = "complete"
)

// Record is a persisted or in-flight financial record. A record is transient
// (empty ID) while authoring begins and becomes persistent on first successful
// save. For transactions, TypeID names the transaction category and the three
// link fields carry the relationship; for entities and groups only TypeID and
// ParentID apply.
type Record struct {
	ID             string      `json:"id,omitempty"`
	Name           string      `json:"name"`
	TypeID         string      `json:"type_id"`
	ParentID       string      `json:"parent_id,omitempty"`
	SubjectID      string      `json:"subject_id,omitempty"`
	CounterItemID  string      `json:"counter_item_id,omitempty"`
	CounterPartyID string      `json:"counter_party_id,omitempty"`
	Members        []string    `json:"members,omitempty"`
	Lifecycle      Lifecycle   `json:"lifecycle"`
	Properties     PropertyMap `json:"properties"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Persistent reports whether the record has been saved at least once.
func (r *Record) Persistent() bool { return r.ID != "" }

// ReconciledField is one entry in the merged field list handed to rendering.
// Recomputed on every relevant input change; never persisted.
type ReconciledField struct {
	Key          string       `json:"key"`
	InferredType FieldType    `json:"inferred_type"`
	Format       string       `json:"format,omitempty"`
	Required     bool         `json:"required"`
	Value        FieldValue   `json:"value"`
	IsDeclared   bool         `json:"is_declared"`
	Enum         []FieldValue `json:"enum,omitempty"`
	Description  string       `json:"description,omitempty"`
}

// MarshalJSON ensures nil Properties/Members marshal as {} and [].
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Properties == nil {
		r.Properties = PropertyMap{}
	}
	if r.Members == nil {
		r.Members = []string{}
	}
	type Alias Record
	return json.Marshal(Alias(r))
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	RecordCount int64  `json:"record_count"`
	TypeCount   int64  `json:"type_count"`
}
