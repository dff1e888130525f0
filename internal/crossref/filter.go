// Package crossref evaluates the two custom schema extensions,
// valid_instruments and valid_contra_groups, against the type catalog to
// compute legal choice sets for dependent authoring steps.
package crossref

import (
	"github.com/fincraft/ledgerform/internal/types"
)

// DefaultSelfCode is the distinguished contra-group code meaning "the primary
// subject itself". A category carrying it auto-fills the counter-party with
// the chosen subject.
const DefaultSelfCode = "P"

// Filter computes legal choice sets. It is pure over its inputs; catalog data
// is passed per call so one filter serves every session.
type Filter struct {
	selfCode string

	// subjectLevelCategoryIDs is the fixed allow-list for subject-level
	// transactions, matched by category identifier rather than derived from
	// valid_instruments.
	subjectLevelCategoryIDs map[string]bool
}

// Option configures a Filter.
type Option func(*Filter)

// WithSelfCode overrides the distinguished self contra-group code.
func WithSelfCode(code string) Option {
	return func(f *Filter) { f.selfCode = code }
}

// WithSubjectLevelCategories sets the category identifiers legal in
// subject-level mode.
func WithSubjectLevelCategories(ids ...string) Option {
	return func(f *Filter) {
		f.subjectLevelCategoryIDs = make(map[string]bool, len(ids))
		for _, id := range ids {
			f.subjectLevelCategoryIDs[id] = true
		}
	}
}

// New creates a filter with the given options.
func New(opts ...Option) *Filter {
	f := &Filter{selfCode: DefaultSelfCode}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LegalCategories applies the instrument-to-category rule: a transaction
// category is legal iff its valid_instruments set contains the chosen
// instrument type's short code. A missing short code fails closed: the legal
// set is empty, surfaced as "no valid categories" rather than all of them.
func (f *Filter) LegalCategories(categories []types.TransactionType, instrumentType *types.TypeDefinition) []types.TransactionType {
	if instrumentType == nil || instrumentType.ShortCode == "" {
		return nil
	}
	var legal []types.TransactionType
	for _, c := range categories {
		if containsCode(c.ValidInstruments, instrumentType.ShortCode) {
			legal = append(legal, c)
		}
	}
	return legal
}

// SubjectLevelCategories applies the subject-level allow-list: the instrument
// step is omitted entirely and legality is by category identifier.
func (f *Filter) SubjectLevelCategories(categories []types.TransactionType) []types.TransactionType {
	var legal []types.TransactionType
	for _, c := range categories {
		if f.subjectLevelCategoryIDs[c.ID] {
			legal = append(legal, c)
		}
	}
	return legal
}

// ContraRule describes what the category-to-counterparty rule demands for a
// chosen category.
type ContraRule struct {
	// Required reports whether the counter-party step exists at all. An empty
	// valid_contra_groups set is a structural skip signal, not a validation
	// failure.
	Required bool

	// AutoFillSelf reports that the counter-party is the already-chosen
	// primary subject and the step completes without user interaction. The
	// user may still override explicitly.
	AutoFillSelf bool

	// Groups are the short codes constraining counter-party candidates.
	Groups []string
}

// CounterpartyRule evaluates valid_contra_groups for a category.
func (f *Filter) CounterpartyRule(category types.TransactionType) ContraRule {
	rule := ContraRule{Groups: category.ValidContraGroups}
	if len(category.ValidContraGroups) == 0 {
		return rule
	}
	rule.Required = true
	rule.AutoFillSelf = containsCode(category.ValidContraGroups, f.selfCode)
	return rule
}

// LegalCounterparties applies the category-to-counterparty rule: a reference
// record is a legal counter-party iff its type's short code is a member of the
// category's valid_contra_groups. shortCodes maps type identifiers to short
// codes; records whose type carries no short code are never legal.
func (f *Filter) LegalCounterparties(category types.TransactionType, candidates []types.Record, shortCodes map[string]string) []types.Record {
	if len(category.ValidContraGroups) == 0 {
		return nil
	}
	var legal []types.Record
	for _, r := range candidates {
		code := shortCodes[r.TypeID]
		if code != "" && containsCode(category.ValidContraGroups, code) {
			legal = append(legal, r)
		}
	}
	return legal
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
