// Package sequence drives the ordered set of decisions required to complete a
// record: primary subject, counter-item, category, counter-party, free-form
// properties. The progression is an explicit state machine with a pure
// transition function; there is no deferred scheduling and no hidden timing.
package sequence

import (
	"errors"
	"fmt"

	"github.com/fincraft/ledgerform/internal/catalog"
	"github.com/fincraft/ledgerform/internal/crossref"
	"github.com/fincraft/ledgerform/internal/types"
)

// Step is one decision in the authoring flow.
type Step int

const (
	StepSubject Step = iota
	StepCounterItem
	StepCategory
	StepCounterParty
	StepProperties
)

// String returns the wire name of the step.
func (s Step) String() string {
	switch s {
	case StepSubject:
		return "subject"
	case StepCounterItem:
		return "counter_item"
	case StepCategory:
		return "category"
	case StepCounterParty:
		return "counter_party"
	case StepProperties:
		return "properties"
	default:
		return "unknown"
	}
}

// Transition errors.
var (
	// ErrStepOrder signals an event that needs an earlier decision first.
	ErrStepOrder = errors.New("required prior selection missing")

	// ErrIllegalChoice signals a selection outside the legal choice set.
	ErrIllegalChoice = errors.New("selection not in legal choice set")

	// ErrNotApplicable signals an event the current mode never accepts.
	ErrNotApplicable = errors.New("event not applicable in this mode")
)

// AuthoringState is the complete mutable state of one in-progress authoring
// session. It is owned exclusively by that session and never shared.
type AuthoringState struct {
	Step         Step
	SubjectLevel bool

	Subject      *types.Record
	CounterItem  *types.Record
	Category     *types.TransactionType
	CounterParty *types.Record

	// CounterPartyAutoFilled marks a counter-party set by the self rule
	// rather than by user interaction.
	CounterPartyAutoFilled bool

	// ContraRequired caches the category's counterparty-rule outcome.
	ContraRequired bool

	Name       string
	Members    []string
	Properties types.PropertyMap
}

// Event is one input to the transition function.
type Event interface{ isEvent() }

// SelectSubject chooses the primary subject and clears all downstream
// selections.
type SelectSubject struct{ Subject types.Record }

// SelectCounterItem chooses the counter-item and clears downstream selections.
type SelectCounterItem struct{ Item types.Record }

// SelectCategory chooses the transaction category by identifier.
type SelectCategory struct{ CategoryID string }

// SelectCounterParty chooses the counter-party.
type SelectCounterParty struct{ Party types.Record }

// OverrideCounterParty discards an auto-filled counter-party so the user can
// choose explicitly.
type OverrideCounterParty struct{}

// SetProperty sets one free-form property.
type SetProperty struct {
	Key   string
	Value types.FieldValue
}

// RemoveProperty deletes one free-form property.
type RemoveProperty struct{ Key string }

// ReplaceProperties swaps the whole property map, as the free-form JSON
// editor does.
type ReplaceProperties struct{ Properties types.PropertyMap }

// SetMembers replaces the membership set on group-managing forms.
type SetMembers struct{ Members []string }

// Rename changes the record name.
type Rename struct{ Name string }

func (SelectSubject) isEvent()        {}
func (SelectCounterItem) isEvent()    {}
func (SelectCategory) isEvent()       {}
func (SelectCounterParty) isEvent()   {}
func (OverrideCounterParty) isEvent() {}
func (SetProperty) isEvent()          {}
func (RemoveProperty) isEvent()       {}
func (ReplaceProperties) isEvent()    {}
func (SetMembers) isEvent()           {}
func (Rename) isEvent()               {}

// Machine evaluates transitions against a catalog snapshot taken when the
// session opened. Catalog identifiers are stable within a session, so the
// snapshot never refreshes mid-flow.
type Machine struct {
	filter     *crossref.Filter
	categories []types.TransactionType
	typeDefs   map[string]types.TypeDefinition
	shortCodes map[string]string
}

// NewMachine creates a machine over the given catalog snapshot.
func NewMachine(filter *crossref.Filter, categories []types.TransactionType, defs []types.TypeDefinition) *Machine {
	if filter == nil {
		filter = crossref.New()
	}
	byID := make(map[string]types.TypeDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	return &Machine{
		filter:     filter,
		categories: categories,
		typeDefs:   byID,
		shortCodes: catalog.ShortCodes(defs),
	}
}

// Initial returns the starting state: Subject step, empty selections.
func (m *Machine) Initial(subjectLevel bool) AuthoringState {
	return AuthoringState{
		Step:         StepSubject,
		SubjectLevel: subjectLevel,
		Properties:   types.PropertyMap{},
	}
}

// Category returns the catalog snapshot's category by identifier.
func (m *Machine) Category(id string) (types.TransactionType, bool) {
	for _, c := range m.categories {
		if c.ID == id {
			return c, true
		}
	}
	return types.TransactionType{}, false
}

// LegalCategories computes the candidate categories for the current state.
func (m *Machine) LegalCategories(s AuthoringState) []types.TransactionType {
	if s.SubjectLevel {
		return m.filter.SubjectLevelCategories(m.categories)
	}
	if s.CounterItem == nil {
		return nil
	}
	itemType, ok := m.typeDefs[s.CounterItem.TypeID]
	if !ok {
		return nil
	}
	return m.filter.LegalCategories(m.categories, &itemType)
}

// LegalCounterparties filters candidate reference records for the chosen
// category.
func (m *Machine) LegalCounterparties(s AuthoringState, candidates []types.Record) []types.Record {
	if s.Category == nil {
		return nil
	}
	return m.filter.LegalCounterparties(*s.Category, candidates, m.shortCodes)
}

// DeclaredFields returns the chosen category's schema, or an empty collection
// before a category is chosen.
func (m *Machine) DeclaredFields(s AuthoringState) *types.Fields {
	if s.Category == nil || s.Category.Schema == nil {
		return types.NewFields()
	}
	return s.Category.Schema
}

// Apply is the pure transition function. It returns the successor state and
// never mutates its input.
func (m *Machine) Apply(s AuthoringState, ev Event) (AuthoringState, error) {
	next := clone(s)

	switch e := ev.(type) {
	case SelectSubject:
		subject := e.Subject
		next.Subject = &subject
		clearFrom(&next, StepCounterItem)
		if next.SubjectLevel {
			next.Step = StepCategory
		} else {
			next.Step = StepCounterItem
		}
		return next, nil

	case SelectCounterItem:
		if next.SubjectLevel {
			return s, fmt.Errorf("counter-item in subject-level mode: %w", ErrNotApplicable)
		}
		if next.Subject == nil {
			return s, fmt.Errorf("counter-item before subject: %w", ErrStepOrder)
		}
		item := e.Item
		next.CounterItem = &item
		clearFrom(&next, StepCategory)
		next.Step = StepCategory
		return next, nil

	case SelectCategory:
		if next.Subject == nil {
			return s, fmt.Errorf("category before subject: %w", ErrStepOrder)
		}
		if !next.SubjectLevel && next.CounterItem == nil {
			return s, fmt.Errorf("category before counter-item: %w", ErrStepOrder)
		}
		category, ok := m.legalCategory(next, e.CategoryID)
		if !ok {
			return s, fmt.Errorf("category %q: %w", e.CategoryID, ErrIllegalChoice)
		}
		next.Category = &category
		clearFrom(&next, StepCounterParty)
		next.Properties = applyDefaults(category.Schema, types.PropertyMap{})

		rule := m.filter.CounterpartyRule(category)
		next.ContraRequired = rule.Required
		switch {
		case rule.AutoFillSelf:
			subject := *next.Subject
			next.CounterParty = &subject
			next.CounterPartyAutoFilled = true
			next.Step = StepProperties
		case rule.Required:
			next.Step = StepCounterParty
		default:
			next.Step = StepProperties
		}
		return next, nil

	case SelectCounterParty:
		if next.Category == nil {
			return s, fmt.Errorf("counter-party before category: %w", ErrStepOrder)
		}
		if !next.ContraRequired {
			return s, fmt.Errorf("counter-party for skip-signal category: %w", ErrNotApplicable)
		}
		party := e.Party
		next.CounterParty = &party
		next.CounterPartyAutoFilled = false
		next.Step = StepProperties
		return next, nil

	case OverrideCounterParty:
		if next.CounterParty == nil || !next.CounterPartyAutoFilled {
			return s, fmt.Errorf("no auto-filled counter-party to override: %w", ErrNotApplicable)
		}
		next.CounterParty = nil
		next.CounterPartyAutoFilled = false
		next.Step = StepCounterParty
		return next, nil

	case SetProperty:
		next.Properties = next.Properties.Clone()
		if next.Properties == nil {
			next.Properties = types.PropertyMap{}
		}
		next.Properties[e.Key] = e.Value
		return next, nil

	case RemoveProperty:
		next.Properties = next.Properties.Clone()
		delete(next.Properties, e.Key)
		return next, nil

	case ReplaceProperties:
		next.Properties = e.Properties.Clone()
		if next.Properties == nil {
			next.Properties = types.PropertyMap{}
		}
		return next, nil

	case SetMembers:
		next.Members = append([]string(nil), e.Members...)
		return next, nil

	case Rename:
		next.Name = e.Name
		return next, nil

	default:
		return s, fmt.Errorf("unsupported event type %T", ev)
	}
}

// Resume recomputes the furthest-unsatisfied step from the state's persisted
// selections. Editing an existing record re-enters the flow here rather than
// at a stored position. An auto-fill category with no stored counter-party is
// completed in place, without a catalog lookup.
func (m *Machine) Resume(s AuthoringState) AuthoringState {
	next := clone(s)

	switch {
	case next.Subject == nil:
		next.Step = StepSubject
	case !next.SubjectLevel && next.CounterItem == nil:
		next.Step = StepCounterItem
	case next.Category == nil:
		next.Step = StepCategory
	default:
		rule := m.filter.CounterpartyRule(*next.Category)
		next.ContraRequired = rule.Required
		if next.CounterParty == nil && rule.AutoFillSelf {
			subject := *next.Subject
			next.CounterParty = &subject
			next.CounterPartyAutoFilled = true
		}
		if next.CounterParty == nil && rule.Required {
			next.Step = StepCounterParty
		} else {
			next.Step = StepProperties
		}
	}
	return next
}

// Complete reports whether every required decision has been made. Commits
// from earlier steps are allowed but produce an incomplete record.
func (m *Machine) Complete(s AuthoringState) bool {
	if s.Subject == nil {
		return false
	}
	if !s.SubjectLevel && s.CounterItem == nil {
		return false
	}
	if s.Category == nil {
		return false
	}
	if s.ContraRequired && s.CounterParty == nil {
		return false
	}
	return true
}

func (m *Machine) legalCategory(s AuthoringState, id string) (types.TransactionType, bool) {
	for _, c := range m.LegalCategories(s) {
		if c.ID == id {
			return c, true
		}
	}
	return types.TransactionType{}, false
}

// applyDefaults writes every declared default into the map, skipping keys
// already present.
func applyDefaults(schema *types.Fields, props types.PropertyMap) types.PropertyMap {
	if props == nil {
		props = types.PropertyMap{}
	}
	for _, name := range schema.Names() {
		spec, _ := schema.Get(name)
		if spec.Default == nil {
			continue
		}
		if _, ok := props[name]; ok {
			continue
		}
		props[name] = *spec.Default
	}
	return props
}

// clearFrom resets every selection at or after step.
func clearFrom(s *AuthoringState, step Step) {
	if step <= StepCounterItem {
		s.CounterItem = nil
	}
	if step <= StepCategory {
		s.Category = nil
	}
	if step <= StepCounterParty {
		s.CounterParty = nil
		s.CounterPartyAutoFilled = false
		s.ContraRequired = false
	}
	s.Properties = types.PropertyMap{}
}

func clone(s AuthoringState) AuthoringState {
	next := s
	next.Members = append([]string(nil), s.Members...)
	next.Properties = s.Properties.Clone()
	if next.Properties == nil {
		next.Properties = types.PropertyMap{}
	}
	return next
}
