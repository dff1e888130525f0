package sequence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincraft/ledgerform/internal/crossref"
	"github.com/fincraft/ledgerform/internal/types"
)

// testMachine builds a machine over a small instrument/category catalog:
// portfolio subjects ("P"), equity instruments ("EQ"), fx instruments ("FX"),
// bank counterparties ("BK").
func testMachine(opts ...crossref.Option) *Machine {
	buySchema := types.NewFields()
	buySchema.Set("amount", types.FieldSpec{Type: types.TypeNumber, Required: true})
	buySchema.Set("settled", types.FieldSpec{Type: types.TypeBoolean, Default: ptr(types.Bool(false))})

	categories := []types.TransactionType{
		{
			ID:                "tx-buy",
			Name:              "Buy",
			Schema:            buySchema,
			ValidInstruments:  []string{"EQ"},
			ValidContraGroups: []string{"P"},
		},
		{
			ID:                "tx-transfer",
			Name:              "Transfer",
			ValidInstruments:  []string{"FX"},
			ValidContraGroups: []string{"BK"},
		},
		{
			ID:               "tx-fee",
			Name:             "Management Fee",
			ValidInstruments: []string{"EQ", "FX"},
		},
	}

	typeDefs := []types.TypeDefinition{
		{ID: "t-portfolio", Category: types.CategoryEntity, ShortCode: "P"},
		{ID: "t-eq", Category: types.CategoryInstrument, ShortCode: "EQ"},
		{ID: "t-fx", Category: types.CategoryInstrument, ShortCode: "FX"},
		{ID: "t-bank", Category: types.CategoryEntity, ShortCode: "BK"},
	}

	return NewMachine(crossref.New(opts...), categories, typeDefs)
}

func ptr(v types.FieldValue) *types.FieldValue { return &v }

var (
	portfolio = types.Record{ID: "r-port", Name: "Growth", TypeID: "t-portfolio"}
	equity    = types.Record{ID: "r-aapl", Name: "AAPL", TypeID: "t-eq"}
	fxForward = types.Record{ID: "r-fx", Name: "EURUSD 3M", TypeID: "t-fx"}
	bank      = types.Record{ID: "r-bank", Name: "First Bank", TypeID: "t-bank"}
)

func advance(t *testing.T, m *Machine, s AuthoringState, evs ...Event) AuthoringState {
	t.Helper()
	for _, ev := range evs {
		var err error
		s, err = m.Apply(s, ev)
		require.NoError(t, err)
	}
	return s
}

func TestInitialState(t *testing.T) {
	m := testMachine()
	s := m.Initial(false)
	assert.Equal(t, StepSubject, s.Step)
	assert.Nil(t, s.Subject)
	assert.Empty(t, s.Properties)
}

func TestFullFlowWithAutoFill(t *testing.T) {
	m := testMachine()
	s := m.Initial(false)

	s = advance(t, m, s, SelectSubject{Subject: portfolio})
	assert.Equal(t, StepCounterItem, s.Step)

	s = advance(t, m, s, SelectCounterItem{Item: equity})
	assert.Equal(t, StepCategory, s.Step)

	legal := m.LegalCategories(s)
	require.Len(t, legal, 2)
	assert.Equal(t, "tx-buy", legal[0].ID)
	assert.Equal(t, "tx-fee", legal[1].ID)

	s = advance(t, m, s, SelectCategory{CategoryID: "tx-buy"})

	// valid_contra_groups contains the self code: auto-fill with the chosen
	// subject and bypass the counter-party step. No catalog lookup involved.
	assert.Equal(t, StepProperties, s.Step)
	require.NotNil(t, s.CounterParty)
	assert.Equal(t, portfolio.ID, s.CounterParty.ID)
	assert.True(t, s.CounterPartyAutoFilled)
	assert.True(t, m.Complete(s))
}

func TestCategoryAppliesSchemaDefaults(t *testing.T) {
	m := testMachine()
	s := m.Initial(false)
	s = advance(t, m, s,
		SelectSubject{Subject: portfolio},
		SelectCounterItem{Item: equity},
		SelectCategory{CategoryID: "tx-buy"},
	)
	v, ok := s.Properties["settled"]
	require.True(t, ok, "default not applied")
	assert.True(t, v.Equal(types.Bool(false)))
	_, ok = s.Properties["amount"]
	assert.False(t, ok, "field without default must stay unset")
}

func TestInstrumentConstrainsCategories(t *testing.T) {
	m := testMachine()
	s := m.Initial(false)
	s = advance(t, m, s, SelectSubject{Subject: portfolio}, SelectCounterItem{Item: fxForward})

	// tx-buy requires EQ; FX instrument makes it illegal.
	_, err := m.Apply(s, SelectCategory{CategoryID: "tx-buy"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalChoice))

	s = advance(t, m, s, SelectCategory{CategoryID: "tx-transfer"})
	assert.Equal(t, StepCounterParty, s.Step)
	assert.True(t, s.ContraRequired)
	assert.Nil(t, s.CounterParty)
}

func TestSkipSignalCategoryBypassesCounterParty(t *testing.T) {
	m := testMachine()
	s := m.Initial(false)
	s = advance(t, m, s,
		SelectSubject{Subject: portfolio},
		SelectCounterItem{Item: equity},
		SelectCategory{CategoryID: "tx-fee"},
	)

	// Empty valid_contra_groups: the step is structurally absent.
	assert.Equal(t, StepProperties, s.Step)
	assert.False(t, s.ContraRequired)
	assert.Nil(t, s.CounterParty)
	assert.True(t, m.Complete(s))

	_, err := m.Apply(s, SelectCounterParty{Party: bank})
	assert.True(t, errors.Is(err, ErrNotApplicable))
}

func TestSelectCounterParty(t *testing.T) {
	m := testMachine()
	s := m.Initial(false)
	s = advance(t, m, s,
		SelectSubject{Subject: portfolio},
		SelectCounterItem{Item: fxForward},
		SelectCategory{CategoryID: "tx-transfer"},
	)

	legal := m.LegalCounterparties(s, []types.Record{bank, portfolio})
	require.Len(t, legal, 1)
	assert.Equal(t, bank.ID, legal[0].ID)

	s = advance(t, m, s, SelectCounterParty{Party: bank})
	assert.Equal(t, StepProperties, s.Step)
	assert.False(t, s.CounterPartyAutoFilled)
	assert.True(t, m.Complete(s))
}

func TestOverrideAutoFilledCounterParty(t *testing.T) {
	m := testMachine()
	s := m.Initial(false)
	s = advance(t, m, s,
		SelectSubject{Subject: portfolio},
		SelectCounterItem{Item: equity},
		SelectCategory{CategoryID: "tx-buy"},
	)
	require.True(t, s.CounterPartyAutoFilled)

	s = advance(t, m, s, OverrideCounterParty{})
	assert.Equal(t, StepCounterParty, s.Step)
	assert.Nil(t, s.CounterParty)

	// Override on a manually chosen counter-party is rejected.
	s = advance(t, m, s, SelectCounterParty{Party: portfolio})
	_, err := m.Apply(s, OverrideCounterParty{})
	assert.True(t, errors.Is(err, ErrNotApplicable))
}

func TestUpstreamSelectionClearsDownstream(t *testing.T) {
	m := testMachine()
	s := m.Initial(false)
	s = advance(t, m, s,
		SelectSubject{Subject: portfolio},
		SelectCounterItem{Item: equity},
		SelectCategory{CategoryID: "tx-buy"},
		SetProperty{Key: "amount", Value: types.Int(100)},
	)

	s = advance(t, m, s, SelectCounterItem{Item: fxForward})
	assert.Equal(t, StepCategory, s.Step)
	assert.Nil(t, s.Category)
	assert.Nil(t, s.CounterParty)
	assert.Empty(t, s.Properties)

	s = advance(t, m, s, SelectSubject{Subject: types.Record{ID: "r2", TypeID: "t-portfolio"}})
	assert.Equal(t, StepCounterItem, s.Step)
	assert.Nil(t, s.CounterItem)
}

func TestStepOrderEnforced(t *testing.T) {
	m := testMachine()
	s := m.Initial(false)

	_, err := m.Apply(s, SelectCounterItem{Item: equity})
	assert.True(t, errors.Is(err, ErrStepOrder))

	_, err = m.Apply(s, SelectCategory{CategoryID: "tx-buy"})
	assert.True(t, errors.Is(err, ErrStepOrder))

	_, err = m.Apply(s, SelectCounterParty{Party: bank})
	assert.True(t, errors.Is(err, ErrStepOrder))
}

func TestSubjectLevelModeSkipsCounterItem(t *testing.T) {
	m := testMachine(crossref.WithSubjectLevelCategories("tx-fee"))
	s := m.Initial(true)

	s = advance(t, m, s, SelectSubject{Subject: portfolio})
	assert.Equal(t, StepCategory, s.Step)

	_, err := m.Apply(s, SelectCounterItem{Item: equity})
	assert.True(t, errors.Is(err, ErrNotApplicable))

	legal := m.LegalCategories(s)
	require.Len(t, legal, 1)
	assert.Equal(t, "tx-fee", legal[0].ID)

	// The allow-list is by identifier, not valid_instruments.
	_, err = m.Apply(s, SelectCategory{CategoryID: "tx-buy"})
	assert.True(t, errors.Is(err, ErrIllegalChoice))

	s = advance(t, m, s, SelectCategory{CategoryID: "tx-fee"})
	assert.Equal(t, StepProperties, s.Step)
	assert.True(t, m.Complete(s))
}

func TestPropertyEvents(t *testing.T) {
	m := testMachine()
	s := m.Initial(false)

	s = advance(t, m, s, SetProperty{Key: "note", Value: types.String("hello")})
	assert.True(t, s.Properties["note"].Equal(types.String("hello")))

	s = advance(t, m, s, RemoveProperty{Key: "note"})
	_, ok := s.Properties["note"]
	assert.False(t, ok)

	s = advance(t, m, s, ReplaceProperties{Properties: types.PropertyMap{"bulk": types.Int(1)}})
	assert.Len(t, s.Properties, 1)

	s = advance(t, m, s, SetMembers{Members: []string{"m-1"}}, Rename{Name: "Renamed"})
	assert.Equal(t, []string{"m-1"}, s.Members)
	assert.Equal(t, "Renamed", s.Name)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	m := testMachine()
	s := m.Initial(false)
	s = advance(t, m, s, SetProperty{Key: "a", Value: types.Int(1)})

	before := s.Properties.Clone()
	_, err := m.Apply(s, SetProperty{Key: "b", Value: types.Int(2)})
	require.NoError(t, err)
	assert.True(t, s.Properties.Equal(before), "input state mutated")
}

func TestResumeFurthestUnsatisfiedStep(t *testing.T) {
	m := testMachine()
	buy, _ := m.Category("tx-buy")
	transfer, _ := m.Category("tx-transfer")

	tests := []struct {
		name string
		s    AuthoringState
		want Step
	}{
		{"nothing chosen", AuthoringState{}, StepSubject},
		{"subject only", AuthoringState{Subject: &portfolio}, StepCounterItem},
		{"subject-level subject only", AuthoringState{SubjectLevel: true, Subject: &portfolio}, StepCategory},
		{"through counter-item", AuthoringState{Subject: &portfolio, CounterItem: &equity}, StepCategory},
		{
			"category needing counterparty",
			AuthoringState{Subject: &portfolio, CounterItem: &fxForward, Category: &transfer},
			StepCounterParty,
		},
		{
			"counterparty satisfied",
			AuthoringState{Subject: &portfolio, CounterItem: &fxForward, Category: &transfer, CounterParty: &bank},
			StepProperties,
		},
		{
			"auto-fill completes on resume",
			AuthoringState{Subject: &portfolio, CounterItem: &equity, Category: &buy},
			StepProperties,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Resume(tt.s)
			assert.Equal(t, tt.want, got.Step)
		})
	}

	resumed := m.Resume(AuthoringState{Subject: &portfolio, CounterItem: &equity, Category: &buy})
	require.NotNil(t, resumed.CounterParty)
	assert.Equal(t, portfolio.ID, resumed.CounterParty.ID)
	assert.True(t, resumed.CounterPartyAutoFilled)
}
