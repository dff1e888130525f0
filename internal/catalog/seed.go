package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fincraft/ledgerform/internal/schema"
	"github.com/fincraft/ledgerform/internal/types"
)

var titleCaser = cases.Title(language.English)

// DisplayName derives a human-readable name from a slug identifier.
func DisplayName(slug string) string {
	return titleCaser.String(strings.ReplaceAll(slug, "-", " "))
}

// DefaultTypeDefinitions returns the seed type catalog: portfolio entities,
// counterparty entities, tradeable instruments, and client groups.
func DefaultTypeDefinitions() []types.TypeDefinition {
	portfolioSchema := types.NewFields()
	portfolioSchema.Set("base_currency", types.FieldSpec{
		Type:     types.TypeString,
		Required: true,
		Enum:     []types.FieldValue{types.String("USD"), types.String("EUR"), types.String("GBP")},
	})
	portfolioSchema.Set("inception_date", types.FieldSpec{Type: types.TypeString, Format: "date"})

	equitySchema := types.NewFields()
	equitySchema.Set("isin", types.FieldSpec{Type: types.TypeString, Required: true})
	equitySchema.Set("exchange", types.FieldSpec{Type: types.TypeString})

	bondSchema := types.NewFields()
	bondSchema.Set("isin", types.FieldSpec{Type: types.TypeString, Required: true})
	bondSchema.Set("coupon", types.FieldSpec{Type: types.TypeNumber})
	bondSchema.Set("maturity", types.FieldSpec{Type: types.TypeString, Format: "date"})

	fxSchema := types.NewFields()
	fxSchema.Set("currency_pair", types.FieldSpec{Type: types.TypeString, Required: true})
	fxSchema.Set("value_date", types.FieldSpec{Type: types.TypeString, Format: "date"})

	groupSchema := types.NewFields()
	groupSchema.Set("advisor_email", types.FieldSpec{Type: types.TypeString, Format: "email"})

	return []types.TypeDefinition{
		{ID: "type-portfolio", Name: DisplayName("portfolio"), Category: types.CategoryEntity, ShortCode: "P", Schema: portfolioSchema},
		{ID: "type-bank-account", Name: DisplayName("bank-account"), Category: types.CategoryEntity, ShortCode: "BK"},
		{ID: "type-custodian", Name: DisplayName("custodian"), Category: types.CategoryEntity, ShortCode: "CU"},
		{ID: "type-equity", Name: DisplayName("equity"), Category: types.CategoryInstrument, ShortCode: "EQ", Schema: equitySchema},
		{ID: "type-bond", Name: DisplayName("bond"), Category: types.CategoryInstrument, ShortCode: "BD", Schema: bondSchema},
		{ID: "type-fx-forward", Name: DisplayName("fx-forward"), Category: types.CategoryInstrument, ShortCode: "FX", Schema: fxSchema},
		{ID: "type-client-group", Name: DisplayName("client-group"), Category: types.CategoryGroup, Schema: groupSchema},
	}
}

// DefaultTransactionTypes returns the seed transaction categories with their
// cross-reference extensions.
func DefaultTransactionTypes() []types.TransactionType {
	tradeSchema := types.NewFields()
	tradeSchema.Set("amount", types.FieldSpec{Type: types.TypeNumber, Required: true})
	tradeSchema.Set("trade_date", types.FieldSpec{Type: types.TypeString, Format: "date", Required: true})
	tradeSchema.Set("settled", types.FieldSpec{Type: types.TypeBoolean, Default: defaultValue(types.Bool(false))})

	transferSchema := types.NewFields()
	transferSchema.Set("amount", types.FieldSpec{Type: types.TypeNumber, Required: true})
	transferSchema.Set("value_date", types.FieldSpec{Type: types.TypeString, Format: "date"})

	feeSchema := types.NewFields()
	feeSchema.Set("amount", types.FieldSpec{Type: types.TypeNumber, Required: true})
	feeSchema.Set("note", types.FieldSpec{Type: types.TypeString})

	return []types.TransactionType{
		{
			ID:                "tx-buy",
			Name:              DisplayName("buy"),
			Schema:            tradeSchema,
			ValidInstruments:  []string{"EQ", "BD"},
			ValidContraGroups: []string{"P"},
		},
		{
			ID:                "tx-sell",
			Name:              DisplayName("sell"),
			Schema:            tradeSchema,
			ValidInstruments:  []string{"EQ", "BD"},
			ValidContraGroups: []string{"P"},
		},
		{
			ID:                "tx-fx-transfer",
			Name:              DisplayName("fx-transfer"),
			Schema:            transferSchema,
			ValidInstruments:  []string{"FX"},
			ValidContraGroups: []string{"BK", "CU"},
		},
		{
			ID:                "tx-management-fee",
			Name:              DisplayName("management-fee"),
			Schema:            feeSchema,
			ValidInstruments:  []string{"EQ", "BD", "FX"},
			ValidContraGroups: []string{},
		},
	}
}

func defaultValue(v types.FieldValue) *types.FieldValue { return &v }

// Seed inserts the default catalog. Existing rows are left untouched, so
// reseeding an already-populated database is safe.
func Seed(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, d := range DefaultTypeDefinitions() {
		doc, err := schema.Serialize(ensureFields(d.Schema))
		if err != nil {
			return fmt.Errorf("serialize schema for %s: %w", d.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO type_definitions (id, name, category, short_code, schema)
			VALUES (?, ?, ?, ?, ?)
		`, d.ID, d.Name, d.Category, d.ShortCode, doc)
		if err != nil {
			return fmt.Errorf("insert type definition %s: %w", d.ID, err)
		}
	}

	for _, tt := range DefaultTransactionTypes() {
		doc, err := schema.Serialize(ensureFields(tt.Schema))
		if err != nil {
			return fmt.Errorf("serialize schema for %s: %w", tt.ID, err)
		}
		instruments, err := json.Marshal(tt.ValidInstruments)
		if err != nil {
			return fmt.Errorf("marshal valid_instruments for %s: %w", tt.ID, err)
		}
		contraGroups, err := json.Marshal(tt.ValidContraGroups)
		if err != nil {
			return fmt.Errorf("marshal valid_contra_groups for %s: %w", tt.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO transaction_types (id, name, schema, valid_instruments, valid_contra_groups)
			VALUES (?, ?, ?, ?, ?)
		`, tt.ID, tt.Name, doc, string(instruments), string(contraGroups))
		if err != nil {
			return fmt.Errorf("insert transaction type %s: %w", tt.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func ensureFields(f *types.Fields) *types.Fields {
	if f == nil {
		return types.NewFields()
	}
	return f
}
