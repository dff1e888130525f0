package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fincraft/ledgerform/internal/schema"
	"github.com/fincraft/ledgerform/internal/types"
)

// SQLiteCatalog reads the catalog tables over a connection shared with the
// record store.
type SQLiteCatalog struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteCatalog wraps an already-migrated database connection.
func NewSQLiteCatalog(db *sql.DB, logger *slog.Logger) *SQLiteCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteCatalog{db: db, logger: logger}
}

func (c *SQLiteCatalog) ListTypes(ctx context.Context) ([]types.TypeDefinition, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, category, short_code, schema
		FROM type_definitions
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query type definitions: %w", err)
	}
	defer rows.Close()

	var defs []types.TypeDefinition
	for rows.Next() {
		var d types.TypeDefinition
		var rawSchema string
		if err := rows.Scan(&d.ID, &d.Name, &d.Category, &d.ShortCode, &rawSchema); err != nil {
			return nil, fmt.Errorf("scan type definition: %w", err)
		}
		d.Schema = c.resolveSchema(d.ID, rawSchema)
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate type definitions: %w", err)
	}

	return defs, nil
}

func (c *SQLiteCatalog) ListTransactionTypes(ctx context.Context) ([]types.TransactionType, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, schema, valid_instruments, valid_contra_groups
		FROM transaction_types
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query transaction types: %w", err)
	}
	defer rows.Close()

	var txTypes []types.TransactionType
	for rows.Next() {
		tt, err := c.scanTransactionType(rows)
		if err != nil {
			return nil, err
		}
		txTypes = append(txTypes, *tt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction types: %w", err)
	}

	return txTypes, nil
}

func (c *SQLiteCatalog) GetType(ctx context.Context, id string) (*types.TypeDefinition, error) {
	var d types.TypeDefinition
	var rawSchema string
	err := c.db.QueryRowContext(ctx, `
		SELECT id, name, category, short_code, schema
		FROM type_definitions
		WHERE id = ?
	`, id).Scan(&d.ID, &d.Name, &d.Category, &d.ShortCode, &rawSchema)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTypeNotFound
		}
		return nil, fmt.Errorf("query type definition: %w", err)
	}

	d.Schema = c.resolveSchema(d.ID, rawSchema)
	return &d, nil
}

func (c *SQLiteCatalog) ListReferenceRecords(ctx context.Context, category string) ([]types.Record, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.type_id
		FROM records r
		JOIN type_definitions t ON t.id = r.type_id
		WHERE t.category = ?
		ORDER BY r.name ASC
	`, category)
	if err != nil {
		return nil, fmt.Errorf("query reference records: %w", err)
	}
	defer rows.Close()

	var recs []types.Record
	for rows.Next() {
		var r types.Record
		if err := rows.Scan(&r.ID, &r.Name, &r.TypeID); err != nil {
			return nil, fmt.Errorf("scan reference record: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference records: %w", err)
	}

	return recs, nil
}

// resolveSchema parses a stored schema column. Malformed documents degrade to
// zero declared fields rather than failing the catalog read.
func (c *SQLiteCatalog) resolveSchema(typeID, raw string) *types.Fields {
	fields, err := schema.Resolve(raw)
	if err != nil {
		c.logger.Warn("catalog schema unparseable",
			slog.String("type_id", typeID),
			slog.String("error", err.Error()))
	}
	return fields
}

func (c *SQLiteCatalog) scanTransactionType(rows *sql.Rows) (*types.TransactionType, error) {
	var tt types.TransactionType
	var rawSchema, instrumentsJSON, contraGroupsJSON string
	if err := rows.Scan(&tt.ID, &tt.Name, &rawSchema, &instrumentsJSON, &contraGroupsJSON); err != nil {
		return nil, fmt.Errorf("scan transaction type: %w", err)
	}

	tt.Schema = c.resolveSchema(tt.ID, rawSchema)
	if err := json.Unmarshal([]byte(instrumentsJSON), &tt.ValidInstruments); err != nil {
		return nil, fmt.Errorf("parse valid_instruments: %w", err)
	}
	if err := json.Unmarshal([]byte(contraGroupsJSON), &tt.ValidContraGroups); err != nil {
		return nil, fmt.Errorf("parse valid_contra_groups: %w", err)
	}
	return &tt, nil
}
