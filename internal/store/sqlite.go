package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/fincraft/ledgerform/internal/types"
)

// SQLiteStore is the SQLite-backed record database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
// It enables WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// DB exposes the underlying connection so the catalog can share it.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create assigns an ID and timestamps and inserts the record.
func (s *SQLiteStore) Create(ctx context.Context, rec types.Record) (*types.Record, error) {
	now := time.Now().UTC()
	rec.ID = ulid.Make().String()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Lifecycle == "" {
		rec.Lifecycle = types.LifecycleIncomplete
	}

	membersJSON, propsJSON, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (id, name, type_id, parent_id, subject_id, counter_item_id, counter_party_id, members, lifecycle, properties, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Name, rec.TypeID, nullable(rec.ParentID), nullable(rec.SubjectID),
		nullable(rec.CounterItemID), nullable(rec.CounterPartyID), membersJSON,
		string(rec.Lifecycle), propsJSON, now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	return &rec, nil
}

// Update replaces a record's mutable fields. A zero-row update means the
// record was deleted out from under the caller and maps to ErrNotFound.
func (s *SQLiteStore) Update(ctx context.Context, rec types.Record) (*types.Record, error) {
	rec.UpdatedAt = time.Now().UTC()

	membersJSON, propsJSON, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET name = ?, subject_id = ?, counter_item_id = ?, counter_party_id = ?,
		    members = ?, lifecycle = ?, properties = ?, updated_at = ?
		WHERE id = ?
	`, rec.Name, nullable(rec.SubjectID), nullable(rec.CounterItemID),
		nullable(rec.CounterPartyID), membersJSON, string(rec.Lifecycle),
		propsJSON, rec.UpdatedAt.Format(time.RFC3339), rec.ID)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return &rec, nil
}

// Delete removes an incomplete record.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	var lifecycle string
	err := s.db.QueryRowContext(ctx, "SELECT lifecycle FROM records WHERE id = ?", id).Scan(&lifecycle)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("load lifecycle: %w", err)
	}
	if types.Lifecycle(lifecycle) != types.LifecycleIncomplete {
		return ErrNotDeletable
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type_id, parent_id, subject_id, counter_item_id, counter_party_id,
		       members, lifecycle, properties, created_at, updated_at
		FROM records
		WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return rec, nil
}

// List retrieves records matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]types.Record, error) {
	query := `
		SELECT id, name, type_id, parent_id, subject_id, counter_item_id, counter_party_id,
		       members, lifecycle, properties, created_at, updated_at
		FROM records
		WHERE 1=1`
	var args []any

	if f.TypeID != "" {
		query += " AND type_id = ?"
		args = append(args, f.TypeID)
	}
	if f.ParentID != "" {
		query += " AND parent_id = ?"
		args = append(args, f.ParentID)
	}
	if f.Lifecycle != "" {
		query += " AND lifecycle = ?"
		args = append(args, string(f.Lifecycle))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var recs []types.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return recs, nil
}

// Count returns the total number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count)
	return count, err
}

func encodeRecord(rec types.Record) (membersJSON, propsJSON string, err error) {
	members := rec.Members
	if members == nil {
		members = []string{}
	}
	mb, err := json.Marshal(members)
	if err != nil {
		return "", "", fmt.Errorf("marshal members: %w", err)
	}

	props := rec.Properties
	if props == nil {
		props = types.PropertyMap{}
	}
	pb, err := json.Marshal(props)
	if err != nil {
		return "", "", fmt.Errorf("marshal properties: %w", err)
	}

	return string(mb), string(pb), nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanRecord scans a row into a Record, handling JSON columns and timestamps.
func scanRecord(scanner interface{ Scan(...any) error }) (*types.Record, error) {
	var rec types.Record
	var parentID, subjectID, counterItemID, counterPartyID sql.NullString
	var membersJSON, lifecycle, propsJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rec.ID,
		&rec.Name,
		&rec.TypeID,
		&parentID,
		&subjectID,
		&counterItemID,
		&counterPartyID,
		&membersJSON,
		&lifecycle,
		&propsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ParentID = parentID.String
	rec.SubjectID = subjectID.String
	rec.CounterItemID = counterItemID.String
	rec.CounterPartyID = counterPartyID.String
	rec.Lifecycle = types.Lifecycle(lifecycle)

	if err := json.Unmarshal([]byte(membersJSON), &rec.Members); err != nil {
		return nil, fmt.Errorf("parse members JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(propsJSON), &rec.Properties); err != nil {
		return nil, fmt.Errorf("parse properties JSON: %w", err)
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		rec.UpdatedAt = t
	}

	return &rec, nil
}
