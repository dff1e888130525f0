// Package catalog serves the type definitions and transaction types that
// drive schema resolution and cross-reference filtering.
package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/fincraft/ledgerform/internal/types"
)

// ErrTypeNotFound is returned when a type identifier is unknown.
var ErrTypeNotFound = errors.New("type not found")

// Catalog exposes the read side of the type system.
type Catalog interface {
	// ListTypes returns every type definition, ordered by name.
	ListTypes(ctx context.Context) ([]types.TypeDefinition, error)

	// ListTransactionTypes returns every transaction type, ordered by name.
	ListTransactionTypes(ctx context.Context) ([]types.TransactionType, error)

	// GetType retrieves a single type definition by ID.
	GetType(ctx context.Context, id string) (*types.TypeDefinition, error)

	// ListReferenceRecords returns persisted records whose type belongs to
	// the given category, for use as selection candidates.
	ListReferenceRecords(ctx context.Context, category string) ([]types.Record, error)
}

// Memory is an in-memory Catalog used by tests and the repair tooling.
type Memory struct {
	mu           sync.RWMutex
	typeDefs     map[string]types.TypeDefinition
	transactions map[string]types.TransactionType
	records      []types.Record
}

// NewMemory builds an in-memory catalog from the given definitions.
func NewMemory(defs []types.TypeDefinition, txTypes []types.TransactionType, records []types.Record) *Memory {
	m := &Memory{
		typeDefs:     make(map[string]types.TypeDefinition, len(defs)),
		transactions: make(map[string]types.TransactionType, len(txTypes)),
		records:      append([]types.Record(nil), records...),
	}
	for _, d := range defs {
		m.typeDefs[d.ID] = d
	}
	for _, tt := range txTypes {
		m.transactions[tt.ID] = tt
	}
	return m
}

func (m *Memory) ListTypes(ctx context.Context) ([]types.TypeDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.TypeDefinition, 0, len(m.typeDefs))
	for _, d := range m.typeDefs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListTransactionTypes(ctx context.Context) ([]types.TransactionType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.TransactionType, 0, len(m.transactions))
	for _, tt := range m.transactions {
		out = append(out, tt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetType(ctx context.Context, id string) (*types.TypeDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.typeDefs[id]
	if !ok {
		return nil, ErrTypeNotFound
	}
	return &d, nil
}

func (m *Memory) ListReferenceRecords(ctx context.Context, category string) ([]types.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Record
	for _, r := range m.records {
		d, ok := m.typeDefs[r.TypeID]
		if !ok || d.Category != category {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddRecord registers a reference record candidate.
func (m *Memory) AddRecord(r types.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

// ShortCodes returns a type-ID to short-code map for counterparty filtering.
func ShortCodes(defs []types.TypeDefinition) map[string]string {
	out := make(map[string]string, len(defs))
	for _, d := range defs {
		out[d.ID] = d.ShortCode
	}
	return out
}
