// Package store defines the canonical store contract the import engine
// writes through: scoped equality queries, get-by-natural-key, bulk insert,
// row update and delete, inside an ambient transaction owned by the caller.
// The engine itself never commits or rolls back.
package store

import (
	"context"
	"fmt"
)

// Spec is an equality filter over one table.
type Spec struct {
	Table   string
	Filters map[string]any
}

// NewSpec creates an empty filter spec for a table.
func NewSpec(table string) Spec {
	return Spec{Table: table, Filters: map[string]any{}}
}

// Where returns a copy of the spec with an additional equality filter.
func (s Spec) Where(field string, value any) Spec {
	filters := make(map[string]any, len(s.Filters)+1)
	for k, v := range s.Filters {
		filters[k] = v
	}
	filters[field] = value
	return Spec{Table: s.Table, Filters: filters}
}

// String renders the spec for error messages and logs.
func (s Spec) String() string {
	return fmt.Sprintf("%s%v", s.Table, s.Filters)
}

// Row is the wire representation of one stored row.
type Row map[string]any

// ID returns the row's primary key.
func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

// String returns a string column, or "" when absent or not a string.
func (r Row) String(key string) string {
	v, _ := r[key].(string)
	return v
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Tx is the ambient transaction handle the engine operates through.
type Tx interface {
	// GetByNaturalKey returns the single row matching the spec.
	// Zero matches return a NotFoundError; multiple matches are an error.
	GetByNaturalKey(ctx context.Context, spec Spec) (Row, error)

	// Query returns all rows matching the spec.
	Query(ctx context.Context, spec Spec) ([]Row, error)

	// BulkInsert inserts rows into a table. Every row must carry an id.
	BulkInsert(ctx context.Context, table string, rows []Row) error

	// Update overwrites the given fields of the row with the given id.
	Update(ctx context.Context, table, id string, fields map[string]any) error

	// DeleteMatching deletes all rows matching the spec.
	DeleteMatching(ctx context.Context, spec Spec) error
}

// CommitTx extends Tx with the transaction boundary. Only the caller that
// opened the transaction decides its fate; the engine sees a plain Tx.
type CommitTx interface {
	Tx
	Commit() error
	Rollback() error
}

// Store opens transactions against a backing database.
type Store interface {
	Begin(ctx context.Context) (CommitTx, error)
	Close() error
}
