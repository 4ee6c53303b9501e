// Package memory provides an in-memory canonical store used by tests and
// dry runs. Rollback restores the snapshot taken at Begin.
package memory

import (
	"context"
	"reflect"

	"github.com/opencivic/civimport/pkg/errors"
	"github.com/opencivic/civimport/pkg/store"
)

// Store holds tables of rows in memory.
type Store struct {
	tables map[string][]store.Row
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{tables: make(map[string][]store.Row)}
}

// Begin snapshots the current state and returns a transaction over it.
func (s *Store) Begin(_ context.Context) (store.CommitTx, error) {
	return &tx{store: s, snapshot: s.copyTables()}, nil
}

// Close releases the store. It is a no-op for the memory implementation.
func (s *Store) Close() error {
	return nil
}

// Rows returns the current contents of a table. Test helper.
func (s *Store) Rows(table string) []store.Row {
	rows := make([]store.Row, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		rows = append(rows, r.Clone())
	}
	return rows
}

func (s *Store) copyTables() map[string][]store.Row {
	snapshot := make(map[string][]store.Row, len(s.tables))
	for name, rows := range s.tables {
		copied := make([]store.Row, len(rows))
		for i, r := range rows {
			copied[i] = r.Clone()
		}
		snapshot[name] = copied
	}
	return snapshot
}

type tx struct {
	store    *Store
	snapshot map[string][]store.Row
	done     bool
}

func matches(row store.Row, spec store.Spec) bool {
	for k, want := range spec.Filters {
		if !reflect.DeepEqual(row[k], want) {
			return false
		}
	}
	return true
}

// GetByNaturalKey returns the single row matching the spec.
func (t *tx) GetByNaturalKey(_ context.Context, spec store.Spec) (store.Row, error) {
	var found store.Row
	for _, row := range t.store.tables[spec.Table] {
		if matches(row, spec) {
			if found != nil {
				return nil, errors.New("multiple rows match " + spec.String())
			}
			found = row
		}
	}
	if found == nil {
		return nil, errors.NewNotFoundError(spec.Table, spec.Filters)
	}
	return found.Clone(), nil
}

// Query returns all rows matching the spec.
func (t *tx) Query(_ context.Context, spec store.Spec) ([]store.Row, error) {
	var out []store.Row
	for _, row := range t.store.tables[spec.Table] {
		if matches(row, spec) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

// BulkInsert appends rows to a table.
func (t *tx) BulkInsert(_ context.Context, table string, rows []store.Row) error {
	for _, row := range rows {
		if row.ID() == "" {
			return errors.New("row inserted into " + table + " without an id")
		}
		t.store.tables[table] = append(t.store.tables[table], row.Clone())
	}
	return nil
}

// Update overwrites fields of the row with the given id.
func (t *tx) Update(_ context.Context, table, id string, fields map[string]any) error {
	for _, row := range t.store.tables[table] {
		if row.ID() == id {
			for k, v := range fields {
				row[k] = v
			}
			return nil
		}
	}
	return errors.NewNotFoundError(table, map[string]any{"id": id})
}

// DeleteMatching removes all rows matching the spec.
func (t *tx) DeleteMatching(_ context.Context, spec store.Spec) error {
	kept := t.store.tables[spec.Table][:0]
	for _, row := range t.store.tables[spec.Table] {
		if !matches(row, spec) {
			kept = append(kept, row)
		}
	}
	t.store.tables[spec.Table] = kept
	return nil
}

// Commit discards the snapshot, keeping all writes.
func (t *tx) Commit() error {
	t.done = true
	t.snapshot = nil
	return nil
}

// Rollback restores the snapshot taken at Begin.
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.tables = t.snapshot
	return nil
}
