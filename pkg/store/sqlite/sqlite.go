// Package sqlite provides a SQLite-backed canonical store. The schema is
// derived from the civic entity definitions and migrated on open, with
// foreign keys enforced and WAL enabled. Values whose field kind is a list
// or map are stored as JSON text.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	// sqlite3 driver registration.
	_ "github.com/mattn/go-sqlite3"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/errors"
	"github.com/opencivic/civimport/pkg/store"
)

// column pairs a column name with the field kind driving its SQL type and
// value codec.
type column struct {
	name string
	kind civic.Kind
}

// tableDef is the derived shape of one store table.
type tableDef struct {
	name      string
	parentKey string
	parent    string
	columns   []column
	kinds     map[string]civic.Kind
}

// Store implements store.Store on SQLite.
type Store struct {
	db     *sql.DB
	tables map[string]*tableDef
}

// New opens (or creates) a SQLite database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, tables: deriveTables()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (store.CommitTx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &tx{tx: sqlTx, tables: s.tables}, nil
}

// deriveTables flattens the civic entity definitions into table shapes.
func deriveTables() map[string]*tableDef {
	tables := make(map[string]*tableDef)
	for _, def := range civic.Definitions() {
		t := &tableDef{name: def.Table, kinds: map[string]civic.Kind{"id": civic.String}}
		t.columns = append(t.columns, column{name: "id", kind: civic.String})
		for _, f := range def.Fields {
			t.columns = append(t.columns, column{name: f.Name, kind: f.Kind})
			t.kinds[f.Name] = f.Kind
		}
		tables[def.Table] = t
		deriveRelated(tables, def.Table, def.Related)
	}
	return tables
}

func deriveRelated(tables map[string]*tableDef, parent string, specs []civic.RelatedSpec) {
	for _, spec := range specs {
		t := &tableDef{
			name:      spec.Table,
			parent:    parent,
			parentKey: spec.ParentKey,
			kinds:     map[string]civic.Kind{"id": civic.String, spec.ParentKey: civic.String},
		}
		t.columns = append(t.columns,
			column{name: "id", kind: civic.String},
			column{name: spec.ParentKey, kind: civic.String})
		for _, f := range spec.Fields {
			t.columns = append(t.columns, column{name: f.Name, kind: f.Kind})
			t.kinds[f.Name] = f.Kind
		}
		tables[spec.Table] = t
		deriveRelated(tables, spec.Table, spec.Nested)
	}
}

// migrate creates every table and index if it does not yet exist.
func (s *Store) migrate() error {
	// Parents first so that foreign keys resolve.
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		di, dj := depth(s.tables, names[i]), depth(s.tables, names[j])
		if di != dj {
			return di < dj
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		t := s.tables[name]
		var cols []string
		for _, c := range t.columns {
			decl := quote(c.name) + " " + sqlType(c.kind)
			if c.name == "id" {
				decl += " PRIMARY KEY"
			}
			if c.name == t.parentKey && t.parentKey != "" {
				decl += fmt.Sprintf(" NOT NULL REFERENCES %s(id) ON DELETE CASCADE", quote(t.parent))
			}
			cols = append(cols, decl)
		}
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(t.name), strings.Join(cols, ", "))
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("create %s: %w", t.name, err)
		}
		if t.parentKey != "" {
			idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				quote("idx_"+t.name+"_"+t.parentKey), quote(t.name), quote(t.parentKey))
			if _, err := s.db.Exec(idx); err != nil {
				return fmt.Errorf("index %s: %w", t.name, err)
			}
		}
	}

	// Scope indexes back the per-jurisdiction query pattern.
	for _, def := range civic.Definitions() {
		if def.ScopeField == "" {
			continue
		}
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quote("idx_"+def.Table+"_"+def.ScopeField), quote(def.Table), quote(def.ScopeField))
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("index %s: %w", def.Table, err)
		}
	}
	return nil
}

func depth(tables map[string]*tableDef, name string) int {
	d := 0
	for t := tables[name]; t != nil && t.parent != ""; t = tables[t.parent] {
		d++
	}
	return d
}

func sqlType(kind civic.Kind) string {
	switch kind {
	case civic.Bool:
		return "INTEGER"
	case civic.Number:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quote(ident string) string {
	return `"` + ident + `"`
}

type tx struct {
	tx     *sql.Tx
	tables map[string]*tableDef
}

func (t *tx) tableFor(name string) (*tableDef, error) {
	td, ok := t.tables[name]
	if !ok {
		return nil, errors.New("unknown table " + name)
	}
	return td, nil
}

// whereClause renders spec filters as a deterministic WHERE clause.
func whereClause(td *tableDef, filters map[string]any) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var preds []string
	var args []any
	for _, k := range keys {
		preds = append(preds, quote(k)+" = ?")
		args = append(args, encode(td.kinds[k], filters[k]))
	}
	return " WHERE " + strings.Join(preds, " AND "), args
}

// GetByNaturalKey returns the single row matching the spec.
func (t *tx) GetByNaturalKey(ctx context.Context, spec store.Spec) (store.Row, error) {
	rows, err := t.Query(ctx, spec)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, errors.NewNotFoundError(spec.Table, spec.Filters)
	case 1:
		return rows[0], nil
	default:
		return nil, errors.New("multiple rows match " + spec.String())
	}
}

// Query returns all rows matching the spec.
func (t *tx) Query(ctx context.Context, spec store.Spec) ([]store.Row, error) {
	td, err := t.tableFor(spec.Table)
	if err != nil {
		return nil, err
	}
	where, args := whereClause(td, spec.Filters)

	var cols []string
	for _, c := range td.columns {
		cols = append(cols, quote(c.name))
	}
	q := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(cols, ", "), quote(td.name), where)

	rs, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []store.Row
	for rs.Next() {
		raw := make([]any, len(td.columns))
		ptrs := make([]any, len(td.columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(store.Row, len(td.columns))
		for i, c := range td.columns {
			row[c.name] = decode(c.kind, raw[i])
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

// BulkInsert inserts rows into a table with one prepared statement.
func (t *tx) BulkInsert(ctx context.Context, table string, rows []store.Row) error {
	if len(rows) == 0 {
		return nil
	}
	td, err := t.tableFor(table)
	if err != nil {
		return err
	}

	var cols, marks []string
	for _, c := range td.columns {
		cols = append(cols, quote(c.name))
		marks = append(marks, "?")
	}
	stmt, err := t.tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(td.name), strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(td.columns))
		for i, c := range td.columns {
			v, ok := row[c.name]
			if !ok {
				args[i] = nil
				continue
			}
			args[i] = encode(c.kind, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}

// Update overwrites the given fields of one row.
func (t *tx) Update(ctx context.Context, table, id string, fields map[string]any) error {
	td, err := t.tableFor(table)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sets []string
	var args []any
	for _, k := range keys {
		sets = append(sets, quote(k)+" = ?")
		args = append(args, encode(td.kinds[k], fields[k]))
	}
	args = append(args, id)

	res, err := t.tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
		quote(td.name), strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError(table, map[string]any{"id": id})
	}
	return nil
}

// DeleteMatching deletes all rows matching the spec.
func (t *tx) DeleteMatching(ctx context.Context, spec store.Spec) error {
	td, err := t.tableFor(spec.Table)
	if err != nil {
		return err
	}
	where, args := whereClause(td, spec.Filters)
	_, err = t.tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", quote(td.name), where), args...)
	return err
}

// Commit commits the underlying transaction.
func (t *tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the underlying transaction.
func (t *tx) Rollback() error {
	return t.tx.Rollback()
}

// encode converts a row value to its driver representation.
func encode(kind civic.Kind, v any) any {
	if v == nil {
		return nil
	}
	switch kind {
	case civic.List, civic.Map:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}

// decode converts a scanned driver value back to its row representation,
// mapping NULL to the field kind's zero value so that diffs against
// normalized incoming records compare cleanly.
func decode(kind civic.Kind, v any) any {
	switch kind {
	case civic.Bool:
		switch x := v.(type) {
		case int64:
			return x != 0
		case bool:
			return x
		}
		return false
	case civic.Number:
		switch x := v.(type) {
		case float64:
			return x
		case int64:
			return float64(x)
		}
		return float64(0)
	case civic.List:
		if s := asString(v); s != "" {
			var out []any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
		return []any{}
	case civic.Map:
		if s := asString(v); s != "" {
			var out map[string]any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
		return map[string]any{}
	default:
		return asString(v)
	}
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return ""
}
