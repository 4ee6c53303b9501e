package imports

import (
	"context"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/store"
)

// Differ reconciles a parent entity's related collections against their
// persisted rows, deciding replace-all, merge-by-key, or no-op per
// collection and writing only what changed.
type Differ struct {
	tx store.Tx
}

// NewDiffer creates a differ writing through the given transaction.
func NewDiffer(tx store.Tx) *Differ {
	return &Differ{tx: tx}
}

// Apply reconciles one related collection and reports whether any write
// was performed. The default policy replaces the whole collection when
// anything differs; collections with merge keys are merged row by row
// without deleting unmatched persisted rows.
func (d *Differ) Apply(ctx context.Context, spec *civic.RelatedSpec, parentID string, incoming []map[string]any) (bool, error) {
	if len(spec.MergeKeys) > 0 {
		return d.mergeByKey(ctx, spec, parentID, incoming)
	}

	changed, err := d.Changed(ctx, spec, parentID, incoming)
	if err != nil || !changed {
		return false, err
	}

	// A collection replace is all-or-nothing: delete everything persisted
	// for this field, then recreate the incoming rows and their sub-rows.
	if err := d.deleteCollection(ctx, spec, parentID); err != nil {
		return false, err
	}
	if err := d.CreateRows(ctx, spec, parentID, incoming); err != nil {
		return false, err
	}
	return true, nil
}

// Changed reports whether a related collection differs from its persisted
// rows, recursing through nested sub-collections.
func (d *Differ) Changed(ctx context.Context, spec *civic.RelatedSpec, parentID string, incoming []map[string]any) (bool, error) {
	persisted, err := d.tx.Query(ctx, store.NewSpec(spec.Table).Where(spec.ParentKey, parentID))
	if err != nil {
		return false, err
	}

	if len(persisted) == 0 && len(incoming) == 0 {
		return false, nil
	}
	if len(persisted) != len(incoming) {
		return true, nil
	}

	if spec.OrdinalField != "" {
		return d.changedOrdered(ctx, spec, persisted, incoming)
	}
	return d.changedUnordered(ctx, spec, persisted, incoming)
}

// changedOrdered compares rows position for position by ordinal.
func (d *Differ) changedOrdered(ctx context.Context, spec *civic.RelatedSpec, persisted []store.Row, incoming []map[string]any) (bool, error) {
	sort.Slice(persisted, func(i, j int) bool {
		return asNumber(persisted[i][spec.OrdinalField]) < asNumber(persisted[j][spec.OrdinalField])
	})
	ordered := append([]map[string]any(nil), incoming...)
	sort.Slice(ordered, func(i, j int) bool {
		return asNumber(ordered[i][spec.OrdinalField]) < asNumber(ordered[j][spec.OrdinalField])
	})

	for i := range persisted {
		equal, err := d.rowEqual(ctx, spec, persisted[i], ordered[i])
		if err != nil {
			return false, err
		}
		if !equal {
			return true, nil
		}
	}
	return false, nil
}

// changedUnordered greedily matches each persisted row against some unused
// incoming row. First match wins; an unmatched persisted row marks the
// whole collection changed.
func (d *Differ) changedUnordered(ctx context.Context, spec *civic.RelatedSpec, persisted []store.Row, incoming []map[string]any) (bool, error) {
	used := make([]bool, len(incoming))
	for _, prow := range persisted {
		matched := false
		for i, irow := range incoming {
			if used[i] {
				continue
			}
			equal, err := d.rowEqual(ctx, spec, prow, irow)
			if err != nil {
				return false, err
			}
			if equal {
				used[i] = true
				matched = true
				break
			}
		}
		if !matched {
			return true, nil
		}
	}
	for _, u := range used {
		if !u {
			return true, nil
		}
	}
	return false, nil
}

// rowEqual compares one persisted row with one incoming row: scalar fields
// directly, nested sub-collections recursively. Fields excluded from
// identity are computed by the engine (post-import repair) and never count
// as a difference, so re-imports do not wipe repaired links.
func (d *Differ) rowEqual(ctx context.Context, spec *civic.RelatedSpec, prow store.Row, irow map[string]any) (bool, error) {
	for _, f := range spec.Fields {
		if f.NoIdentity {
			continue
		}
		if !valueEqual(prow[f.Name], irow[f.Name]) {
			return false, nil
		}
	}
	for i := range spec.Nested {
		nested := &spec.Nested[i]
		rows, err := relatedRows("", "", nested.Field, irow)
		if err != nil {
			return false, err
		}
		changed, err := d.Changed(ctx, nested, prow.ID(), rows)
		if err != nil {
			return false, err
		}
		if changed {
			return false, nil
		}
	}
	return true, nil
}

// mergeByKey matches incoming rows to persisted rows by the spec's key
// tuple. Matched rows are updated in place, unmatched incoming rows are
// inserted, and persisted rows absent from the incoming set are left
// untouched. This protects data a partial collector run does not mention.
func (d *Differ) mergeByKey(ctx context.Context, spec *civic.RelatedSpec, parentID string, incoming []map[string]any) (bool, error) {
	persisted, err := d.tx.Query(ctx, store.NewSpec(spec.Table).Where(spec.ParentKey, parentID))
	if err != nil {
		return false, err
	}

	byKey := make(map[string]store.Row, len(persisted))
	for _, row := range persisted {
		byKey[mergeKey(spec.MergeKeys, row)] = row
	}

	wrote := false
	var inserts []map[string]any
	for _, irow := range incoming {
		prow, ok := byKey[mergeKey(spec.MergeKeys, irow)]
		if !ok {
			inserts = append(inserts, irow)
			continue
		}
		updates := make(map[string]any)
		for _, f := range spec.Fields {
			if f.NoIdentity {
				continue
			}
			if !valueEqual(prow[f.Name], irow[f.Name]) {
				updates[f.Name] = irow[f.Name]
			}
		}
		if len(updates) > 0 {
			if err := d.tx.Update(ctx, spec.Table, prow.ID(), updates); err != nil {
				return wrote, err
			}
			wrote = true
		}
	}
	if len(inserts) > 0 {
		if err := d.CreateRows(ctx, spec, parentID, inserts); err != nil {
			return wrote, err
		}
		wrote = true
	}
	return wrote, nil
}

// CreateRows inserts incoming rows for one collection, recursing to create
// their nested sub-rows top-down.
func (d *Differ) CreateRows(ctx context.Context, spec *civic.RelatedSpec, parentID string, incoming []map[string]any) error {
	if len(incoming) == 0 {
		return nil
	}
	rows := make([]store.Row, len(incoming))
	ids := make([]string, len(incoming))
	for i, irow := range incoming {
		row := store.Row{"id": uuid.NewString(), spec.ParentKey: parentID}
		for _, f := range spec.Fields {
			row[f.Name] = irow[f.Name]
		}
		rows[i] = row
		ids[i] = row.ID()
	}
	if err := d.tx.BulkInsert(ctx, spec.Table, rows); err != nil {
		return err
	}
	for i, irow := range incoming {
		for j := range spec.Nested {
			nested := &spec.Nested[j]
			subRows, err := relatedRows("", "", nested.Field, irow)
			if err != nil {
				return err
			}
			if err := d.CreateRows(ctx, nested, ids[i], subRows); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteCollection removes all persisted rows for one collection,
// bottom-up through nested sub-rows so the memory store and databases
// without cascading deletes stay consistent.
func (d *Differ) deleteCollection(ctx context.Context, spec *civic.RelatedSpec, parentID string) error {
	if len(spec.Nested) > 0 {
		rows, err := d.tx.Query(ctx, store.NewSpec(spec.Table).Where(spec.ParentKey, parentID))
		if err != nil {
			return err
		}
		for _, row := range rows {
			for i := range spec.Nested {
				if err := d.deleteCollection(ctx, &spec.Nested[i], row.ID()); err != nil {
					return err
				}
			}
		}
	}
	return d.tx.DeleteMatching(ctx, store.NewSpec(spec.Table).Where(spec.ParentKey, parentID))
}

// mergeKey renders a row's merge-key tuple as a single map key.
func mergeKey(keys []string, row map[string]any) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = asString(row[k])
	}
	return strings.Join(parts, "\x1f")
}

// valueEqual compares two normalized field values. Numeric values compare
// by float64, and nil compares equal to each kind's zero value so sparse
// producer output does not register as change.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return isZero(a) && isZero(b)
	}
	if na, ok := numeric(a); ok {
		if nb, ok := numeric(b); ok {
			return na == nb
		}
	}
	return reflect.DeepEqual(a, b)
}

func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		if n, ok := numeric(v); ok {
			return n == 0
		}
		return false
	}
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func asNumber(v any) float64 {
	n, _ := numeric(v)
	return n
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
