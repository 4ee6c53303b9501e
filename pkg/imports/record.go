// Package imports implements the import/reconciliation engine: incoming
// collector records are deduplicated by content, forward references are
// resolved, each record is diffed against its persisted counterpart, and
// exactly the inserts and updates needed are written through the caller's
// transaction.
package imports

import (
	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/errors"
)

// Record is one incoming collector record: a batch-local id, a type tag,
// and a bag of scalar and related-collection fields. Records are consumed
// exactly once per run and never persisted verbatim.
type Record struct {
	ID     string
	Type   string
	Fields map[string]any
}

// Validate checks the record against its declared shape and normalizes
// missing scalar fields, recursively through related collections.
func (r *Record) Validate(def *civic.EntityDef) error {
	if err := civic.ValidateFields(def.Type, r.ID, def.Fields, def.Related, r.Fields); err != nil {
		return err
	}
	civic.NormalizeFields(def.Fields, r.Fields)
	for i := range def.Related {
		if err := r.validateRelated(def, &def.Related[i], r.Fields); err != nil {
			return err
		}
	}
	return nil
}

func (r *Record) validateRelated(def *civic.EntityDef, spec *civic.RelatedSpec, parent map[string]any) error {
	rows, err := relatedRows(def.Type, r.ID, spec.Field, parent)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := civic.ValidateFields(def.Type, r.ID, spec.Fields, spec.Nested, row); err != nil {
			return err
		}
		civic.NormalizeFields(spec.Fields, row)
		for i := range spec.Nested {
			if err := r.validateRelated(def, &spec.Nested[i], row); err != nil {
				return err
			}
		}
	}
	return nil
}

// relatedRows extracts a related collection from a parent field map as a
// slice of row maps. A missing field is an empty collection; anything that
// is not a list of objects is a structural error.
func relatedRows(entityType, batchID, field string, parent map[string]any) ([]map[string]any, error) {
	raw, ok := parent[field]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		// Already-extracted rows pass through untouched.
		if rows, ok := raw.([]map[string]any); ok {
			return rows, nil
		}
		return nil, errors.NewMalformedRecordError(entityType, batchID, field, "related collection is not a list")
	}
	rows := make([]map[string]any, 0, len(list))
	for _, item := range list {
		row, ok := item.(map[string]any)
		if !ok {
			return nil, errors.NewMalformedRecordError(entityType, batchID, field, "related row is not an object")
		}
		rows = append(rows, row)
	}
	return rows, nil
}
