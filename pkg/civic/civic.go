// Package civic describes the civic data entities handled by the import
// engine: jurisdictions, organizations, people, bills, vote events, and
// events. Each entity type is described by an EntityDef that names its
// scalar fields and its related collections. The import engine is generic
// over these definitions; it never branches on a type tag.
package civic

import "github.com/opencivic/civimport/pkg/errors"

// Kind is the value kind of a scalar field.
type Kind int

// Field kinds. Ref fields hold entity references that must be resolved
// before any write touches them.
const (
	String Kind = iota
	Bool
	Number
	List
	Map
	Ref
)

// FieldDef describes one scalar field of an entity or related row.
type FieldDef struct {
	Name     string
	Kind     Kind
	Required bool

	// RefType names the entity type a Ref field points at.
	RefType string

	// Tolerant marks a Ref field whose resolution failures are logged and
	// left empty instead of aborting the record.
	Tolerant bool

	// NoIdentity excludes the field from content hashing. Used for fields
	// the engine computes during import rather than producer content.
	NoIdentity bool
}

// RelatedSpec describes one related collection owned by a parent entity.
type RelatedSpec struct {
	// Field is the collection's name on the parent record.
	Field string

	// Table is the store table holding the rows.
	Table string

	// ParentKey is the column referencing the owning row.
	ParentKey string

	// Fields are the row's own scalar fields.
	Fields []FieldDef

	// MergeKeys, when non-empty, switches the collection from replace-all
	// to key-based merge: rows are matched by this field tuple, matched
	// rows updated in place, and persisted rows absent from the incoming
	// set left untouched.
	MergeKeys []string

	// OrdinalField, when set, makes the collection ordered: rows are
	// compared position for position. Collections without one are treated
	// as unordered sets.
	OrdinalField string

	// Nested are sub-collections owned by each row.
	Nested []RelatedSpec
}

// FieldMap returns the spec's fields keyed by name.
func (s *RelatedSpec) FieldMap() map[string]FieldDef {
	m := make(map[string]FieldDef, len(s.Fields))
	for _, f := range s.Fields {
		m[f.Name] = f
	}
	return m
}

// NestedFor returns the nested spec for a field name, or nil.
func (s *RelatedSpec) NestedFor(field string) *RelatedSpec {
	for i := range s.Nested {
		if s.Nested[i].Field == field {
			return &s.Nested[i]
		}
	}
	return nil
}

// EntityDef describes one importable entity type.
type EntityDef struct {
	// Type is the entity type tag, matching input file prefixes.
	Type string

	// Table is the store table for the entity itself.
	Table string

	// ScopeField names the column that scopes queries to one jurisdiction,
	// or is empty for types without direct jurisdiction scoping.
	ScopeField string

	// Fields are the entity's scalar fields.
	Fields []FieldDef

	// Related are the entity's related collections.
	Related []RelatedSpec
}

// FieldMap returns the entity's scalar fields keyed by name.
func (d *EntityDef) FieldMap() map[string]FieldDef {
	m := make(map[string]FieldDef, len(d.Fields))
	for _, f := range d.Fields {
		m[f.Name] = f
	}
	return m
}

// RelatedFor returns the related spec for a field name, or nil.
func (d *EntityDef) RelatedFor(field string) *RelatedSpec {
	for i := range d.Related {
		if d.Related[i].Field == field {
			return &d.Related[i]
		}
	}
	return nil
}

// zeroValue returns the normalized empty value for a field kind.
func zeroValue(kind Kind) any {
	switch kind {
	case Bool:
		return false
	case Number:
		return float64(0)
	case List:
		return []any{}
	case Map:
		return map[string]any{}
	default:
		return ""
	}
}

// NormalizeFields fills in missing scalar fields with their zero values so
// that records from different producers hash and diff consistently.
func NormalizeFields(fields []FieldDef, m map[string]any) {
	for _, f := range fields {
		if v, ok := m[f.Name]; !ok || v == nil {
			m[f.Name] = zeroValue(f.Kind)
		}
	}
}

// ValidateFields checks a record's scalar fields against their definitions.
// Unknown keys and missing required fields are structural errors.
func ValidateFields(entityType, batchID string, fields []FieldDef, related []RelatedSpec, m map[string]any) error {
	allowed := make(map[string]bool, len(fields)+len(related)+1)
	allowed["_id"] = true
	for _, f := range fields {
		allowed[f.Name] = true
	}
	for _, r := range related {
		allowed[r.Field] = true
	}
	for k := range m {
		if !allowed[k] {
			return errors.NewMalformedRecordError(entityType, batchID, k, "not part of the declared shape")
		}
	}
	for _, f := range fields {
		if !f.Required {
			continue
		}
		v, ok := m[f.Name]
		if !ok || v == nil || v == "" {
			return errors.NewMalformedRecordError(entityType, batchID, f.Name, "required field missing")
		}
	}
	return nil
}
