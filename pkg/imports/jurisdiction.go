package imports

import (
	"context"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/store"
)

// JurisdictionImporter imports the jurisdiction record itself. Its
// legislative sessions are key-merged by identifier (see civic.Jurisdiction):
// an incremental run that mentions only the current session must not delete
// the history that earlier bills hang off of.
type JurisdictionImporter struct {
	imp *Importer
}

// NewJurisdictionImporter creates the jurisdiction importer.
func NewJurisdictionImporter(imp *Importer) *JurisdictionImporter {
	return &JurisdictionImporter{imp: imp}
}

// Definition returns the jurisdiction entity definition.
func (ji *JurisdictionImporter) Definition() *civic.EntityDef {
	return civic.Jurisdiction
}

// Transform is a no-op: jurisdictions carry no references.
func (ji *JurisdictionImporter) Transform(_ context.Context, _ *Record) error {
	return nil
}

// NaturalKey looks the jurisdiction up by its deterministic id, which is
// the id the whole run is scoped to.
func (ji *JurisdictionImporter) NaturalKey(_ context.Context, _ map[string]any) (store.Spec, error) {
	return store.NewSpec("jurisdictions").Where("id", ji.imp.resolver.jurisdictionID), nil
}

// PersistedID keeps the deterministic jurisdiction id on first insert.
func (ji *JurisdictionImporter) PersistedID(_ map[string]any) string {
	return ji.imp.resolver.jurisdictionID
}

// PostImport is a no-op for jurisdictions.
func (ji *JurisdictionImporter) PostImport(_ context.Context) error {
	return nil
}
