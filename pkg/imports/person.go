package imports

import (
	"context"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/store"
)

// PersonImporter imports people. Membership rows carry organization
// references that resolve against organizations imported earlier in the
// same run.
type PersonImporter struct {
	imp *Importer
}

// NewPersonImporter creates the person importer.
func NewPersonImporter(imp *Importer) *PersonImporter {
	return &PersonImporter{imp: imp}
}

// Definition returns the person entity definition.
func (pi *PersonImporter) Definition() *civic.EntityDef {
	return civic.Person
}

// Transform resolves the organization references inside memberships.
func (pi *PersonImporter) Transform(ctx context.Context, rec *Record) error {
	return pi.imp.resolver.ResolveRecordRefs(ctx, civic.Person, rec, RefContext{}, pi.imp.opts.TolerantReferences)
}

// NaturalKey matches people by name. People are shared across
// jurisdictions; an ambiguous name match surfaces as an error rather than
// guessing.
func (pi *PersonImporter) NaturalKey(_ context.Context, fields map[string]any) (store.Spec, error) {
	return store.NewSpec("people").Where("name", fields["name"]), nil
}

// PostImport is a no-op for people.
func (pi *PersonImporter) PostImport(_ context.Context) error {
	return nil
}
