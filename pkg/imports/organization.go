package imports

import (
	"context"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/store"
)

// OrganizationImporter imports chambers, committees, and parties. Parties
// are not jurisdiction-scoped; everything else is.
type OrganizationImporter struct {
	imp *Importer
}

// NewOrganizationImporter creates the organization importer.
func NewOrganizationImporter(imp *Importer) *OrganizationImporter {
	return &OrganizationImporter{imp: imp}
}

// Definition returns the organization entity definition.
func (oi *OrganizationImporter) Definition() *civic.EntityDef {
	return civic.Organization
}

// Transform stamps the run's jurisdiction onto non-party organizations and
// resolves the parent reference.
func (oi *OrganizationImporter) Transform(ctx context.Context, rec *Record) error {
	if asString(rec.Fields["classification"]) != "party" && asString(rec.Fields["jurisdiction_id"]) == "" {
		rec.Fields["jurisdiction_id"] = oi.imp.resolver.jurisdictionID
	}
	return oi.imp.resolver.ResolveRecordRefs(ctx, civic.Organization, rec, RefContext{}, oi.imp.opts.TolerantReferences)
}

// NaturalKey matches organizations by classification and exact name,
// scoped to the jurisdiction except for parties, which are shared.
func (oi *OrganizationImporter) NaturalKey(_ context.Context, fields map[string]any) (store.Spec, error) {
	spec := store.NewSpec("organizations").
		Where("classification", fields["classification"]).
		Where("name", fields["name"])
	if asString(fields["classification"]) != "party" {
		spec = spec.Where("jurisdiction_id", fields["jurisdiction_id"])
	}
	return spec, nil
}

// LookupFallback retries a missed exact-name lookup with normalized name
// matching, so "Committee On Finance" and "Committee on Finance" land on
// the same row. Parties never fall back: their names are canonical.
func (oi *OrganizationImporter) LookupFallback(ctx context.Context, fields map[string]any) (store.Row, bool, error) {
	classification := asString(fields["classification"])
	if classification == "party" {
		return nil, false, nil
	}

	candidates, err := oi.imp.tx.Query(ctx, store.NewSpec("organizations").
		Where("jurisdiction_id", fields["jurisdiction_id"]).
		Where("classification", classification))
	if err != nil {
		return nil, false, err
	}

	name := asString(fields["name"])
	for _, row := range candidates {
		if civic.OrgNamesEqual(row.String("name"), name) {
			return row, true, nil
		}
	}
	return nil, false, nil
}

// PostImport is a no-op for organizations.
func (oi *OrganizationImporter) PostImport(_ context.Context) error {
	return nil
}
