package imports

import (
	"context"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/errors"
	"github.com/opencivic/civimport/pkg/logging"
	"github.com/opencivic/civimport/pkg/store"
)

// BillImporter imports bills. Organization and person references inside
// actions and sponsorships are resolved before diffing, so the stored rows
// always carry persisted ids. The post-import hook repairs related-bill
// links across the jurisdiction.
type BillImporter struct {
	imp *Importer
}

// NewBillImporter creates the bill importer.
func NewBillImporter(imp *Importer) *BillImporter {
	return &BillImporter{imp: imp}
}

// Definition returns the bill entity definition.
func (bi *BillImporter) Definition() *civic.EntityDef {
	return civic.Bill
}

// Transform normalizes the bill identifier, maps the session identifier to
// its persisted row, and resolves every reference in the record. Person
// references are window-scoped to the session's date range.
func (bi *BillImporter) Transform(ctx context.Context, rec *Record) error {
	rec.Fields["identifier"] = civic.NormalizeBillIdentifier(asString(rec.Fields["identifier"]))

	sessionID, err := bi.imp.resolver.SessionID(ctx, asString(rec.Fields["legislative_session_id"]))
	if err != nil {
		return err
	}
	rec.Fields["legislative_session_id"] = sessionID

	rc := RefContext{}
	session, err := bi.imp.tx.GetByNaturalKey(ctx, store.NewSpec("legislative_sessions").Where("id", sessionID))
	if err == nil {
		rc.WindowStart = session.String("start_date")
		rc.WindowEnd = session.String("end_date")
	} else if !errors.IsNotFound(err) {
		return err
	}

	return bi.imp.resolver.ResolveRecordRefs(ctx, civic.Bill, rec, rc, bi.imp.opts.TolerantReferences)
}

// NaturalKey matches bills by session and identifier.
func (bi *BillImporter) NaturalKey(_ context.Context, fields map[string]any) (store.Spec, error) {
	return store.NewSpec("bills").
		Where("legislative_session_id", fields["legislative_session_id"]).
		Where("identifier", fields["identifier"]), nil
}

// PostImport re-resolves still-unlinked related-bill rows across the
// jurisdiction: unresolved rows are grouped by session, candidate bills
// are bulk-queried once per session, and exact identifier matches are
// linked. Safe to re-run; matches only strengthen over time.
func (bi *BillImporter) PostImport(ctx context.Context) error {
	unresolved, err := bi.imp.tx.Query(ctx, store.NewSpec("bill_related_bills").Where("related_bill_id", ""))
	if err != nil {
		return err
	}
	if len(unresolved) == 0 {
		return nil
	}

	bySession := make(map[string][]store.Row)
	for _, row := range unresolved {
		session := row.String("legislative_session")
		bySession[session] = append(bySession[session], row)
	}

	linked := 0
	for session, rows := range bySession {
		sessionID, err := bi.imp.resolver.SessionID(ctx, session)
		if err != nil {
			// Sessions from other jurisdictions (or not yet imported) stay
			// unlinked until a later run knows them.
			continue
		}
		candidates, err := bi.imp.tx.Query(ctx, store.NewSpec("bills").Where("legislative_session_id", sessionID))
		if err != nil {
			return err
		}
		byIdentifier := make(map[string]string, len(candidates))
		for _, bill := range candidates {
			byIdentifier[bill.String("identifier")] = bill.ID()
		}

		for _, row := range rows {
			billID, ok := byIdentifier[civic.NormalizeBillIdentifier(row.String("identifier"))]
			if !ok {
				continue
			}
			if err := bi.imp.tx.Update(ctx, "bill_related_bills", row.ID(), map[string]any{"related_bill_id": billID}); err != nil {
				return err
			}
			linked++
		}
	}

	if linked > 0 {
		logging.Ctx(ctx).Info().Int("linked", linked).Msg("repaired related-bill links")
	}
	return nil
}
