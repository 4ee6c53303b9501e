package imports

import (
	"context"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/errors"
	"github.com/opencivic/civimport/pkg/logging"
	"github.com/opencivic/civimport/pkg/store"
)

// VoteEventImporter imports vote events. A textual bill-action description
// is matched against the target bill's actions by exact (description,
// date, organization) equality; ambiguous matches are logged and left
// unlinked. The post-import hook deletes vote events on bills touched this
// run that the run did not reconfirm.
type VoteEventImporter struct {
	imp *Importer

	// claimed tracks bill actions linked earlier in this run. Claiming is
	// first-match-wins in batch order; reordering the batch can change
	// which vote event wins an ambiguous tie, and that behavior is kept
	// rather than redesigned so historical links stay where they are.
	claimed map[string]bool

	// seen maps each touched bill to the vote event ids this run
	// confirmed on it, feeding the prune hook.
	seen map[string]map[string]bool
}

// NewVoteEventImporter creates the vote event importer.
func NewVoteEventImporter(imp *Importer) *VoteEventImporter {
	return &VoteEventImporter{
		imp:     imp,
		claimed: make(map[string]bool),
		seen:    make(map[string]map[string]bool),
	}
}

// Definition returns the vote event entity definition.
func (vi *VoteEventImporter) Definition() *civic.EntityDef {
	return civic.VoteEvent
}

// Transform validates the identifier/bill requirement, resolves all
// references, and attempts the bill-action text match.
func (vi *VoteEventImporter) Transform(ctx context.Context, rec *Record) error {
	if asString(rec.Fields["identifier"]) == "" && asString(rec.Fields["bill_id"]) == "" {
		return errors.NewInvalidVoteEventError(rec.ID)
	}

	date := asString(rec.Fields["start_date"])
	rc := RefContext{WindowStart: date, WindowEnd: date}
	if err := vi.imp.resolver.ResolveRecordRefs(ctx, civic.VoteEvent, rec, rc, vi.imp.opts.TolerantReferences); err != nil {
		return err
	}

	return vi.linkBillAction(ctx, rec)
}

// linkBillAction matches the vote's textual action description against the
// target bill's actions. The first matching action links; a candidate
// claimed earlier in this run, or linked by a previous run, signals a
// competing vote for the same text, so the match is ambiguous and the vote
// stays unlinked.
func (vi *VoteEventImporter) linkBillAction(ctx context.Context, rec *Record) error {
	description := asString(rec.Fields["bill_action"])
	billID := asString(rec.Fields["bill_id"])
	if description == "" || billID == "" {
		return nil
	}

	candidates, err := vi.imp.tx.Query(ctx, store.NewSpec("bill_actions").
		Where("bill_id", billID).
		Where("description", description).
		Where("date", rec.Fields["start_date"]).
		Where("organization_id", rec.Fields["organization_id"]))
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		logging.Ctx(ctx).Debug().
			Str("batch_id", rec.ID).
			Str("bill_id", billID).
			Str("description", description).
			Msg("no bill action matches vote text")
		return nil
	}

	for _, action := range candidates {
		if vi.claimed[action.ID()] {
			return vi.ambiguous(ctx, rec, billID, description, len(candidates))
		}
		holders, err := vi.imp.tx.Query(ctx, store.NewSpec("vote_events").Where("bill_action_id", action.ID()))
		if err != nil {
			return err
		}
		if len(holders) > 0 {
			return vi.ambiguous(ctx, rec, billID, description, len(candidates))
		}
	}

	first := candidates[0].ID()
	rec.Fields["bill_action_id"] = first
	vi.claimed[first] = true
	return nil
}

func (vi *VoteEventImporter) ambiguous(ctx context.Context, rec *Record, billID, description string, candidates int) error {
	logging.Ctx(ctx).Warn().
		Str("batch_id", rec.ID).
		Str("bill_id", billID).
		Str("description", description).
		Int("candidates", candidates).
		Msg("bill action match ambiguous, leaving vote unlinked")
	return nil
}

// NaturalKey chains the vote event lookups: a producer dedupe key wins,
// then identifier plus bill, then motion text, date, and organization.
func (vi *VoteEventImporter) NaturalKey(_ context.Context, fields map[string]any) (store.Spec, error) {
	if asString(fields["dedupe_key"]) != "" {
		return store.NewSpec("vote_events").Where("dedupe_key", fields["dedupe_key"]), nil
	}
	if asString(fields["identifier"]) != "" && asString(fields["bill_id"]) != "" {
		return store.NewSpec("vote_events").
			Where("identifier", fields["identifier"]).
			Where("bill_id", fields["bill_id"]), nil
	}
	return store.NewSpec("vote_events").
		Where("motion_text", fields["motion_text"]).
		Where("start_date", fields["start_date"]).
		Where("organization_id", fields["organization_id"]), nil
}

// Observe records which vote events this run confirmed on which bills.
func (vi *VoteEventImporter) Observe(fields map[string]any, persistedID string) {
	billID := asString(fields["bill_id"])
	if billID == "" {
		return
	}
	if vi.seen[billID] == nil {
		vi.seen[billID] = make(map[string]bool)
	}
	vi.seen[billID][persistedID] = true
}

// PostImport deletes vote events still attached to bills touched in this
// run that the run did not reconfirm. Scoped to touched bills only, never
// a full scan.
func (vi *VoteEventImporter) PostImport(ctx context.Context) error {
	log := logging.Ctx(ctx)
	for billID, confirmed := range vi.seen {
		rows, err := vi.imp.tx.Query(ctx, store.NewSpec("vote_events").Where("bill_id", billID))
		if err != nil {
			return err
		}
		for _, row := range rows {
			if confirmed[row.ID()] {
				continue
			}
			for i := range civic.VoteEvent.Related {
				if err := vi.imp.differ.deleteCollection(ctx, &civic.VoteEvent.Related[i], row.ID()); err != nil {
					return err
				}
			}
			if err := vi.imp.tx.DeleteMatching(ctx, store.NewSpec("vote_events").Where("id", row.ID())); err != nil {
				return err
			}
			log.Info().
				Str("vote_event_id", row.ID()).
				Str("bill_id", billID).
				Msg("pruned vote event not reconfirmed by this run")
		}
	}
	return nil
}
