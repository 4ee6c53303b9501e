package imports

import (
	"context"
	"sort"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/logging"
	"github.com/opencivic/civimport/pkg/store"
)

// Runner drives a full import run for one jurisdiction: every entity type
// in dependency order, inside a transaction the caller owns. The runner
// never commits; committing (or rolling a dry run back) is the caller's
// decision.
type Runner struct {
	jurisdictionID string
	opts           []Option
}

// RunResult aggregates the per-type reports of one run.
type RunResult struct {
	// Reports maps entity type to its import report.
	Reports map[string]*Report `json:"reports" yaml:"reports"`

	// Sessions are the legislative session ids touched by the run.
	Sessions []string `json:"sessions,omitempty" yaml:"sessions,omitempty"`
}

// NewRunner creates a runner scoped to one jurisdiction.
func NewRunner(jurisdictionID string, opts ...Option) *Runner {
	return &Runner{jurisdictionID: jurisdictionID, opts: opts}
}

// Run scans dir and imports every batch it finds, in dependency order:
// jurisdictions, then organizations, people, bills, vote events, events.
// Types with no files are skipped. Malformed files drop only themselves
// and surface in their type's report errors. The returned result covers
// every type that ran, even when a later type fails.
func (r *Runner) Run(ctx context.Context, tx store.Tx, dir string) (*RunResult, error) {
	batches, scanFailures, err := ScanDirectory(dir)
	if err != nil {
		return nil, err
	}

	imp := NewImporter(tx, r.jurisdictionID, r.opts...)
	result := &RunResult{Reports: make(map[string]*Report)}

	for _, ti := range typeImporters(imp) {
		entityType := ti.Definition().Type
		records := batches[entityType]
		failed := scanFailures[entityType]
		if len(records) == 0 && len(failed) == 0 {
			continue
		}
		logging.Ctx(ctx).Info().
			Str("type", entityType).
			Int("records", len(records)).
			Msg("importing batch")

		report, err := imp.ImportRecords(ctx, ti, records)
		report.Errors = append(failed, report.Errors...)
		result.Reports[entityType] = report
		if err != nil {
			return result, err
		}
	}

	result.Sessions = imp.TouchedSessions()
	sort.Strings(result.Sessions)
	return result, nil
}

// typeImporters builds the per-type importers in the same dependency order
// as civic.Definitions.
func typeImporters(imp *Importer) []TypeImporter {
	byType := map[string]TypeImporter{
		"jurisdiction": NewJurisdictionImporter(imp),
		"organization": NewOrganizationImporter(imp),
		"person":       NewPersonImporter(imp),
		"bill":         NewBillImporter(imp),
		"vote_event":   NewVoteEventImporter(imp),
		"event":        NewEventImporter(imp),
	}
	out := make([]TypeImporter, 0, len(byType))
	for _, def := range civic.Definitions() {
		out = append(out, byType[def.Type])
	}
	return out
}
