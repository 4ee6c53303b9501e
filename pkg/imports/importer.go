package imports

import (
	"context"
	"time"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/errors"
	"github.com/opencivic/civimport/pkg/logging"
	"github.com/opencivic/civimport/pkg/store"
)

// Option configures an import run.
type Option func(*Options)

// Options holds run-wide import settings.
type Options struct {
	// AllowDuplicates downgrades duplicate conflicts from fatal errors to
	// logged warnings; the later record is discarded.
	AllowDuplicates bool

	// TolerantReferences downgrades every unresolved reference to a logged
	// warning, not just fields declared tolerant.
	TolerantReferences bool

	// AsOf is the ISO date used for session containment and the
	// "currently serving" tie-break. Defaults to today.
	AsOf string
}

// WithAllowDuplicates permits two distinct records to resolve to one
// persisted entity; the conflict is logged and the later record discarded.
func WithAllowDuplicates() Option {
	return func(o *Options) { o.AllowDuplicates = true }
}

// WithTolerantReferences logs and skips unresolved references instead of
// failing the record.
func WithTolerantReferences() Option {
	return func(o *Options) { o.TolerantReferences = true }
}

// WithAsOf fixes the as-of date for session and membership window checks.
func WithAsOf(date string) Option {
	return func(o *Options) { o.AsOf = date }
}

// NewOptions applies options over the defaults.
func NewOptions(opts ...Option) Options {
	options := Options{AsOf: time.Now().UTC().Format("2006-01-02")}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Report summarizes one entity type's import outcomes.
type Report struct {
	Type     string    `json:"type" yaml:"type"`
	Inserted int       `json:"inserted" yaml:"inserted"`
	Updated  int       `json:"updated" yaml:"updated"`
	Noop     int       `json:"noop" yaml:"noop"`
	Start    time.Time `json:"start_time" yaml:"start_time"`
	End      time.Time `json:"end_time" yaml:"end_time"`

	// RecordIDs are the persisted ids touched by this run.
	RecordIDs []string `json:"record_ids,omitempty" yaml:"record_ids,omitempty"`

	// Errors are per-record failures that were not individually fatal.
	Errors []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// TypeImporter supplies the type-specific pieces of the import algorithm:
// the natural key, the field transforms, and the post-import repair hook.
type TypeImporter interface {
	// Definition returns the entity definition the importer handles.
	Definition() *civic.EntityDef

	// NaturalKey returns the lookup spec locating the persisted
	// counterpart of a transformed record.
	NaturalKey(ctx context.Context, fields map[string]any) (store.Spec, error)

	// Transform runs field transforms and reference resolution on a
	// record's fields before any diffing or persistence.
	Transform(ctx context.Context, rec *Record) error

	// PostImport runs once after all records of the type are processed,
	// for cross-entity repair.
	PostImport(ctx context.Context) error
}

// persistedIDProvider lets a type supply a deterministic persisted id for
// new entities instead of a minted one (jurisdictions carry their own).
type persistedIDProvider interface {
	PersistedID(fields map[string]any) string
}

// fallbackLookup lets a type try a secondary, fuzzier match after the
// natural-key lookup misses (organization name matching).
type fallbackLookup interface {
	LookupFallback(ctx context.Context, fields map[string]any) (store.Row, bool, error)
}

// recordObserver lets a type watch successfully imported records, feeding
// its post-import hook (vote event pruning tracks touched bills).
type recordObserver interface {
	Observe(fields map[string]any, persistedID string)
}

// Importer drives the generic import algorithm for every entity type
// within one run. It owns the run-scoped caches and shares its resolver
// and preprocessor across types so cross-type references resolve.
type Importer struct {
	tx       store.Tx
	opts     Options
	pre      *Preprocessor
	resolver *Resolver
	differ   *Differ

	// produced maps persisted ids to the batch id that produced them, for
	// duplicate-conflict detection across a run.
	produced map[string]string

	// sessions collects legislative session ids touched by this run.
	sessions map[string]bool
}

// NewImporter creates an importer for one run scoped to a jurisdiction.
func NewImporter(tx store.Tx, jurisdictionID string, opts ...Option) *Importer {
	options := NewOptions(opts...)
	pre := NewPreprocessor()
	return &Importer{
		tx:       tx,
		opts:     options,
		pre:      pre,
		resolver: NewResolver(tx, jurisdictionID, options.AsOf, pre),
		differ:   NewDiffer(tx),
		produced: make(map[string]string),
		sessions: make(map[string]bool),
	}
}

// Resolver exposes the run's reference resolver to type importers.
func (imp *Importer) Resolver() *Resolver {
	return imp.resolver
}

// TouchedSessions returns the legislative session ids touched so far.
func (imp *Importer) TouchedSessions() []string {
	out := make([]string, 0, len(imp.sessions))
	for id := range imp.sessions {
		out = append(out, id)
	}
	return out
}

// ImportRecords runs the full pipeline for one entity type: dedupe, then
// per record transform, natural-key upsert, and collection diffing, then
// the type's post-import hook. Structural and tolerated reference errors
// abort only the failing record and are aggregated into the report;
// conflicts and strict resolution failures abort the remaining batch.
func (imp *Importer) ImportRecords(ctx context.Context, ti TypeImporter, records []*Record) (*Report, error) {
	def := ti.Definition()
	report := &Report{Type: def.Type, Start: time.Now().UTC()}
	log := logging.Ctx(ctx)

	deduped, err := imp.dedupe(def, records, report)
	if err != nil {
		return report, err
	}

	for _, rec := range deduped {
		outcome, persistedID, err := imp.importOne(ctx, ti, rec)
		if err != nil {
			if recoverable(err) {
				log.Warn().Str("type", def.Type).Str("batch_id", rec.ID).Err(err).Msg("skipping record")
				report.Errors = append(report.Errors, err.Error())
				continue
			}
			report.End = time.Now().UTC()
			return report, errors.WrapImport(def.Type, rec.ID, err)
		}

		imp.resolver.RegisterID(rec.ID, persistedID)
		switch outcome {
		case outcomeInsert:
			report.Inserted++
		case outcomeUpdate:
			report.Updated++
		default:
			report.Noop++
		}
		// A discarded duplicate's batch id resolves, but the record touched
		// nothing, so it stays out of the report and the observers.
		if outcome == outcomeDiscard {
			continue
		}
		report.RecordIDs = append(report.RecordIDs, persistedID)
		if obs, ok := ti.(recordObserver); ok {
			obs.Observe(rec.Fields, persistedID)
		}
		if sessionID := asString(rec.Fields["legislative_session_id"]); sessionID != "" {
			imp.sessions[sessionID] = true
		}
	}

	if err := ti.PostImport(ctx); err != nil {
		report.End = time.Now().UTC()
		return report, err
	}

	report.End = time.Now().UTC()
	log.Info().
		Str("type", def.Type).
		Int("inserted", report.Inserted).
		Int("updated", report.Updated).
		Int("noop", report.Noop).
		Int("errors", len(report.Errors)).
		Msg("type import complete")
	return report, nil
}

// dedupe validates every record and collapses content-identical ones.
// Validation runs before hashing so malformed records never poison the
// duplicate map; a structural failure drops only that record.
func (imp *Importer) dedupe(def *civic.EntityDef, records []*Record, report *Report) ([]*Record, error) {
	valid := make([]*Record, 0, len(records))
	for _, rec := range records {
		if err := rec.Validate(def); err != nil {
			if !errors.IsMalformedRecord(err) {
				return nil, err
			}
			logging.Warn().Str("type", def.Type).Str("batch_id", rec.ID).Err(err).Msg("skipping record")
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		valid = append(valid, rec)
	}
	return imp.pre.Deduplicate(def, valid)
}

type outcome int

const (
	outcomeNoop outcome = iota
	outcomeInsert
	outcomeUpdate

	// outcomeDiscard marks a permitted duplicate whose content was thrown
	// away. Its batch id still resolves, but the record itself did not
	// touch the persisted entity.
	outcomeDiscard
)

// importOne takes one deduplicated record through transform, lookup, diff,
// and write.
func (imp *Importer) importOne(ctx context.Context, ti TypeImporter, rec *Record) (outcome, string, error) {
	def := ti.Definition()

	if err := ti.Transform(ctx, rec); err != nil {
		return outcomeNoop, "", err
	}

	keySpec, err := ti.NaturalKey(ctx, rec.Fields)
	if err != nil {
		return outcomeNoop, "", err
	}

	existing, err := imp.tx.GetByNaturalKey(ctx, keySpec)
	if err != nil && !errors.IsNotFound(err) {
		return outcomeNoop, "", err
	}
	if existing == nil {
		if fb, ok := ti.(fallbackLookup); ok {
			row, found, err := fb.LookupFallback(ctx, rec.Fields)
			if err != nil {
				return outcomeNoop, "", err
			}
			if found {
				existing = row
			}
		}
	}

	if existing != nil {
		return imp.updateExisting(ctx, def, rec, existing)
	}
	return imp.insertNew(ctx, def, ti, rec)
}

// updateExisting diffs a record against its persisted counterpart and
// writes only what changed.
func (imp *Importer) updateExisting(ctx context.Context, def *civic.EntityDef, rec *Record, existing store.Row) (outcome, string, error) {
	id := existing.ID()

	if prev, ok := imp.produced[id]; ok && prev != rec.ID {
		conflict := errors.NewDuplicateConflictError(def.Type, id, prev, rec.ID)
		if !imp.opts.AllowDuplicates {
			return outcomeNoop, "", conflict
		}
		logging.Ctx(ctx).Warn().Err(conflict).Msg("duplicate permitted, discarding later record")
		return outcomeDiscard, id, nil
	}
	imp.produced[id] = rec.ID

	updates := make(map[string]any)
	for _, f := range def.Fields {
		incoming := rec.Fields[f.Name]
		// Engine-computed fields only ever strengthen: an empty incoming
		// value must not clear a link established earlier.
		if f.NoIdentity && isZero(incoming) {
			continue
		}
		if !valueEqual(existing[f.Name], incoming) {
			updates[f.Name] = incoming
		}
	}

	relatedChanged := false
	for i := range def.Related {
		spec := &def.Related[i]
		rows, err := relatedRows(def.Type, rec.ID, spec.Field, rec.Fields)
		if err != nil {
			return outcomeNoop, "", err
		}
		changed, err := imp.differ.Apply(ctx, spec, id, rows)
		if err != nil {
			return outcomeNoop, "", err
		}
		relatedChanged = relatedChanged || changed
	}

	if len(updates) > 0 {
		if err := imp.tx.Update(ctx, def.Table, id, updates); err != nil {
			return outcomeNoop, "", err
		}
		return outcomeUpdate, id, nil
	}
	if relatedChanged {
		return outcomeUpdate, id, nil
	}
	return outcomeNoop, id, nil
}

// insertNew persists a record with no existing counterpart, creating its
// related rows top-down.
func (imp *Importer) insertNew(ctx context.Context, def *civic.EntityDef, ti TypeImporter, rec *Record) (outcome, string, error) {
	id := ""
	if provider, ok := ti.(persistedIDProvider); ok {
		id = provider.PersistedID(rec.Fields)
	}
	if id == "" {
		id = civic.NewID(def.Type)
	}

	row := store.Row{"id": id}
	for _, f := range def.Fields {
		row[f.Name] = rec.Fields[f.Name]
	}
	if err := imp.tx.BulkInsert(ctx, def.Table, []store.Row{row}); err != nil {
		return outcomeNoop, "", err
	}

	for i := range def.Related {
		spec := &def.Related[i]
		rows, err := relatedRows(def.Type, rec.ID, spec.Field, rec.Fields)
		if err != nil {
			return outcomeNoop, "", err
		}
		if err := imp.differ.CreateRows(ctx, spec, id, rows); err != nil {
			return outcomeNoop, "", err
		}
	}

	imp.produced[id] = rec.ID
	return outcomeInsert, id, nil
}

// recoverable classifies errors that abort only the failing record:
// structural errors indicate a producer bug on one record, and invalid
// vote events can never match anything. Conflicts and unresolved
// references under strict resolution stay fatal.
func recoverable(err error) bool {
	return errors.IsMalformedRecord(err) || errors.IsInvalidVoteEvent(err)
}
