package imports

import (
	"context"
	"strings"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/errors"
	"github.com/opencivic/civimport/pkg/logging"
	"github.com/opencivic/civimport/pkg/store"
)

// personKey caches person resolutions per (pseudo id, window) so repeated
// failed lookups do not re-query the store.
type personKey struct {
	pseudo      string
	windowStart string
	windowEnd   string
}

// pseudoResult is a cached pseudo-id resolution, including the explicit
// "unresolved" marker.
type pseudoResult struct {
	id       string
	resolved bool
}

// RefContext carries the per-record scoping a type importer knows about:
// the date window inside which a person reference must hold an active
// membership.
type RefContext struct {
	WindowStart string
	WindowEnd   string
}

// Resolver resolves forward and external references against the canonical
// store: batch-local ids through the duplicate map to ids registered
// earlier in the run, pseudo identifiers by querying their filter spec.
// All caches are scoped to one run and invalid after the enclosing
// transaction ends.
type Resolver struct {
	tx             store.Tx
	jurisdictionID string
	asOf           string
	pre            *Preprocessor

	ids      map[string]string
	pseudo   map[string]pseudoResult
	people   map[personKey]pseudoResult
	sessions map[string]string
}

// NewResolver creates a resolver for one run scoped to a jurisdiction.
// asOf is the ISO date used for session containment and the "currently
// serving" tie-break.
func NewResolver(tx store.Tx, jurisdictionID, asOf string, pre *Preprocessor) *Resolver {
	return &Resolver{
		tx:             tx,
		jurisdictionID: jurisdictionID,
		asOf:           asOf,
		pre:            pre,
		ids:            make(map[string]string),
		pseudo:         make(map[string]pseudoResult),
		people:         make(map[personKey]pseudoResult),
		sessions:       make(map[string]string),
	}
}

// RegisterID records the persisted counterpart of a batch-local id.
func (r *Resolver) RegisterID(batchID, persistedID string) {
	r.ids[r.pre.Canonical(batchID)] = persistedID
}

// PersistedID returns the persisted id a batch-local id resolved to
// earlier in this run, following the duplicate map.
func (r *Resolver) PersistedID(batchID string) (string, bool) {
	id, ok := r.ids[r.pre.Canonical(batchID)]
	return id, ok
}

// Resolve resolves a raw reference to a persisted id. Pseudo identifiers
// are looked up against the store; batch-local ids must already have a
// persisted counterpart from earlier in the run. When tolerant, a failed
// pseudo lookup returns "" instead of an error; forward references to
// records not yet imported are always an error.
func (r *Resolver) Resolve(ctx context.Context, entityType, raw string, tolerant bool) (string, error) {
	ref, err := civic.ParseReference(raw)
	if err != nil {
		return "", errors.NewUnresolvedReferenceError(entityType, raw, err.Error())
	}
	if ref.IsPseudo() {
		return r.resolvePseudo(ctx, entityType, ref, tolerant)
	}
	if id, ok := r.PersistedID(raw); ok {
		return id, nil
	}
	if ref.IsDurable() {
		return raw, nil
	}
	return "", errors.NewUnresolvedReferenceError(entityType, raw, "forward reference to a record not yet imported")
}

// resolvePseudo queries the store for the single row matching a pseudo
// identifier's filter spec, narrowed to the owning jurisdiction. Results,
// including the unresolved marker, are cached for the run.
func (r *Resolver) resolvePseudo(ctx context.Context, entityType string, ref civic.Reference, tolerant bool) (string, error) {
	cacheKey := entityType + "|" + ref.String()
	if cached, ok := r.pseudo[cacheKey]; ok {
		if cached.resolved {
			return cached.id, nil
		}
		return r.unresolved(entityType, ref.String(), "cached unresolved reference", tolerant)
	}

	def := civic.DefinitionFor(entityType)
	if def == nil {
		return "", errors.NewUnresolvedReferenceError(entityType, ref.String(), "unknown entity type")
	}

	spec := store.NewSpec(def.Table)
	for k, v := range ref.Spec() {
		// Bill specs name the session by identifier; translate to the
		// session row before filtering.
		if def.Type == "bill" && k == "legislative_session" {
			sessionID, err := r.SessionID(ctx, asString(v))
			if err != nil {
				r.pseudo[cacheKey] = pseudoResult{}
				return r.unresolved(entityType, ref.String(), "unknown legislative session "+asString(v), tolerant)
			}
			spec = spec.Where("legislative_session_id", sessionID)
			continue
		}
		spec = spec.Where(k, v)
	}
	// Parties are shared across jurisdictions and stored without one, so
	// the jurisdiction filter would rule every party out.
	scoped := def.ScopeField == "jurisdiction_id"
	if def.Type == "organization" && asString(spec.Filters["classification"]) == "party" {
		scoped = false
	}
	if scoped {
		if _, ok := spec.Filters[def.ScopeField]; !ok {
			spec = spec.Where(def.ScopeField, r.jurisdictionID)
		}
	}

	rows, err := r.tx.Query(ctx, spec)
	if err != nil {
		return "", err
	}
	if len(rows) != 1 {
		r.pseudo[cacheKey] = pseudoResult{}
		msg := "no match"
		if len(rows) > 1 {
			msg = "multiple matches"
		}
		return r.unresolved(entityType, ref.String(), msg, tolerant)
	}

	id := rows[0].ID()
	r.pseudo[cacheKey] = pseudoResult{id: id, resolved: true}
	return id, nil
}

func (r *Resolver) unresolved(entityType, reference, msg string, tolerant bool) (string, error) {
	if tolerant {
		logging.Warn().
			Str("type", entityType).
			Str("reference", reference).
			Str("reason", msg).
			Msg("leaving reference unresolved")
		return "", nil
	}
	return "", errors.NewUnresolvedReferenceError(entityType, reference, msg)
}

// ResolvePerson resolves a person pseudo identifier scoped to people with
// an active membership in this jurisdiction, excluding candidates whose
// membership window provably does not overlap (windowStart, windowEnd).
// When multiple candidates survive, the one currently serving wins;
// otherwise the lookup is logged and cached as unresolved. Unresolved
// lookups return "" without error — person references are link repairs,
// not hard dependencies.
func (r *Resolver) ResolvePerson(ctx context.Context, ref civic.Reference, rc RefContext) (string, error) {
	key := personKey{pseudo: ref.String(), windowStart: rc.WindowStart, windowEnd: rc.WindowEnd}
	if cached, ok := r.people[key]; ok {
		return cached.id, nil
	}

	spec := ref.Spec()
	orgClassification := asString(spec["organization_classification"])
	delete(spec, "organization_classification")

	memberships, err := r.jurisdictionMemberships(ctx, orgClassification)
	if err != nil {
		return "", err
	}

	type candidate struct {
		servingNow bool
	}
	candidates := make(map[string]candidate)
	for _, m := range memberships {
		if !windowsOverlap(m.String("start_date"), m.String("end_date"), rc.WindowStart, rc.WindowEnd) {
			continue
		}
		personID := m.String("person_id")
		c := candidates[personID]
		end := m.String("end_date")
		if end == "" || end >= r.asOf {
			c.servingNow = true
		}
		candidates[personID] = c
	}

	var matches []string
	for personID := range candidates {
		row, err := r.tx.GetByNaturalKey(ctx, store.NewSpec("people").Where("id", personID))
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return "", err
		}
		if personMatches(row, spec) {
			matches = append(matches, personID)
		}
	}

	if len(matches) > 1 {
		// The tie-break inspects a real-time "serving now" signal, so the
		// outcome is deterministic only for a fixed as-of date.
		var serving []string
		for _, id := range matches {
			if candidates[id].servingNow {
				serving = append(serving, id)
			}
		}
		if len(serving) == 1 {
			matches = serving
		}
	}

	if len(matches) != 1 {
		logging.Warn().
			Str("reference", ref.String()).
			Str("window_start", rc.WindowStart).
			Str("window_end", rc.WindowEnd).
			Int("candidates", len(matches)).
			Msg("person lookup unresolved")
		r.people[key] = pseudoResult{}
		return "", nil
	}

	r.people[key] = pseudoResult{id: matches[0], resolved: true}
	return matches[0], nil
}

// jurisdictionMemberships returns membership rows in this jurisdiction's
// organizations, optionally limited to one organization classification.
func (r *Resolver) jurisdictionMemberships(ctx context.Context, classification string) ([]store.Row, error) {
	orgSpec := store.NewSpec("organizations").Where("jurisdiction_id", r.jurisdictionID)
	if classification != "" {
		orgSpec = orgSpec.Where("classification", classification)
	}
	orgs, err := r.tx.Query(ctx, orgSpec)
	if err != nil {
		return nil, err
	}

	var memberships []store.Row
	for _, org := range orgs {
		rows, err := r.tx.Query(ctx, store.NewSpec("memberships").Where("organization_id", org.ID()))
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, rows...)
	}
	return memberships, nil
}

// ResolveBillByText finds a bill by identifier and an as-of date: the
// session whose date range contains the date wins when unique, falling
// back to the most recently started session otherwise.
func (r *Resolver) ResolveBillByText(ctx context.Context, identifier, asOf string) (string, error) {
	sessions, err := r.tx.Query(ctx, store.NewSpec("legislative_sessions").Where("jurisdiction_id", r.jurisdictionID))
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", errors.NewUnresolvedReferenceError("bill", identifier, "jurisdiction has no legislative sessions")
	}

	var containing []store.Row
	for _, s := range sessions {
		if sessionContains(s, asOf) {
			containing = append(containing, s)
		}
	}

	var session store.Row
	if len(containing) == 1 {
		session = containing[0]
	} else {
		session = sessions[0]
		for _, s := range sessions[1:] {
			if s.String("start_date") > session.String("start_date") {
				session = s
			}
		}
	}

	spec := store.NewSpec("bills").
		Where("legislative_session_id", session.ID()).
		Where("identifier", civic.NormalizeBillIdentifier(identifier))
	row, err := r.tx.GetByNaturalKey(ctx, spec)
	if err != nil {
		if errors.IsNotFound(err) {
			return "", errors.NewUnresolvedReferenceError("bill", identifier,
				"no bill in session "+session.String("identifier"))
		}
		return "", err
	}
	return row.ID(), nil
}

// SessionID maps a legislative session identifier to its row id within
// this jurisdiction. Values already carrying a durable id pass through.
func (r *Resolver) SessionID(ctx context.Context, identifier string) (string, error) {
	if strings.HasPrefix(identifier, "ocd-") || isUUID(identifier) {
		return identifier, nil
	}
	if id, ok := r.sessions[identifier]; ok {
		return id, nil
	}
	row, err := r.tx.GetByNaturalKey(ctx, store.NewSpec("legislative_sessions").
		Where("jurisdiction_id", r.jurisdictionID).
		Where("identifier", identifier))
	if err != nil {
		if errors.IsNotFound(err) {
			return "", errors.NewUnresolvedReferenceError("legislative_session", identifier, "no such session")
		}
		return "", err
	}
	r.sessions[identifier] = row.ID()
	return row.ID(), nil
}

// ResolveRecordRefs resolves every reference field of a record in place,
// recursively through related collections, before any persistence write
// touches it. Person pseudo references go through the membership-scoped
// lookup; tolerant fields are cleared on failure instead of aborting.
func (r *Resolver) ResolveRecordRefs(ctx context.Context, def *civic.EntityDef, rec *Record, rc RefContext, tolerant bool) error {
	if err := r.resolveFields(ctx, def.Fields, rec.Fields, rc, tolerant); err != nil {
		return err
	}
	for i := range def.Related {
		if err := r.resolveRelated(ctx, &def.Related[i], rec.Fields, rc, tolerant); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) resolveRelated(ctx context.Context, spec *civic.RelatedSpec, parent map[string]any, rc RefContext, tolerant bool) error {
	rows, err := relatedRows("", "", spec.Field, parent)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.resolveFields(ctx, spec.Fields, row, rc, tolerant); err != nil {
			return err
		}
		for i := range spec.Nested {
			if err := r.resolveRelated(ctx, &spec.Nested[i], row, rc, tolerant); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resolver) resolveFields(ctx context.Context, fields []civic.FieldDef, m map[string]any, rc RefContext, tolerant bool) error {
	for _, f := range fields {
		if f.Kind != civic.Ref {
			continue
		}
		raw := asString(m[f.Name])
		if raw == "" {
			continue
		}
		fieldTolerant := tolerant || f.Tolerant

		ref, err := civic.ParseReference(raw)
		if err != nil {
			return errors.NewUnresolvedReferenceError(f.RefType, raw, err.Error())
		}

		var id string
		if f.RefType == "person" && ref.IsPseudo() {
			id, err = r.ResolvePerson(ctx, ref, rc)
			if err == nil && id == "" && !fieldTolerant {
				err = errors.NewUnresolvedReferenceError("person", raw, "no unambiguous membership match")
			}
		} else {
			id, err = r.Resolve(ctx, f.RefType, raw, fieldTolerant)
		}
		if err != nil {
			return err
		}
		m[f.Name] = id
	}
	return nil
}

// personMatches checks the remaining pseudo spec fields against a person
// row directly.
func personMatches(row store.Row, spec map[string]any) bool {
	for k, v := range spec {
		if !valueEqual(row[k], v) {
			return false
		}
	}
	return true
}

// windowsOverlap reports whether two date windows could overlap. Missing
// bounds are open; only a provable disjunction excludes a candidate.
func windowsOverlap(aStart, aEnd, bStart, bEnd string) bool {
	if aEnd != "" && bStart != "" && aEnd < bStart {
		return false
	}
	if aStart != "" && bEnd != "" && aStart > bEnd {
		return false
	}
	return true
}

func sessionContains(session store.Row, date string) bool {
	start, end := session.String("start_date"), session.String("end_date")
	if start == "" || date < start {
		return false
	}
	return end == "" || date <= end
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
				return false
			}
		}
	}
	return true
}
