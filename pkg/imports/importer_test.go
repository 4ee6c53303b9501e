package imports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencivic/civimport/pkg/errors"
	"github.com/opencivic/civimport/pkg/store"
	"github.com/opencivic/civimport/pkg/store/memory"
)

func newTestImporter(t *testing.T, opts ...Option) (*memory.Store, store.CommitTx, *Importer) {
	t.Helper()
	s := memory.New()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	opts = append(opts, WithAsOf("2025-06-30"))
	return s, tx, NewImporter(tx, testJurisdiction, opts...)
}

func jurisdictionRecord() *Record {
	return &Record{ID: "jur-1", Type: "jurisdiction", Fields: map[string]any{
		"name":           "Washington",
		"url":            "https://leg.wa.gov",
		"classification": "government",
		"legislative_sessions": []any{
			map[string]any{"identifier": "2025", "name": "2025 Regular Session", "start_date": "2025-01-01", "end_date": "2025-12-31", "active": true},
		},
	}}
}

func legislatureRecord(batchID string) *Record {
	return &Record{ID: batchID, Type: "organization", Fields: map[string]any{
		"name":           "Washington State Legislature",
		"classification": "legislature",
	}}
}

func billRecord(actionDescription string) *Record {
	return &Record{ID: "bill-1", Type: "bill", Fields: map[string]any{
		"legislative_session_id": "2025",
		"identifier":             "hb001",
		"title":                  "An Act Relating to Testing",
		"classification":         []any{"bill"},
		"actions": []any{
			map[string]any{
				"description":     actionDescription,
				"date":            "2025-03-01",
				"organization_id": `~{"classification":"legislature"}`,
				"order":           float64(0),
			},
		},
		"sources": []any{map[string]any{"url": "https://leg.wa.gov/hb1"}},
	}}
}

func voteRecord(batchID, motion string) *Record {
	return &Record{ID: batchID, Type: "vote_event", Fields: map[string]any{
		"motion_text":     motion,
		"start_date":      "2025-03-01",
		"result":          "pass",
		"organization_id": `~{"classification":"legislature"}`,
		"bill_id":         `~{"identifier":"HB 1","legislative_session":"2025"}`,
		"bill_action":     "Third Reading",
		"counts": []any{
			map[string]any{"option": "yes", "value": float64(60)},
			map[string]any{"option": "no", "value": float64(38)},
		},
	}}
}

// importBaseline imports the jurisdiction, legislature, and one bill.
func importBaseline(t *testing.T, imp *Importer, actionDescription string) {
	t.Helper()
	ctx := context.Background()

	report, err := imp.ImportRecords(ctx, NewJurisdictionImporter(imp), []*Record{jurisdictionRecord()})
	require.NoError(t, err)
	require.Empty(t, report.Errors)

	report, err = imp.ImportRecords(ctx, NewOrganizationImporter(imp), []*Record{legislatureRecord("org-1")})
	require.NoError(t, err)
	require.Empty(t, report.Errors)

	report, err = imp.ImportRecords(ctx, NewBillImporter(imp), []*Record{billRecord(actionDescription)})
	require.NoError(t, err)
	require.Empty(t, report.Errors)
}

func TestJurisdictionInsertThenNoop(t *testing.T) {
	ctx := context.Background()
	s, tx, imp := newTestImporter(t)

	report, err := imp.ImportRecords(ctx, NewJurisdictionImporter(imp), []*Record{jurisdictionRecord()})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, []string{testJurisdiction}, report.RecordIDs)

	// A second run with identical content writes nothing.
	imp2 := NewImporter(tx, testJurisdiction, WithAsOf("2025-06-30"))
	report, err = imp2.ImportRecords(ctx, NewJurisdictionImporter(imp2), []*Record{jurisdictionRecord()})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Inserted)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 1, report.Noop)

	require.NoError(t, tx.Commit())
	assert.Len(t, s.Rows("jurisdictions"), 1)
	assert.Len(t, s.Rows("legislative_sessions"), 1)
}

func TestSessionsMergeAcrossRuns(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t)

	first := jurisdictionRecord()
	first.Fields["legislative_sessions"] = []any{
		map[string]any{"identifier": "2015"},
		map[string]any{"identifier": "2016"},
	}
	_, err := imp.ImportRecords(ctx, NewJurisdictionImporter(imp), []*Record{first})
	require.NoError(t, err)

	// A later run mentioning only 2015 must not delete 2016.
	imp2 := NewImporter(tx, testJurisdiction, WithAsOf("2025-06-30"))
	second := jurisdictionRecord()
	second.Fields["legislative_sessions"] = []any{map[string]any{"identifier": "2015"}}
	report, err := imp2.ImportRecords(ctx, NewJurisdictionImporter(imp2), []*Record{second})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Noop)

	sessions, err := tx.Query(ctx, store.NewSpec("legislative_sessions"))
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	// Renaming 2015 and adding 2017 counts as an update.
	imp3 := NewImporter(tx, testJurisdiction, WithAsOf("2025-06-30"))
	third := jurisdictionRecord()
	third.Fields["legislative_sessions"] = []any{
		map[string]any{"identifier": "2015", "name": "2015 Regular Session"},
		map[string]any{"identifier": "2017"},
	}
	report, err = imp3.ImportRecords(ctx, NewJurisdictionImporter(imp3), []*Record{third})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	sessions, err = tx.Query(ctx, store.NewSpec("legislative_sessions"))
	require.NoError(t, err)
	assert.Len(t, sessions, 3)
	renamed, err := tx.GetByNaturalKey(ctx, store.NewSpec("legislative_sessions").Where("identifier", "2015"))
	require.NoError(t, err)
	assert.Equal(t, "2015 Regular Session", renamed["name"])
}

func TestContentDuplicatesCollapse(t *testing.T) {
	ctx := context.Background()
	_, _, imp := newTestImporter(t)

	report, err := imp.ImportRecords(ctx, NewOrganizationImporter(imp), []*Record{
		legislatureRecord("org-1"),
		legislatureRecord("org-2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 0, report.Noop)

	// Both batch ids resolve to the one persisted entity.
	id1, ok := imp.Resolver().PersistedID("org-1")
	require.True(t, ok)
	id2, ok := imp.Resolver().PersistedID("org-2")
	require.True(t, ok)
	assert.Equal(t, id1, id2)
}

func TestDuplicateConflict(t *testing.T) {
	ctx := context.Background()
	_, _, imp := newTestImporter(t)

	other := legislatureRecord("org-2")
	other.Fields["image"] = "https://example.com/seal.png"

	_, err := imp.ImportRecords(ctx, NewOrganizationImporter(imp), []*Record{
		legislatureRecord("org-1"),
		other,
	})
	require.Error(t, err)
	assert.True(t, errors.IsDuplicateConflict(err))
}

func TestDuplicateConflictPermitted(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t, WithAllowDuplicates())

	other := legislatureRecord("org-2")
	other.Fields["image"] = "https://example.com/seal.png"

	report, err := imp.ImportRecords(ctx, NewOrganizationImporter(imp), []*Record{
		legislatureRecord("org-1"),
		other,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Noop)

	// The discarded record stays out of the touched ids, but its batch id
	// still resolves to the surviving entity.
	require.Len(t, report.RecordIDs, 1)
	id1, ok := imp.Resolver().PersistedID("org-1")
	require.True(t, ok)
	id2, ok := imp.Resolver().PersistedID("org-2")
	require.True(t, ok)
	assert.Equal(t, id1, id2)
	assert.Equal(t, []string{id1}, report.RecordIDs)

	// The later record was discarded, not merged.
	rows, err := tx.Query(ctx, store.NewSpec("organizations"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0]["image"])
}

func TestOrganizationNameFallback(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t)

	committee := &Record{ID: "org-1", Type: "organization", Fields: map[string]any{
		"name": "Committee on Finance", "classification": "committee",
	}}
	_, err := imp.ImportRecords(ctx, NewOrganizationImporter(imp), []*Record{committee})
	require.NoError(t, err)

	// A differently cased name lands on the same row instead of inserting.
	imp2 := NewImporter(tx, testJurisdiction, WithAsOf("2025-06-30"))
	recased := &Record{ID: "org-1", Type: "organization", Fields: map[string]any{
		"name": "Committee On Finance", "classification": "committee",
	}}
	report, err := imp2.ImportRecords(ctx, NewOrganizationImporter(imp2), []*Record{recased})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Inserted)
	assert.Equal(t, 1, report.Updated)

	rows, err := tx.Query(ctx, store.NewSpec("organizations"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestBillImportIdempotent(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t)
	importBaseline(t, imp, "Third Reading")

	bills, err := tx.Query(ctx, store.NewSpec("bills"))
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.Equal(t, "HB 1", bills[0]["identifier"])

	actions, err := tx.Query(ctx, store.NewSpec("bill_actions").Where("bill_id", bills[0].ID()))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.NotEmpty(t, actions[0].String("organization_id"))

	// Re-importing identical content in a later run is a pure no-op.
	imp2 := NewImporter(tx, testJurisdiction, WithAsOf("2025-06-30"))
	report, err := imp2.ImportRecords(ctx, NewBillImporter(imp2), []*Record{billRecord("Third Reading")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Noop)

	// Changing the action replaces the collection and reports an update.
	imp3 := NewImporter(tx, testJurisdiction, WithAsOf("2025-06-30"))
	report, err = imp3.ImportRecords(ctx, NewBillImporter(imp3), []*Record{billRecord("Third Reading, Passed")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	actions, err = tx.Query(ctx, store.NewSpec("bill_actions").Where("bill_id", bills[0].ID()))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "Third Reading, Passed", actions[0]["description"])
}

func TestTouchedSessions(t *testing.T) {
	ctx := context.Background()
	_, _, imp := newTestImporter(t)
	importBaseline(t, imp, "Third Reading")

	sessions := imp.TouchedSessions()
	require.Len(t, sessions, 1)

	session, err := imp.Resolver().SessionID(ctx, "2025")
	require.NoError(t, err)
	assert.Equal(t, session, sessions[0])
}

func TestVoteEventActionClaiming(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t)
	importBaseline(t, imp, "Third Reading")

	report, err := imp.ImportRecords(ctx, NewVoteEventImporter(imp), []*Record{
		voteRecord("vote-1", "Do pass"),
		voteRecord("vote-2", "Do pass as amended"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Inserted)

	actions, err := tx.Query(ctx, store.NewSpec("bill_actions"))
	require.NoError(t, err)
	require.Len(t, actions, 1)

	// Exactly one vote claims the action; the second is ambiguous and stays
	// unlinked.
	first, err := tx.GetByNaturalKey(ctx, store.NewSpec("vote_events").Where("motion_text", "Do pass"))
	require.NoError(t, err)
	assert.Equal(t, actions[0].ID(), first["bill_action_id"])

	second, err := tx.GetByNaturalKey(ctx, store.NewSpec("vote_events").Where("motion_text", "Do pass as amended"))
	require.NoError(t, err)
	assert.Equal(t, "", second["bill_action_id"])
}

func TestVoteEventLinksFirstOfIdenticalActions(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t)

	_, err := imp.ImportRecords(ctx, NewJurisdictionImporter(imp), []*Record{jurisdictionRecord()})
	require.NoError(t, err)
	_, err = imp.ImportRecords(ctx, NewOrganizationImporter(imp), []*Record{legislatureRecord("org-1")})
	require.NoError(t, err)

	// Two actions with identical description, date, and organization, told
	// apart only by their order.
	bill := billRecord("Third Reading")
	bill.Fields["actions"] = []any{
		map[string]any{
			"description":     "Third Reading",
			"date":            "2025-03-01",
			"organization_id": `~{"classification":"legislature"}`,
			"order":           float64(0),
		},
		map[string]any{
			"description":     "Third Reading",
			"date":            "2025-03-01",
			"organization_id": `~{"classification":"legislature"}`,
			"order":           float64(1),
		},
	}
	_, err = imp.ImportRecords(ctx, NewBillImporter(imp), []*Record{bill})
	require.NoError(t, err)

	report, err := imp.ImportRecords(ctx, NewVoteEventImporter(imp), []*Record{
		voteRecord("vote-1", "Do pass"),
		voteRecord("vote-2", "Do pass as amended"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Inserted)

	// The first vote takes the first matching action; the second sees a
	// claimed candidate and stays unlinked.
	first, err := tx.GetByNaturalKey(ctx, store.NewSpec("vote_events").Where("motion_text", "Do pass"))
	require.NoError(t, err)
	assert.NotEmpty(t, first.String("bill_action_id"))

	second, err := tx.GetByNaturalKey(ctx, store.NewSpec("vote_events").Where("motion_text", "Do pass as amended"))
	require.NoError(t, err)
	assert.Equal(t, "", second["bill_action_id"])
}

func TestVoteEventLinkSurvivesReimport(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t)
	importBaseline(t, imp, "Third Reading")

	_, err := imp.ImportRecords(ctx, NewVoteEventImporter(imp), []*Record{voteRecord("vote-1", "Do pass")})
	require.NoError(t, err)

	imp2 := NewImporter(tx, testJurisdiction, WithAsOf("2025-06-30"))
	report, err := imp2.ImportRecords(ctx, NewVoteEventImporter(imp2), []*Record{voteRecord("vote-1", "Do pass")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Noop)

	// The link made in the first run is still there.
	row, err := tx.GetByNaturalKey(ctx, store.NewSpec("vote_events").Where("motion_text", "Do pass"))
	require.NoError(t, err)
	assert.NotEmpty(t, row.String("bill_action_id"))
}

func TestVoteEventPruneUnconfirmed(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t)
	importBaseline(t, imp, "Third Reading")

	_, err := imp.ImportRecords(ctx, NewVoteEventImporter(imp), []*Record{
		voteRecord("vote-1", "Do pass"),
		voteRecord("vote-2", "Do pass as amended"),
	})
	require.NoError(t, err)

	// The next run only reconfirms the first vote; the second is pruned
	// along with its counts.
	imp2 := NewImporter(tx, testJurisdiction, WithAsOf("2025-06-30"))
	_, err = imp2.ImportRecords(ctx, NewVoteEventImporter(imp2), []*Record{voteRecord("vote-1", "Do pass")})
	require.NoError(t, err)

	rows, err := tx.Query(ctx, store.NewSpec("vote_events"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Do pass", rows[0]["motion_text"])

	counts, err := tx.Query(ctx, store.NewSpec("vote_counts"))
	require.NoError(t, err)
	assert.Len(t, counts, 2)
}

func TestInvalidVoteEventSkipped(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t)
	importBaseline(t, imp, "Third Reading")

	invalid := voteRecord("vote-bad", "Motion to adjourn")
	invalid.Fields["bill_id"] = ""

	report, err := imp.ImportRecords(ctx, NewVoteEventImporter(imp), []*Record{
		invalid,
		voteRecord("vote-1", "Do pass"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "neither an identifier nor a bill reference")

	rows, err := tx.Query(ctx, store.NewSpec("vote_events"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEventImportResolvesAgendaRefs(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t)
	importBaseline(t, imp, "Third Reading")

	event := &Record{ID: "ev-1", Type: "event", Fields: map[string]any{
		"name":           "Public Hearing on HB 1",
		"start_date":     "2025-02-10",
		"classification": "hearing",
		"agenda": []any{
			map[string]any{
				"description": "Testimony",
				"order":       float64(0),
				"related_entities": []any{
					map[string]any{
						"name":        "HB 1",
						"entity_type": "bill",
						"bill_id":     `~{"identifier":"HB 1","legislative_session":"2025"}`,
					},
				},
			},
		},
	}}
	report, err := imp.ImportRecords(ctx, NewEventImporter(imp), []*Record{event})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)

	rows, err := tx.Query(ctx, store.NewSpec("events"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, testJurisdiction, rows[0]["jurisdiction_id"])

	items, err := tx.Query(ctx, store.NewSpec("event_agenda_items").Where("event_id", rows[0].ID()))
	require.NoError(t, err)
	require.Len(t, items, 1)

	bills, err := tx.Query(ctx, store.NewSpec("bills"))
	require.NoError(t, err)
	require.Len(t, bills, 1)
	entities, err := tx.Query(ctx, store.NewSpec("event_agenda_related_entities").Where("event_agenda_item_id", items[0].ID()))
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, bills[0].ID(), entities[0]["bill_id"])
}

func TestForwardReferenceWithinRun(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t)

	_, err := imp.ImportRecords(ctx, NewOrganizationImporter(imp), []*Record{legislatureRecord("org-1")})
	require.NoError(t, err)

	person := &Record{ID: "per-1", Type: "person", Fields: map[string]any{
		"name": "Jo Smith",
		"memberships": []any{
			map[string]any{"organization_id": "org-1", "role": "member", "start_date": "2025-01-01"},
		},
	}}
	report, err := imp.ImportRecords(ctx, NewPersonImporter(imp), []*Record{person})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)

	memberships, err := tx.Query(ctx, store.NewSpec("memberships"))
	require.NoError(t, err)
	require.Len(t, memberships, 1)

	org, err := tx.GetByNaturalKey(ctx, store.NewSpec("organizations").Where("classification", "legislature"))
	require.NoError(t, err)
	assert.Equal(t, org.ID(), memberships[0]["organization_id"])
}

func TestPersonPartyMembershipResolves(t *testing.T) {
	ctx := context.Background()
	_, tx, imp := newTestImporter(t)

	party := &Record{ID: "org-1", Type: "organization", Fields: map[string]any{
		"name": "Democratic", "classification": "party",
	}}
	_, err := imp.ImportRecords(ctx, NewOrganizationImporter(imp), []*Record{party})
	require.NoError(t, err)

	person := &Record{ID: "per-1", Type: "person", Fields: map[string]any{
		"name": "Jo Smith",
		"memberships": []any{
			map[string]any{"organization_id": `~{"classification":"party","name":"Democratic"}`},
		},
	}}
	report, err := imp.ImportRecords(ctx, NewPersonImporter(imp), []*Record{person})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	require.Empty(t, report.Errors)

	// The membership landed on the party even though the row carries no
	// jurisdiction.
	partyRow, err := tx.GetByNaturalKey(ctx, store.NewSpec("organizations").Where("classification", "party"))
	require.NoError(t, err)
	assert.Equal(t, "", partyRow["jurisdiction_id"])

	memberships, err := tx.Query(ctx, store.NewSpec("memberships"))
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, partyRow.ID(), memberships[0]["organization_id"])
}

func TestUnknownBatchReferenceFails(t *testing.T) {
	ctx := context.Background()
	_, _, imp := newTestImporter(t)

	person := &Record{ID: "per-1", Type: "person", Fields: map[string]any{
		"name": "Jo Smith",
		"memberships": []any{
			map[string]any{"organization_id": "org-404"},
		},
	}}
	_, err := imp.ImportRecords(ctx, NewPersonImporter(imp), []*Record{person})
	require.Error(t, err)
	assert.True(t, errors.IsUnresolvedReference(err))
}

func TestMalformedRecordSkipped(t *testing.T) {
	ctx := context.Background()
	_, _, imp := newTestImporter(t)

	bad := &Record{ID: "per-1", Type: "person", Fields: map[string]any{
		"name": "Jo Smith", "shoe_size": float64(44),
	}}
	ok := &Record{ID: "per-2", Type: "person", Fields: map[string]any{"name": "Sam Green"}}

	report, err := imp.ImportRecords(ctx, NewPersonImporter(imp), []*Record{bad, ok})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "shoe_size")
}
