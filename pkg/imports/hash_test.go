package imports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencivic/civimport/pkg/civic"
)

func personFields(sources ...map[string]any) map[string]any {
	list := make([]any, len(sources))
	for i, s := range sources {
		list[i] = s
	}
	f := map[string]any{"name": "Jo Smith", "sources": list}
	civic.NormalizeFields(civic.Person.Fields, f)
	return f
}

func TestRecordHashStable(t *testing.T) {
	a, err := RecordHash(civic.Person, personFields(map[string]any{"url": "https://a", "note": ""}))
	require.NoError(t, err)
	b, err := RecordHash(civic.Person, personFields(map[string]any{"url": "https://a", "note": ""}))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRecordHashIgnoresUnorderedCollectionOrder(t *testing.T) {
	s1 := map[string]any{"url": "https://a", "note": ""}
	s2 := map[string]any{"url": "https://b", "note": ""}

	a, err := RecordHash(civic.Person, personFields(s1, s2))
	require.NoError(t, err)
	b, err := RecordHash(civic.Person, personFields(s2, s1))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRecordHashSeesScalarChange(t *testing.T) {
	a, err := RecordHash(civic.Person, personFields())
	require.NoError(t, err)

	changed := personFields()
	changed["gender"] = "female"
	b, err := RecordHash(civic.Person, changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRecordHashSeesRelatedRowChange(t *testing.T) {
	a, err := RecordHash(civic.Person, personFields(map[string]any{"url": "https://a", "note": ""}))
	require.NoError(t, err)
	b, err := RecordHash(civic.Person, personFields(map[string]any{"url": "https://b", "note": ""}))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRecordHashIgnoresComputedFields(t *testing.T) {
	related := func(linked string) map[string]any {
		f := map[string]any{
			"legislative_session_id": "s1",
			"identifier":             "HB 1",
			"title":                  "An Act",
			"related_bills": []any{map[string]any{
				"identifier":          "HB 2",
				"legislative_session": "2025",
				"relation_type":       "companion",
				"related_bill_id":     linked,
			}},
		}
		civic.NormalizeFields(civic.Bill.Fields, f)
		return f
	}

	a, err := RecordHash(civic.Bill, related(""))
	require.NoError(t, err)
	b, err := RecordHash(civic.Bill, related("ocd-bill/123"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeduplicateKeepsFirst(t *testing.T) {
	pre := NewPreprocessor()
	records := []*Record{
		{ID: "p1", Type: "person", Fields: personFields()},
		{ID: "p2", Type: "person", Fields: personFields()},
		{ID: "p3", Type: "person", Fields: personFields(map[string]any{"url": "https://a", "note": ""})},
	}

	kept, err := pre.Deduplicate(civic.Person, records)
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, "p1", kept[0].ID)
	assert.Equal(t, "p3", kept[1].ID)

	assert.Equal(t, "p1", pre.Canonical("p2"))
	assert.Equal(t, "p1", pre.Canonical("p1"))
	assert.Equal(t, "unknown", pre.Canonical("unknown"))
}
