package civic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencivic/civimport/pkg/errors"
)

func TestParseReferenceForms(t *testing.T) {
	durable, err := ParseReference("ocd-organization/abc")
	require.NoError(t, err)
	assert.True(t, durable.IsDurable())
	assert.False(t, durable.IsPseudo())

	local, err := ParseReference("org-0001")
	require.NoError(t, err)
	assert.False(t, local.IsDurable())
	assert.False(t, local.IsPseudo())

	pseudo, err := ParseReference(`~{"classification":"upper"}`)
	require.NoError(t, err)
	assert.True(t, pseudo.IsPseudo())
	assert.Equal(t, map[string]any{"classification": "upper"}, pseudo.Spec())

	_, err = ParseReference("~not json")
	assert.Error(t, err)
}

func TestPseudoIDDeterministic(t *testing.T) {
	a := PseudoID(map[string]any{"name": "Finance", "classification": "committee"})
	b := PseudoID(map[string]any{"classification": "committee", "name": "Finance"})
	assert.Equal(t, a, b)

	ref, err := ParseReference(a)
	require.NoError(t, err)
	assert.Equal(t, "Finance", ref.Spec()["name"])
}

func TestReferenceSpecIsACopy(t *testing.T) {
	ref, err := ParseReference(`~{"name":"Finance"}`)
	require.NoError(t, err)
	spec := ref.Spec()
	spec["name"] = "mutated"
	assert.Equal(t, "Finance", ref.Spec()["name"])
}

func TestNormalizeBillIdentifier(t *testing.T) {
	tests := map[string]string{
		"hb001":       "HB 1",
		"HB 1":        "HB 1",
		"hb  0042":    "HB 42",
		"SJR 10":      "SJR 10",
		"Res. 12-34":  "Res. 12-34", // no prefix-number shape, unchanged
		" sb 7 ":      "SB 7",
		"HCR0005":     "HCR 5",
		"Proposition": "Proposition",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeBillIdentifier(in), "input %q", in)
	}
}

func TestOrgNamesEqual(t *testing.T) {
	assert.True(t, OrgNamesEqual("Committee On Finance", "Committee on Finance"))
	assert.True(t, OrgNamesEqual("Ways & Means", "Ways and Means"))
	assert.True(t, OrgNamesEqual("HOUSE OF REPRESENTATIVES", "House of Representatives"))
	assert.False(t, OrgNamesEqual("Committee on Finance", "Committee on Education"))
}

func TestNewID(t *testing.T) {
	id := NewID("vote_event")
	assert.Contains(t, id, "ocd-vote-event/")
}

func TestValidateFieldsUnknownKey(t *testing.T) {
	err := ValidateFields("person", "p1", Person.Fields, Person.Related, map[string]any{
		"name":     "Jo Smith",
		"surprise": true,
	})
	require.Error(t, err)
	assert.True(t, errors.IsMalformedRecord(err))
}

func TestValidateFieldsMissingRequired(t *testing.T) {
	err := ValidateFields("person", "p1", Person.Fields, Person.Related, map[string]any{
		"gender": "female",
	})
	require.Error(t, err)
	assert.True(t, errors.IsMalformedRecord(err))
}

func TestValidateFieldsAllowsBatchID(t *testing.T) {
	err := ValidateFields("person", "p1", Person.Fields, Person.Related, map[string]any{
		"_id":  "p1",
		"name": "Jo Smith",
	})
	assert.NoError(t, err)
}

func TestNormalizeFieldsFillsZeros(t *testing.T) {
	m := map[string]any{"name": "Jo Smith"}
	NormalizeFields(Person.Fields, m)
	assert.Equal(t, "", m["gender"])
	assert.Equal(t, map[string]any{}, m["extras"])
}

func TestDefinitionsOrder(t *testing.T) {
	var order []string
	for _, def := range Definitions() {
		order = append(order, def.Type)
	}
	assert.Equal(t, []string{"jurisdiction", "organization", "person", "bill", "vote_event", "event"}, order)
	assert.Equal(t, Bill, DefinitionFor("bill"))
	assert.Nil(t, DefinitionFor("speech"))
}
