package imports

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestScanDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bill_0002.json", `{"_id": "bill-2", "identifier": "HB 2"}`)
	writeFile(t, dir, "bill_0001.json", `{"_id": "bill-1", "identifier": "HB 1"}`)
	writeFile(t, dir, "person_0001.json", `{"_id": "per-1", "name": "Jo Smith"}`)
	writeFile(t, dir, "vote_event_0001.json", `{"_id": "vote-1", "motion_text": "Do pass"}`)
	writeFile(t, dir, "speech_0001.json", `{"_id": "sp-1"}`)
	writeFile(t, dir, "notes.txt", "not json")

	batches, failures, err := ScanDirectory(dir)
	require.NoError(t, err)
	assert.Empty(t, failures)

	require.Len(t, batches["bill"], 2)
	// Sorted file order keeps runs deterministic.
	assert.Equal(t, "bill-1", batches["bill"][0].ID)
	assert.Equal(t, "bill-2", batches["bill"][1].ID)
	assert.Equal(t, "HB 1", batches["bill"][0].Fields["identifier"])
	assert.NotContains(t, batches["bill"][0].Fields, "_id")

	require.Len(t, batches["person"], 1)
	require.Len(t, batches["vote_event"], 1)
	assert.Equal(t, "vote_event", batches["vote_event"][0].Type)

	// Unknown type prefixes are skipped, not an error.
	assert.NotContains(t, batches, "speech")
}

func TestScanDirectoryMissingBatchID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "person_0001.json", `{"name": "Jo Smith"}`)
	writeFile(t, dir, "person_0002.json", `{"_id": "per-2", "name": "Sam Green"}`)

	// The bad file drops; the rest of the batch survives.
	batches, failures, err := ScanDirectory(dir)
	require.NoError(t, err)
	require.Len(t, batches["person"], 1)
	assert.Equal(t, "per-2", batches["person"][0].ID)
	require.Len(t, failures["person"], 1)
	assert.Contains(t, failures["person"][0], "no batch id")
}

func TestScanDirectoryBadJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "person_0001.json", `{not json`)

	batches, failures, err := ScanDirectory(dir)
	require.NoError(t, err)
	assert.Empty(t, batches)
	require.Len(t, failures["person"], 1)
	assert.Contains(t, failures["person"][0], "person_0001.json")
}
