package imports

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/errors"
	"github.com/opencivic/civimport/pkg/logging"
)

// ScanDirectory reads a scrape output directory into per-type record
// batches. Files are named "<type>_<anything>.json" and read in sorted
// name order so a run is deterministic for a given directory. Files whose
// prefix matches no known entity type are skipped with a debug log. A
// malformed file drops only that file; its error message is collected in
// failures under the entity type. I/O errors abort the scan.
func ScanDirectory(dir string) (map[string][]*Record, map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	batches := make(map[string][]*Record)
	failures := make(map[string][]string)
	for _, name := range names {
		entityType := typeForFile(name)
		if entityType == "" {
			logging.Debug().Str("file", name).Msg("skipping file with unknown type prefix")
			continue
		}

		rec, err := readRecord(filepath.Join(dir, name), entityType)
		if err != nil {
			if !errors.IsMalformedRecord(err) {
				return nil, nil, err
			}
			logging.Warn().Str("file", name).Err(err).Msg("skipping malformed file")
			failures[entityType] = append(failures[entityType], err.Error())
			continue
		}
		batches[entityType] = append(batches[entityType], rec)
	}
	return batches, failures, nil
}

// typeForFile maps a file name to the entity type it carries, or "" when
// the prefix matches no known type.
func typeForFile(name string) string {
	for _, def := range civic.Definitions() {
		if strings.HasPrefix(name, def.Type+"_") {
			return def.Type
		}
	}
	return ""
}

func readRecord(path, entityType string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.NewMalformedRecordError(entityType, filepath.Base(path), "", err.Error())
	}

	batchID := asString(fields["_id"])
	if batchID == "" {
		return nil, errors.NewMalformedRecordError(entityType, filepath.Base(path), "_id", "record carries no batch id")
	}
	delete(fields, "_id")

	return &Record{ID: batchID, Type: entityType, Fields: fields}, nil
}
