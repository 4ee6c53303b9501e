package imports

import (
	"github.com/opencivic/civimport/pkg/civic"
	"github.com/opencivic/civimport/pkg/logging"
)

// Preprocessor deduplicates a batch of incoming records by structural
// content hash and owns the resulting duplicate map: batch-local id to
// canonical batch-local id. The map is shared across entity types within
// one run and discarded with it.
type Preprocessor struct {
	canonical map[string]string
}

// NewPreprocessor creates an empty preprocessor.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{canonical: make(map[string]string)}
}

// Deduplicate hashes each record's content and drops later occurrences of
// a hash already seen. The first occurrence is canonical; dropped records
// have their batch id rewritten to the canonical one wherever referenced
// later in the run.
func (p *Preprocessor) Deduplicate(def *civic.EntityDef, records []*Record) ([]*Record, error) {
	seen := make(map[string]string, len(records))
	kept := make([]*Record, 0, len(records))

	for _, rec := range records {
		h, err := RecordHash(def, rec.Fields)
		if err != nil {
			return nil, err
		}
		if canonical, dup := seen[h]; dup {
			p.canonical[rec.ID] = canonical
			logging.Debug().
				Str("type", def.Type).
				Str("batch_id", rec.ID).
				Str("canonical", canonical).
				Msg("dropping content-identical record")
			continue
		}
		seen[h] = rec.ID
		p.canonical[rec.ID] = rec.ID
		kept = append(kept, rec)
	}
	return kept, nil
}

// Canonical follows the duplicate map to a batch id's canonical form.
// Unknown ids map to themselves.
func (p *Preprocessor) Canonical(batchID string) string {
	if canonical, ok := p.canonical[batchID]; ok {
		return canonical
	}
	return batchID
}
