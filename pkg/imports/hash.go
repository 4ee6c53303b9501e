package imports

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/opencivic/civimport/pkg/civic"
)

// digest is one structural hash value.
type digest [sha256.Size]byte

// RecordHash computes an order-insensitive structural hash of a record's
// content. The batch-local id and fields excluded from identity do not
// contribute; related collections without an ordinal field are combined
// commutatively so producer enumeration order cannot change the hash.
func RecordHash(def *civic.EntityDef, fields map[string]any) (string, error) {
	d, err := shapeHash(def.Type, def.Fields, def.Related, fields)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d[:]), nil
}

// shapeHash hashes one level of a record: its scalar fields plus its
// related collections, recursively.
func shapeHash(entityType string, fields []civic.FieldDef, related []civic.RelatedSpec, m map[string]any) (digest, error) {
	type part struct {
		name string
		d    digest
	}
	parts := make([]part, 0, len(fields)+len(related))

	for _, f := range fields {
		if f.NoIdentity {
			continue
		}
		parts = append(parts, part{name: f.Name, d: valueHash(m[f.Name])})
	}

	for i := range related {
		spec := &related[i]
		rows, err := relatedRows(entityType, "", spec.Field, m)
		if err != nil {
			return digest{}, err
		}
		rowDigests := make([]digest, 0, len(rows))
		for _, row := range rows {
			d, err := shapeHash(entityType, spec.Fields, spec.Nested, row)
			if err != nil {
				return digest{}, err
			}
			rowDigests = append(rowDigests, d)
		}
		var combined digest
		if spec.OrdinalField == "" {
			combined = combineUnordered(rowDigests)
		} else {
			combined = combineOrdered(rowDigests)
		}
		parts = append(parts, part{name: spec.Field, d: combined})
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].name < parts[j].name })
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p.name))
		h.Write([]byte{0})
		h.Write(p.d[:])
	}
	var out digest
	copy(out[:], h.Sum(nil))
	return out, nil
}

// valueHash hashes an arbitrary JSON value: mappings by sorted key/value
// pairs, sequences positionally, scalars by type-tagged rendering.
func valueHash(v any) digest {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h := sha256.New()
		h.Write([]byte("map"))
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write([]byte{0})
			d := valueHash(x[k])
			h.Write(d[:])
		}
		var out digest
		copy(out[:], h.Sum(nil))
		return out
	case []any:
		digests := make([]digest, len(x))
		for i, item := range x {
			digests[i] = valueHash(item)
		}
		return combineOrdered(digests)
	case nil:
		return sha256.Sum256([]byte("nil"))
	default:
		return sha256.Sum256([]byte(fmt.Sprintf("%T:%v", v, v)))
	}
}

// combineOrdered concatenates child digests positionally.
func combineOrdered(digests []digest) digest {
	h := sha256.New()
	h.Write([]byte("seq"))
	for _, d := range digests {
		h.Write(d[:])
	}
	var out digest
	copy(out[:], h.Sum(nil))
	return out
}

// combineUnordered XORs child digests so the combination is commutative.
func combineUnordered(digests []digest) digest {
	out := digest(sha256.Sum256([]byte("set")))
	for _, d := range digests {
		for i := range out {
			out[i] ^= d[i]
		}
	}
	return out
}
