package civic

import (
	"encoding/json"
	"strings"
)

// pseudoPrefix marks a serialized lookup spec standing in for an id.
const pseudoPrefix = "~"

// Reference is a tagged union over the three forms an entity reference
// takes in collector output: a durable persisted id, a batch-local id
// assigned by the producer, or a pseudo identifier wrapping a filter spec.
type Reference struct {
	raw    string
	pseudo map[string]any
}

// ParseReference interprets a raw reference string.
func ParseReference(raw string) (Reference, error) {
	if !strings.HasPrefix(raw, pseudoPrefix) {
		return Reference{raw: raw}, nil
	}
	var spec map[string]any
	if err := json.Unmarshal([]byte(raw[len(pseudoPrefix):]), &spec); err != nil {
		return Reference{}, err
	}
	return Reference{raw: raw, pseudo: spec}, nil
}

// PseudoID serializes a filter spec into a pseudo identifier. json.Marshal
// emits map keys in sorted order, so the encoding is deterministic and
// independent of how the spec was built.
func PseudoID(spec map[string]any) string {
	b, err := json.Marshal(spec)
	if err != nil {
		// Specs are string-keyed maps of JSON values; this cannot fail for
		// producer input that already round-tripped through JSON.
		panic(err)
	}
	return pseudoPrefix + string(b)
}

// IsPseudo reports whether the reference wraps a filter spec.
func (r Reference) IsPseudo() bool {
	return r.pseudo != nil
}

// IsDurable reports whether the reference is already a persisted id.
func (r Reference) IsDurable() bool {
	return !r.IsPseudo() && strings.HasPrefix(r.raw, "ocd-")
}

// String returns the raw reference string.
func (r Reference) String() string {
	return r.raw
}

// Spec returns a copy of the pseudo reference's filter spec.
func (r Reference) Spec() map[string]any {
	spec := make(map[string]any, len(r.pseudo))
	for k, v := range r.pseudo {
		spec[k] = v
	}
	return spec
}
