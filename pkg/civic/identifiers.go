package civic

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// NewID mints a durable identifier for a newly persisted entity.
func NewID(entityType string) string {
	return fmt.Sprintf("ocd-%s/%s", strings.ReplaceAll(entityType, "_", "-"), uuid.NewString())
}

var billIdentifierRe = regexp.MustCompile(`^([A-Za-z]+)\s*0*(\d+)$`)

// NormalizeBillIdentifier canonicalizes a bill identifier: the alphabetic
// prefix is upper-cased and separated from the number by a single space,
// with leading zeros dropped ("hb001" -> "HB 1"). Identifiers that do not
// match the prefix-number shape pass through unchanged.
func NormalizeBillIdentifier(identifier string) string {
	m := billIdentifierRe.FindStringSubmatch(strings.TrimSpace(identifier))
	if m == nil {
		return identifier
	}
	return strings.ToUpper(m[1]) + " " + m[2]
}
