package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/streamsight/errors"
)

// refPrefix namespaces snapshot references built by this service.
const refPrefix = "streamsight/"

// NewReference builds a snapshot reference encoding the creation time at
// second precision. References of one topology sort lexically in creation
// order.
func NewReference(now time.Time) string {
	return refPrefix + now.UTC().Format(time.RFC3339)
}

// ParseReference recovers the creation time from a reference.
func ParseReference(ref string) (time.Time, error) {
	raw, ok := strings.CutPrefix(ref, refPrefix)
	if !ok {
		return time.Time{}, errors.InvalidInput("reference",
			fmt.Sprintf("reference %q does not carry the %q prefix", ref, refPrefix))
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.InvalidInput("reference",
			fmt.Sprintf("reference %q does not encode a creation time", ref)).WithCause(err)
	}
	return ts.UTC(), nil
}
