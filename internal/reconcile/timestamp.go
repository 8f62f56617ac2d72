// Package reconcile merges article batches from the push and poll delivery
// paths into one deduplicated, time-ordered collection. It owns identity
// derivation, timestamp resolution and the field-level merge rules.
package reconcile

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ResolveTimestamp picks the best valid timestamp from candidates, tried in
// caller-specified priority order. The first candidate that parses to a valid
// instant wins. If none parse, it returns now and inferred=true so consumers
// can distinguish authoritative from substituted dates.
//
// Empty, whitespace-only and unparsable candidates are all skipped the same
// way; the function never fails.
func ResolveTimestamp(candidates []string, now time.Time) (ts time.Time, inferred bool) {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		parsed, err := dateparse.ParseAny(candidate)
		if err != nil {
			continue
		}
		if parsed.IsZero() {
			continue
		}
		return parsed, false
	}
	return now, true
}
