package recovery_lib

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// Ledger records what every written key is expected to look like after
// the recovery tool has run.
type Ledger struct {
	Consistent   KeySet
	Recovered    KeySet
	Inconsistent KeySet
	Outage       Outage
	// RecoverIndexes tells whether the tool restores the indexes of
	// recovered keys in the groups affected by the outage.
	RecoverIndexes bool
}

func (l *Ledger) Bucket(c Classification) KeySet {
	switch c {
	case Recovered:
		return l.Recovered
	case Inconsistent:
		return l.Inconsistent
	}
	return l.Consistent
}

func (l *Ledger) Classify(key string) (Classification, bool) {
	for _, c := range []Classification{Consistent, Recovered, Inconsistent} {
		if l.Bucket(c).Contains(key) {
			return c, true
		}
	}
	return 0, false
}

// Validate checks that no key sits in two buckets.
func (l *Ledger) Validate() error {
	seen := map[string]Classification{}
	for _, c := range []Classification{Consistent, Recovered, Inconsistent} {
		for _, k := range l.Bucket(c).Keys() {
			if prev, ok := seen[k]; ok {
				return errors.Newf("key %s is both %s and %s", k, prev, c)
			}
			seen[k] = c
		}
	}
	return nil
}

// Indexes used by any key of the ledger, sorted.
func (l *Ledger) Indexes() []string {
	seen := map[string]bool{}
	var res []string
	for _, c := range []Classification{Consistent, Recovered, Inconsistent} {
		for _, i := range l.Bucket(c).Indexes() {
			if !seen[i] {
				seen[i] = true
				res = append(res, i)
			}
		}
	}
	sort.Strings(res)
	return res
}
