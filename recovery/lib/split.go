package recovery_lib

import (
	"context"
	"io/ioutil"
	"math"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

// splitEpsilon absorbs the binary error of decimal fractions: 100*0.29 is
// 28.999999999999996.
const splitEpsilon = 1e-9

// Split moves the first floor(len*fraction) entries of keys out, keeping the rest.
func Split(keys KeySet, fraction float64) (kept, moved KeySet) {
	n := int(math.Floor(float64(keys.Len())*fraction + splitEpsilon))
	if n < 0 {
		n = 0
	}
	if n > keys.Len() {
		n = keys.Len()
	}
	return keys.slice(n, keys.Len()), keys.slice(0, n)
}

// KeysForNode separates the keys the session currently routes to node
// within its group from the others.
func KeysForNode(ctx context.Context, session elliptics.Session, resolver AddressResolver, keys KeySet, node elliptics.Node) (owned, rest KeySet, err error) {
	addr, err := resolver.Address(node)
	if err != nil {
		return KeySet{}, KeySet{}, err
	}
	for _, e := range keys.Entries() {
		got, err := session.Lookup(ctx, elliptics.Transform(e.Key), node.Group)
		if err != nil {
			return KeySet{}, KeySet{}, errors.Wrapf(err, "lookup %s", e.Key)
		}
		if got.Host == addr.Host && got.Port == addr.Port {
			_ = owned.Add(e)
		} else {
			_ = rest.Add(e)
		}
	}
	return owned, rest, nil
}

// DumpToFile writes the ring ids of keys, one hex id per line.
func DumpToFile(path string, keys []string) error {
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, elliptics.Transform(k).String())
	}
	content := strings.Join(ids, "\n")
	if len(ids) != 0 {
		content += "\n"
	}
	return errors.Wrap(ioutil.WriteFile(path, []byte(content), 0644), "write dump file")
}
