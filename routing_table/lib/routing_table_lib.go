package routing_table_lib

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

// IDSource reads the ring positions a node announces, one set per backend.
type IDSource interface {
	RouteIDs(ctx context.Context, node elliptics.Node, backendID int) ([]elliptics.ID, error)
}

type AddressResolver interface {
	Address(node elliptics.Node) (elliptics.Address, error)
}

// Backend names one backend of a bench node.
type Backend struct {
	Node elliptics.Node
	ID   int
}

// Expectation builds the routing table a client should end up with from
// the ids files of the nodes.
type Expectation struct {
	IDs            IDSource
	Resolver       AddressResolver
	BackendsNumber int
}

// Routes returns the entries of every backend of nodes except the skipped ones.
func (e *Expectation) Routes(ctx context.Context, nodes []elliptics.Node, skipped map[Backend]bool) (elliptics.RouteTable, error) {
	var routes []elliptics.Route
	for _, node := range nodes {
		addr, err := e.Resolver.Address(node)
		if err != nil {
			return nil, err
		}
		for b := 0; b < e.BackendsNumber; b++ {
			if skipped[Backend{Node: node, ID: b}] {
				continue
			}
			ids, err := e.IDs.RouteIDs(ctx, node, b)
			if err != nil {
				return nil, errors.Wrapf(err, "ids of backend %d on %s", b, node)
			}
			for _, id := range ids {
				routes = append(routes, elliptics.Route{ID: id, Address: addr, BackendID: b, Group: node.Group})
			}
		}
	}
	return elliptics.NewRouteTable(routes), nil
}

// BoundaryEntries are the entries a client inserts at both ends of the ring
// of each group. The upper bound belongs to the entry with the highest id.
// The lower bound is the lowest entry when it already sits at zero, and the
// highest entry otherwise, since the ring wraps below the first entry.
func BoundaryEntries(expected elliptics.RouteTable) []elliptics.Route {
	var res []elliptics.Route
	for _, g := range expected.Groups() {
		group := expected.Filter(g)
		first, last := group[0], group[len(group)-1]

		upper := last
		upper.ID = elliptics.MaxID
		lower := last
		if first.ID == elliptics.MinID {
			lower = first
		}
		lower.ID = elliptics.MinID
		res = append(res, upper, lower)
	}
	return res
}

func isBoundary(r elliptics.Route) bool {
	return r.ID == elliptics.MinID || r.ID == elliptics.MaxID
}

func contains(table elliptics.RouteTable, r elliptics.Route) bool {
	for _, t := range table {
		if t == r {
			return true
		}
	}
	return false
}

func describe(routes []elliptics.Route) string {
	const max = 3
	var parts []string
	for i, r := range routes {
		if i == max {
			parts = append(parts, fmt.Sprintf("... (%d total)", len(routes)))
			break
		}
		parts = append(parts, fmt.Sprintf("%s %s/%d group %d", r.ID.String()[:16], r.Address, r.BackendID, r.Group))
	}
	return strings.Join(parts, ", ")
}

// CheckContainsNecessary fails when an expected entry is missing from actual.
func CheckContainsNecessary(actual, expected elliptics.RouteTable) error {
	var missing []elliptics.Route
	for _, r := range expected {
		if !contains(actual, r) {
			missing = append(missing, r)
		}
	}
	if len(missing) != 0 {
		return errors.Newf("client doesn't have all necessary routing table entries, missing %s", describe(missing))
	}
	return nil
}

// CheckBoundaryEntries requires the boundary entries when anything is
// expected, and no entry at a boundary id otherwise.
func CheckBoundaryEntries(actual, expected elliptics.RouteTable) error {
	if len(expected) == 0 {
		for _, r := range actual {
			if isBoundary(r) {
				return errors.Newf("client has a routing table entry with boundary id: %s", describe([]elliptics.Route{r}))
			}
		}
		return nil
	}
	var missing []elliptics.Route
	for _, r := range BoundaryEntries(expected) {
		if !contains(actual, r) {
			missing = append(missing, r)
		}
	}
	if len(missing) != 0 {
		return errors.Newf("client doesn't have routing table entries with boundary ids: %s", describe(missing))
	}
	return nil
}

// CheckOnlyNecessary fails on entries of actual that are neither expected
// nor at a boundary id.
func CheckOnlyNecessary(actual, expected elliptics.RouteTable) error {
	var extra []elliptics.Route
	for _, r := range actual {
		if !isBoundary(r) && !contains(expected, r) {
			extra = append(extra, r)
		}
	}
	if len(extra) != 0 {
		return errors.Newf("client has %d extra routing table entries: %s", len(extra), describe(extra))
	}
	return nil
}

// Check runs all three checks, reporting the first failure.
func Check(actual, expected elliptics.RouteTable) error {
	for _, check := range []func(a, e elliptics.RouteTable) error{CheckContainsNecessary, CheckBoundaryEntries, CheckOnlyNecessary} {
		if err := check(actual, expected); err != nil {
			return err
		}
	}
	return nil
}

// NodesCase picks the nodes a test drops.
type NodesCase struct {
	Name  string
	Nodes func(rng *rand.Rand, nodes []elliptics.Node) []elliptics.Node
}

var DroppedNodesCases = []NodesCase{
	{Name: "one node", Nodes: func(rng *rand.Rand, nodes []elliptics.Node) []elliptics.Node {
		return []elliptics.Node{nodes[rng.Intn(len(nodes))]}
	}},
	{Name: "all nodes", Nodes: func(_ *rand.Rand, nodes []elliptics.Node) []elliptics.Node {
		return append([]elliptics.Node(nil), nodes...)
	}},
}

// BackendsCase picks the backend ids a test toggles on every node.
type BackendsCase struct {
	Name     string
	Backends func(rng *rand.Rand, number int) []int
}

var BackendsCases = []BackendsCase{
	{Name: "one backend", Backends: func(rng *rand.Rand, number int) []int {
		return []int{rng.Intn(number)}
	}},
	{Name: "all backends", Backends: func(_ *rand.Rand, number int) []int {
		ids := make([]int, number)
		for i := range ids {
			ids[i] = i
		}
		return ids
	}},
}

// Toggled lists the backends of every node with the given ids.
func Toggled(nodes []elliptics.Node, ids []int) map[Backend]bool {
	res := map[Backend]bool{}
	for _, n := range nodes {
		for _, id := range ids {
			res[Backend{Node: n, ID: id}] = true
		}
	}
	return res
}
