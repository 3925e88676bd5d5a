package recovery_lib

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

// AddressResolver maps a bench node to its routing table address.
type AddressResolver interface {
	Address(node elliptics.Node) (elliptics.Address, error)
}

// BackendLister knows which backends run on a node.
type BackendLister interface {
	Backends(ctx context.Context, node elliptics.Node) ([]int, error)
}

// Outage is what was unreachable while the outage keys were written:
// whole groups (dc recovery) or nodes inside a group (merge recovery).
type Outage interface {
	// Affects reports whether replicas in group missed the outage writes.
	Affects(group int) bool
	// Apply makes the outage effective for writes through the returned
	// session. Restore undoes it and may be called any number of times.
	Apply(ctx context.Context, session elliptics.Session) (elliptics.Session, func(context.Context) error, error)
	// Hides reports whether a key written under the outage is away from
	// the place the full cluster looks for it. Valid after Apply.
	Hides(id elliptics.ID) bool
	fmt.Stringer
}

func noRestore(context.Context) error { return nil }

// GroupOutage drops whole groups: writes go to the remaining groups only.
type GroupOutage struct {
	Dropped []int
}

func (o *GroupOutage) Affects(group int) bool {
	for _, g := range o.Dropped {
		if g == group {
			return true
		}
	}
	return false
}

func (o *GroupOutage) Apply(ctx context.Context, session elliptics.Session) (elliptics.Session, func(context.Context) error, error) {
	var available []int
	for _, g := range session.Groups() {
		if !o.Affects(g) {
			available = append(available, g)
		}
	}
	if len(available) == 0 {
		return nil, nil, errors.Newf("dropping groups %v leaves no group of %v to write to", o.Dropped, session.Groups())
	}
	restricted := session.Clone()
	restricted.SetGroups(available)
	return restricted, noRestore, nil
}

func (o *GroupOutage) Hides(elliptics.ID) bool {
	return true
}

func (o *GroupOutage) String() string {
	return fmt.Sprintf("groups %v", o.Dropped)
}

// NodeOutage disables every backend of the dropped nodes, so writes land
// on the neighbours of their ring position.
type NodeOutage struct {
	Dropped  []elliptics.Node
	Resolver AddressResolver
	Backends BackendLister

	mu      sync.Mutex
	full    elliptics.RouteTable
	groups  []int
	dropped map[elliptics.Address]bool
}

func (o *NodeOutage) Affects(group int) bool {
	for _, n := range o.Dropped {
		if n.Group == group {
			return true
		}
	}
	return false
}

func (o *NodeOutage) Apply(ctx context.Context, session elliptics.Session) (elliptics.Session, func(context.Context) error, error) {
	for _, g := range session.Groups() {
		if !o.Affects(g) {
			return nil, nil, errors.Newf("no dropped node in group %d: keys written there stay in place", g)
		}
	}

	o.mu.Lock()
	o.full = session.Routes()
	o.groups = session.Groups()
	o.dropped = map[elliptics.Address]bool{}
	o.mu.Unlock()

	type target struct {
		addr    elliptics.Address
		backend int
	}
	var disabled []target
	restore := func(ctx context.Context) error {
		var err error
		for _, t := range disabled {
			err = errors.CombineErrors(err, session.EnableBackend(ctx, t.addr, t.backend))
		}
		if err == nil {
			logf.Log.Info("Enabled backends", "nodes", len(o.Dropped))
		}
		return err
	}

	for _, n := range o.Dropped {
		addr, err := o.Resolver.Address(n)
		if err != nil {
			return nil, nil, errors.CombineErrors(err, restore(ctx))
		}
		backends, err := o.Backends.Backends(ctx, n)
		if err != nil {
			return nil, nil, errors.CombineErrors(err, restore(ctx))
		}
		o.mu.Lock()
		o.dropped[addr] = true
		o.mu.Unlock()
		for _, b := range backends {
			if err := session.DisableBackend(ctx, addr, b); err != nil {
				return nil, nil, errors.CombineErrors(errors.Wrapf(err, "disable backend %d on %s", b, n), restore(ctx))
			}
			disabled = append(disabled, target{addr: addr, backend: b})
		}
	}
	logf.Log.Info("Disabled backends", "nodes", o.Dropped)
	return session, restore, nil
}

// Hides holds when, in every group, the full ring owner of id is a dropped node.
func (o *NodeOutage) Hides(id elliptics.ID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dropped == nil {
		return false
	}
	for _, g := range o.groups {
		r, ok := o.full.Owner(id, g)
		if !ok || !o.dropped[r.Address] {
			return false
		}
	}
	return true
}

func (o *NodeOutage) String() string {
	return fmt.Sprintf("nodes %v", o.Dropped)
}
