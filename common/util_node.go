package common

import (
	"context"
	"math/rand"
	"sync"

	"github.com/cockroachdb/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

var (
	droppedMu sync.Mutex
	dropped   []elliptics.Node
)

func markDropped(node elliptics.Node, isDropped bool) {
	droppedMu.Lock()
	defer droppedMu.Unlock()
	for i, n := range dropped {
		if n == node {
			if !isDropped {
				dropped = append(dropped[:i], dropped[i+1:]...)
			}
			return
		}
	}
	if isDropped {
		dropped = append(dropped, node)
	}
}

// DroppedNodes are the nodes dropped through DropNode and not resumed yet.
func DroppedNodes() []elliptics.Node {
	droppedMu.Lock()
	defer droppedMu.Unlock()
	return append([]elliptics.Node(nil), dropped...)
}

// DropNode isolates node on the bench and remembers it for cleanup.
func DropNode(ctx context.Context, node elliptics.Node) error {
	logf.Log.Info("DropNode", "node", node)
	if err := gTestEnv.Bench.DropNode(ctx, node); err != nil {
		return errors.Wrapf(err, "drop %s", node)
	}
	markDropped(node, true)
	return nil
}

func ResumeNode(ctx context.Context, node elliptics.Node) error {
	logf.Log.Info("ResumeNode", "node", node)
	if err := gTestEnv.Bench.ResumeNode(ctx, node); err != nil {
		return errors.Wrapf(err, "resume %s", node)
	}
	markDropped(node, false)
	return nil
}

func DropNodes(ctx context.Context, nodes []elliptics.Node) error {
	for _, n := range nodes {
		if err := DropNode(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func ResumeNodes(ctx context.Context, nodes []elliptics.Node) error {
	var err error
	for _, n := range nodes {
		err = errors.CombineErrors(err, ResumeNode(ctx, n))
	}
	return err
}

// ResumeAllNodes resumes every node dropped so far, attempting all of them.
func ResumeAllNodes(ctx context.Context) error {
	return ResumeNodes(ctx, DroppedNodes())
}

// EnableAllBackends enables every backend of nodes through session.
func EnableAllBackends(ctx context.Context, session elliptics.Session, nodes []elliptics.Node) error {
	return setAllBackends(ctx, session, nodes, true)
}

func DisableAllBackends(ctx context.Context, session elliptics.Session, nodes []elliptics.Node) error {
	return setAllBackends(ctx, session, nodes, false)
}

func setAllBackends(ctx context.Context, session elliptics.Session, nodes []elliptics.Node, enable bool) error {
	var err error
	for _, n := range nodes {
		addr, rerr := gTestEnv.Resolver.Address(n)
		if rerr != nil {
			err = errors.CombineErrors(err, rerr)
			continue
		}
		backends, berr := gTestEnv.Bench.Backends(ctx, n)
		if berr != nil {
			err = errors.CombineErrors(err, berr)
			continue
		}
		for _, b := range backends {
			if enable {
				err = errors.CombineErrors(err, session.EnableBackend(ctx, addr, b))
			} else {
				err = errors.CombineErrors(err, session.DisableBackend(ctx, addr, b))
			}
		}
	}
	return err
}

// RandomNodes picks count distinct nodes.
func RandomNodes(rng *rand.Rand, nodes []elliptics.Node, count int) []elliptics.Node {
	if count > len(nodes) {
		count = len(nodes)
	}
	res := make([]elliptics.Node, 0, count)
	for _, i := range rng.Perm(len(nodes))[:count] {
		res = append(res, nodes[i])
	}
	return res
}

// RandomGroups picks count distinct groups.
func RandomGroups(rng *rand.Rand, groups []int, count int) []int {
	if count > len(groups) {
		count = len(groups)
	}
	res := make([]int, 0, count)
	for _, i := range rng.Perm(len(groups))[:count] {
		res = append(res, groups[i])
	}
	return res
}

// Half of n rounded up.
func Half(n int) int {
	return (n + 1) / 2
}

// ExcludeGroups returns groups without the excluded ones, order preserved.
func ExcludeGroups(groups, excluded []int) []int {
	skip := map[int]bool{}
	for _, g := range excluded {
		skip[g] = true
	}
	var res []int
	for _, g := range groups {
		if !skip[g] {
			res = append(res, g)
		}
	}
	return res
}

// SessionForGroups clones the suite session and binds the clone to groups.
func SessionForGroups(groups []int) elliptics.Session {
	s := gTestEnv.Session.Clone()
	s.SetGroups(groups)
	return s
}
