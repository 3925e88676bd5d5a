package routing_table_lib

import (
	"context"
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kis8ya/elliptics-qa/common/network"
	"github.com/kis8ya/elliptics-qa/elliptics"
	"github.com/kis8ya/elliptics-qa/elliptics/ellipticstest"
)

func benchNodes() []elliptics.Node {
	var nodes []elliptics.Node
	for i := 0; i < 4; i++ {
		nodes = append(nodes, elliptics.Node{Host: "127.0.0.1", Port: 4025 + i, Group: 1 + i/2})
	}
	return nodes
}

var _ = Describe("Routing table expectations", func() {
	var (
		ctx     context.Context
		nodes   []elliptics.Node
		cluster *ellipticstest.Cluster
		session elliptics.Session
		exp     *Expectation
	)

	BeforeEach(func() {
		ctx = context.Background()
		nodes = benchNodes()
		cluster = ellipticstest.NewCluster(nodes, 2)
		session = cluster.Session()
		exp = &Expectation{IDs: cluster, Resolver: network.NewResolver(time.Minute), BackendsNumber: 2}
	})

	It("matches the routes of a healthy cluster", func() {
		expected, err := exp.Routes(ctx, nodes, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(expected).To(HaveLen(4 * 2 * 4))
		Expect(Check(session.Routes(), expected)).To(Succeed())
	})

	It("places the boundary entries per group", func() {
		expected, err := exp.Routes(ctx, nodes, nil)
		Expect(err).ToNot(HaveOccurred())
		bounds := BoundaryEntries(expected)
		Expect(bounds).To(HaveLen(4))
		for _, b := range bounds {
			group := expected.Filter(b.Group)
			last := group[len(group)-1]
			Expect(b.Address).To(Equal(last.Address))
			Expect(b.BackendID).To(Equal(last.BackendID))
		}
	})

	It("takes the lowest entry for a ring starting at zero", func() {
		addr := elliptics.Address{Host: "h", Port: 1, Family: elliptics.AddressFamily}
		table := elliptics.NewRouteTable([]elliptics.Route{
			{ID: elliptics.MinID, Address: addr, BackendID: 0, Group: 1},
			{ID: elliptics.Transform("x"), Address: addr, BackendID: 1, Group: 1},
		})
		bounds := BoundaryEntries(table)
		Expect(bounds[1].ID).To(Equal(elliptics.MinID))
		Expect(bounds[1].BackendID).To(Equal(0))
	})

	It("follows dropped and resumed nodes", func() {
		dropped := DroppedNodesCases[0].Nodes(rand.New(rand.NewSource(1)), nodes)
		Expect(cluster.DropNode(ctx, dropped[0])).To(Succeed())

		full, err := exp.Routes(ctx, nodes, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(CheckContainsNecessary(session.Routes(), full)).To(MatchError(ContainSubstring("missing")))

		var available []elliptics.Node
		for _, n := range nodes {
			if n != dropped[0] {
				available = append(available, n)
			}
		}
		expected, err := exp.Routes(ctx, available, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(Check(session.Routes(), expected)).To(Succeed())

		Expect(cluster.ResumeNode(ctx, dropped[0])).To(Succeed())
		Expect(CheckOnlyNecessary(session.Routes(), expected)).To(MatchError(ContainSubstring("extra")))
		Expect(Check(session.Routes(), full)).To(Succeed())
	})

	It("has no boundary entries with every node dropped", func() {
		for _, n := range DroppedNodesCases[1].Nodes(nil, nodes) {
			Expect(cluster.DropNode(ctx, n)).To(Succeed())
		}
		expected, err := exp.Routes(ctx, nil, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(session.Routes()).To(BeEmpty())
		Expect(Check(session.Routes(), expected)).To(Succeed())
		Expect(CheckBoundaryEntries(elliptics.RouteTable{{ID: elliptics.MaxID}}, expected)).To(HaveOccurred())
	})

	It("skips disabled backends", func() {
		ids := BackendsCases[0].Backends(rand.New(rand.NewSource(2)), 2)
		skipped := Toggled(nodes, ids)
		for b := range skipped {
			addr, err := exp.Resolver.Address(b.Node)
			Expect(err).ToNot(HaveOccurred())
			Expect(session.DisableBackend(ctx, addr, b.ID)).To(Succeed())
		}
		expected, err := exp.Routes(ctx, nodes, skipped)
		Expect(err).ToNot(HaveOccurred())
		Expect(expected).To(HaveLen(4 * 4))
		Expect(Check(session.Routes(), expected)).To(Succeed())
	})
})
