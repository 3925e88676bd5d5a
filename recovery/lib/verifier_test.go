package recovery_lib

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/kis8ya/elliptics-qa/common"
	"github.com/kis8ya/elliptics-qa/common/matchers"
	"github.com/kis8ya/elliptics-qa/elliptics"
)

var _ = Describe("ExpectedIndexKeys", func() {
	ledger := func(recoverIndexes bool) *Ledger {
		c, _ := NewKeySet(Entry{Key: "c", Indexes: []string{"i"}}, Entry{Key: "c2", Indexes: []string{"j"}})
		r, _ := NewKeySet(Entry{Key: "r", Indexes: []string{"i"}})
		n, _ := NewKeySet(Entry{Key: "n", Indexes: []string{"i"}})
		return &Ledger{Consistent: c, Recovered: r, Inconsistent: n, Outage: &GroupOutage{Dropped: []int{2}}, RecoverIndexes: recoverIndexes}
	}

	table.DescribeTable("selects keys by bucket and group",
		func(recoverIndexes bool, group int, expected []string) {
			Expect(ExpectedIndexKeys(ledger(recoverIndexes), "i", group)).To(Equal(expected))
		},
		table.Entry("dropped group, indexes restored", true, 2, []string{"c", "r"}),
		table.Entry("dropped group, data only", false, 2, []string{"c"}),
		table.Entry("available group, indexes restored", true, 1, []string{"c", "r", "n"}),
		table.Entry("available group, data only", false, 1, []string{"c", "r", "n"}),
	)
})

var _ = Describe("Assertions", func() {
	var (
		ctx     context.Context
		bench   *testBench
		session elliptics.Session
		g1      elliptics.Session
		key     string
	)

	BeforeEach(func() {
		ctx = context.Background()
		bench = newTestBench(3, nil)
		session = bench.env.Session
		var data []byte
		key, data = common.KeyAndData(bench.env.Rand, 128, 0, 0)
		g1 = session.Clone()
		g1.SetGroups([]int{1})
		Expect(g1.Write(ctx, key, data)).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(bench.workDir)
	})

	It("checks group visibility", func() {
		Expect(AssertGroupVisible(ctx, session, []string{key}, []int{1})).To(Succeed())
		err := AssertGroupVisible(ctx, session, []string{key}, []int{1, 2})
		Expect(err).To(matchers.HaveErrorKind(elliptics.ErrNotFound))
		Expect(err).To(MatchError(ContainSubstring("group 2")))

		Expect(AssertGroupInvisible(ctx, session, []string{key}, []int{2, 3})).To(Succeed())
		Expect(AssertGroupInvisible(ctx, session, []string{key}, []int{1})).To(MatchError(ContainSubstring("readable from group 1")))
	})

	It("rejects data that does not match the key", func() {
		other := "0000000000000000000000000000000000000000"
		Expect(session.Write(ctx, other, []byte("payload"))).To(Succeed())
		Expect(AssertGroupVisible(ctx, session, []string{other}, []int{1})).To(MatchError(ContainSubstring("hashes to")))
		Expect(AssertVisible(ctx, session, []string{other})).To(HaveOccurred())
	})

	It("tells not found from other failures", func() {
		for _, n := range elliptics.NodesInGroups(bench.env.Nodes, []int{3}) {
			Expect(session.DisableBackend(ctx, n.Address(), 0)).To(Succeed())
			Expect(session.DisableBackend(ctx, n.Address(), 1)).To(Succeed())
		}
		err := AssertGroupInvisible(ctx, session, []string{key}, []int{3})
		Expect(err).To(matchers.HaveErrorKind(elliptics.ErrAddrNotExists))
		Expect(err).To(MatchError(ContainSubstring("want not found")))
	})

	It("checks index membership and payloads", func() {
		Expect(g1.SetIndexes(ctx, key, []string{"i"}, []string{IndexData(key, "i")})).To(Succeed())
		keys, _ := NewKeySet(Entry{Key: key, Indexes: []string{"i"}})
		l := &Ledger{Consistent: keys, Outage: &GroupOutage{}}
		Expect(AssertIndexMembership(ctx, session, l, "i", 1)).To(Succeed())
		Expect(AssertKeyIndexData(ctx, session, l, "i", 1)).To(Succeed())

		// group 2 never got the key
		Expect(AssertIndexMembership(ctx, session, l, "i", 2)).To(MatchError(ContainSubstring("1 keys missing")))

		Expect(g1.UpdateIndexes(ctx, key, []string{"i"}, []string{"garbage"})).To(Succeed())
		Expect(AssertIndexMembership(ctx, session, l, "i", 1)).To(MatchError(ContainSubstring("payload")))
		Expect(AssertKeyIndexData(ctx, session, l, "i", 1)).To(MatchError(ContainSubstring("payload")))

		empty := &Ledger{Outage: &GroupOutage{}}
		Expect(AssertIndexMembership(ctx, session, empty, "i", 1)).To(MatchError(ContainSubstring("1 unexpected")))
	})
})
