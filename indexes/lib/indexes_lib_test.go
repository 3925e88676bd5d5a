package indexes_lib

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kis8ya/elliptics-qa/common"
	"github.com/kis8ya/elliptics-qa/elliptics"
	"github.com/kis8ya/elliptics-qa/elliptics/ellipticstest"
)

func bench() []elliptics.Node {
	var nodes []elliptics.Node
	for g := 1; g <= 2; g++ {
		for i := 0; i < 2; i++ {
			nodes = append(nodes, elliptics.Node{Host: "127.0.0.1", Port: 4025 + 2*(g-1) + i, Group: g})
		}
	}
	return nodes
}

var _ = Describe("Indexes", func() {
	ctx := context.Background()

	It("picks distinct indexes and their combinations", func() {
		rng := common.NewRand(5)
		indexes := RandomIndexes(rng, 5)
		Expect(indexes).To(HaveLen(5))
		seen := map[string]bool{}
		for _, i := range indexes {
			seen[i] = true
		}
		Expect(seen).To(HaveLen(5))

		combinations := Combinations(rng, indexes)
		Expect(combinations[Single]).To(HaveLen(1))
		Expect(len(combinations[Part])).To(And(BeNumerically(">=", 2), BeNumerically("<", 5)))
		Expect(combinations[Full]).To(ConsistOf(indexes))
		Expect(Combinations(rng, indexes[:2])).ToNot(HaveKey(Part))
	})

	Context("on a cluster", func() {
		var f *Fixture

		BeforeEach(func() {
			rng := common.NewRand(9)
			session := ellipticstest.NewCluster(bench(), 2).Session()
			f = NewFixture(session, rng, RandomIndexes(rng, 5))
			Expect(f.Write(ctx, 3, 10)).To(Succeed())
		})

		expectConsistent := func(model Model) {
			Expect(f.CheckList(ctx, model)).To(Succeed())
			for _, names := range Combinations(f.Rand, f.Indexes) {
				Expect(f.CheckFindAll(ctx, names)).To(Succeed())
				Expect(f.CheckFindAny(ctx, names)).To(Succeed())
			}
		}

		It("tracks set indexes", func() {
			Expect(f.Model).To(HaveLen(30))
			for _, indexes := range f.Model {
				Expect(len(indexes)).To(And(BeNumerically(">=", 1), BeNumerically("<", 5)))
			}
			expectConsistent(f.Model)
		})

		It("tracks changed, updated and removed indexes", func() {
			changed, err := f.Change(ctx, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(HaveLen(10))
			expectConsistent(changed)

			updated, err := f.Update(ctx, 10)
			Expect(err).ToNot(HaveOccurred())
			expectConsistent(updated)

			removed, err := f.Remove(ctx, 10)
			Expect(err).ToNot(HaveOccurred())
			for _, indexes := range removed {
				Expect(indexes).To(BeEmpty())
			}
			expectConsistent(removed)
			expectConsistent(f.Model)
		})

		It("reports a key whose indexes differ", func() {
			var victim elliptics.ID
			for id := range f.Model {
				victim = id
				break
			}
			f.Model[victim] = Indexes{}
			Expect(f.CheckList(ctx, f.Model)).To(MatchError(ContainSubstring("indexes, expected 0")))
			Expect(f.CheckFindAny(ctx, f.Indexes)).To(MatchError(ContainSubstring("expected")))
		})
	})
})
