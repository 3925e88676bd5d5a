package recovery_lib

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kis8ya/elliptics-qa/common"
	"github.com/kis8ya/elliptics-qa/elliptics"
)

var errWriteFailed = errors.New("write failed")

// failingSession fails every write after the first ok ones, clones included.
type failingSession struct {
	elliptics.Session
	ok     int32
	writes *int32
}

func failAfter(s elliptics.Session, ok int32) *failingSession {
	return &failingSession{Session: s, ok: ok, writes: new(int32)}
}

func (s *failingSession) Write(ctx context.Context, key string, data []byte) error {
	if atomic.AddInt32(s.writes, 1) > s.ok {
		return errWriteFailed
	}
	return s.Session.Write(ctx, key, data)
}

func (s *failingSession) Clone() elliptics.Session {
	return &failingSession{Session: s.Session.Clone(), ok: s.ok, writes: s.writes}
}

var _ = Describe("KeyWriter", func() {
	var (
		ctx   context.Context
		bench *testBench
	)

	BeforeEach(func() {
		ctx = context.Background()
		bench = newTestBench(11, nil)
	})

	AfterEach(func() {
		os.RemoveAll(bench.workDir)
	})

	It("picks distinct index names", func() {
		pool, err := RandomIndexes(common.NewRand(4), 5)
		Expect(err).ToNot(HaveOccurred())
		Expect(pool).To(HaveLen(5))
		seen := map[string]bool{}
		for _, i := range pool {
			seen[i] = true
		}
		Expect(seen).To(HaveLen(5))
	})

	It("writes keys with indexes everywhere", func() {
		pool, err := RandomIndexes(bench.env.Rand, 3)
		Expect(err).ToNot(HaveOccurred())
		keys, err := WriteConsistentKeys(ctx, bench.env.Writer, bench.env.Session, 30, 0, pool)
		Expect(err).ToNot(HaveOccurred())
		Expect(keys.Len()).To(Equal(30))
		for _, e := range keys.Entries() {
			Expect(e.Indexes).ToNot(BeEmpty())
			for _, i := range e.Indexes {
				Expect(pool).To(ContainElement(i))
			}
		}
		Expect(AssertGroupVisible(ctx, bench.env.Session, keys.Keys(), []int{1, 2, 3})).To(Succeed())
	})

	It("writes outage keys to the remaining groups only", func() {
		outage := &GroupOutage{Dropped: []int{3}}
		keys, err := WriteInconsistentKeys(ctx, bench.env.Writer, bench.env.Session, 10, 512, nil, outage)
		Expect(err).ToNot(HaveOccurred())
		Expect(bench.env.Session.Groups()).To(Equal([]int{1, 2, 3}))
		Expect(AssertGroupVisible(ctx, bench.env.Session, keys.Keys(), []int{1, 2})).To(Succeed())
		Expect(AssertGroupInvisible(ctx, bench.env.Session, keys.Keys(), []int{3})).To(Succeed())
	})

	It("writes node outage keys away from their owners", func() {
		group := elliptics.NodesInGroups(bench.env.Nodes, []int{1})
		bench.env.Session.SetGroups([]int{1})
		outage := &NodeOutage{Dropped: group[:1], Resolver: bench.env.Resolver, Backends: bench.cluster}
		keys, err := WriteInconsistentKeys(ctx, bench.env.Writer, bench.env.Session, 10, 256, nil, outage)
		Expect(err).ToNot(HaveOccurred())
		Expect(AssertInvisible(ctx, bench.env.Session, keys.Keys())).To(Succeed())

		restricted, restore, err := outage.Apply(ctx, bench.env.Session)
		Expect(err).ToNot(HaveOccurred())
		Expect(AssertVisible(ctx, restricted, keys.Keys())).To(Succeed())
		Expect(restore(ctx)).To(Succeed())
	})

	It("refuses a node outage that misses a session group", func() {
		outage := &NodeOutage{Dropped: elliptics.NodesInGroups(bench.env.Nodes, []int{1})[:1], Resolver: bench.env.Resolver, Backends: bench.cluster}
		_, err := WriteInconsistentKeys(ctx, bench.env.Writer, bench.env.Session, 1, 64, nil, outage)
		Expect(err).To(MatchError(ContainSubstring("no dropped node in group 2")))
	})

	It("returns the first failed write", func() {
		session := failAfter(bench.env.Session, 3)
		_, err := WriteConsistentKeys(ctx, bench.env.Writer, session, 10, 128, nil)
		Expect(errors.Is(err, errWriteFailed)).To(BeTrue())
	})

	It("returns a failed write under a group outage", func() {
		session := failAfter(bench.env.Session, 3)
		_, err := WriteInconsistentKeys(ctx, bench.env.Writer, session, 10, 128, nil, &GroupOutage{Dropped: []int{3}})
		Expect(errors.Is(err, errWriteFailed)).To(BeTrue())
		Expect(session.Groups()).To(Equal([]int{1, 2, 3}))
	})

	It("enables the dropped nodes again when a write fails", func() {
		bench.env.Session.SetGroups([]int{1})
		group := elliptics.NodesInGroups(bench.env.Nodes, []int{1})
		outage := &NodeOutage{Dropped: group[:2], Resolver: bench.env.Resolver, Backends: bench.cluster}
		session := failAfter(bench.env.Session, 3)
		_, err := WriteInconsistentKeys(ctx, bench.env.Writer, session, 10, 128, nil, outage)
		Expect(errors.Is(err, errWriteFailed)).To(BeTrue())
		Expect(atomic.LoadInt32(session.writes)).To(BeNumerically(">", 3))
		Expect(bench.env.Session.Routes().Filter(1).Addresses()).To(HaveLen(3))
	})

	It("returns keys never written", func() {
		keys := NotExistentKeys(common.NewRand(2), 3)
		Expect(keys).To(HaveLen(3))
		Expect(AssertInvisible(ctx, bench.env.Session, keys)).To(Succeed())
	})
})
