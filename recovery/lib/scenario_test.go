package recovery_lib

import (
	"context"
	"io/ioutil"
	"os"
	"strings"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

func affectedGroups(s *Scenario) []int {
	affected, _ := s.groups()
	return affected
}

var _ = Describe("Scenario", func() {
	var (
		ctx   context.Context
		bench *testBench
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		if bench != nil {
			os.RemoveAll(bench.workDir)
		}
	})

	Context("dc with a dropped group", func() {
		BeforeEach(func() {
			bench = newTestBench(11, nil)
		})

		It("recovers every key written while a group was down", func() {
			s := NewScenario(bench.env, ModeDC, DefaultCase)
			Expect(s.Setup(ctx)).To(Succeed())
			defer s.Teardown(ctx)

			Expect(s.Ledger.Consistent.Len()).To(Equal(20))
			Expect(s.Ledger.Recovered.Len()).To(Equal(5))
			Expect(s.Ledger.Inconsistent.Len()).To(Equal(0))
			Expect(s.Ledger.RecoverIndexes).To(BeTrue())
			dropped := affectedGroups(s)
			Expect(dropped).To(HaveLen(1))
			Expect(bench.env.Session.Groups()).To(Equal([]int{1, 2, 3}))

			Expect(AssertGroupInvisible(ctx, bench.env.Session, s.Ledger.Recovered.Keys(), dropped)).To(Succeed())
			Expect(s.Command[0]).To(Equal("dnet_recovery"))
			Expect(s.Command).To(ContainElement("1,2,3"))
			Expect(s.Command[len(s.Command)-1]).To(Equal("dc"))

			Expect(s.Recover(ctx, bench.runner())).To(Succeed())
			Expect(s.Result.ExitCode).To(Equal(0))
			Expect(s.Result.TimedOut).To(BeFalse())
			Expect(s.Verify(ctx)).To(Succeed())
			Expect(s.State()).To(Equal(StateVerified))

			all := append(s.Ledger.Consistent.Keys(), s.Ledger.Recovered.Keys()...)
			Expect(all).To(HaveLen(25))
			Expect(AssertGroupVisible(ctx, bench.env.Session, all, []int{1, 2, 3})).To(Succeed())

			for _, e := range s.Ledger.Consistent.Entries() {
				Expect(e.Indexes).ToNot(BeEmpty())
				Expect(len(e.Indexes)).To(BeNumerically("<=", 5))
			}
		})

		It("recovers only the keys of the dump file", func() {
			s := NewScenario(bench.env, ModeDC, DumpFileCase)
			Expect(s.Setup(ctx)).To(Succeed())
			defer s.Teardown(ctx)

			Expect(s.Ledger.Recovered.Len()).To(Equal(2))
			Expect(s.Ledger.Inconsistent.Len()).To(Equal(3))
			Expect(s.Ledger.RecoverIndexes).To(BeFalse())

			dumpFile := s.Command[indexOf(s.Command, "--dump-file")+1]
			content, err := ioutil.ReadFile(dumpFile)
			Expect(err).ToNot(HaveOccurred())
			var ids []string
			for _, k := range s.Ledger.Recovered.Keys() {
				ids = append(ids, elliptics.Transform(k).String())
			}
			Expect(strings.Fields(string(content))).To(Equal(ids))

			Expect(s.Recover(ctx, bench.runner())).To(Succeed())
			Expect(s.Verify(ctx)).To(Succeed())

			Expect(s.Teardown(ctx)).To(Succeed())
			_, err = os.Stat(dumpFile)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("flags recovered indexes that were not restored", func() {
			s := NewScenario(bench.env, ModeDC, DumpFileCase)
			Expect(s.Setup(ctx)).To(Succeed())
			defer s.Teardown(ctx)
			Expect(s.Recover(ctx, bench.runner())).To(Succeed())
			Expect(s.CheckIndexes(ctx)).To(Succeed())

			s.Ledger.RecoverIndexes = true
			Expect(s.CheckIndexes(ctx)).To(MatchError(ContainSubstring("missing")))
		})

		It("recovers the keys of one node", func() {
			s := NewScenario(bench.env, ModeDC, OneNodeCase)
			Expect(s.Setup(ctx)).To(Succeed())
			defer s.Teardown(ctx)

			Expect(s.Ledger.Recovered.Len() + s.Ledger.Inconsistent.Len()).To(Equal(5))
			Expect(s.Command).To(ContainElement("--one-node"))
			Expect(s.Command).ToNot(ContainElement("--remote"))

			Expect(s.Recover(ctx, bench.runner())).To(Succeed())
			Expect(s.Verify(ctx)).To(Succeed())
		})

		It("passes the number of processes", func() {
			s := NewScenario(bench.env, ModeDC, NProcessCase)
			Expect(s.Setup(ctx)).To(Succeed())
			defer s.Teardown(ctx)
			Expect(s.Command[indexOf(s.Command, "--nprocess")+1]).To(Equal("3"))
			Expect(s.Recover(ctx, bench.runner())).To(Succeed())
			Expect(s.Verify(ctx)).To(Succeed())
		})

		It("reports a failing tool", func() {
			s := NewScenario(bench.env, ModeDC, DefaultCase)
			Expect(s.Setup(ctx)).To(Succeed())
			defer s.Teardown(ctx)
			failing := RunnerFunc(func(ctx context.Context, args []string) (Result, error) {
				return Result{ExitCode: 1}, nil
			})
			Expect(s.Recover(ctx, failing)).To(Succeed())
			Expect(s.CheckExitCode()).To(MatchError(ContainSubstring("exited with 1")))
			Expect(s.CheckRecoveredKeys(ctx)).To(HaveOccurred())
			Expect(s.Verify(ctx)).To(HaveOccurred())
		})

		It("enforces the order of the steps", func() {
			s := NewScenario(bench.env, ModeDC, DefaultCase)
			Expect(s.Recover(ctx, bench.runner())).To(HaveOccurred())
			Expect(s.Verify(ctx)).To(HaveOccurred())
			Expect(s.Setup(ctx)).To(Succeed())
			Expect(s.Setup(ctx)).To(HaveOccurred())
			Expect(s.Teardown(ctx)).To(Succeed())
			Expect(s.Teardown(ctx)).To(Succeed())
			Expect(s.State()).To(Equal(StateTornDown))
			Expect(s.Recover(ctx, bench.runner())).To(HaveOccurred())
		})

		It("reuses persisted buckets", func() {
			bench.env.Options.ConsistentKeysFile = bench.workDir + "/consistent.json"
			bench.env.Options.InconsistentKeysFile = bench.workDir + "/inconsistent.json"
			bench.env.Options.DroppedGroupsFile = bench.workDir + "/dropped.json"
			first := NewScenario(bench.env, ModeDC, DefaultCase)
			Expect(first.Setup(ctx)).To(Succeed())
			Expect(first.Teardown(ctx)).To(Succeed())

			second := NewScenario(bench.env, ModeDC, DefaultCase)
			Expect(second.Setup(ctx)).To(Succeed())
			defer second.Teardown(ctx)
			Expect(second.Ledger.Consistent.Len()).To(Equal(20))
			Expect(second.Ledger.Recovered.Keys()).To(ConsistOf(first.Ledger.Recovered.Keys()))
			Expect(affectedGroups(second)).To(Equal(affectedGroups(first)))

			Expect(second.Recover(ctx, bench.runner())).To(Succeed())
			Expect(second.Verify(ctx)).To(Succeed())
		})
	})

	Context("merge with dropped nodes", func() {
		BeforeEach(func() {
			bench = newTestBench(23, []int{1})
		})

		table.DescribeTable("recovers the keys the case expects",
			func(tc TestCase) {
				s := NewScenario(bench.env, ModeMerge, tc)
				Expect(s.Setup(ctx)).To(Succeed())
				defer func() {
					Expect(s.Teardown(ctx)).To(Succeed())
				}()

				outage, ok := s.Ledger.Outage.(*NodeOutage)
				Expect(ok).To(BeTrue())
				Expect(outage.Dropped).To(HaveLen(2))
				Expect(s.Ledger.Recovered.Len() + s.Ledger.Inconsistent.Len()).To(Equal(5))
				Expect(s.Command[len(s.Command)-1]).To(Equal("merge"))
				Expect(AssertInvisible(ctx, bench.env.Session, s.Ledger.Recovered.Keys())).To(Succeed())

				Expect(s.Recover(ctx, bench.runner())).To(Succeed())
				Expect(s.Verify(ctx)).To(Succeed())
				Expect(AssertVisible(ctx, bench.env.Session, s.Ledger.Recovered.Keys())).To(Succeed())
				Expect(bench.env.Session.Routes().Filter(1).Addresses()).To(HaveLen(3))
			},
			table.Entry("default", DefaultCase),
			table.Entry("nprocess", NProcessCase),
			table.Entry("dump file", DumpFileCase),
			table.Entry("dump file with unknown ids", DumpFileNegativeCase),
			table.Entry("one node", OneNodeCase),
		)

		It("tears down a case that failed halfway", func() {
			var current Current
			var dumpFile string
			failing := RunnerFunc(func(ctx context.Context, args []string) (Result, error) {
				return Result{ExitCode: 1}, nil
			})
			failures := InterceptGomegaFailures(func() {
				s := current.Start(NewScenario(bench.env, ModeMerge, DumpFileCase))
				Expect(s.Setup(ctx)).To(Succeed())
				dumpFile = s.Command[indexOf(s.Command, "--dump-file")+1]
				Expect(s.Recover(ctx, failing)).To(Succeed())
				// the case dies with the outage reapplied
				_, _, err := s.Ledger.Outage.Apply(ctx, bench.env.Session)
				Expect(err).ToNot(HaveOccurred())
				Expect(s.CheckExitCode()).To(Succeed())
			})
			Expect(failures).ToNot(BeEmpty())
			Expect(dumpFile).To(BeAnExistingFile())
			Expect(bench.env.Session.Routes().Filter(1).Addresses()).To(HaveLen(1))

			Expect(current.Teardown(ctx)).To(Succeed())
			Expect(dumpFile).ToNot(BeAnExistingFile())
			Expect(bench.env.Session.Routes().Filter(1).Addresses()).To(HaveLen(3))
			Expect(current.Teardown(ctx)).To(Succeed())
		})

		It("refuses a node outage outside the session groups", func() {
			outage := &NodeOutage{Dropped: bench.env.Nodes[3:4], Resolver: bench.env.Resolver, Backends: bench.cluster}
			_, _, err := outage.Apply(ctx, bench.env.Session)
			Expect(err).To(MatchError(ContainSubstring("no dropped node in group 1")))
		})
	})
})

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	Fail("no " + s + " in " + strings.Join(list, " "))
	return -1
}
