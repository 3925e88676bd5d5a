package ellipticstest

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

func testNodes() []elliptics.Node {
	var nodes []elliptics.Node
	port := 1025
	for g := 1; g <= 3; g++ {
		for i := 0; i < 3; i++ {
			nodes = append(nodes, elliptics.Node{Host: "127.0.0.1", Port: port, Group: g})
			port++
		}
	}
	return nodes
}

var _ = Describe("Cluster", func() {
	var (
		ctx     context.Context
		cluster *Cluster
		s       elliptics.Session
	)

	BeforeEach(func() {
		ctx = context.Background()
		cluster = NewCluster(testNodes(), 2)
		s = cluster.Session()
	})

	It("reads back what was written in every group", func() {
		Expect(s.Write(ctx, "key", []byte("data"))).To(Succeed())
		for _, g := range []int{1, 2, 3} {
			r, err := s.ReadFromGroups(ctx, "key", []int{g})
			Expect(err).ToNot(HaveOccurred())
			Expect(r.Data).To(Equal([]byte("data")))
			Expect(r.Group).To(Equal(g))
		}
	})

	It("reports not found for keys missing from a group", func() {
		restricted := s.Clone()
		restricted.SetGroups([]int{1})
		Expect(restricted.Write(ctx, "key", []byte("data"))).To(Succeed())
		Expect(s.Groups()).To(Equal([]int{1, 2, 3}))

		_, err := s.ReadFromGroups(ctx, "key", []int{2})
		Expect(errors.Is(err, elliptics.ErrNotFound)).To(BeTrue())
		_, err = s.Read(ctx, "key")
		Expect(err).ToNot(HaveOccurred())
	})

	It("routes around dropped nodes", func() {
		id := elliptics.Transform("key")
		addr, err := s.Lookup(ctx, id, 1)
		Expect(err).ToNot(HaveOccurred())
		var owner elliptics.Node
		for _, n := range cluster.Nodes() {
			if n.Address() == addr {
				owner = n
			}
		}
		Expect(cluster.DropNode(ctx, owner)).To(Succeed())
		moved, err := s.Lookup(ctx, id, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(moved).ToNot(Equal(addr))
		Expect(s.Routes().HasAddress(addr)).To(BeFalse())

		Expect(cluster.ResumeNode(ctx, owner)).To(Succeed())
		Expect(s.Routes().HasAddress(addr)).To(BeTrue())
	})

	It("adds boundary entries to every group", func() {
		routes := s.Routes()
		for _, g := range []int{1, 2, 3} {
			group := routes.Filter(g)
			Expect(group[0].ID).To(Equal(elliptics.MinID))
			Expect(group[len(group)-1].ID).To(Equal(elliptics.MaxID))
			Expect(group[0].Address).To(Equal(group[len(group)-2].Address))
		}
	})

	It("finds keys by all of their indexes", func() {
		Expect(s.Write(ctx, "a", []byte("1"))).To(Succeed())
		Expect(s.Write(ctx, "b", []byte("2"))).To(Succeed())
		Expect(s.SetIndexes(ctx, "a", []string{"x", "y"}, []string{"a_x", "a_y"})).To(Succeed())
		Expect(s.SetIndexes(ctx, "b", []string{"x"}, []string{"b_x"})).To(Succeed())

		res, err := s.FindAllIndexes(ctx, []string{"x"})
		Expect(err).ToNot(HaveOccurred())
		Expect(res).To(HaveLen(2))

		res, err = s.FindAllIndexes(ctx, []string{"x", "y"})
		Expect(err).ToNot(HaveOccurred())
		Expect(res).To(HaveLen(1))
		Expect(res[0].ID).To(Equal(elliptics.Transform("a")))
		data, ok := res[0].Data(elliptics.Transform("y"))
		Expect(ok).To(BeTrue())
		Expect(data).To(Equal("a_y"))

		Expect(s.RemoveIndexes(ctx, "a", []string{"x"})).To(Succeed())
		entries, err := s.ListIndexes(ctx, "a")
		Expect(err).ToNot(HaveOccurred())
		Expect(entries).To(Equal([]elliptics.IndexEntry{{Index: elliptics.Transform("y"), Data: "a_y"}}))
	})

	It("rejects mismatched index payloads", func() {
		err := s.SetIndexes(ctx, "a", []string{"x", "y"}, []string{"a_x"})
		Expect(errors.Is(err, elliptics.ErrWrongArguments)).To(BeTrue())
	})

	It("hides keys behind disabled backends", func() {
		Expect(s.Write(ctx, "key", []byte("data"))).To(Succeed())
		for _, n := range cluster.Nodes() {
			Expect(s.DisableBackend(ctx, n.Address(), 0)).To(Succeed())
			Expect(s.DisableBackend(ctx, n.Address(), 1)).To(Succeed())
		}
		_, err := s.Read(ctx, "key")
		Expect(errors.Is(err, elliptics.ErrAddrNotExists)).To(BeTrue())
	})

	Describe("recovery", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = ioutil.TempDir("", "ellipticstest")
			Expect(err).ToNot(HaveOccurred())
		})

		AfterEach(func() {
			os.RemoveAll(dir)
		})

		It("copies keys into groups missing them with dc", func() {
			restricted := s.Clone()
			restricted.SetGroups([]int{1})
			Expect(restricted.Write(ctx, "key", []byte("data"))).To(Succeed())
			Expect(restricted.SetIndexes(ctx, "key", []string{"x"}, []string{"key_x"})).To(Succeed())

			code, err := cluster.RunRecovery(ctx, []string{"dnet_recovery", "--remote", "127.0.0.1:1025:2", "--groups", "1,2,3", "dc"}, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(ExitOK))

			res, err := s.ReadFromGroups(ctx, "key", []int{3})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Data).To(Equal([]byte("data")))

			g3 := s.Clone()
			g3.SetGroups([]int{3})
			found, err := g3.FindAllIndexes(ctx, []string{"x"})
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(HaveLen(1))
		})

		It("restores data only for keys listed in the dump file", func() {
			restricted := s.Clone()
			restricted.SetGroups([]int{1})
			Expect(restricted.Write(ctx, "listed", []byte("data"))).To(Succeed())
			Expect(restricted.SetIndexes(ctx, "listed", []string{"x"}, []string{"listed_x"})).To(Succeed())
			Expect(restricted.Write(ctx, "skipped", []byte("data"))).To(Succeed())

			dump := filepath.Join(dir, "dump")
			Expect(ioutil.WriteFile(dump, []byte(elliptics.Transform("listed").String()+"\n"), 0644)).To(Succeed())
			code, err := cluster.RunRecovery(ctx, []string{"dnet_recovery", "--groups", "1,2", "--dump-file", dump, "dc"}, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(ExitOK))

			Expect(cluster.Stored("listed", 2)).To(BeTrue())
			Expect(cluster.Stored("skipped", 2)).To(BeFalse())
			Expect(cluster.Stored("listed", 3)).To(BeFalse())

			g2 := s.Clone()
			g2.SetGroups([]int{2})
			found, err := g2.FindAllIndexes(ctx, []string{"x"})
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeEmpty())
		})

		It("moves misplaced keys back with merge", func() {
			id := elliptics.Transform("key")
			addr, err := s.Lookup(ctx, id, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(s.DisableBackend(ctx, addr, 0)).To(Succeed())
			Expect(s.DisableBackend(ctx, addr, 1)).To(Succeed())

			g1 := s.Clone()
			g1.SetGroups([]int{1})
			Expect(g1.Write(ctx, "key", []byte("data"))).To(Succeed())

			Expect(s.EnableBackend(ctx, addr, 0)).To(Succeed())
			Expect(s.EnableBackend(ctx, addr, 1)).To(Succeed())
			_, err = g1.Read(ctx, "key")
			Expect(errors.Is(err, elliptics.ErrNotFound)).To(BeTrue())

			code, err := cluster.RunRecovery(ctx, []string{"dnet_recovery", "--remote", addr.String(), "--groups", "1", "merge"}, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(ExitOK))
			r, err := g1.Read(ctx, "key")
			Expect(err).ToNot(HaveOccurred())
			Expect(r.Address).To(Equal(addr))
		})

		It("rejects unknown modes", func() {
			code, err := cluster.RunRecovery(ctx, []string{"dnet_recovery", "repair"}, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(ExitUsage))
		})
	})
})
