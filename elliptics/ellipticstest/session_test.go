package ellipticstest

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

var _ = Describe("Session data", func() {
	var (
		ctx context.Context
		s   elliptics.Session
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = NewCluster(testNodes(), 2).Session()
	})

	isWrongArguments := func(err error) bool { return errors.Is(err, elliptics.ErrWrongArguments) }

	It("stores the user flags and the time of the write", func() {
		s.SetUserFlags(42)
		Expect(s.Write(ctx, "key", []byte("data"))).To(Succeed())
		r, err := s.Read(ctx, "key")
		Expect(err).ToNot(HaveOccurred())
		Expect(r.UserFlags).To(Equal(uint64(42)))
		Expect(r.Timestamp).To(BeTemporally("~", time.Now(), time.Second))

		clone := s.Clone()
		clone.SetUserFlags(7)
		Expect(s.Write(ctx, "key", []byte("data"))).To(Succeed())
		r, err = s.Read(ctx, "key")
		Expect(err).ToNot(HaveOccurred())
		Expect(r.UserFlags).To(Equal(uint64(42)))
	})

	table.DescribeTable("reads a range",
		func(offset, size uint64, expected string) {
			Expect(s.Write(ctx, "key", []byte("0123456789"))).To(Succeed())
			r, err := s.ReadData(ctx, "key", offset, size)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(r.Data)).To(Equal(expected))
		},
		table.Entry("whole", uint64(0), uint64(0), "0123456789"),
		table.Entry("head", uint64(0), uint64(4), "0123"),
		table.Entry("oversized from the start", uint64(0), uint64(100), "0123456789"),
		table.Entry("tail", uint64(6), uint64(0), "6789"),
		table.Entry("middle", uint64(3), uint64(4), "3456"),
		table.Entry("up to the end", uint64(3), uint64(7), "3456789"),
	)

	table.DescribeTable("refuses a range out of the data",
		func(offset, size uint64) {
			Expect(s.Write(ctx, "key", []byte("0123456789"))).To(Succeed())
			_, err := s.ReadData(ctx, "key", offset, size)
			Expect(isWrongArguments(err)).To(BeTrue(), "%v", err)
		},
		table.Entry("offset at the end", uint64(10), uint64(0)),
		table.Entry("offset past the end", uint64(20), uint64(1)),
		table.Entry("size past the end", uint64(3), uint64(8)),
	)

	table.DescribeTable("writes at an offset",
		func(offset uint64, data, expected string) {
			Expect(s.Write(ctx, "key", []byte("0123456789"))).To(Succeed())
			Expect(s.WriteData(ctx, "key", []byte(data), offset, 0)).To(Succeed())
			r, err := s.Read(ctx, "key")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(r.Data)).To(Equal(expected))
		},
		table.Entry("at the beginning", uint64(0), "ab", "ab"),
		table.Entry("in the middle", uint64(3), "ab", "012ab"),
		table.Entry("up to the end", uint64(8), "ab", "01234567ab"),
		table.Entry("appending", uint64(10), "ab", "0123456789ab"),
		table.Entry("over the boundary", uint64(12), "ab", "0123456789\x00\x00ab"),
	)

	table.DescribeTable("writes in chunks",
		func(offset, chunk uint64) {
			data := []byte("chunked payload of some length")
			Expect(s.WriteData(ctx, "key", data, offset, chunk)).To(Succeed())
			r, err := s.ReadData(ctx, "key", offset, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(r.Data).To(Equal(data))
		},
		table.Entry("one piece", uint64(0), uint64(0)),
		table.Entry("small chunks", uint64(0), uint64(4)),
		table.Entry("small chunks at an offset", uint64(5), uint64(7)),
		table.Entry("chunk of the data size", uint64(5), uint64(30)),
		table.Entry("chunk over the data size", uint64(0), uint64(100)),
	)

	Context("prepare, plain write and commit", func() {
		It("publishes the data on commit only", func() {
			s.SetUserFlags(3)
			Expect(s.WritePrepare(ctx, "key", []byte("ab"), 0, 6)).To(Succeed())
			_, err := s.Read(ctx, "key")
			Expect(errors.Is(err, elliptics.ErrNotFound)).To(BeTrue())
			Expect(s.WritePlain(ctx, "key", []byte("cd"), 2)).To(Succeed())
			_, err = s.Read(ctx, "key")
			Expect(errors.Is(err, elliptics.ErrNotFound)).To(BeTrue())

			Expect(s.WriteCommit(ctx, "key", []byte("ef"), 4, 6)).To(Succeed())
			r, err := s.Read(ctx, "key")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(r.Data)).To(Equal("abcdef"))
			Expect(r.UserFlags).To(Equal(uint64(3)))
		})

		It("keeps the old object readable until the commit", func() {
			Expect(s.Write(ctx, "key", []byte("old"))).To(Succeed())
			Expect(s.WritePrepare(ctx, "key", []byte("new"), 0, 3)).To(Succeed())
			r, err := s.Read(ctx, "key")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(r.Data)).To(Equal("old"))
		})

		It("cuts the object to the commit size", func() {
			Expect(s.WritePrepare(ctx, "key", []byte("ab"), 0, 8)).To(Succeed())
			Expect(s.WriteCommit(ctx, "key", []byte("cd"), 2, 3)).To(Succeed())
			r, err := s.Read(ctx, "key")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(r.Data)).To(Equal("abc"))

			Expect(s.WritePrepare(ctx, "empty", []byte("ab"), 0, 4)).To(Succeed())
			Expect(s.WriteCommit(ctx, "empty", []byte("cd"), 2, 0)).To(Succeed())
			r, err = s.Read(ctx, "empty")
			Expect(err).ToNot(HaveOccurred())
			Expect(r.Data).To(BeEmpty())
		})

		It("refuses sizes it cannot hold", func() {
			Expect(isWrongArguments(s.WritePrepare(ctx, "key", []byte("ab"), 0, 0))).To(BeTrue())
			Expect(isWrongArguments(s.WritePrepare(ctx, "key", []byte("abc"), 0, 2))).To(BeTrue())

			Expect(s.WritePrepare(ctx, "key", []byte("ab"), 0, 4)).To(Succeed())
			Expect(isWrongArguments(s.WritePlain(ctx, "key", []byte("cde"), 2))).To(BeTrue())
			Expect(isWrongArguments(s.WriteCommit(ctx, "key", []byte("cd"), 2, 5))).To(BeTrue())
			Expect(isWrongArguments(s.WriteCommit(ctx, "key", []byte("cde"), 2, 4))).To(BeTrue())
			Expect(s.WriteCommit(ctx, "key", []byte("cd"), 2, 4)).To(Succeed())
		})

		It("refuses a commit without a prepare", func() {
			err := s.WriteCommit(ctx, "key", []byte("data"), 0, 4)
			Expect(errors.Is(err, elliptics.ErrNotFound)).To(BeTrue())
			err = s.WritePlain(ctx, "key", []byte("data"), 0)
			Expect(errors.Is(err, elliptics.ErrNotFound)).To(BeTrue())
			_, err = s.Read(ctx, "key")
			Expect(errors.Is(err, elliptics.ErrNotFound)).To(BeTrue())
		})
	})

	Context("index search", func() {
		BeforeEach(func() {
			Expect(s.SetIndexes(ctx, "a", []string{"x", "y"}, []string{"a_x", "a_y"})).To(Succeed())
			Expect(s.SetIndexes(ctx, "b", []string{"y", "z"}, []string{"b_y", "b_z"})).To(Succeed())
			Expect(s.SetIndexes(ctx, "c", []string{"z"}, []string{"c_z"})).To(Succeed())
		})

		ids := func(res []elliptics.FindResult) []elliptics.ID {
			var out []elliptics.ID
			for _, r := range res {
				out = append(out, r.ID)
			}
			return out
		}

		It("finds keys carrying every index", func() {
			res, err := s.FindAllIndexes(ctx, []string{"y", "z"})
			Expect(err).ToNot(HaveOccurred())
			Expect(ids(res)).To(ConsistOf(elliptics.Transform("b")))
			Expect(res[0].Indexes).To(HaveLen(2))
		})

		It("finds keys carrying any index with the matching ones", func() {
			res, err := s.FindAnyIndexes(ctx, []string{"x", "z"})
			Expect(err).ToNot(HaveOccurred())
			Expect(ids(res)).To(ConsistOf(elliptics.Transform("a"), elliptics.Transform("b"), elliptics.Transform("c")))
			for _, r := range res {
				Expect(r.Indexes).To(HaveLen(1))
			}
			for _, r := range res {
				if r.ID == elliptics.Transform("a") {
					data, ok := r.Data(elliptics.Transform("x"))
					Expect(ok).To(BeTrue())
					Expect(data).To(Equal("a_x"))
				}
			}
		})

		It("drops keys whose indexes were all removed", func() {
			Expect(s.SetIndexes(ctx, "c", nil, nil)).To(Succeed())
			res, err := s.FindAnyIndexes(ctx, []string{"z"})
			Expect(err).ToNot(HaveOccurred())
			Expect(ids(res)).To(ConsistOf(elliptics.Transform("b")))
			list, err := s.ListIndexes(ctx, "c")
			Expect(err).ToNot(HaveOccurred())
			Expect(list).To(BeEmpty())
		})

		It("refuses a search without indexes", func() {
			_, err := s.FindAnyIndexes(ctx, nil)
			Expect(isWrongArguments(err)).To(BeTrue())
		})
	})
})
