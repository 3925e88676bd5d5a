package read_write_lib

import (
	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/kis8ya/elliptics-qa/common"
)

var _ = Describe("Getter", func() {
	var g *Getter

	BeforeEach(func() {
		g = &Getter{Rand: common.NewRand(3), MinLength: 16, MaxLength: 256}
	})

	It("draws data within the bounds", func() {
		for i := 0; i < 50; i++ {
			Expect(len(g.Data())).To(BeNumerically(">=", 16))
			Expect(len(g.Data())).To(BeNumerically("<=", 256))
		}
		chunks := g.Chunks(4)
		Expect(chunks).To(HaveLen(4))
		for _, c := range chunks {
			Expect(len(c)).To(BeNumerically(">=", ShortestData))
		}
		Expect(g.UserFlags(5)).To(BeNumerically("<=", 5))
	})

	It("draws read offsets and sizes of their class", func() {
		for length := ShortestData; length < 40; length++ {
			Expect(g.ReadOffset(ReadFromStart, length)).To(Equal(0))
			middle := g.ReadOffset(ReadFromMiddle, length)
			Expect(middle).To(And(BeNumerically(">=", 1), BeNumerically("<", length)))
			Expect(g.ReadOffset(ReadPastTheBoundary, length)).To(BeNumerically(">", length))

			Expect(g.ReadSize(ReadToEnd, length, 0)).To(Equal(0))
			Expect(g.ReadSize(ReadDataSize, length, 0)).To(Equal(length))
			Expect(g.ReadSize(ReadPart, length, 0)).To(BeNumerically("<", length))
			Expect(g.ReadSize(ReadOverSize, length, 0)).To(BeNumerically(">", length))
			Expect(middle + g.ReadSize(ReadFitsOffset, length, middle)).To(BeNumerically("<=", length))
			Expect(middle + g.ReadSize(ReadPastOffset, length, middle)).To(BeNumerically(">", length))
		}
	})

	table.DescribeTable("draws offset writes ending where their class says",
		func(class WriteOffset, end func(length, endsAt int) bool) {
			for length := ShortestData; length < 40; length++ {
				offset := g.WriteOffset(class, length)
				written := g.WriteLength(class, length, offset)
				Expect(written).To(BeNumerically(">=", 1))
				Expect(end(length, offset+written)).To(BeTrue(), "%s: %d bytes at %d of %d", class, written, offset, length)
			}
		},
		table.Entry("beginning", WriteAtBeginning, func(l, e int) bool { return e < l }),
		table.Entry("middle", WriteInMiddle, func(l, e int) bool { return e < l }),
		table.Entry("end", WriteUpToEnd, func(l, e int) bool { return e == l }),
		table.Entry("appending", WriteAppending, func(l, e int) bool { return e > l }),
		table.Entry("over the boundary", WriteOverBoundary, func(l, e int) bool { return e > l+1 }),
	)

	It("draws chunk sizes of their class", func() {
		Expect(g.ChunkSize(NoChunks, 10)).To(Equal(0))
		Expect(g.ChunkSize(ChunkPart, 10)).To(BeNumerically("<", 10))
		Expect(g.ChunkSize(ChunkDataSize, 10)).To(Equal(10))
		Expect(g.ChunkSize(ChunkOverSize, 10)).To(BeNumerically(">", 10))
	})
})

var _ = Describe("Expected data", func() {
	table.DescribeTable("of a read",
		func(offset, size int, expected string) {
			Expect(string(ReadRange([]byte("0123456789"), offset, size))).To(Equal(expected))
		},
		table.Entry("whole", 0, 0, "0123456789"),
		table.Entry("oversized", 0, 20, "0123456789"),
		table.Entry("part", 2, 3, "234"),
		table.Entry("tail", 7, 0, "789"),
	)

	table.DescribeTable("of an offset write",
		func(offset int, actual, expected string) {
			Expect(string(OverlayRange([]byte("0123"), []byte("ab"), []byte(actual), offset))).To(Equal(expected))
		},
		table.Entry("at the beginning", 0, "ab", "ab"),
		table.Entry("inside", 2, "01ab", "01ab"),
		table.Entry("appending", 4, "0123ab", "0123ab"),
		table.Entry("past the end", 6, "0123xyab", "0123xyab"),
		table.Entry("past the end of a short read", 6, "", "0123\x00\x00ab"),
	)
})
