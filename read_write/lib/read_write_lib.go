// Package read_write_lib picks the offsets and sizes of the read and write
// cases from their class, relative to the length of the stored data.
package read_write_lib

import (
	"math/rand"

	"github.com/kis8ya/elliptics-qa/common"
)

// ReadOffset classes.
type ReadOffset string

const (
	ReadFromStart       ReadOffset = "NULL"
	ReadFromMiddle      ReadOffset = "MIDDLE"
	ReadPastTheBoundary ReadOffset = "OVER_BOUNDARY"
)

// ReadSize classes. The offset dependent ones read up to or past the end.
type ReadSize string

const (
	ReadToEnd      ReadSize = "NULL"
	ReadDataSize   ReadSize = "DATA_SIZE"
	ReadPart       ReadSize = "PART"
	ReadOverSize   ReadSize = "OVER_SIZE"
	ReadFitsOffset ReadSize = "PART_DEPEND_ON_OFFSET_VALID"
	ReadPastOffset ReadSize = "PART_DEPEND_ON_OFFSET_INVALID"
)

// WriteOffset classes, also naming the length of the data written there.
type WriteOffset string

const (
	WriteAtBeginning  WriteOffset = "BEGINNING"
	WriteInMiddle     WriteOffset = "MIDDLE"
	WriteUpToEnd      WriteOffset = "END"
	WriteAppending    WriteOffset = "APPENDING"
	WriteOverBoundary WriteOffset = "OVER_BOUNDARY"
)

// ChunkSize classes.
type ChunkSize string

const (
	NoChunks      ChunkSize = "NULL"
	ChunkPart     ChunkSize = "MIDDLE"
	ChunkDataSize ChunkSize = "DATA_SIZE"
	ChunkOverSize ChunkSize = "OVER_SIZE"
)

// Getter draws values of a class. Lengths stay within MaxLength, the data
// the classes are drawn for must be ShortestData long at least.
type Getter struct {
	Rand      *rand.Rand
	MinLength int
	MaxLength int
}

// ShortestData every class can be drawn for.
const ShortestData = 3

// Between returns a random int in [lo, hi].
func (g *Getter) Between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.Rand.Intn(hi-lo+1)
}

// Data returns random data of a random length.
func (g *Getter) Data() []byte {
	least := g.MinLength
	if least < ShortestData {
		least = ShortestData
	}
	return common.RandomData(g.Rand, 0, least, g.MaxLength)
}

// Chunks returns n pieces of random data, about MaxLength long together.
func (g *Getter) Chunks(n int) [][]byte {
	chunks := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		chunks = append(chunks, common.RandomData(g.Rand, 0, ShortestData, g.MaxLength/n+ShortestData))
	}
	return chunks
}

// UserFlags returns random flags up to max, any flags when max is 0.
func (g *Getter) UserFlags(max uint64) uint64 {
	if max == 0 {
		return g.Rand.Uint64()
	}
	return g.Rand.Uint64() % (max + 1)
}

func (g *Getter) ReadOffset(class ReadOffset, length int) int {
	switch class {
	case ReadFromMiddle:
		return g.Between(1, length-1)
	case ReadPastTheBoundary:
		return g.Between(length+1, g.MaxLength+2)
	}
	return 0
}

// ReadSize needs the offset of the read for the offset dependent classes.
func (g *Getter) ReadSize(class ReadSize, length, offset int) int {
	switch class {
	case ReadDataSize:
		return length
	case ReadPart:
		return g.Between(1, length-1)
	case ReadOverSize:
		return g.Between(length+1, g.MaxLength+2)
	case ReadFitsOffset:
		return g.Between(1, length-offset)
	case ReadPastOffset:
		return g.Between(length-offset+1, length)
	}
	return 0
}

func (g *Getter) WriteOffset(class WriteOffset, length int) int {
	switch class {
	case WriteInMiddle:
		return g.Between(1, length-2)
	case WriteUpToEnd:
		return g.Between(1, length-1)
	case WriteAppending:
		return length
	case WriteOverBoundary:
		return g.Between(length+1, g.MaxLength+2)
	}
	return 0
}

// WriteLength is the length of data written at offset: short of the end for
// the beginning and the middle, reaching it for the end and past it when
// appending.
func (g *Getter) WriteLength(class WriteOffset, length, offset int) int {
	switch class {
	case WriteAtBeginning, WriteInMiddle:
		return g.Between(1, length-offset-1)
	case WriteUpToEnd:
		return length - offset
	case WriteAppending:
		return g.Between(length-offset+1, g.MaxLength+1)
	}
	return g.Between(1, g.MaxLength)
}

func (g *Getter) ChunkSize(class ChunkSize, length int) int {
	switch class {
	case ChunkPart:
		return g.Between(1, length-1)
	case ChunkDataSize:
		return length
	case ChunkOverSize:
		return g.Between(length+1, g.MaxLength+2)
	}
	return 0
}

// ReadRange is the part of data a valid read returns, size 0 reading to
// the end.
func ReadRange(data []byte, offset, size int) []byte {
	if size == 0 || offset+size > len(data) {
		return data[offset:]
	}
	return data[offset : offset+size]
}

// OverlayRange is what a read returns after written was stored at offset
// over old: old up to offset, then written. A gap between old and offset
// is not defined and is taken from actual.
func OverlayRange(old, written, actual []byte, offset int) []byte {
	res := make([]byte, 0, offset+len(written))
	if offset <= len(old) {
		res = append(res, old[:offset]...)
	} else {
		res = append(res, old...)
		if len(actual) >= offset {
			res = append(res, actual[len(old):offset]...)
		} else {
			res = append(res, make([]byte, offset-len(old))...)
		}
	}
	return append(res, written...)
}
