package common

import (
	"crypto/sha1"
	"encoding/hex"
	"math/rand"
)

// Sha1 is the content key of data.
func Sha1(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// RandomData returns size random bytes, size 0 picks a size in [minSize, maxSize].
func RandomData(rng *rand.Rand, size, minSize, maxSize int) []byte {
	if size == 0 {
		if maxSize < minSize {
			maxSize = minSize
		}
		size = minSize + rng.Intn(maxSize-minSize+1)
	}
	data := make([]byte, size)
	rng.Read(data)
	return data
}

// KeyAndData returns random data with its content key.
func KeyAndData(rng *rand.Rand, size, minSize, maxSize int) (string, []byte) {
	data := RandomData(rng, size, minSize, maxSize)
	return Sha1(data), data
}

// NewRand seeds a generator, 0 seeds from the clock.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = rand.Int63()
	}
	return rand.New(rand.NewSource(seed))
}
