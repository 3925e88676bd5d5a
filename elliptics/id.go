package elliptics

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"

	"github.com/cockroachdb/errors"
)

// IDSize is the length of a transformed identifier.
const IDSize = sha512.Size

// ID is the position of a key on the hash ring.
type ID [IDSize]byte

var (
	// MinID is the lowest ring position (00...00).
	MinID ID
	// MaxID is the highest ring position (ff...ff).
	MaxID = func() ID {
		var id ID
		for i := range id {
			id[i] = 0xff
		}
		return id
	}()
)

// Transform maps a key to its ring position the same way the client does.
func Transform(key string) ID {
	return ID(sha512.Sum512([]byte(key)))
}

// ParseID decodes a hex encoded identifier.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.Wrapf(err, "id %q", s)
	}
	if len(b) != IDSize {
		return id, errors.Newf("id %q: want %d bytes, got %d", s, IDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// SplitIDs cuts raw concatenated identifiers (the format of a backend ids file).
func SplitIDs(raw []byte) ([]ID, error) {
	if len(raw)%IDSize != 0 {
		return nil, errors.Newf("ids blob of %d bytes is not a multiple of %d", len(raw), IDSize)
	}
	ids := make([]ID, 0, len(raw)/IDSize)
	for off := 0; off < len(raw); off += IDSize {
		var id ID
		copy(id[:], raw[off:off+IDSize])
		ids = append(ids, id)
	}
	return ids, nil
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Compare orders identifiers as unsigned big-endian numbers.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}
