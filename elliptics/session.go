// Package elliptics describes the storage client the harness drives. The
// implementation is supplied by a registered driver: the real client
// bindings in the lab, or the in-memory cluster from ellipticstest.
package elliptics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ReadResult is a successful read.
type ReadResult struct {
	Key     string
	ID      ID
	Data    []byte
	Group   int
	Address Address
	// UserFlags of the session that wrote the data
	UserFlags uint64
	Timestamp time.Time
}

// IndexEntry is an index attached to a key with its per-key payload.
type IndexEntry struct {
	Index ID
	Data  string
}

// FindResult is one key matched by an index search.
type FindResult struct {
	ID      ID
	Indexes []IndexEntry
}

// Data returns the payload stored for index, if any.
func (r FindResult) Data(index ID) (string, bool) {
	for _, e := range r.Indexes {
		if e.Index == index {
			return e.Data, true
		}
	}
	return "", false
}

// Session is a client handle bound to a list of groups. Clones share the
// connection but not the group list or the user flags.
type Session interface {
	Groups() []int
	SetGroups(groups []int)
	// SetUserFlags sets the flags stored with every following write.
	SetUserFlags(flags uint64)
	Clone() Session

	Write(ctx context.Context, key string, data []byte) error
	// WriteData writes data at offset, cutting the object to offset+len(data).
	// A chunkSize smaller than data sends it as a prepare, plain writes and
	// a commit of chunkSize pieces. Zero writes in one piece.
	WriteData(ctx context.Context, key string, data []byte, offset, chunkSize uint64) error
	// WritePrepare reserves psize bytes and writes data at offset. Readers
	// keep seeing the previous object until the commit.
	WritePrepare(ctx context.Context, key string, data []byte, offset, psize uint64) error
	WritePlain(ctx context.Context, key string, data []byte, offset uint64) error
	// WriteCommit writes data at offset and publishes the first csize
	// prepared bytes.
	WriteCommit(ctx context.Context, key string, data []byte, offset, csize uint64) error
	Read(ctx context.Context, key string) (*ReadResult, error)
	// ReadData reads size bytes from offset. A size of 0 reads to the end.
	ReadData(ctx context.Context, key string, offset, size uint64) (*ReadResult, error)
	ReadFromGroups(ctx context.Context, key string, groups []int) (*ReadResult, error)
	BulkRead(ctx context.Context, keys []string) ([]ReadResult, error)
	Lookup(ctx context.Context, id ID, group int) (Address, error)

	SetIndexes(ctx context.Context, key string, indexes []string, data []string) error
	UpdateIndexes(ctx context.Context, key string, indexes []string, data []string) error
	RemoveIndexes(ctx context.Context, key string, indexes []string) error
	// FindAllIndexes returns the keys carrying every one of indexes in the
	// first group of the session.
	FindAllIndexes(ctx context.Context, indexes []string) ([]FindResult, error)
	// FindAnyIndexes returns the keys carrying at least one of indexes, with
	// the matching ones only.
	FindAnyIndexes(ctx context.Context, indexes []string) ([]FindResult, error)
	ListIndexes(ctx context.Context, key string) ([]IndexEntry, error)

	Routes() RouteTable
	EnableBackend(ctx context.Context, addr Address, backendID int) error
	DisableBackend(ctx context.Context, addr Address, backendID int) error

	Close() error
}

// Config is passed to a driver when dialing.
type Config struct {
	WaitTimeout  time.Duration
	CheckTimeout time.Duration
	LogFile      string
	LogLevel     string
	// MixStates enables weighted replica selection on reads.
	MixStates bool
	// Backends per node, for drivers that build their own cluster.
	Backends int
}

// Driver connects to the cluster made of nodes.
type Driver func(ctx context.Context, nodes []Node, cfg Config) (Session, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]Driver{}
)

// Register makes a driver available under name. It panics on duplicates.
func Register(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, ok := drivers[name]; ok {
		panic("elliptics: driver registered twice: " + name)
	}
	drivers[name] = d
}

// Drivers lists registered driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dial opens a session through the named driver, bound to all groups of nodes.
func Dial(ctx context.Context, driver string, nodes []Node, cfg Config) (Session, error) {
	driversMu.RLock()
	d, ok := drivers[driver]
	driversMu.RUnlock()
	if !ok {
		return nil, errors.Newf("unknown elliptics driver %q (registered: %v)", driver, Drivers())
	}
	if len(nodes) == 0 {
		return nil, errors.New("no nodes to connect to")
	}
	s, err := d(ctx, nodes, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", driver)
	}
	s.SetGroups(Groups(nodes))
	return s, nil
}
