// Package ellipticstest provides an in-memory storage cluster for tests.
//
// The cluster routes every key to the backend owning its position on the
// ring of each group, so a key written while a group or a node is unreachable
// lands somewhere else or nowhere, the way it does on a real cluster. It also
// plays the bench (dropping nodes, delays, ids files) and the recovery tool.
package ellipticstest

import (
	"context"
	"crypto/sha512"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

// DriverName is the client driver served by the shared in-memory clusters.
const DriverName = "memory"

const (
	defaultBackends = 2
	idsPerBackend   = 4
)

func init() {
	elliptics.Register(DriverName, func(ctx context.Context, nodes []elliptics.Node, cfg elliptics.Config) (elliptics.Session, error) {
		return Shared(nodes, cfg.Backends).Session(), nil
	})
}

type record struct {
	key       string
	data      []byte
	hasData   bool
	userFlags uint64
	timestamp time.Time
	// reserved by a prepare and not committed yet, nil otherwise
	pending []byte
	indexes map[elliptics.ID]string
}

func (r *record) clone(withIndexes bool) *record {
	c := &record{
		key:       r.key,
		data:      append([]byte(nil), r.data...),
		hasData:   r.hasData,
		userFlags: r.userFlags,
		timestamp: r.timestamp,
	}
	if withIndexes {
		c.indexes = make(map[elliptics.ID]string, len(r.indexes))
		for k, v := range r.indexes {
			c.indexes[k] = v
		}
	}
	return c
}

type backend struct {
	id      int
	enabled bool
	ids     []elliptics.ID
	records map[elliptics.ID]*record
}

type server struct {
	node      elliptics.Node
	dropped   bool
	scheduler bool
	delay     time.Duration
	backends  []*backend
}

func (s *server) address() elliptics.Address {
	return s.node.Address()
}

// Cluster is an in-memory storage cluster. It is safe for concurrent use.
type Cluster struct {
	mu      sync.Mutex
	servers []*server
}

// NewCluster builds a cluster of nodes with the given number of backends on
// each. Ring positions are derived from the node addresses, so two clusters
// of the same nodes route identically.
func NewCluster(nodes []elliptics.Node, backends int) *Cluster {
	if backends <= 0 {
		backends = defaultBackends
	}
	c := &Cluster{}
	for _, n := range nodes {
		srv := &server{node: n}
		for b := 0; b < backends; b++ {
			be := &backend{id: b, enabled: true, records: map[elliptics.ID]*record{}}
			for i := 0; i < idsPerBackend; i++ {
				seed := fmt.Sprintf("%s/%d/%d", n, b, i)
				be.ids = append(be.ids, elliptics.ID(sha512.Sum512([]byte(seed))))
			}
			srv.backends = append(srv.backends, be)
		}
		c.servers = append(c.servers, srv)
	}
	return c
}

var (
	sharedMu sync.Mutex
	shared   = map[string]*Cluster{}
)

// Shared returns the process-wide cluster holding all of nodes, creating a
// cluster of exactly nodes when none does. A client dialing a single remote
// thus joins the cluster that remote belongs to.
func Shared(nodes []elliptics.Node, backends int) *Cluster {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.String())
	}
	sort.Strings(names)
	key := strings.Join(names, ",")

	sharedMu.Lock()
	defer sharedMu.Unlock()
	if c, ok := shared[key]; ok {
		return c
	}
	for _, c := range shared {
		if c.holds(nodes) {
			return c
		}
	}
	c := NewCluster(nodes, backends)
	shared[key] = c
	return c
}

func (c *Cluster) holds(nodes []elliptics.Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range nodes {
		if _, err := c.serverByNode(n); err != nil {
			return false
		}
	}
	return true
}

// Nodes of the cluster.
func (c *Cluster) Nodes() []elliptics.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	nodes := make([]elliptics.Node, 0, len(c.servers))
	for _, s := range c.servers {
		nodes = append(nodes, s.node)
	}
	return nodes
}

// Session opens a client session bound to all groups.
func (c *Cluster) Session() elliptics.Session {
	return &session{c: c, groups: elliptics.Groups(c.Nodes())}
}

// liveRoutes is the ring made of reachable servers and enabled backends.
func (c *Cluster) liveRoutes() elliptics.RouteTable {
	var routes []elliptics.Route
	for _, s := range c.servers {
		if s.dropped {
			continue
		}
		for _, b := range s.backends {
			if !b.enabled {
				continue
			}
			for _, id := range b.ids {
				routes = append(routes, elliptics.Route{ID: id, Address: s.address(), BackendID: b.id, Group: s.node.Group})
			}
		}
	}
	return elliptics.NewRouteTable(routes)
}

func (c *Cluster) server(addr elliptics.Address) (*server, error) {
	for _, s := range c.servers {
		if s.node.Host == addr.Host && s.node.Port == addr.Port {
			return s, nil
		}
	}
	return nil, elliptics.Errorf(elliptics.ErrAddrNotExists, "%s", addr)
}

func (c *Cluster) serverByHost(host string) []*server {
	var res []*server
	for _, s := range c.servers {
		if s.node.Host == host {
			res = append(res, s)
		}
	}
	return res
}

func (c *Cluster) serverByNode(node elliptics.Node) (*server, error) {
	for _, s := range c.servers {
		if s.node.Host == node.Host && s.node.Port == node.Port {
			return s, nil
		}
	}
	return nil, errors.Newf("node %s is not part of the cluster", node)
}

// owner resolves the backend responsible for id in group on the given ring.
func (c *Cluster) owner(routes elliptics.RouteTable, id elliptics.ID, group int) (*server, *backend, bool) {
	r, ok := routes.Owner(id, group)
	if !ok {
		return nil, nil, false
	}
	s, err := c.server(r.Address)
	if err != nil {
		return nil, nil, false
	}
	for _, b := range s.backends {
		if b.id == r.BackendID {
			return s, b, true
		}
	}
	return nil, nil, false
}

// placed reports whether id stored on b of s sits where the ring puts it.
func (c *Cluster) placed(routes elliptics.RouteTable, id elliptics.ID, s *server, b *backend) bool {
	owner, ob, ok := c.owner(routes, id, s.node.Group)
	return ok && owner == s && ob == b
}

// Stored reports whether any backend of group holds data for key, placed
// or not.
func (c *Cluster) Stored(key string, group int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := elliptics.Transform(key)
	for _, s := range c.servers {
		if s.node.Group != group {
			continue
		}
		for _, b := range s.backends {
			if rec, ok := b.records[id]; ok && rec.hasData {
				return true
			}
		}
	}
	return false
}
