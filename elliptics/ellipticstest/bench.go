package ellipticstest

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

// DropNode makes the node unreachable: it leaves the ring of every client.
func (c *Cluster) DropNode(ctx context.Context, node elliptics.Node) error {
	return c.setDropped(node, true)
}

// ResumeNode brings a dropped node back.
func (c *Cluster) ResumeNode(ctx context.Context, node elliptics.Node) error {
	return c.setDropped(node, false)
}

func (c *Cluster) setDropped(node elliptics.Node, dropped bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.serverByNode(node)
	if err != nil {
		return err
	}
	s.dropped = dropped
	return nil
}

// Dropped reports whether node is currently unreachable.
func (c *Cluster) Dropped(node elliptics.Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.serverByNode(node)
	return err == nil && s.dropped
}

func (c *Cluster) hostServers(host string) ([]*server, error) {
	servers := c.serverByHost(host)
	if len(servers) == 0 {
		return nil, errors.Newf("host %s is not part of the cluster", host)
	}
	return servers, nil
}

// AddScheduler prepares traffic shaping on host.
func (c *Cluster) AddScheduler(ctx context.Context, host string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	servers, err := c.hostServers(host)
	if err != nil {
		return err
	}
	for _, s := range servers {
		if s.scheduler {
			return errors.Newf("scheduler already exists on %s", host)
		}
		s.scheduler = true
	}
	return nil
}

// SetDelay delays packets leaving host.
func (c *Cluster) SetDelay(ctx context.Context, host string, delay time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	servers, err := c.hostServers(host)
	if err != nil {
		return err
	}
	for _, s := range servers {
		if !s.scheduler {
			return errors.Newf("no scheduler on %s", host)
		}
		s.delay = delay
	}
	return nil
}

// DelScheduler removes traffic shaping from host.
func (c *Cluster) DelScheduler(ctx context.Context, host string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	servers, err := c.hostServers(host)
	if err != nil {
		return err
	}
	for _, s := range servers {
		s.scheduler = false
		s.delay = 0
	}
	return nil
}

// Delay currently applied to host.
func (c *Cluster) Delay(host string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.serverByHost(host) {
		return s.delay
	}
	return 0
}

// RouteIDs returns the ring positions of a backend, the content of its ids file.
func (c *Cluster) RouteIDs(ctx context.Context, node elliptics.Node, backendID int) ([]elliptics.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.serverByNode(node)
	if err != nil {
		return nil, err
	}
	for _, b := range s.backends {
		if b.id == backendID {
			return append([]elliptics.ID(nil), b.ids...), nil
		}
	}
	return nil, errors.Newf("node %s has no backend %d", node, backendID)
}

// Backends returns the backend ids of node.
func (c *Cluster) Backends(ctx context.Context, node elliptics.Node) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.serverByNode(node)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(s.backends))
	for _, b := range s.backends {
		ids = append(ids, b.id)
	}
	return ids, nil
}
