// Package network changes the state of bench nodes from the outside:
// firewall drops, traffic shaping and reading files off the hosts.
package network

import (
	"context"
	"fmt"
	"time"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

// Bench is the set of storage hosts under test.
type Bench interface {
	// DropNode cuts all traffic to and from the node port.
	DropNode(ctx context.Context, node elliptics.Node) error
	ResumeNode(ctx context.Context, node elliptics.Node) error

	AddScheduler(ctx context.Context, host string) error
	SetDelay(ctx context.Context, host string, delay time.Duration) error
	DelScheduler(ctx context.Context, host string) error

	// RouteIDs returns the ring positions a backend of node announces.
	RouteIDs(ctx context.Context, node elliptics.Node, backendID int) ([]elliptics.ID, error)
	Backends(ctx context.Context, node elliptics.Node) ([]int, error)
}

// DropRules are the iptables rules isolating a port, in append order.
func DropRules(port int) [][]string {
	p := fmt.Sprint(port)
	return [][]string{
		{"INPUT", "--proto", "tcp", "--destination-port", p, "--jump", "DROP"},
		{"INPUT", "--proto", "tcp", "--source-port", p, "--jump", "DROP"},
		{"OUTPUT", "--proto", "tcp", "--destination-port", p, "--jump", "DROP"},
		{"OUTPUT", "--proto", "tcp", "--source-port", p, "--jump", "DROP"},
	}
}
