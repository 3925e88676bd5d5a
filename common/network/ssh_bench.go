package network

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

// Runner executes a shell command line on a host.
type Runner interface {
	Run(ctx context.Context, host, cmd string) ([]byte, error)
}

// SSHBench drives real hosts: iptables for drops, tc netem for delays.
type SSHBench struct {
	Runner      Runner
	Interface   string
	HistoryPath string
	// Backends per node, numbered from 0
	BackendsNumber int
}

var _ Bench = (*SSHBench)(nil)

func command(args ...string) string {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		quoted = append(quoted, shellescape.Quote(a))
	}
	return strings.Join(quoted, " ")
}

func (b *SSHBench) run(ctx context.Context, host string, args ...string) ([]byte, error) {
	cmd := command(args...)
	out, err := b.Runner.Run(ctx, host, cmd)
	if err == nil {
		logf.Log.Info("remote command", "host", host, "cmd", cmd)
	}
	return out, err
}

func (b *SSHBench) iptables(ctx context.Context, node elliptics.Node, action string) error {
	for _, rule := range DropRules(node.Port) {
		args := append([]string{"iptables", action}, rule...)
		if _, err := b.run(ctx, node.Host, args...); err != nil {
			return err
		}
	}
	return nil
}

func (b *SSHBench) DropNode(ctx context.Context, node elliptics.Node) error {
	return b.iptables(ctx, node, "--append")
}

func (b *SSHBench) ResumeNode(ctx context.Context, node elliptics.Node) error {
	return b.iptables(ctx, node, "--delete")
}

func (b *SSHBench) qdisc(ctx context.Context, host, action string, delay time.Duration) error {
	_, err := b.run(ctx, host, "tc", "qdisc", action, "dev", b.Interface, "root", "netem", "delay",
		fmt.Sprintf("%dms", delay.Milliseconds()))
	return err
}

func (b *SSHBench) AddScheduler(ctx context.Context, host string) error {
	return b.qdisc(ctx, host, "add", 0)
}

func (b *SSHBench) SetDelay(ctx context.Context, host string, delay time.Duration) error {
	return b.qdisc(ctx, host, "change", delay)
}

func (b *SSHBench) DelScheduler(ctx context.Context, host string) error {
	return b.qdisc(ctx, host, "del", 0)
}

func (b *SSHBench) RouteIDs(ctx context.Context, node elliptics.Node, backendID int) ([]elliptics.ID, error) {
	file := path.Join(b.HistoryPath, fmt.Sprint(backendID), "ids")
	out, err := b.run(ctx, node.Host, "cat", file)
	if err != nil {
		return nil, err
	}
	return elliptics.SplitIDs(out)
}

func (b *SSHBench) Backends(ctx context.Context, node elliptics.Node) ([]int, error) {
	ids := make([]int, 0, b.BackendsNumber)
	for i := 0; i < b.BackendsNumber; i++ {
		ids = append(ids, i)
	}
	return ids, nil
}
