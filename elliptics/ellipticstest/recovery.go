package ellipticstest

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

// Exit codes of RunRecovery.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

type recoveryArgs struct {
	mode     string
	remote   string
	groups   []int
	oneNode  *server
	nprocess int
	dumpIDs  map[elliptics.ID]bool
}

// selective recoveries restore data only, a full scan restores indexes too.
func (a *recoveryArgs) selective() bool {
	return a.oneNode != nil || a.dumpIDs != nil
}

func (a *recoveryArgs) wanted(id elliptics.ID) bool {
	return a.dumpIDs == nil || a.dumpIDs[id]
}

// RunRecovery behaves like `dnet_recovery ... dc|merge` against the cluster.
// args[0] is the program name. Usage errors yield ExitUsage, the Go error is
// reserved for failures to run at all, like an unreadable dump file.
func (c *Cluster) RunRecovery(ctx context.Context, args []string, stderr io.Writer) (int, error) {
	if stderr == nil {
		stderr = io.Discard
	}
	a, code, err := c.parseRecoveryArgs(args, stderr)
	if err != nil || code != ExitOK {
		return code, err
	}
	if err := ctx.Err(); err != nil {
		return ExitError, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch a.mode {
	case "dc":
		c.recoverDC(a)
	case "merge":
		c.recoverMerge(a)
	}
	return ExitOK, nil
}

func (c *Cluster) parseRecoveryArgs(args []string, stderr io.Writer) (*recoveryArgs, int, error) {
	if len(args) == 0 {
		return nil, ExitUsage, nil
	}
	fs := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	fs.SetOutput(stderr)
	remote := fs.StringP("remote", "r", "", "remote node host:port:family")
	groups := fs.StringP("groups", "g", "", "comma separated groups")
	oneNode := fs.StringP("one-node", "o", "", "recover only keys of this node")
	nprocess := fs.IntP("nprocess", "n", 1, "number of worker processes")
	dumpFile := fs.StringP("dump-file", "f", "", "file with ids to recover")
	if err := fs.Parse(args[1:]); err != nil {
		return nil, ExitUsage, nil
	}
	if fs.NArg() != 1 || (fs.Arg(0) != "dc" && fs.Arg(0) != "merge") {
		_, _ = io.WriteString(stderr, "expected exactly one of: dc, merge\n")
		return nil, ExitUsage, nil
	}
	a := &recoveryArgs{mode: fs.Arg(0), remote: *remote, nprocess: *nprocess}
	if *nprocess < 1 {
		return nil, ExitUsage, nil
	}

	if *groups != "" {
		for _, g := range strings.Split(*groups, ",") {
			v, err := strconv.Atoi(strings.TrimSpace(g))
			if err != nil {
				return nil, ExitUsage, nil
			}
			a.groups = append(a.groups, v)
		}
	} else {
		a.groups = elliptics.Groups(c.Nodes())
	}

	if *oneNode != "" {
		parts := strings.Split(*oneNode, ":")
		if len(parts) < 2 {
			return nil, ExitUsage, nil
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, ExitUsage, nil
		}
		c.mu.Lock()
		s, err := c.server(elliptics.Address{Host: parts[0], Port: port})
		c.mu.Unlock()
		if err != nil {
			return nil, ExitError, nil
		}
		a.oneNode = s
	}

	if *dumpFile != "" {
		ids, err := readDumpFile(*dumpFile)
		if err != nil {
			return nil, ExitError, err
		}
		a.dumpIDs = ids
	}
	return a, ExitOK, nil
}

func readDumpFile(path string) (map[elliptics.ID]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open dump file")
	}
	defer f.Close()
	ids := map[elliptics.ID]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, err := elliptics.ParseID(line)
		if err != nil {
			return nil, errors.Wrap(err, "dump file")
		}
		ids[id] = true
	}
	return ids, errors.Wrap(sc.Err(), "read dump file")
}

func inGroups(groups []int, g int) bool {
	for _, x := range groups {
		if x == g {
			return true
		}
	}
	return false
}

// recoverDC copies every placed key missing from some of the groups into them.
func (c *Cluster) recoverDC(a *recoveryArgs) {
	routes := c.liveRoutes()
	sources := map[elliptics.ID]*record{}
	for _, s := range c.servers {
		if s.dropped || !inGroups(a.groups, s.node.Group) {
			continue
		}
		if a.oneNode != nil && s != a.oneNode {
			continue
		}
		for _, b := range s.backends {
			if !b.enabled {
				continue
			}
			for id, rec := range b.records {
				if !rec.hasData || !a.wanted(id) || !c.placed(routes, id, s, b) {
					continue
				}
				if _, ok := sources[id]; !ok {
					sources[id] = rec
				}
			}
		}
	}
	for id, src := range sources {
		for _, g := range a.groups {
			_, b, ok := c.owner(routes, id, g)
			if !ok {
				continue
			}
			if dst, ok := b.records[id]; ok && dst.hasData {
				continue
			}
			b.records[id] = src.clone(!a.selective())
		}
	}
}

// recoverMerge moves keys stored away from their ring position back to it.
func (c *Cluster) recoverMerge(a *recoveryArgs) {
	routes := c.liveRoutes()
	for _, s := range c.servers {
		if s.dropped || !inGroups(a.groups, s.node.Group) {
			continue
		}
		for _, b := range s.backends {
			if !b.enabled {
				continue
			}
			for id, rec := range b.records {
				if !rec.hasData || !a.wanted(id) {
					continue
				}
				owner, ob, ok := c.owner(routes, id, s.node.Group)
				if !ok || (owner == s && ob == b) {
					continue
				}
				if a.oneNode != nil && owner != a.oneNode {
					continue
				}
				if dst, ok := ob.records[id]; !ok || !dst.hasData {
					ob.records[id] = rec.clone(!a.selective())
				}
				delete(b.records, id)
			}
		}
	}
}
