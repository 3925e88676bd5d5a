package elliptics

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// AddressFamily used on the dnet_recovery command line and in remotes (AF_INET).
const AddressFamily = 2

// Node is a storage server process: where it listens and which group it serves.
type Node struct {
	Host  string `yaml:"host" json:"host"`
	Port  int    `yaml:"port" json:"port"`
	Group int    `yaml:"group" json:"group"`
}

// ParseNode parses "host:port:group".
func ParseNode(s string) (Node, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Node{}, errors.Newf("node %q: want host:port:group", s)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return Node{}, errors.Wrapf(err, "node %q: port", s)
	}
	group, err := strconv.Atoi(parts[2])
	if err != nil {
		return Node{}, errors.Wrapf(err, "node %q: group", s)
	}
	return Node{Host: parts[0], Port: port, Group: group}, nil
}

// ParseNodes parses a list of "host:port:group" strings.
func ParseNodes(ss []string) ([]Node, error) {
	nodes := make([]Node, 0, len(ss))
	for _, s := range ss {
		n, err := ParseNode(s)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (n Node) String() string {
	return fmt.Sprintf("%s:%d:%d", n.Host, n.Port, n.Group)
}

// Remote is the node address in the form the client library and the
// recovery tool accept: host:port:family.
func (n Node) Remote() string {
	return fmt.Sprintf("%s:%d:%d", n.Host, n.Port, AddressFamily)
}

// Address of the node with the host taken as is.
func (n Node) Address() Address {
	return Address{Host: n.Host, Port: n.Port, Family: AddressFamily}
}

// Address is a network endpoint as seen in the routing table.
type Address struct {
	Host   string
	Port   int
	Family int
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d:%d", a.Host, a.Port, a.Family)
}

// HostPort is host:port without the family.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Groups returns the distinct groups of nodes in first-seen order.
func Groups(nodes []Node) []int {
	seen := map[int]bool{}
	var groups []int
	for _, n := range nodes {
		if !seen[n.Group] {
			seen[n.Group] = true
			groups = append(groups, n.Group)
		}
	}
	return groups
}

// NodesInGroups returns the nodes that serve any of groups.
func NodesInGroups(nodes []Node, groups []int) []Node {
	var res []Node
	for _, n := range nodes {
		if containsInt(groups, n.Group) {
			res = append(res, n)
		}
	}
	return res
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
