package network

import (
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/patrickmn/go-cache"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

// Resolver maps bench host names to the addresses the routing table reports.
type Resolver struct {
	cache  *cache.Cache
	lookup func(host string) ([]string, error)
}

func NewResolver(ttl time.Duration) *Resolver {
	return &Resolver{cache: cache.New(ttl, 2*ttl), lookup: net.LookupHost}
}

// Resolve returns the first IPv4 address of host, IP literals are returned as is.
func (r *Resolver) Resolve(host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	if ip, ok := r.cache.Get(host); ok {
		return ip.(string), nil
	}
	addrs, err := r.lookup(host)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			r.cache.SetDefault(host, a)
			return a, nil
		}
	}
	if len(addrs) == 0 {
		return "", errors.Newf("resolve %s: no addresses", host)
	}
	r.cache.SetDefault(host, addrs[0])
	return addrs[0], nil
}

// Address of node as it appears in the routing table.
func (r *Resolver) Address(node elliptics.Node) (elliptics.Address, error) {
	ip, err := r.Resolve(node.Host)
	if err != nil {
		return elliptics.Address{}, err
	}
	return elliptics.Address{Host: ip, Port: node.Port, Family: elliptics.AddressFamily}, nil
}
