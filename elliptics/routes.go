package elliptics

import "sort"

// Route is one routing table entry: the ring position a backend starts at.
type Route struct {
	ID        ID
	Address   Address
	BackendID int
	Group     int
}

// RouteTable is the client's view of the ring, sorted by group and ID.
type RouteTable []Route

// NewRouteTable sorts routes into table order.
func NewRouteTable(routes []Route) RouteTable {
	t := append(RouteTable(nil), routes...)
	sort.SliceStable(t, func(i, j int) bool {
		if t[i].Group != t[j].Group {
			return t[i].Group < t[j].Group
		}
		return t[i].ID.Compare(t[j].ID) < 0
	})
	return t
}

// Groups present in the table.
func (t RouteTable) Groups() []int {
	var groups []int
	for _, r := range t {
		if len(groups) == 0 || groups[len(groups)-1] != r.Group {
			groups = append(groups, r.Group)
		}
	}
	return groups
}

// Filter returns the entries of group.
func (t RouteTable) Filter(group int) RouteTable {
	var res RouteTable
	for _, r := range t {
		if r.Group == group {
			res = append(res, r)
		}
	}
	return res
}

// Addresses returns the distinct addresses in the table.
func (t RouteTable) Addresses() []Address {
	seen := map[Address]bool{}
	var addrs []Address
	for _, r := range t {
		if !seen[r.Address] {
			seen[r.Address] = true
			addrs = append(addrs, r.Address)
		}
	}
	return addrs
}

// HasAddress reports whether addr has at least one entry.
func (t RouteTable) HasAddress(addr Address) bool {
	for _, r := range t {
		if r.Address == addr {
			return true
		}
	}
	return false
}

// Owner returns the entry responsible for id in group: the entry with the
// greatest ID not above id; ids below the first entry wrap to the last one.
func (t RouteTable) Owner(id ID, group int) (Route, bool) {
	routes := t.Filter(group)
	if len(routes) == 0 {
		return Route{}, false
	}
	i := sort.Search(len(routes), func(i int) bool {
		return routes[i].ID.Compare(id) > 0
	})
	if i == 0 {
		return routes[len(routes)-1], true
	}
	return routes[i-1], true
}
