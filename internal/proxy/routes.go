package proxy

import (
	"net"
	"strconv"
	"sync"
)

// Route maps one virtual hostname (plus optional aliases) on a proxy-side
// listening port to a backend container address. Route values are immutable
// snapshots: the route table replaces the whole sequence on every update and
// never mutates an element in place.
type Route struct {
	Hostname         string   `json:"hostname"`
	HostnameAliases  []string `json:"hostnameAliases"`
	Port             int      `json:"port"`
	ContainerAddress string   `json:"containerAddress"`
	ContainerPort    int      `json:"containerPort"`
}

// Target is the backend address this route forwards to.
func (r Route) Target() string {
	return net.JoinHostPort(r.ContainerAddress, strconv.Itoa(r.ContainerPort))
}

// MatchesHost reports whether host equals the route's hostname or one of its
// aliases.
func (r Route) MatchesHost(host string) bool {
	if r.Hostname == host {
		return true
	}
	for _, alias := range r.HostnameAliases {
		if alias == host {
			return true
		}
	}
	return false
}

// RouteStatus is a Route copy annotated with its traffic meter snapshot for
// reporting.
type RouteStatus struct {
	Route
	Stats any `json:"stats,omitempty"`
}

// portLifecycle is what the route table drives when the set of referenced
// ports changes. Satisfied by ListenerManager; faked in tests.
type portLifecycle interface {
	EnsureListener(port int)
	CloseListener(port int)
}

// RouteTable holds the authoritative route sequence. Mutations are
// single-writer events; readers always observe a fully-built sequence because
// updates swap the slice under the lock rather than editing it.
type RouteTable struct {
	mu     sync.RWMutex
	routes []Route

	listeners portLifecycle
	stats     *StatsCollector
}

// NewRouteTable creates an empty table wired to the listener lifecycle and
// stats collector it must keep in sync.
func NewRouteTable(listeners portLifecycle, stats *StatsCollector) *RouteTable {
	return &RouteTable{listeners: listeners, stats: stats}
}

// SetRoutes unconditionally replaces the route sequence without touching
// listeners or stats. Used for initial population before Listen.
func (t *RouteTable) SetRoutes(routes []Route) {
	t.mu.Lock()
	t.routes = append([]Route(nil), routes...)
	t.mu.Unlock()
}

// UpdateRoutes replaces the route sequence and reconciles listeners and
// stats: listeners open for newly-introduced ports before stale ones close,
// and stats entries of removed ports are purged last. Opening before closing
// keeps a port from transiently having zero availability during an update.
func (t *RouteTable) UpdateRoutes(routes []Route) {
	t.mu.Lock()
	oldPorts := uniquePorts(t.routes)
	newPorts := uniquePorts(routes)
	t.routes = append([]Route(nil), routes...)
	t.mu.Unlock()

	added := subtractPorts(newPorts, oldPorts)
	removed := subtractPorts(oldPorts, newPorts)

	for _, port := range added {
		t.listeners.EnsureListener(port)
	}
	for _, port := range removed {
		t.listeners.CloseListener(port)
	}
	for _, port := range removed {
		t.stats.PurgeByPort(port)
	}
}

// Routes returns the current snapshot. The slice is only ever swapped, never
// mutated, so handing it out under a read lock is safe.
func (t *RouteTable) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.routes
}

// Ports returns the unique listening ports of the current snapshot in order
// of first occurrence.
func (t *RouteTable) Ports() []int {
	return uniquePorts(t.Routes())
}

// Hostnames returns every hostname and alias of the current snapshot, in
// route order, deduplicated.
func (t *RouteTable) Hostnames() []string {
	routes := t.Routes()
	seen := make(map[string]bool, len(routes))
	var names []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, r := range routes {
		add(r.Hostname)
		for _, alias := range r.HostnameAliases {
			add(alias)
		}
	}
	return names
}

// GetRoutes returns copies of the current routes. With withStats, each copy
// carries the meter snapshot for its "hostname:port" key; a never-hit route
// gets an empty object, never null.
func (t *RouteTable) GetRoutes(withStats bool) []RouteStatus {
	routes := t.Routes()
	out := make([]RouteStatus, 0, len(routes))
	for _, r := range routes {
		rs := RouteStatus{Route: r}
		if withStats {
			rs.Stats = t.stats.Snapshot(StatsKey(r.Hostname, r.Port))
		}
		out = append(out, rs)
	}
	return out
}

func uniquePorts(routes []Route) []int {
	seen := make(map[int]bool, len(routes))
	var ports []int
	for _, r := range routes {
		if !seen[r.Port] {
			seen[r.Port] = true
			ports = append(ports, r.Port)
		}
	}
	return ports
}

// subtractPorts returns a − b, preserving a's order.
func subtractPorts(a, b []int) []int {
	drop := make(map[int]bool, len(b))
	for _, port := range b {
		drop[port] = true
	}
	var out []int
	for _, port := range a {
		if !drop[port] {
			out = append(out, port)
		}
	}
	return out
}
