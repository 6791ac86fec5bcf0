// Package proxy is muguet's routing core: the dynamic route table, the
// per-port listener lifecycle, the request router and the traffic stats.
//
//   - routes.go    - Route model and RouteTable
//   - listeners.go - per-port listener lifecycle
//   - router.go    - host+port resolution and forwarding handoff
//   - stats.go     - per-route traffic meters
package proxy

import (
	"context"

	"github.com/bnema/muguet/pkg/logger"
)

// Options carries the read-only configuration the core needs.
type Options struct {
	// Domain is the base domain; "muguet.<Domain>" is the management host.
	Domain string

	// BindAddr restricts listener binds; empty binds all interfaces.
	BindAddr string

	// DefaultPort is the reserved port kept open for management traffic
	// regardless of route changes.
	DefaultPort int

	// APIHost and APIPort locate muguet's own API, the resolution target of
	// the management subdomain.
	APIHost string
	APIPort int
}

// Proxy wires the routing core together. Construct with New; the zero value
// is not usable.
type Proxy struct {
	Table     *RouteTable
	Stats     *StatsCollector
	Router    *Router
	Listeners *ListenerManager
}

// New builds a fully wired routing core on top of the given forwarding
// engine. Nothing is bound until Listen.
func New(opts Options, engine ForwardingEngine) *Proxy {
	stats := NewStatsCollector()
	router := &Router{
		domain:  opts.Domain,
		apiHost: opts.APIHost,
		apiPort: opts.APIPort,
		stats:   stats,
		engine:  engine,
	}
	listeners := NewListenerManager(opts.BindAddr, opts.DefaultPort, router)
	table := NewRouteTable(listeners, stats)
	router.table = table

	return &Proxy{
		Table:     table,
		Stats:     stats,
		Router:    router,
		Listeners: listeners,
	}
}

// Listen opens the reserved default port and one listener for every port
// already present in the route table. Later route updates manage their own
// listeners through the table.
func (p *Proxy) Listen() {
	p.Listeners.EnsureListener(p.Listeners.DefaultPort())
	for _, port := range p.Table.Ports() {
		p.Listeners.EnsureListener(port)
	}
	logger.Info("Proxy ready", "ports", p.Listeners.Ports())
}

// Shutdown closes every listener, default port included.
func (p *Proxy) Shutdown(ctx context.Context) {
	p.Listeners.Shutdown(ctx)
}
