package docker

import (
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/go-connections/nat"

	"github.com/bnema/muguet/internal/proxy"
	"github.com/bnema/muguet/pkg/logger"
)

// Container labels muguet understands.
const (
	// LabelDisable excludes a container from routing entirely.
	LabelDisable = "muguet.disable"

	// LabelSubdomain overrides the container name as the subdomain.
	LabelSubdomain = "muguet.subdomain"

	// LabelAliases is a comma-separated list of extra names; bare labels get
	// the base domain appended.
	LabelAliases = "muguet.aliases"

	// LabelWebPort names the container port served on the reserved default
	// proxy port.
	LabelWebPort = "muguet.web-port"
)

// webPorts are tried in order when no muguet.web-port label picks the port
// exposed on the reserved default port.
var webPorts = []uint16{80, 8080, 3000}

// RoutesFromContainers derives the full route sequence for the current
// container set. Each container gets one route per exposed TCP port (proxy
// port mirrors the container port) plus a web route on the reserved default
// port, so the container answers at its bare hostname. Output order is
// deterministic: containers by hostname, ports ascending.
func RoutesFromContainers(containers []types.Container, domain string, defaultPort int) []proxy.Route {
	sorted := append([]types.Container(nil), containers...)
	sort.Slice(sorted, func(i, j int) bool {
		return containerName(sorted[i]) < containerName(sorted[j])
	})

	var routes []proxy.Route
	for _, c := range sorted {
		routes = append(routes, containerRoutes(c, domain, defaultPort)...)
	}
	return routes
}

func containerRoutes(c types.Container, domain string, defaultPort int) []proxy.Route {
	if isTruthy(c.Labels[LabelDisable]) {
		return nil
	}

	name := containerName(c)
	if name == "" {
		return nil
	}
	subdomain := c.Labels[LabelSubdomain]
	if subdomain == "" {
		subdomain = name
	}
	hostname := subdomain + "." + domain
	aliases := containerAliases(c, domain)

	addr, targets := containerBackend(c)
	if len(targets) == 0 {
		logger.Debug("Container has no reachable TCP port, skipping", "container", name)
		return nil
	}

	ports := make([]int, 0, len(targets))
	for p := range targets {
		ports = append(ports, int(p))
	}
	sort.Ints(ports)

	web := webPort(c, targets)

	routes := []proxy.Route{{
		Hostname:         hostname,
		HostnameAliases:  aliases,
		Port:             defaultPort,
		ContainerAddress: addr,
		ContainerPort:    int(targets[web]),
	}}
	for _, p := range ports {
		// The web route already owns the default port for this hostname.
		if p == defaultPort {
			continue
		}
		routes = append(routes, proxy.Route{
			Hostname:         hostname,
			HostnameAliases:  aliases,
			Port:             p,
			ContainerAddress: addr,
			ContainerPort:    int(targets[uint16(p)]),
		})
	}
	return routes
}

func containerName(c types.Container) string {
	if len(c.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

func containerAliases(c types.Container, domain string) []string {
	raw := c.Labels[LabelAliases]
	if raw == "" {
		return nil
	}
	var aliases []string
	for _, alias := range strings.Split(raw, ",") {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		if !strings.Contains(alias, ".") {
			alias = alias + "." + domain
		}
		aliases = append(aliases, alias)
	}
	return aliases
}

// containerBackend picks the address to dial and maps each container-side
// TCP port to the port actually dialed: the container IP with private ports
// when the container is on a reachable network, otherwise the loopback with
// the host-published ports.
func containerBackend(c types.Container) (string, map[uint16]uint16) {
	targets := make(map[uint16]uint16)

	if ip := firstNetworkIP(c); ip != "" {
		for _, p := range c.Ports {
			if p.Type == "tcp" {
				targets[p.PrivatePort] = p.PrivatePort
			}
		}
		return ip, targets
	}

	for _, p := range c.Ports {
		if p.Type == "tcp" && p.PublicPort != 0 {
			targets[p.PrivatePort] = p.PublicPort
		}
	}
	return "127.0.0.1", targets
}

func firstNetworkIP(c types.Container) string {
	if c.NetworkSettings == nil {
		return ""
	}
	names := make([]string, 0, len(c.NetworkSettings.Networks))
	for name := range c.NetworkSettings.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if ep := c.NetworkSettings.Networks[name]; ep != nil && ep.IPAddress != "" {
			return ep.IPAddress
		}
	}
	return ""
}

// webPort picks which container port rides the reserved default proxy port:
// the muguet.web-port label when valid, else the first conventional web port
// the container exposes, else its lowest port.
func webPort(c types.Container, targets map[uint16]uint16) uint16 {
	if label := c.Labels[LabelWebPort]; label != "" {
		port, err := nat.ParsePort(label)
		if err == nil {
			if _, ok := targets[uint16(port)]; ok {
				return uint16(port)
			}
		}
		logger.Warn("Ignoring invalid web-port label",
			"container", containerName(c), "label", label)
	}

	for _, p := range webPorts {
		if _, ok := targets[p]; ok {
			return p
		}
	}

	lowest := uint16(0)
	for p := range targets {
		if lowest == 0 || p < lowest {
			lowest = p
		}
	}
	return lowest
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
