package proxy

import (
	"net"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bnema/muguet/pkg/logger"
)

// ManagementSubdomain is the reserved label that always resolves to muguet's
// own API regardless of the route table.
const ManagementSubdomain = "muguet"

// Fixed diagnostic pages; tests assert on their content.
const (
	noRoutePage = `<!DOCTYPE html>
<html>
<head><title>muguet - no route found</title></head>
<body>
<h1>404 - No route found</h1>
<p>muguet has no container route for this host and port.</p>
</body>
</html>
`

	proxyErrorPage = `<!DOCTYPE html>
<html>
<head><title>muguet - proxy error</title></head>
<body>
<h1>500 - Proxy error</h1>
<p>muguet could not reach the backend container.</p>
</body>
</html>
`
)

// ForwardingEngine is the external byte-level relay matched traffic is handed
// to. Both calls are fire-and-forget from the router's perspective; failures
// come back through onErr, which the router logs and turns into a best-effort
// diagnostic response, never a retry.
type ForwardingEngine interface {
	ForwardHTTP(w http.ResponseWriter, r *http.Request, target string, onErr func(error))
	ForwardUpgrade(r *http.Request, conn net.Conn, head []byte, target string, onErr func(error))
}

// Router resolves inbound requests against the current route table snapshot
// and hands matches to the forwarding engine.
type Router struct {
	domain  string
	apiHost string
	apiPort int

	table  *RouteTable
	stats  *StatsCollector
	engine ForwardingEngine
}

// CleanHost strips a trailing :port from a host header. Host headers without
// a port come back unchanged.
func CleanHost(hostHeader string) string {
	if host, _, err := net.SplitHostPort(hostHeader); err == nil {
		return host
	}
	return hostHeader
}

// Resolve maps a host header and listening port to a route. The management
// subdomain bypasses the table entirely and always resolves to the muguet API
// itself. Otherwise the first route matching both the cleaned host and the
// listening port wins; duplicates are an input-contract condition, so earlier
// routes take priority rather than being rejected.
func (rt *Router) Resolve(hostHeader string, listeningPort int) (Route, bool) {
	host := CleanHost(hostHeader)

	if host == ManagementSubdomain+"."+rt.domain {
		return Route{
			Hostname:         host,
			Port:             listeningPort,
			ContainerAddress: rt.apiHost,
			ContainerPort:    rt.apiPort,
		}, true
	}

	for _, r := range rt.table.Routes() {
		if r.Port == listeningPort && r.MatchesHost(host) {
			return r, true
		}
	}
	return Route{}, false
}

// RouteRequest resolves and forwards one HTTP request. A miss answers the
// fixed 404 page without touching stats or the forwarding engine.
func (rt *Router) RouteRequest(c echo.Context, listeningPort int) error {
	req := c.Request()

	route, ok := rt.Resolve(req.Host, listeningPort)
	if !ok {
		logger.Warn("No route for request", "host", req.Host, "port", listeningPort)
		return c.HTML(http.StatusNotFound, noRoutePage)
	}

	rt.stats.RecordHit(StatsKey(CleanHost(req.Host), listeningPort))

	res := c.Response()
	target := route.Target()
	rt.engine.ForwardHTTP(res, req, target, func(err error) {
		logger.Error("Forwarding failed", "host", req.Host, "target", target, "error", err)
		if !res.Committed {
			if herr := c.HTML(http.StatusInternalServerError, proxyErrorPage); herr != nil {
				logger.Debug("Could not write proxy error page", "error", herr)
			}
		}
	})
	return nil
}

// RouteUpgrade resolves and relays one protocol upgrade. A miss is dropped
// silently: once the client expects a raw socket there is no response to
// write, so the log line is the only side effect.
func (rt *Router) RouteUpgrade(c echo.Context, listeningPort int) error {
	req := c.Request()

	route, ok := rt.Resolve(req.Host, listeningPort)
	if !ok {
		logger.Warn("No route for upgrade, dropping", "host", req.Host, "port", listeningPort)
		return rt.dropUpgrade(c)
	}

	conn, rw, err := c.Response().Hijack()
	if err != nil {
		logger.Error("Upgrade hijack failed", "host", req.Host, "error", err)
		return c.NoContent(http.StatusInternalServerError)
	}

	rt.stats.RecordHit(StatsKey(CleanHost(req.Host), listeningPort))

	// Bytes the client sent past the handshake are already buffered; they
	// must reach the backend ahead of the relay.
	var head []byte
	if n := rw.Reader.Buffered(); n > 0 {
		head, _ = rw.Reader.Peek(n)
	}

	target := route.Target()
	rt.engine.ForwardUpgrade(req, conn, head, target, func(err error) {
		logger.Error("Upgrade forwarding failed", "host", req.Host, "target", target, "error", err)
		if cerr := conn.Close(); cerr != nil {
			logger.Debug("Upgrade socket close", "error", cerr)
		}
	})
	return nil
}

func (rt *Router) dropUpgrade(c echo.Context) error {
	conn, _, err := c.Response().Hijack()
	if err != nil {
		// Not hijackable (e.g. recorded responses in tests); the status code
		// is all we can signal.
		return c.NoContent(http.StatusNotFound)
	}
	return conn.Close()
}
