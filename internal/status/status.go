// Package status serves muguet's read-only reporting surface: an HTML
// dashboard plus JSON dumps of the proxy routes (with traffic stats) and the
// DNS entries. It holds no state of its own; every request reads the latest
// committed snapshots from the core.
package status

import (
	"context"
	"fmt"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bnema/muguet/internal/proxy"
	"github.com/bnema/muguet/pkg/logger"
)

// RouteReporter exposes the committed route snapshot with stats annotations.
type RouteReporter interface {
	GetRoutes(withStats bool) []proxy.RouteStatus
}

// DNSReporter exposes the DNS component's read-only listing.
type DNSReporter interface {
	Entries() map[string]string
	Port() int
}

// AppInfo carries the read-only configuration values shown on the dashboard.
type AppInfo struct {
	Domain  string
	ProxyIP string
	APIPort int
	Version string
}

// Server is the management dashboard and status API.
type Server struct {
	app    AppInfo
	routes RouteReporter
	dns    DNSReporter
	echo   *echo.Echo
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head><title>muguet</title></head>
<body>
<h1>muguet {{.App.Version}}</h1>
<p>Domain: <code>{{.App.Domain}}</code> &mdash; proxy address {{.App.ProxyIP}}, DNS on port {{.DNSPort}}</p>

<h2>Proxy routes</h2>
<table border="1" cellpadding="4">
<tr><th>Hostname</th><th>Aliases</th><th>Port</th><th>Backend</th></tr>
{{range .Routes}}<tr>
<td>{{.Hostname}}</td>
<td>{{range .HostnameAliases}}{{.}} {{end}}</td>
<td>{{.Port}}</td>
<td>{{.ContainerAddress}}:{{.ContainerPort}}</td>
</tr>
{{else}}<tr><td colspan="4">no routes</td></tr>
{{end}}</table>

<h2>DNS entries</h2>
<table border="1" cellpadding="4">
<tr><th>Name</th><th>Address</th></tr>
{{range $name, $addr := .Entries}}<tr><td>{{$name}}</td><td>{{$addr}}</td></tr>
{{end}}</table>

<p><a href="/proxy-routes">/proxy-routes</a> &middot; <a href="/dns-entries">/dns-entries</a></p>
</body>
</html>
`))

// New wires the status server onto its reporters.
func New(app AppInfo, routes RouteReporter, dns DNSReporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{app: app, routes: routes, dns: dns, echo: e}
	e.GET("/", s.handleDashboard)
	e.GET("/proxy-routes", s.handleRoutes)
	e.GET("/dns-entries", s.handleDNSEntries)
	return s
}

// Handler exposes the underlying handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving the status endpoint on port. This port is independent
// of the proxy ports and stays open for the process lifetime.
func (s *Server) Start(port int) error {
	logger.Info("Status endpoint listening", "port", port)
	return s.echo.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the status endpoint.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleDashboard(c echo.Context) error {
	data := struct {
		App     AppInfo
		Routes  []proxy.RouteStatus
		Entries map[string]string
		DNSPort int
	}{
		App:     s.app,
		Routes:  s.routes.GetRoutes(false),
		Entries: s.dns.Entries(),
		DNSPort: s.dns.Port(),
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return dashboardTmpl.Execute(c.Response(), data)
}

func (s *Server) handleRoutes(c echo.Context) error {
	return c.JSON(http.StatusOK, s.routes.GetRoutes(true))
}

func (s *Server) handleDNSEntries(c echo.Context) error {
	return c.JSON(http.StatusOK, s.dns.Entries())
}
