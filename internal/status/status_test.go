package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/muguet/internal/proxy"
)

type routesStub struct {
	routes []proxy.RouteStatus
}

func (r *routesStub) GetRoutes(withStats bool) []proxy.RouteStatus {
	out := make([]proxy.RouteStatus, len(r.routes))
	copy(out, r.routes)
	if withStats {
		for i := range out {
			out[i].Stats = proxy.RateSnapshot{Count: 7}
		}
	}
	return out
}

type dnsStub struct {
	entries map[string]string
	port    int
}

func (d *dnsStub) Entries() map[string]string { return d.entries }
func (d *dnsStub) Port() int                  { return d.port }

func newTestStatus() *Server {
	routes := &routesStub{routes: []proxy.RouteStatus{{
		Route: proxy.Route{
			Hostname:         "app.docker.localhost",
			Port:             3000,
			ContainerAddress: "172.17.0.2",
			ContainerPort:    3000,
		},
	}}}
	dns := &dnsStub{
		entries: map[string]string{
			"muguet.docker.localhost": "127.0.0.1",
			"app.docker.localhost":    "127.0.0.1",
		},
		port: 9999,
	}
	return New(AppInfo{
		Domain:  "docker.localhost",
		ProxyIP: "127.0.0.1",
		APIPort: 9876,
		Version: "test",
	}, routes, dns)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestProxyRoutesJSONCarriesStats(t *testing.T) {
	rec := get(t, newTestStatus(), "/proxy-routes")

	require.Equal(t, http.StatusOK, rec.Code)

	var routes []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &routes))
	require.Len(t, routes, 1)
	assert.Equal(t, "app.docker.localhost", routes[0]["hostname"])

	stats, ok := routes[0]["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(7), stats["count"])
}

func TestDNSEntriesJSON(t *testing.T) {
	rec := get(t, newTestStatus(), "/dns-entries")

	require.Equal(t, http.StatusOK, rec.Code)

	var entries map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Equal(t, "127.0.0.1", entries["muguet.docker.localhost"])
	assert.Equal(t, "127.0.0.1", entries["app.docker.localhost"])
}

func TestDashboardRendersRoutesAndEntries(t *testing.T) {
	rec := get(t, newTestStatus(), "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	body := rec.Body.String()
	assert.Contains(t, body, "app.docker.localhost")
	assert.Contains(t, body, "172.17.0.2:3000")
	assert.Contains(t, body, "muguet.docker.localhost")
	assert.Contains(t, body, "9999")
}
