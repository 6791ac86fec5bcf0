package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bnema/muguet/pkg/logger"
)

// drainTimeout bounds how long a closed listener keeps draining in-flight
// requests in the background.
const drainTimeout = 30 * time.Second

// requestHandler dispatches one accepted request or protocol upgrade for the
// port it arrived on. Satisfied by Router.
type requestHandler interface {
	RouteRequest(c echo.Context, listeningPort int) error
	RouteUpgrade(c echo.Context, listeningPort int) error
}

type portListener struct {
	echo    *echo.Echo
	ln      net.Listener
	closing atomic.Bool
}

// ListenerManager owns one network listener per distinct route port plus the
// reserved default port, which stays open no matter what the route table
// does. Each listener runs its own accept loop; closing one never touches the
// others.
type ListenerManager struct {
	bindAddr    string
	defaultPort int
	router      requestHandler

	mu        sync.Mutex
	listeners map[int]*portListener
}

// NewListenerManager creates a manager with no open listeners. defaultPort is
// the reserved port CloseListener refuses to close.
func NewListenerManager(bindAddr string, defaultPort int, router requestHandler) *ListenerManager {
	return &ListenerManager{
		bindAddr:    bindAddr,
		defaultPort: defaultPort,
		router:      router,
		listeners:   make(map[int]*portListener),
	}
}

// DefaultPort returns the reserved port this manager always keeps open.
func (m *ListenerManager) DefaultPort() int {
	return m.defaultPort
}

// EnsureListener binds a listener on port and starts its accept loop. A
// second call for the same port is a no-op. Bind failures and fatal socket
// errors after bind terminate the process: a proxy that silently lost a
// listening port is worse than one a supervisor restarts.
func (m *ListenerManager) EnsureListener(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listeners[port]; ok {
		return
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", m.bindAddr, port))
	if err != nil {
		logger.Fatal("Cannot bind proxy port", "port", port, "error", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Any("/*", m.handle(port))
	e.Listener = ln

	pl := &portListener{echo: e, ln: ln}
	m.listeners[port] = pl

	go func() {
		err := e.Start("")
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !pl.closing.Load() {
			logger.Fatal("Proxy listener failed", "port", port, "error", err)
		}
	}()

	logger.Info("Proxy listening", "port", port)
}

// CloseListener stops accepting on port and removes it from the manager. The
// reserved default port is never closed. Connections already handed off keep
// running while the server drains in the background.
func (m *ListenerManager) CloseListener(port int) {
	if port == m.defaultPort {
		return
	}

	m.mu.Lock()
	pl, ok := m.listeners[port]
	if ok {
		delete(m.listeners, port)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	pl.closing.Store(true)
	// Closing the raw listener stops new accepts immediately; the drain only
	// waits on requests that were already in flight.
	if err := pl.ln.Close(); err != nil {
		logger.Debug("Proxy listener already closed", "port", port, "error", err)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := pl.echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Debug("Proxy listener drain ended", "port", port, "error", err)
		}
	}()

	logger.Info("Proxy listener closed", "port", port)
}

// Ports returns the ports currently holding an open listener, sorted.
func (m *ListenerManager) Ports() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ports := make([]int, 0, len(m.listeners))
	for port := range m.listeners {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// Shutdown closes every listener, including the reserved default port. Only
// used at process exit.
func (m *ListenerManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	listeners := make([]*portListener, 0, len(m.listeners))
	for port, pl := range m.listeners {
		listeners = append(listeners, pl)
		delete(m.listeners, port)
	}
	m.mu.Unlock()

	for _, pl := range listeners {
		pl.closing.Store(true)
		if err := pl.echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Debug("Listener shutdown ended", "error", err)
		}
	}
}

func (m *ListenerManager) handle(port int) echo.HandlerFunc {
	return func(c echo.Context) error {
		if isUpgradeRequest(c.Request()) {
			return m.router.RouteUpgrade(c, port)
		}
		return m.router.RouteRequest(c, port)
	}
}

func isUpgradeRequest(r *http.Request) bool {
	if r.Header.Get("Upgrade") == "" {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}
