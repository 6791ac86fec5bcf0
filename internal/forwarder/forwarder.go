// Package forwarder is the byte-level forwarding engine: it streams HTTP
// requests and relays upgraded sockets to backend containers. The routing
// core consumes it through the proxy.ForwardingEngine interface and only ever
// learns about failures through the error callbacks.
package forwarder

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/bnema/muguet/pkg/logger"
)

const dialTimeout = 10 * time.Second

// transport is shared by every forwarded request; the timeouts keep slow or
// dead backends from exhausting the proxy.
var transport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 30 * time.Second,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
}

// Engine relays traffic to backend containers over plain HTTP/TCP; backends
// are always dialed without TLS regardless of what the client spoke.
type Engine struct{}

// New creates the forwarding engine.
func New() *Engine {
	return &Engine{}
}

// ForwardHTTP streams one request to target ("host:port") and the response
// back to w. The original Host header is preserved so virtual-host-aware
// backends behave. onErr fires when the backend is unreachable or breaks
// before the response completes; the engine itself never writes a body on
// failure, that is the caller's call.
func (e *Engine) ForwardHTTP(w http.ResponseWriter, r *http.Request, target string, onErr func(error)) {
	targetURL := &url.URL{Scheme: "http", Host: target}
	host := r.Host

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(targetURL)
			pr.SetXForwarded()
			pr.Out.Host = host
		},
		Transport: transport,
		ErrorHandler: func(_ http.ResponseWriter, _ *http.Request, err error) {
			onErr(err)
		},
	}
	rp.ServeHTTP(w, r)
}

// ForwardUpgrade dials the backend, replays the upgrade handshake plus any
// bytes the client already sent, then relays both directions until either
// side closes. It returns as soon as the relay goroutines are running.
func (e *Engine) ForwardUpgrade(r *http.Request, conn net.Conn, head []byte, target string, onErr func(error)) {
	backend, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		onErr(fmt.Errorf("dial upgrade backend %s: %w", target, err))
		return
	}

	if err := r.Write(backend); err != nil {
		backend.Close()
		onErr(fmt.Errorf("replay upgrade handshake to %s: %w", target, err))
		return
	}
	if len(head) > 0 {
		if _, err := backend.Write(head); err != nil {
			backend.Close()
			onErr(fmt.Errorf("flush buffered client bytes to %s: %w", target, err))
			return
		}
	}

	go relay(conn, backend)
	go relay(backend, conn)
}

func relay(dst, src net.Conn) {
	defer dst.Close()
	defer src.Close()
	if _, err := io.Copy(dst, src); err != nil {
		logger.Debug("Upgrade relay ended", "error", err)
	}
}
