package forwarder

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardHTTPStreamsResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Host", r.Host)
		w.Header().Set("X-Seen-Forwarded", r.Header.Get("X-Forwarded-For"))
		fmt.Fprint(w, "hello from backend")
	}))
	defer backend.Close()
	target := strings.TrimPrefix(backend.URL, "http://")

	req := httptest.NewRequest(http.MethodGet, "/some/path", nil)
	req.Host = "app.docker.localhost"
	req.RemoteAddr = "192.0.2.10:55555"
	rec := httptest.NewRecorder()

	var gotErr error
	New().ForwardHTTP(rec, req, target, func(err error) { gotErr = err })

	require.NoError(t, gotErr)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello from backend", rec.Body.String())
	assert.Equal(t, "app.docker.localhost", rec.Header().Get("X-Seen-Host"))
	assert.Equal(t, "192.0.2.10", rec.Header().Get("X-Seen-Forwarded"))
}

func TestForwardHTTPUnreachableBackendCallsOnErr(t *testing.T) {
	target := unreachableTarget(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	var gotErr error
	New().ForwardHTTP(rec, req, target, func(err error) { gotErr = err })

	require.Error(t, gotErr)
	// The engine leaves the response untouched; the caller decides what the
	// client sees.
	assert.Empty(t, rec.Body.String())
}

func TestForwardUpgradeRelaysBothDirections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Echo backend: accept the handshake, answer 101, then mirror every byte.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		if _, err := http.ReadRequest(br); err != nil {
			return
		}
		_, _ = conn.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"))
		_, _ = io.Copy(conn, br)
	}()

	req, err := http.NewRequest(http.MethodGet, "http://app.docker.localhost/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")

	clientConn, proxyConn := net.Pipe()
	defer clientConn.Close()

	var gotErr error
	New().ForwardUpgrade(req, proxyConn, []byte("buffered-head"), ln.Addr().String(), func(err error) { gotErr = err })
	require.NoError(t, gotErr)

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := readUntil(t, clientConn, "buffered-head")
	assert.Contains(t, got, "HTTP/1.1 101")
	assert.Contains(t, got, "buffered-head")

	// Bytes written after the handshake keep flowing to the backend and back.
	_, err = clientConn.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	assert.Contains(t, readUntil(t, clientConn, "ping"), "ping")
}

func TestForwardUpgradeUnreachableBackendCallsOnErr(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://app.docker.localhost/ws", nil)
	require.NoError(t, err)

	clientConn, proxyConn := net.Pipe()
	defer clientConn.Close()
	defer proxyConn.Close()

	var gotErr error
	New().ForwardUpgrade(req, proxyConn, nil, unreachableTarget(t), func(err error) { gotErr = err })

	assert.Error(t, gotErr)
}

// unreachableTarget returns an address nothing listens on.
func unreachableTarget(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// readUntil reads from conn until the accumulated data contains want.
func readUntil(t *testing.T, conn net.Conn, want string) string {
	t.Helper()
	var got strings.Builder
	buf := make([]byte, 512)
	for !strings.Contains(got.String(), want) {
		n, err := conn.Read(buf)
		got.Write(buf[:n])
		require.NoError(t, err)
	}
	return got.String()
}
