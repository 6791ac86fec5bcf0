package dnsserver

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hostnameList []string

func (h hostnameList) Hostnames() []string { return h }

// replyWriter captures the reply instead of putting it on the wire.
type replyWriter struct {
	msg *dns.Msg
}

func (w *replyWriter) LocalAddr() net.Addr         { return &net.UDPAddr{IP: net.IPv4zero} }
func (w *replyWriter) RemoteAddr() net.Addr        { return &net.UDPAddr{IP: net.IPv4zero} }
func (w *replyWriter) WriteMsg(m *dns.Msg) error   { w.msg = m; return nil }
func (w *replyWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *replyWriter) Close() error                { return nil }
func (w *replyWriter) TsigStatus() error           { return nil }
func (w *replyWriter) TsigTimersOnly(bool)         {}
func (w *replyWriter) Hijack()                     {}

func newTestServer(t *testing.T, hostnames ...string) *Server {
	t.Helper()
	s, err := New("docker.localhost", "127.0.0.1", 9999, hostnameList(hostnames))
	require.NoError(t, err)
	return s
}

func query(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	return m
}

func TestNewRejectsInvalidProxyIP(t *testing.T) {
	_, err := New("docker.localhost", "not-an-ip", 9999, hostnameList(nil))
	assert.Error(t, err)
}

func TestServeDNSAnswersInDomainNames(t *testing.T) {
	s := newTestServer(t)
	w := &replyWriter{}

	s.ServeDNS(w, query("app.docker.localhost", dns.TypeA))

	require.NotNil(t, w.msg)
	require.Len(t, w.msg.Answer, 1)
	a, ok := w.msg.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", a.A.String())
	assert.True(t, w.msg.Authoritative)
	assert.Equal(t, dns.RcodeSuccess, w.msg.Rcode)
}

func TestServeDNSAnswersBareDomain(t *testing.T) {
	s := newTestServer(t)
	w := &replyWriter{}

	s.ServeDNS(w, query("docker.localhost", dns.TypeA))

	require.NotNil(t, w.msg)
	assert.Len(t, w.msg.Answer, 1)
}

func TestServeDNSOutOfDomainIsNXDomain(t *testing.T) {
	s := newTestServer(t)
	w := &replyWriter{}

	s.ServeDNS(w, query("example.com", dns.TypeA))

	require.NotNil(t, w.msg)
	assert.Empty(t, w.msg.Answer)
	assert.Equal(t, dns.RcodeNameError, w.msg.Rcode)
}

func TestServeDNSUnsupportedTypeIsEmptyNoError(t *testing.T) {
	s := newTestServer(t)

	for _, qtype := range []uint16{dns.TypeAAAA, dns.TypeMX} {
		w := &replyWriter{}
		s.ServeDNS(w, query("app.docker.localhost", qtype))

		require.NotNil(t, w.msg)
		assert.Empty(t, w.msg.Answer)
		// The name exists, it just has no records of this type; NXDOMAIN here
		// would let resolvers negatively cache the whole name.
		assert.Equal(t, dns.RcodeSuccess, w.msg.Rcode)
	}
}

func TestServeDNSIsCaseInsensitive(t *testing.T) {
	s := newTestServer(t)
	w := &replyWriter{}

	s.ServeDNS(w, query("App.Docker.Localhost", dns.TypeA))

	require.NotNil(t, w.msg)
	assert.Len(t, w.msg.Answer, 1)
}

func TestEntriesAlwaysIncludeManagementSubdomain(t *testing.T) {
	s := newTestServer(t, "app.docker.localhost", "db.docker.localhost")

	entries := s.Entries()

	assert.Equal(t, map[string]string{
		"muguet.docker.localhost": "127.0.0.1",
		"app.docker.localhost":    "127.0.0.1",
		"db.docker.localhost":     "127.0.0.1",
	}, entries)
}
