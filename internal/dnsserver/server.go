// Package dnsserver answers name lookups for muguet's virtual hosts: every
// name under the base domain resolves to the proxy's address, so containers
// become reachable as <name>.<domain> without /etc/hosts edits.
package dnsserver

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/bnema/muguet/pkg/logger"
)

const answerTTL = 10

// RouteSource exposes the hostnames the proxy currently serves. Satisfied by
// the route table.
type RouteSource interface {
	Hostnames() []string
}

// Server is an authoritative DNS server for the configured base domain.
type Server struct {
	domain  string
	proxyIP net.IP
	port    int
	routes  RouteSource

	srv *dns.Server
}

// New creates a server answering on the given UDP port. proxyIP must be a
// literal IP address; it is the answer to every in-domain query.
func New(domain, proxyIP string, port int, routes RouteSource) (*Server, error) {
	ip := net.ParseIP(proxyIP)
	if ip == nil {
		return nil, fmt.Errorf("invalid proxy IP %q", proxyIP)
	}
	return &Server{
		domain:  strings.ToLower(domain),
		proxyIP: ip,
		port:    port,
		routes:  routes,
	}, nil
}

// Port returns the UDP port the server answers on.
func (s *Server) Port() int {
	return s.port
}

// Entries lists every name the server currently resolves, mapped to the proxy
// address. The management subdomain is always present.
func (s *Server) Entries() map[string]string {
	addr := s.proxyIP.String()
	entries := map[string]string{
		"muguet." + s.domain: addr,
	}
	for _, h := range s.routes.Hostnames() {
		entries[h] = addr
	}
	return entries
}

// ServeDNS answers A queries for names at or under the base domain with the
// proxy address. Names outside the domain get NXDOMAIN; in-domain names
// queried with an unsupported type get NOERROR with an empty answer section,
// since NXDOMAIN would deny the name has records of any type and poison
// parallel A/AAAA lookups.
func (s *Server) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(req)
	msg.Authoritative = true

	known := false
	for _, q := range req.Question {
		name := strings.TrimSuffix(strings.ToLower(q.Name), ".")
		if !s.resolves(name) {
			continue
		}
		known = true
		if q.Qtype != dns.TypeA && q.Qtype != dns.TypeANY {
			continue
		}
		msg.Answer = append(msg.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    answerTTL,
			},
			A: s.proxyIP,
		})
	}

	if !known {
		msg.SetRcode(req, dns.RcodeNameError)
	}
	if err := w.WriteMsg(msg); err != nil {
		logger.Debug("DNS reply write failed", "error", err)
	}
}

func (s *Server) resolves(name string) bool {
	return name == s.domain || strings.HasSuffix(name, "."+s.domain)
}

// ListenAndServe blocks answering UDP queries until Shutdown.
func (s *Server) ListenAndServe() error {
	s.srv = &dns.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Net:     "udp",
		Handler: s,
	}
	logger.Info("DNS server listening", "port", s.port, "domain", s.domain)
	return s.srv.ListenAndServe()
}

// Shutdown stops the server if it is running.
func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown()
}
