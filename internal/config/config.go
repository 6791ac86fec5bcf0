// Package config loads muguet's configuration from muguet.yml and the
// environment. Environment variables override file values, file values
// override defaults.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bnema/muguet/pkg/logger"
)

// Defaults. The test-mode HTTP port substitutes the privileged default when
// MUGUET_TEST_MODE is set, so the proxy can run unprivileged in development.
const (
	DefaultDomain     = "docker.localhost"
	DefaultProxyIP    = "127.0.0.1"
	DefaultHTTPPort   = 80
	TestHTTPPort      = 8080
	DefaultAPIPort    = 9876
	DefaultDNSPort    = 9999
	DefaultDockerSock = "/var/run/docker.sock"
)

// Config holds every knob muguet reads at startup.
type Config struct {
	// Domain is the base domain virtual hosts live under, e.g.
	// "docker.localhost" for container hostnames like "app.docker.localhost".
	Domain string `yaml:"domain"`

	// ProxyIP is the address DNS answers point at; usually the loopback or
	// the LAN address of the machine running muguet.
	ProxyIP string `yaml:"proxy_ip"`

	// BindAddr restricts which interface proxy listeners bind on. Empty
	// means all interfaces.
	BindAddr string `yaml:"bind_addr"`

	// HTTPPort is the reserved default proxy port, kept open regardless of
	// route changes.
	HTTPPort int `yaml:"http_port"`

	// APIPort serves the management dashboard and status JSON.
	APIPort int `yaml:"api_port"`

	// DNSPort is the UDP port the embedded DNS server answers on.
	DNSPort int `yaml:"dns_port"`

	DockerSock string `yaml:"docker_sock"`
	LogLevel   string `yaml:"log_level"`
}

func defaults() *Config {
	return &Config{
		Domain:     DefaultDomain,
		ProxyIP:    DefaultProxyIP,
		HTTPPort:   DefaultHTTPPort,
		APIPort:    DefaultAPIPort,
		DNSPort:    DefaultDNSPort,
		DockerSock: DefaultDockerSock,
	}
}

// Load reads the config file at path (or ./muguet.yml when path is empty),
// applies environment overrides and validates the result. A missing default
// file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	// .env is optional; it only seeds the environment overrides below.
	_ = godotenv.Load()

	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = "muguet.yml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		logger.Debug("Loaded config file", "path", path)
	case explicit:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		logger.Debug("No config file found, using defaults")
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MUGUET_DOMAIN"); v != "" {
		cfg.Domain = v
	}
	if v := os.Getenv("MUGUET_PROXY_IP"); v != "" {
		cfg.ProxyIP = v
	}
	if v := os.Getenv("MUGUET_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("MUGUET_DOCKER_SOCK"); v != "" {
		cfg.DockerSock = v
	}
	if v := os.Getenv("MUGUET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	envPort(&cfg.HTTPPort, "MUGUET_HTTP_PORT")
	envPort(&cfg.APIPort, "MUGUET_API_PORT")
	envPort(&cfg.DNSPort, "MUGUET_DNS_PORT")

	// Test mode swaps the privileged default port for a fixed unprivileged
	// one, unless an explicit HTTP port already overrode it.
	if isTruthy(os.Getenv("MUGUET_TEST_MODE")) && cfg.HTTPPort == DefaultHTTPPort {
		cfg.HTTPPort = TestHTTPPort
	}
}

func envPort(dst *int, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("Ignoring unparsable port override", "var", name, "value", v)
		return
	}
	*dst = port
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (c *Config) validate() error {
	if c.Domain == "" {
		return fmt.Errorf("domain must not be empty")
	}
	if strings.Contains(c.Domain, "://") || strings.Contains(c.Domain, "/") {
		return fmt.Errorf("domain should be a bare domain name, got %q", c.Domain)
	}
	if net.ParseIP(c.ProxyIP) == nil {
		return fmt.Errorf("proxy_ip %q is not a valid IP address", c.ProxyIP)
	}
	for name, port := range map[string]int{
		"http_port": c.HTTPPort,
		"api_port":  c.APIPort,
		"dns_port":  c.DNSPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s %d is out of range", name, port)
		}
	}
	return nil
}

// ManagementHost is the reserved subdomain that always resolves to muguet's
// own API.
func (c *Config) ManagementHost() string {
	return "muguet." + c.Domain
}
