package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/muguet/internal/config"
	"github.com/bnema/muguet/internal/dnsserver"
	"github.com/bnema/muguet/internal/docker"
	"github.com/bnema/muguet/internal/forwarder"
	"github.com/bnema/muguet/internal/proxy"
	"github.com/bnema/muguet/internal/status"
	"github.com/bnema/muguet/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy, DNS server and container watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart()
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		logger.SetLogLevel(cfg.LogLevel)
	}
	logger.ConfigureFromEnv()

	logger.Info("Starting muguet",
		"version", BuildVersion,
		"domain", cfg.Domain,
		"http_port", cfg.HTTPPort)

	core := proxy.New(proxy.Options{
		Domain:      cfg.Domain,
		BindAddr:    cfg.BindAddr,
		DefaultPort: cfg.HTTPPort,
		APIHost:     cfg.ProxyIP,
		APIPort:     cfg.APIPort,
	}, forwarder.New())

	watcher, err := docker.NewWatcher(cfg.DockerSock, cfg.Domain, cfg.HTTPPort, core.Table)
	if err != nil {
		return err
	}
	defer watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed the table before binding so Listen opens every port at once.
	if err := watcher.Sync(ctx, true); err != nil {
		return err
	}
	core.Listen()

	dns, err := dnsserver.New(cfg.Domain, cfg.ProxyIP, cfg.DNSPort, core.Table)
	if err != nil {
		return err
	}
	go func() {
		if err := dns.ListenAndServe(); err != nil {
			logger.Fatal("DNS server failed", "error", err)
		}
	}()

	statusSrv := status.New(status.AppInfo{
		Domain:  cfg.Domain,
		ProxyIP: cfg.ProxyIP,
		APIPort: cfg.APIPort,
		Version: BuildVersion,
	}, core.Table, dns)
	go func() {
		if err := statusSrv.Start(cfg.APIPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Status endpoint failed", "error", err)
		}
	}()

	go watcher.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	core.Shutdown(shutdownCtx)
	if err := statusSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Status endpoint shutdown", "error", err)
	}
	if err := dns.Shutdown(); err != nil {
		logger.Warn("DNS shutdown", "error", err)
	}
	return nil
}
