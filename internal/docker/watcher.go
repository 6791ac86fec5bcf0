// Package docker keeps the route table in sync with the local Docker daemon:
// an initial full sweep at startup, then incremental resyncs driven by the
// daemon's container event stream.
package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/bnema/muguet/internal/proxy"
	"github.com/bnema/muguet/pkg/logger"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// RouteSink receives derived routes. Satisfied by the route table.
type RouteSink interface {
	SetRoutes(routes []proxy.Route)
	UpdateRoutes(routes []proxy.Route)
}

// Watcher derives proxy routes from running containers and keeps them fresh
// off the Docker event stream.
type Watcher struct {
	cli         *client.Client
	sink        RouteSink
	domain      string
	defaultPort int
}

// NewWatcher connects to the Docker daemon at socket.
func NewWatcher(socket, domain string, defaultPort int, sink RouteSink) (*Watcher, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+socket),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &Watcher{
		cli:         cli,
		sink:        sink,
		domain:      domain,
		defaultPort: defaultPort,
	}, nil
}

// Close releases the daemon connection.
func (w *Watcher) Close() error {
	return w.cli.Close()
}

// Sync lists running containers and pushes the derived routes to the sink.
// The initial sweep replaces the table outright; later sweeps go through the
// diffing update so listeners follow.
func (w *Watcher) Sync(ctx context.Context, initial bool) error {
	containers, err := w.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	routes := RoutesFromContainers(containers, w.domain, w.defaultPort)
	if initial {
		w.sink.SetRoutes(routes)
	} else {
		w.sink.UpdateRoutes(routes)
	}
	logger.Debug("Synced container routes", "containers", len(containers), "routes", len(routes))
	return nil
}

// Run follows the daemon's container event stream, resyncing the routes on
// every lifecycle change. It blocks until ctx is cancelled and reconnects
// with backoff when the stream drops.
func (w *Watcher) Run(ctx context.Context) {
	backoff := reconnectBase

	for {
		messages, errs := w.cli.Events(ctx, events.ListOptions{
			Filters: eventFilters(),
		})
		logger.Info("Watching container events")

		sawEvent, reconnect := w.consume(ctx, messages, errs)
		if !reconnect {
			return
		}
		if sawEvent {
			backoff = reconnectBase
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < reconnectMax {
			backoff *= 2
		}
	}
}

// consume drains one event stream until it ends, resyncing on every event.
// It reports whether any event arrived and whether Run should reconnect; a
// cancelled ctx stops the watcher outright. A closed message channel means
// the stream is gone, so it never syncs off the zero-value events a closed
// channel would otherwise yield.
func (w *Watcher) consume(ctx context.Context, messages <-chan events.Message, errs <-chan error) (sawEvent, reconnect bool) {
	for {
		select {
		case <-ctx.Done():
			return sawEvent, false

		case event, ok := <-messages:
			if !ok {
				logger.Warn("Event stream closed, reconnecting")
				return sawEvent, true
			}
			sawEvent = true
			logger.Debug("Container event",
				"action", event.Action,
				"container", event.Actor.Attributes["name"])
			if err := w.Sync(ctx, false); err != nil {
				logger.Error("Route resync failed", "error", err)
			}

		case err := <-errs:
			if ctx.Err() != nil {
				return sawEvent, false
			}
			logger.Warn("Event stream dropped, reconnecting", "error", err)
			return sawEvent, true
		}
	}
}

func eventFilters() filters.Args {
	f := filters.NewArgs()
	f.Add("type", "container")
	for _, e := range []string{"start", "die", "stop", "destroy", "rename", "update"} {
		f.Add("event", e)
	}
	return f
}
