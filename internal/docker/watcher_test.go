package docker

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types/events"
	"github.com/stretchr/testify/assert"

	"github.com/bnema/muguet/internal/proxy"
)

type sinkRecorder struct {
	sets    int
	updates int
}

func (s *sinkRecorder) SetRoutes(routes []proxy.Route)    { s.sets++ }
func (s *sinkRecorder) UpdateRoutes(routes []proxy.Route) { s.updates++ }

func TestEventFiltersSubscribeToContainerLifecycle(t *testing.T) {
	f := eventFilters()

	assert.Equal(t, []string{"container"}, f.Get("type"))
	assert.ElementsMatch(t,
		[]string{"start", "die", "stop", "destroy", "rename", "update"},
		f.Get("event"))
}

func TestConsumeClosedStreamReconnectsWithoutSyncing(t *testing.T) {
	sink := &sinkRecorder{}
	w := &Watcher{sink: sink}

	messages := make(chan events.Message)
	close(messages)
	errs := make(chan error)

	sawEvent, reconnect := w.consume(context.Background(), messages, errs)

	assert.False(t, sawEvent)
	assert.True(t, reconnect)
	assert.Zero(t, sink.updates)
}

func TestConsumeStreamErrorReconnects(t *testing.T) {
	w := &Watcher{sink: &sinkRecorder{}}

	messages := make(chan events.Message)
	errs := make(chan error, 1)
	errs <- errors.New("unexpected EOF")

	_, reconnect := w.consume(context.Background(), messages, errs)

	assert.True(t, reconnect)
}

func TestConsumeCancelledContextStops(t *testing.T) {
	w := &Watcher{sink: &sinkRecorder{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, reconnect := w.consume(ctx, make(chan events.Message), make(chan error))

	assert.False(t, reconnect)
}
