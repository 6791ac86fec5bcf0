package proxy

import (
	"strconv"
	"strings"
	"sync"

	"github.com/rcrowley/go-metrics"
)

// StatsKey builds the canonical "<host>:<port>" stats key.
func StatsKey(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

// RateSnapshot is one meter reading: total hits plus moving-window rates in
// requests per second.
type RateSnapshot struct {
	Count  int64   `json:"count"`
	Mean   float64 `json:"mean"`
	Rate1  float64 `json:"1MinuteRate"`
	Rate5  float64 `json:"5MinuteRate"`
	Rate15 float64 `json:"15MinuteRate"`
}

// StatsCollector owns per-route traffic meters keyed by "host:port". Meters
// are created lazily on first hit and dropped when their port leaves the
// route table, so the map never outgrows the live route set.
type StatsCollector struct {
	mu     sync.Mutex
	meters map[string]metrics.Meter
}

// NewStatsCollector creates an empty collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{meters: make(map[string]metrics.Meter)}
}

// RecordHit marks one request for key. Get-or-create happens under the lock
// so concurrent first hits on the same key can never race two meters into
// existence; Mark itself is safe without it.
func (s *StatsCollector) RecordHit(key string) {
	s.mu.Lock()
	m, ok := s.meters[key]
	if !ok {
		m = metrics.NewMeter()
		s.meters[key] = m
	}
	s.mu.Unlock()

	m.Mark(1)
}

// PurgeByPort removes every meter whose key carries a ":<port>" suffix
// matching port. Keys without a parsable numeric suffix are left alone.
func (s *StatsCollector) PurgeByPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, m := range s.meters {
		idx := strings.LastIndex(key, ":")
		if idx < 0 {
			continue
		}
		p, err := strconv.Atoi(key[idx+1:])
		if err != nil || p != port {
			continue
		}
		m.Stop()
		delete(s.meters, key)
	}
}

// Snapshot returns the current reading for key, or an empty object when the
// key has never been hit. Read-only; it never creates a meter.
func (s *StatsCollector) Snapshot(key string) any {
	s.mu.Lock()
	m, ok := s.meters[key]
	s.mu.Unlock()
	if !ok {
		return struct{}{}
	}

	snap := m.Snapshot()
	return RateSnapshot{
		Count:  snap.Count(),
		Mean:   snap.RateMean(),
		Rate1:  snap.Rate1(),
		Rate5:  snap.Rate5(),
		Rate15: snap.Rate15(),
	}
}

// Keys returns the live stats keys, for reporting and tests.
func (s *StatsCollector) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.meters))
	for key := range s.meters {
		keys = append(keys, key)
	}
	return keys
}
