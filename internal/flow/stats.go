package flow

import (
	"sort"
	"sync"
	"time"
)

// Stats accumulates per-step message counters and a latency reservoir,
// generalized from an operation-duration aggregation into a reservoir
// cheap enough to sample on every message without measurable overhead.
type Stats struct {
	mu         sync.Mutex
	MessagesIn uint64
	MessagesOut uint64
	samples    []time.Duration
	maxSamples int
}

// NewStats returns a Stats with a bounded reservoir of the most recent
// maxSamples processing durations.
func NewStats(maxSamples int) *Stats {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &Stats{maxSamples: maxSamples}
}

// RecordIn counts one message entering the step.
func (s *Stats) RecordIn() {
	s.mu.Lock()
	s.MessagesIn++
	s.mu.Unlock()
}

// RecordOut counts n messages leaving the step and the duration the step
// took to produce them.
func (s *Stats) RecordOut(n int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MessagesOut += uint64(n)
	s.samples = append(s.samples, d)
	if len(s.samples) > s.maxSamples {
		s.samples = s.samples[len(s.samples)-s.maxSamples:]
	}
}

// Snapshot is the JSON-serializable view published to the metrics topic.
type Snapshot struct {
	MessagesIn  uint64        `json:"messages_in"`
	MessagesOut uint64        `json:"messages_out"`
	MinLatency  time.Duration `json:"min_latency_ns"`
	MedianLatency time.Duration `json:"median_latency_ns"`
	MaxLatency  time.Duration `json:"max_latency_ns"`
}

// Snapshot computes min/median/max over the current reservoir.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{MessagesIn: s.MessagesIn, MessagesOut: s.MessagesOut}
	if len(s.samples) == 0 {
		return snap
	}

	sorted := append([]time.Duration(nil), s.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	snap.MinLatency = sorted[0]
	snap.MaxLatency = sorted[len(sorted)-1]
	snap.MedianLatency = sorted[len(sorted)/2]
	return snap
}
