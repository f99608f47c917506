// File: ipc/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Dispatch counters published through a control.MetricsRegistry.

package ipc

import "github.com/momentics/pdxuds/control"

// MetricsSink counts endpoint activity in a *control.MetricsRegistry. A
// nil sink is a no-op. NewEndpoint creates a sink over a fresh registry
// when the config supplies none, so every endpoint counts its activity.
type MetricsSink struct {
	registry *control.MetricsRegistry
}

// NewMetricsSink wraps registry (a new control.MetricsRegistry if nil).
func NewMetricsSink(registry *control.MetricsRegistry) *MetricsSink {
	if registry == nil {
		registry = control.NewMetricsRegistry()
	}
	return &MetricsSink{registry: registry}
}

func (s *MetricsSink) channelOpened() {
	if s == nil {
		return
	}
	s.registry.Inc("ipc.channels_open", 1)
}

func (s *MetricsSink) channelClosed() {
	if s == nil {
		return
	}
	s.registry.Inc("ipc.channels_open", -1)
	s.registry.Inc("ipc.channels_closed_total", 1)
}

func (s *MetricsSink) messageDispatched() {
	if s == nil {
		return
	}
	s.registry.Inc("ipc.messages_dispatched_total", 1)
}

func (s *MetricsSink) impulseDispatched() {
	if s == nil {
		return
	}
	s.registry.Inc("ipc.impulses_dispatched_total", 1)
}

// Registry exposes the underlying registry for external GetSnapshot calls.
func (s *MetricsSink) Registry() *control.MetricsRegistry {
	if s == nil {
		return nil
	}
	return s.registry
}
