// Copyright (C) 2025 Bifrost Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus instruments for the answer loop.
//
// All instruments are optional: a nil *Metrics disables recording, so tests
// and library embedders do not have to register collectors.
type Metrics struct {
	// RoutingDecisions counts routing decisions by strategy.
	RoutingDecisions *prometheus.CounterVec

	// GroundingVerdicts counts verifier verdicts by outcome.
	GroundingVerdicts *prometheus.CounterVec

	// BackendFailures counts retrieval failures by backend after retries.
	BackendFailures *prometheus.CounterVec

	// RetrievalDuration observes end-to-end retrieval latency by strategy.
	RetrievalDuration *prometheus.HistogramVec

	// Escalations counts strategy escalations by trigger.
	Escalations *prometheus.CounterVec
}

// NewMetrics creates and registers the loop's instruments.
//
// Inputs:
//
//	reg - Registerer to attach instruments to. Uses the default registerer
//	      if nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by chosen strategy.",
		}, []string{"strategy"}),
		GroundingVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "grounding_verdicts_total",
			Help:      "Grounding verdicts by outcome.",
		}, []string{"grounded"}),
		BackendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "backend_failures_total",
			Help:      "Retrieval backend failures after retry exhaustion.",
		}, []string{"backend"}),
		RetrievalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bifrost",
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end retrieval latency by strategy.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "strategy_escalations_total",
			Help:      "Strategy escalations by trigger (backend_failure, ungrounded).",
		}, []string{"trigger"}),
	}

	reg.MustRegister(
		m.RoutingDecisions,
		m.GroundingVerdicts,
		m.BackendFailures,
		m.RetrievalDuration,
		m.Escalations,
	)
	return m
}

// ObserveDecision records a routing decision. Nil-safe.
func (m *Metrics) ObserveDecision(strategy Strategy) {
	if m == nil {
		return
	}
	m.RoutingDecisions.WithLabelValues(strategy.String()).Inc()
}

// ObserveVerdict records a grounding verdict. Nil-safe.
func (m *Metrics) ObserveVerdict(grounded bool) {
	if m == nil {
		return
	}
	label := "false"
	if grounded {
		label = "true"
	}
	m.GroundingVerdicts.WithLabelValues(label).Inc()
}

// ObserveBackendFailure records a backend failure. Nil-safe.
func (m *Metrics) ObserveBackendFailure(backend string) {
	if m == nil {
		return
	}
	m.BackendFailures.WithLabelValues(backend).Inc()
}

// ObserveRetrieval records retrieval latency in seconds. Nil-safe.
func (m *Metrics) ObserveRetrieval(strategy Strategy, seconds float64) {
	if m == nil {
		return
	}
	m.RetrievalDuration.WithLabelValues(strategy.String()).Observe(seconds)
}

// ObserveEscalation records a strategy escalation. Nil-safe.
func (m *Metrics) ObserveEscalation(trigger string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(trigger).Inc()
}
