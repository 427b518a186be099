/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the execution engine.
//
// All metrics are registered with a plain prometheus.Registry owned by
// this package — the engine has no controller-runtime manager to piggyback
// a metrics endpoint on, so cmd/engined serves Registry() directly.
//
// Metric naming follows Prometheus conventions:
//   - agentengine_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// reg is the engine's private metrics registry.
var reg = prometheus.NewRegistry()

// Registry returns the registry that all engine metrics are bound to, for
// cmd/engined to expose via promhttp.HandlerFor.
func Registry() *prometheus.Registry {
	return reg
}

var (
	// ExecutionsTotal counts agent executions by definition ID and terminal exit code.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentengine_executions_total",
			Help: "Total number of agent executions by definition and exit code.",
		},
		[]string{"definition", "exit_code"},
	)

	// ExecutionDurationSeconds is a histogram of execution duration by definition.
	ExecutionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentengine_execution_duration_seconds",
			Help:    "Duration of agent executions in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
		},
		[]string{"definition"},
	)

	// StepsTotal counts workflow steps executed by definition and step kind.
	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentengine_steps_total",
			Help: "Total workflow steps executed, by definition and step kind.",
		},
		[]string{"definition", "kind"},
	)

	// CapabilityDenialsTotal counts steps blocked by a missing security-profile capability.
	CapabilityDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentengine_capability_denials_total",
			Help: "Total steps blocked for lacking a required capability.",
		},
		[]string{"definition", "capability"},
	)

	// ThreatAlertsTotal counts threat-scorer alerts by tenant and alert level.
	ThreatAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentengine_threat_alerts_total",
			Help: "Total threat-scorer alerts raised, by tenant and level.",
		},
		[]string{"tenant", "level"},
	)

	// AuditEntriesTotal counts audit-trail entries appended by tenant and kind.
	AuditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentengine_audit_entries_total",
			Help: "Total audit-trail entries appended, by tenant and entry kind.",
		},
		[]string{"tenant", "kind"},
	)

	// PoolExhaustedTotal counts admission rejections by definition.
	PoolExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentengine_pool_exhausted_total",
			Help: "Total executions rejected for lack of runtime or quota capacity.",
		},
		[]string{"definition"},
	)

	// ActiveExecutions is the number of currently executing workflows.
	ActiveExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentengine_active_executions",
			Help: "Number of agent executions currently running.",
		},
	)
)

func init() {
	reg.MustRegister(
		ExecutionsTotal,
		ExecutionDurationSeconds,
		StepsTotal,
		CapabilityDenialsTotal,
		ThreatAlertsTotal,
		AuditEntriesTotal,
		PoolExhaustedTotal,
		ActiveExecutions,
	)
}

// RecordExecutionComplete records metrics for a completed execution.
func RecordExecutionComplete(definitionID, exitCode string, duration time.Duration, stepCount int) {
	ExecutionsTotal.WithLabelValues(definitionID, exitCode).Inc()
	ExecutionDurationSeconds.WithLabelValues(definitionID).Observe(duration.Seconds())
}

// RecordStep records one executed workflow step.
func RecordStep(definitionID, kind string) {
	StepsTotal.WithLabelValues(definitionID, kind).Inc()
}

// RecordCapabilityDenial records a step blocked for lacking a capability.
func RecordCapabilityDenial(definitionID, capability string) {
	CapabilityDenialsTotal.WithLabelValues(definitionID, capability).Inc()
}

// RecordThreatAlert records a single threat-scorer alert.
func RecordThreatAlert(tenantID, level string) {
	ThreatAlertsTotal.WithLabelValues(tenantID, level).Inc()
}

// RecordAuditEntry records a single audit-trail append.
func RecordAuditEntry(tenantID, kind string) {
	AuditEntriesTotal.WithLabelValues(tenantID, kind).Inc()
}

// RecordPoolExhausted records a single admission rejection.
func RecordPoolExhausted(definitionID string) {
	PoolExhaustedTotal.WithLabelValues(definitionID).Inc()
}
