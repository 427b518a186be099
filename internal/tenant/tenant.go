/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package tenant tracks per-tenant resource quotas for the execution
// engine. Every Supervisor.Execute call is attributed to a tenant; the
// QuotaEnforcer is consulted before admission and updated on completion
// so a single noisy tenant cannot starve the shared worker pool.
package tenant

import (
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/agentengine/internal/engineerr"
)

// Quotas bounds one tenant's resource consumption.
type Quotas struct {
	// MaxConcurrentExecutions limits simultaneous in-flight runs.
	MaxConcurrentExecutions int `json:"maxConcurrentExecutions"`

	// MaxExecutionsPerHour limits total admitted runs per rolling hour.
	MaxExecutionsPerHour int `json:"maxExecutionsPerHour"`

	// MaxAuditBytesPerHour bounds audit-detail volume a tenant may write.
	MaxAuditBytesPerHour int64 `json:"maxAuditBytesPerHour"`
}

// DefaultQuotas mirrors the tenant-isolated security profile's intended
// blast radius: generous enough for legitimate bursty use, tight enough
// that a single tenant cannot exhaust the shared pool.
func DefaultQuotas() Quotas {
	return Quotas{
		MaxConcurrentExecutions: 4,
		MaxExecutionsPerHour:    500,
		MaxAuditBytesPerHour:    10 << 20,
	}
}

// Usage tracks a tenant's current consumption.
type Usage struct {
	ConcurrentExecutions int       `json:"concurrentExecutions"`
	AuditBytesThisHour   int64     `json:"auditBytesThisHour"`
	LastUpdated          time.Time `json:"lastUpdated"`
}

type tenantState struct {
	quotas  Quotas
	usage   Usage
	history []time.Time
}

// QuotaEnforcer admits or rejects executions per tenant.
type QuotaEnforcer struct {
	mu      sync.Mutex
	tenants map[string]*tenantState
	log     logr.Logger
}

// NewQuotaEnforcer creates an enforcer with no registered tenants —
// unregistered tenants fall back to DefaultQuotas on first use.
func NewQuotaEnforcer(log logr.Logger) *QuotaEnforcer {
	return &QuotaEnforcer{
		tenants: make(map[string]*tenantState),
		log:     log.WithName("tenant"),
	}
}

// SetQuotas registers or overrides a tenant's quotas.
func (qe *QuotaEnforcer) SetQuotas(tenantID string, q Quotas) {
	qe.mu.Lock()
	defer qe.mu.Unlock()
	qe.stateLocked(tenantID).quotas = q
}

func (qe *QuotaEnforcer) stateLocked(tenantID string) *tenantState {
	st, ok := qe.tenants[tenantID]
	if !ok {
		st = &tenantState{quotas: DefaultQuotas()}
		qe.tenants[tenantID] = st
	}
	return st
}

// Admit checks whether tenantID may start a new execution now. On
// success it records the admission; callers must call Release when the
// execution completes.
func (qe *QuotaEnforcer) Admit(tenantID string) error {
	qe.mu.Lock()
	defer qe.mu.Unlock()

	now := time.Now()
	st := qe.stateLocked(tenantID)
	pruneBefore(st, now)

	if st.quotas.MaxConcurrentExecutions > 0 && st.usage.ConcurrentExecutions >= st.quotas.MaxConcurrentExecutions {
		return engineerr.Newf(engineerr.PoolExhausted, "tenant %q exceeded concurrent execution quota (%d/%d)",
			tenantID, st.usage.ConcurrentExecutions, st.quotas.MaxConcurrentExecutions)
	}
	if st.quotas.MaxExecutionsPerHour > 0 && len(st.history) >= st.quotas.MaxExecutionsPerHour {
		return engineerr.Newf(engineerr.PoolExhausted, "tenant %q exceeded hourly execution quota (%d/%d)",
			tenantID, len(st.history), st.quotas.MaxExecutionsPerHour)
	}

	st.usage.ConcurrentExecutions++
	st.usage.LastUpdated = now
	st.history = append(st.history, now)
	return nil
}

// Release marks one execution as completed.
func (qe *QuotaEnforcer) Release(tenantID string) {
	qe.mu.Lock()
	defer qe.mu.Unlock()
	st, ok := qe.tenants[tenantID]
	if !ok {
		return
	}
	if st.usage.ConcurrentExecutions > 0 {
		st.usage.ConcurrentExecutions--
	}
}

// RecordAuditBytes adds n bytes to the tenant's hourly audit-volume
// counter, rejecting admission of further audit writes once the quota
// is exceeded.
func (qe *QuotaEnforcer) RecordAuditBytes(tenantID string, n int64) error {
	qe.mu.Lock()
	defer qe.mu.Unlock()
	st := qe.stateLocked(tenantID)
	if st.quotas.MaxAuditBytesPerHour > 0 && st.usage.AuditBytesThisHour+n > st.quotas.MaxAuditBytesPerHour {
		return engineerr.Newf(engineerr.PoolExhausted, "tenant %q exceeded hourly audit volume quota", tenantID)
	}
	st.usage.AuditBytesThisHour += n
	return nil
}

// Snapshot returns a copy of the tenant's current usage.
func (qe *QuotaEnforcer) Snapshot(tenantID string) Usage {
	qe.mu.Lock()
	defer qe.mu.Unlock()
	st, ok := qe.tenants[tenantID]
	if !ok {
		return Usage{}
	}
	return st.usage
}

// ResetHourly clears the rolling hourly counters for all tenants. A
// host process calls this from a periodic job (e.g. robfig/cron).
func (qe *QuotaEnforcer) ResetHourly() {
	qe.mu.Lock()
	defer qe.mu.Unlock()
	for _, st := range qe.tenants {
		st.usage.AuditBytesThisHour = 0
		st.history = nil
	}
}

func pruneBefore(st *tenantState, now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(st.history) && st.history[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		st.history = st.history[i:]
	}
}
