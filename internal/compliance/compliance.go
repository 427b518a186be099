/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package compliance defines the engine's narrow collaboration boundary
// with a host's policy system. Per the redesign decision recorded for
// this component, the engine calls only Precheck and Report — all policy
// storage, rule authoring, and reporting persistence belong to the host.
// InProcessGate here is a reference in-process implementation good enough for a
// single-process deployment or for tests; production hosts are expected
// to supply their own Gate backed by whatever policy store they already run.
package compliance

import (
	"sync"
	"time"
)

// Verdict is the outcome of a precheck call.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Allow is a convenience constructor for an allowed verdict.
func Allow() Verdict { return Verdict{Allowed: true} }

// Deny is a convenience constructor for a denied verdict with a reason.
func Deny(reason string) Verdict { return Verdict{Allowed: false, Reason: reason} }

// Report summarizes compliance posture for a tenant over a period.
type Report struct {
	TenantID     string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	DenialCount  int
	DenialsByRule map[string]int
}

// Gate is the engine-facing compliance boundary. Supervisor calls
// Precheck before every execution and may call Report for diagnostics;
// it never reaches into whatever storage backs an implementation.
type Gate interface {
	// Precheck decides whether tenantID may invoke an agent carrying the
	// given input properties, before any runtime resources are committed.
	Precheck(tenantID string, props map[string]any) Verdict
	// Report returns a compliance summary for tenantID over [start, end).
	Report(tenantID string, start, end time.Time) Report
}

// Rule is one named precheck predicate. Rules run in registration order;
// the first denial short-circuits.
type Rule struct {
	Name  string
	Check func(tenantID string, props map[string]any) Verdict
}

// InProcessGate is the reference Gate: a fixed rule chain plus an
// in-memory denial ledger for Report. It holds no secrets and performs
// no network calls — real deployments with external policy engines
// should implement Gate directly instead of extending this type.
type InProcessGate struct {
	rules []Rule

	mu      sync.Mutex
	denials map[string]map[string]int // tenant -> rule -> count
}

// NewInProcessGate creates a Gate evaluating rules in order.
func NewInProcessGate(rules ...Rule) *InProcessGate {
	return &InProcessGate{
		rules:   rules,
		denials: make(map[string]map[string]int),
	}
}

// DefaultRules returns the baseline LGPD-oriented rule set: deny any
// request whose properties claim cross-tenant scope or explicitly
// withhold consent for personal-data processing.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "consent_required",
			Check: func(_ string, props map[string]any) Verdict {
				if v, ok := props["consent_status"].(string); ok && v == "missing" {
					return Deny("consent_status is missing for a request touching personal data")
				}
				return Allow()
			},
		},
		{
			Name: "no_cross_tenant_target",
			Check: func(tenantID string, props map[string]any) Verdict {
				if target, ok := props["target_tenant_id"].(string); ok && target != "" && target != tenantID {
					return Deny("request targets a different tenant than the caller")
				}
				return Allow()
			},
		},
	}
}

// Precheck runs every rule in order, denying on the first rule that
// denies.
func (g *InProcessGate) Precheck(tenantID string, props map[string]any) Verdict {
	for _, r := range g.rules {
		v := r.Check(tenantID, props)
		if !v.Allowed {
			g.recordDenial(tenantID, r.Name)
			return v
		}
	}
	return Allow()
}

func (g *InProcessGate) recordDenial(tenantID, rule string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	byRule, ok := g.denials[tenantID]
	if !ok {
		byRule = make(map[string]int)
		g.denials[tenantID] = byRule
	}
	byRule[rule]++
}

// Report aggregates recorded denials for tenantID. The in-process
// implementation does not bucket by period — start/end are accepted for
// interface conformance and ignored, since it holds no timestamps; a
// host-backed Gate implementation should honor them against its own store.
func (g *InProcessGate) Report(tenantID string, start, end time.Time) Report {
	g.mu.Lock()
	defer g.mu.Unlock()

	byRule := g.denials[tenantID]
	total := 0
	out := make(map[string]int, len(byRule))
	for rule, count := range byRule {
		out[rule] = count
		total += count
	}

	return Report{
		TenantID:      tenantID,
		PeriodStart:   start,
		PeriodEnd:     end,
		DenialCount:   total,
		DenialsByRule: out,
	}
}
