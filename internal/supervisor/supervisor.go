/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package supervisor implements the engine's public façade: it accepts
// (agent name, input, props, tenant) and coordinates the Registry,
// ComplianceGate, AuditTrail, IsolatedRuntime, Interpreter, and
// ThreatScorer into one call, the only entry point a host ever needs.
package supervisor

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/marcus-qen/agentengine/internal/agentdef"
	"github.com/marcus-qen/agentengine/internal/audit"
	"github.com/marcus-qen/agentengine/internal/compliance"
	"github.com/marcus-qen/agentengine/internal/engineerr"
	"github.com/marcus-qen/agentengine/internal/interpreter"
	"github.com/marcus-qen/agentengine/internal/registry"
	"github.com/marcus-qen/agentengine/internal/runtime"
	"github.com/marcus-qen/agentengine/internal/schema"
	"github.com/marcus-qen/agentengine/internal/secprofile"
	"github.com/marcus-qen/agentengine/internal/shared/ratelimit"
	"github.com/marcus-qen/agentengine/internal/telemetry"
	"github.com/marcus-qen/agentengine/internal/tenant"
	"github.com/marcus-qen/agentengine/internal/threat"
)

// Auditor is the narrow audit-append surface Supervisor needs. Both
// audit.Trail and audit.Store satisfy it.
type Auditor interface {
	Append(e audit.Event) (string, error)
}

// Deps bundles every collaborator Supervisor coordinates. QuotaEnforcer
// and Limiter are optional — nil disables that layer of admission
// control rather than erroring.
type Deps struct {
	Registry       *registry.Registry
	Gate           compliance.Gate
	Audit          Auditor
	Runtime        *runtime.Pool
	Interpreter    *interpreter.Interpreter
	Scorer         *threat.Scorer
	Quotas         *tenant.QuotaEnforcer
	Limiter        *ratelimit.Limiter
	DefaultProfile secprofile.Name
	Log            logr.Logger
}

// Supervisor is the engine's public façade.
type Supervisor struct {
	deps Deps
	log  logr.Logger
}

// New creates a Supervisor over the given collaborators.
func New(deps Deps) *Supervisor {
	if deps.DefaultProfile == "" {
		deps.DefaultProfile = secprofile.TenantIsolated
	}
	return &Supervisor{deps: deps, log: deps.Log.WithName("supervisor")}
}

// Execute runs one agent to completion for tenantID, coordinating
// lookup, compliance precheck, audit bracketing, isolated execution,
// and threat scoring, per the engine's fixed request lifecycle.
func (s *Supervisor) Execute(ctx context.Context, agentName string, input any, props map[string]any, tenantID string) (any, error) {
	execID := uuid.New().String()

	ctx, span := telemetry.StartExecutionSpan(ctx, agentName, tenantID)
	defer span.End()

	def, ok := s.deps.Registry.Get(agentName)
	if !ok {
		return nil, engineerr.Newf(engineerr.Internal, "agent %q is not registered", agentName)
	}

	if s.deps.Quotas != nil {
		if err := s.deps.Quotas.Admit(tenantID); err != nil {
			return nil, err
		}
		defer s.deps.Quotas.Release(tenantID)
	}
	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.AllowErr(def.ID, false); err != nil {
			return nil, err
		}
		s.deps.Limiter.RecordStart(def.ID)
		defer s.deps.Limiter.RecordComplete(def.ID)
	}

	if s.deps.Gate != nil {
		verdict := s.deps.Gate.Precheck(tenantID, props)
		if !verdict.Allowed {
			err := engineerr.Newf(engineerr.CapabilityDenied, "compliance precheck denied: %s", verdict.Reason)
			s.appendAudit(tenantID, execID, audit.KindComplianceDenied, audit.ResultFail, map[string]any{
				"agent": agentName, "reason": verdict.Reason,
			})
			return nil, err
		}
	}

	s.appendAudit(tenantID, execID, audit.KindExecutionStart, audit.ResultOk, map[string]any{"agent": agentName})

	profile, ok := secprofile.Get(s.profileFor(def))
	if !ok {
		profile, _ = secprofile.Get(secprofile.TenantIsolated)
	}

	unit := func(ec *runtime.ExecutionContext) (any, error) {
		return s.deps.Interpreter.Run(ec, def, input, props, 0)
	}
	result := s.deps.Runtime.Execute(ctx, unit, profile)

	score := s.score(tenantID, agentName, input, result.Err)
	s.finalize(tenantID, execID, agentName, result, score)

	return result.Value, result.Err
}

// profileFor resolves the SecurityProfile to run def under. An agent may
// pin one of the three profile names via its category field; otherwise
// the Supervisor's configured default applies.
func (s *Supervisor) profileFor(def *agentdef.Definition) secprofile.Name {
	switch secprofile.Name(def.Metadata.Category) {
	case secprofile.UltraSecure, secprofile.HighSecurity, secprofile.TenantIsolated:
		return secprofile.Name(def.Metadata.Category)
	default:
		return s.deps.DefaultProfile
	}
}

func (s *Supervisor) score(tenantID, agentName string, input any, runErr error) threat.ScoreResult {
	digest, err := schema.HashHex(input)
	if err != nil {
		digest = ""
	}
	status := "ok"
	if runErr != nil {
		status = string(engineerr.CodeOf(runErr))
	}
	return s.deps.Scorer.Score(tenantID, agentName, map[string]any{
		"input_digest":  digest,
		"result_status": status,
	})
}

func (s *Supervisor) finalize(tenantID, execID, agentName string, result runtime.Result, score threat.ScoreResult) {
	endResult := audit.ResultOk
	details := map[string]any{
		"agent":                    agentName,
		"duration_ms":              result.WallClock.Milliseconds(),
		"memory_high_water_bytes":  result.MemoryHighWaterBytes,
		"risk_score":               score.RiskScore,
		"threat_level":             string(score.Level),
	}
	if result.Err != nil {
		endResult = audit.ResultFail
		details["error_code"] = string(engineerr.CodeOf(result.Err))
	}
	s.appendAudit(tenantID, execID, audit.KindExecutionEnd, endResult, details)

	if score.Level == threat.LevelCritical || score.Level == threat.LevelEmergency {
		s.appendAudit(tenantID, execID, audit.KindThreatAlert, audit.ResultOk, map[string]any{
			"level":            string(score.Level),
			"threat_type":      score.ThreatType,
			"risk_score":       score.RiskScore,
			"recommendations":  score.Recommendations,
		})
	}
}

func (s *Supervisor) appendAudit(tenantID, execID string, kind audit.Kind, result audit.Result, details map[string]any) {
	_, err := s.deps.Audit.Append(audit.Event{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		ExecutionID: execID,
		Kind:        kind,
		TimestampMs: time.Now().UnixMilli(),
		Result:      result,
		Details:     details,
	})
	if err != nil {
		s.log.Error(err, "audit append failed", "tenant", tenantID, "execution", execID, "kind", kind)
	}
}
