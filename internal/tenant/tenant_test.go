/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package tenant

import (
	"testing"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/agentengine/internal/engineerr"
)

func newEnforcer() *QuotaEnforcer {
	return NewQuotaEnforcer(logr.Discard())
}

func TestQuotaEnforcer_DefaultQuotasApplyToUnknownTenant(t *testing.T) {
	qe := newEnforcer()
	if err := qe.Admit("unseen-tenant"); err != nil {
		t.Fatalf("expected admission under default quotas, got: %v", err)
	}
	qe.Release("unseen-tenant")
}

func TestQuotaEnforcer_MaxConcurrentExecutions(t *testing.T) {
	qe := newEnforcer()
	qe.SetQuotas("acme", Quotas{MaxConcurrentExecutions: 2, MaxExecutionsPerHour: 100})

	if err := qe.Admit("acme"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := qe.Admit("acme"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := qe.Admit("acme")
	if engineerr.CodeOf(err) != engineerr.PoolExhausted {
		t.Fatalf("expected PoolExhausted, got %v", err)
	}

	qe.Release("acme")
	if err := qe.Admit("acme"); err != nil {
		t.Fatalf("expected admission after release, got: %v", err)
	}
}

func TestQuotaEnforcer_MaxExecutionsPerHour(t *testing.T) {
	qe := newEnforcer()
	qe.SetQuotas("batch", Quotas{MaxConcurrentExecutions: 100, MaxExecutionsPerHour: 3})

	for i := 0; i < 3; i++ {
		if err := qe.Admit("batch"); err != nil {
			t.Fatalf("unexpected error on admission %d: %v", i, err)
		}
		qe.Release("batch")
	}

	err := qe.Admit("batch")
	if engineerr.CodeOf(err) != engineerr.PoolExhausted {
		t.Fatalf("expected PoolExhausted, got %v", err)
	}
}

func TestQuotaEnforcer_AuditByteQuota(t *testing.T) {
	qe := newEnforcer()
	qe.SetQuotas("logging-heavy", Quotas{MaxAuditBytesPerHour: 100})

	if err := qe.RecordAuditBytes("logging-heavy", 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := qe.RecordAuditBytes("logging-heavy", 60); err == nil {
		t.Fatal("expected quota rejection past the byte budget")
	}

	qe.ResetHourly()
	if err := qe.RecordAuditBytes("logging-heavy", 60); err != nil {
		t.Fatalf("expected allowance after hourly reset, got: %v", err)
	}
}

func TestQuotaEnforcer_TenantIsolation(t *testing.T) {
	qe := newEnforcer()
	qe.SetQuotas("team-a", Quotas{MaxConcurrentExecutions: 1})
	qe.SetQuotas("team-b", Quotas{MaxConcurrentExecutions: 1})

	if err := qe.Admit("team-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := qe.Admit("team-a"); err == nil {
		t.Fatal("team-a should be at quota")
	}
	if err := qe.Admit("team-b"); err != nil {
		t.Fatalf("team-b should be unaffected by team-a's quota: %v", err)
	}
}

func TestQuotaEnforcer_Snapshot(t *testing.T) {
	qe := newEnforcer()
	qe.SetQuotas("acme", Quotas{MaxConcurrentExecutions: 5})
	_ = qe.Admit("acme")
	_ = qe.Admit("acme")

	snap := qe.Snapshot("acme")
	if snap.ConcurrentExecutions != 2 {
		t.Fatalf("expected 2 concurrent executions, got %d", snap.ConcurrentExecutions)
	}
}
