/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package audit implements the per-tenant, hash-chained, append-only
// execution audit trail. Each tenant's events form their own chain —
// entry_hash binds every field of the record plus the preceding
// entry_hash, so a single corrupted or reordered row is detectable by
// Verify without needing the rest of the log.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/marcus-qen/agentengine/internal/engineerr"
	"github.com/marcus-qen/agentengine/internal/schema"
)

// Kind is the closed set of audit event kinds the engine emits. Severity
// is derived from Kind — never supplied by the caller.
type Kind string

const (
	KindExecutionStart  Kind = "ExecutionStart"
	KindExecutionEnd    Kind = "ExecutionEnd"
	KindStepExecuted    Kind = "StepExecuted"
	KindCapabilityDenied Kind = "CapabilityDenied"
	KindSchemaViolation Kind = "SchemaViolation"
	KindComplianceDenied Kind = "ComplianceDenied"
	KindThreatAlert     Kind = "ThreatAlert"
)

// Severity mirrors the spec's audit severity enum.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var kindSeverity = map[Kind]Severity{
	KindExecutionStart:   SeverityInfo,
	KindExecutionEnd:     SeverityInfo,
	KindStepExecuted:     SeverityInfo,
	KindCapabilityDenied: SeverityCritical,
	KindSchemaViolation:  SeverityWarning,
	KindComplianceDenied: SeverityCritical,
	KindThreatAlert:      SeverityCritical,
}

// SeverityFor returns the fixed severity for a kind. Unknown kinds
// default to warning — they should never occur in practice, since every
// append site uses one of the Kind constants above.
func SeverityFor(k Kind) Severity {
	if s, ok := kindSeverity[k]; ok {
		return s
	}
	return SeverityWarning
}

// Result is the outcome recorded on an event.
type Result string

const (
	ResultOk   Result = "ok"
	ResultFail Result = "fail"
)

// Event is one audit-trail record, per spec's canonical layout.
type Event struct {
	ID          string
	TenantID    string
	ExecutionID string
	Kind        Kind
	TimestampMs int64
	Severity    Severity
	Result      Result
	Details     map[string]any
	DetailsHash string
	PrevHash    string
	EntryHash   string
}

// computeDetailsHash hashes the canonical JSON of details.
func computeDetailsHash(details map[string]any) (string, error) {
	if details == nil {
		details = map[string]any{}
	}
	h, err := schema.HashHex(details)
	if err != nil {
		return "", engineerr.Wrap(engineerr.Internal, err)
	}
	return h, nil
}

// computeEntryHash binds every field of the record (per spec §9's
// correction: the source omits timestamp from its recomputation — this
// implementation always includes it).
func computeEntryHash(e Event) string {
	canon := strings.Join([]string{
		e.ID, e.TenantID, e.ExecutionID, string(e.Kind),
		fmt.Sprintf("%d", e.TimestampMs), string(e.Severity), string(e.Result),
		e.DetailsHash, e.PrevHash,
	}, "|")
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}

// tenantShard holds one tenant's hash chain and ring buffer.
type tenantShard struct {
	mu      sync.Mutex
	events  []Event
	genesis string
}

// Config configures the Trail.
type Config struct {
	// MaxEventsPerTenant bounds each tenant's ring buffer (default 100000).
	MaxEventsPerTenant int
	// RetentionWindow is the default age past which a sweep drops events (default 90 days).
	RetentionWindow time.Duration
	// MasterKey seeds the per-tenant genesis constant via HKDF, so no two
	// tenants share a chain root.
	MasterKey []byte
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxEventsPerTenant: 100_000,
		RetentionWindow:    90 * 24 * time.Hour,
		MasterKey:          []byte("agent-engine-audit-genesis"),
	}
}

// AlertSink receives events with severity >= critical, out of band.
type AlertSink interface {
	Notify(e Event)
}

// Trail is the in-memory, per-tenant hash-chained audit log. A Store (in
// store.go) adds SQLite persistence on top without changing this type's
// chain-integrity semantics.
type Trail struct {
	cfg   Config
	mu    sync.RWMutex
	shard map[string]*tenantShard
	sink  AlertSink
}

// New creates a Trail. sink may be nil.
func New(cfg Config, sink AlertSink) *Trail {
	if cfg.MaxEventsPerTenant <= 0 {
		cfg.MaxEventsPerTenant = DefaultConfig().MaxEventsPerTenant
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultConfig().RetentionWindow
	}
	if len(cfg.MasterKey) == 0 {
		cfg.MasterKey = DefaultConfig().MasterKey
	}
	return &Trail{cfg: cfg, shard: make(map[string]*tenantShard), sink: sink}
}

// genesisFor derives a per-tenant genesis hash from the master key via
// HKDF, so the chain root is not a shared literal across tenants.
func genesisFor(masterKey []byte, tenant string) string {
	r := hkdf.New(sha256.New, masterKey, nil, []byte("tenant-genesis|"+tenant))
	out := make([]byte, sha256.Size)
	_, _ = r.Read(out)
	return hex.EncodeToString(out)
}

func (t *Trail) shardFor(tenant string) *tenantShard {
	t.mu.RLock()
	s, ok := t.shard[tenant]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.shard[tenant]; ok {
		return s
	}
	s = &tenantShard{genesis: genesisFor(t.cfg.MasterKey, tenant)}
	t.shard[tenant] = s
	return s
}

// Append computes entry_hash, chaining it to the tenant's previous entry
// (or genesis), and appends the event. Returns the computed entry_hash.
func (t *Trail) Append(e Event) (string, error) {
	if e.TenantID == "" {
		return "", engineerr.New(engineerr.Internal, "audit event missing tenant_id")
	}
	if e.ID == "" {
		return "", engineerr.New(engineerr.Internal, "audit event missing id")
	}
	if e.TimestampMs == 0 {
		e.TimestampMs = time.Now().UnixMilli()
	}
	e.Severity = SeverityFor(e.Kind)

	detailsHash, err := computeDetailsHash(e.Details)
	if err != nil {
		return "", err
	}
	e.DetailsHash = detailsHash

	s := t.shardFor(e.TenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) == 0 {
		e.PrevHash = s.genesis
	} else {
		e.PrevHash = s.events[len(s.events)-1].EntryHash
	}
	e.EntryHash = computeEntryHash(e)

	s.events = append(s.events, e)
	if t.cfg.MaxEventsPerTenant > 0 && len(s.events) > t.cfg.MaxEventsPerTenant {
		s.events = s.events[len(s.events)-t.cfg.MaxEventsPerTenant:]
	}

	if t.sink != nil && (e.Severity == SeverityCritical) {
		t.sink.Notify(e)
	}

	return e.EntryHash, nil
}

// VerifyResult is the outcome of a chain-integrity check.
type VerifyResult struct {
	Valid         bool
	CorruptedCount int
	EventCount     int
}

// Verify recomputes every entry_hash for tenant from its stored fields
// and the preceding prev_hash, counting mismatches as corruption.
func (t *Trail) Verify(tenant string) VerifyResult {
	s := t.shardFor(tenant)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.genesis
	corrupted := 0
	for _, e := range s.events {
		if e.PrevHash != prev {
			corrupted++
		}
		want := computeEntryHash(Event{
			ID: e.ID, TenantID: e.TenantID, ExecutionID: e.ExecutionID,
			Kind: e.Kind, TimestampMs: e.TimestampMs, Severity: e.Severity,
			Result: e.Result, DetailsHash: e.DetailsHash, PrevHash: e.PrevHash,
		})
		if want != e.EntryHash {
			corrupted++
		}
		prev = e.EntryHash
	}
	return VerifyResult{Valid: corrupted == 0, CorruptedCount: corrupted, EventCount: len(s.events)}
}

// TenantLogResult is the return shape of TenantLog.
type TenantLogResult struct {
	Events     []Event
	GlobalHash string
}

// TenantLog returns every event for tenant within [start, end] (zero
// values mean unbounded) plus the global_hash over the sorted entry
// hashes.
func (t *Trail) TenantLog(tenant string, start, end time.Time) TenantLogResult {
	s := t.shardFor(tenant)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.events {
		ts := time.UnixMilli(e.TimestampMs)
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && ts.After(end) {
			continue
		}
		out = append(out, e)
	}

	hashes := make([]string, len(out))
	for i, e := range out {
		hashes[i] = e.EntryHash
	}
	sort.Strings(hashes)
	sum := sha256.Sum256([]byte(strings.Join(hashes, "|")))

	return TenantLogResult{Events: out, GlobalHash: hex.EncodeToString(sum[:])}
}

// ComplianceVerdict is the PASSED|WARNING|FAILED classification.
type ComplianceVerdict string

const (
	VerdictPassed  ComplianceVerdict = "PASSED"
	VerdictWarning ComplianceVerdict = "WARNING"
	VerdictFailed  ComplianceVerdict = "FAILED"
)

// ComplianceReportResult aggregates one tenant's events over a period.
type ComplianceReportResult struct {
	Tenant          string
	CountByKind     map[Kind]int
	CountBySeverity map[Severity]int
	SecurityViolations int
	SuccessRatio    float64
	Verdict         ComplianceVerdict
	GlobalHash      string
}

// securityRelevant marks kinds that count toward SecurityViolations.
var securityRelevant = map[Kind]bool{
	KindCapabilityDenied: true,
	KindComplianceDenied: true,
	KindThreatAlert:      true,
}

// ComplianceReport aggregates tenant events in [start, end] by kind and
// severity, derives a verdict from thresholds on security-violation
// count and success ratio, and embeds the period's global_hash.
func (t *Trail) ComplianceReport(tenant string, start, end time.Time) ComplianceReportResult {
	log := t.TenantLog(tenant, start, end)

	r := ComplianceReportResult{
		Tenant:          tenant,
		CountByKind:     make(map[Kind]int),
		CountBySeverity: make(map[Severity]int),
		GlobalHash:      log.GlobalHash,
	}

	var ok, total int
	for _, e := range log.Events {
		r.CountByKind[e.Kind]++
		r.CountBySeverity[e.Severity]++
		if securityRelevant[e.Kind] {
			r.SecurityViolations++
		}
		total++
		if e.Result == ResultOk {
			ok++
		}
	}
	if total > 0 {
		r.SuccessRatio = float64(ok) / float64(total)
	} else {
		r.SuccessRatio = 1.0
	}

	switch {
	case r.SecurityViolations > 5 || r.SuccessRatio < 0.5:
		r.Verdict = VerdictFailed
	case r.SecurityViolations > 0 || r.SuccessRatio < 0.9:
		r.Verdict = VerdictWarning
	default:
		r.Verdict = VerdictPassed
	}
	return r
}

// Sweep drops events older than the tenant's retention window across
// every known tenant, returning the total number dropped. Called
// periodically by a retention scheduler (see store.go's cron-driven
// sweep for the persisted form).
func (t *Trail) Sweep(now time.Time) int {
	t.mu.RLock()
	tenants := make([]*tenantShard, 0, len(t.shard))
	for _, s := range t.shard {
		tenants = append(tenants, s)
	}
	t.mu.RUnlock()

	cutoff := now.Add(-t.cfg.RetentionWindow)
	dropped := 0
	for _, s := range tenants {
		s.mu.Lock()
		i := 0
		for i < len(s.events) && time.UnixMilli(s.events[i].TimestampMs).Before(cutoff) {
			i++
		}
		dropped += i
		if i > 0 {
			s.events = s.events[i:]
		}
		s.mu.Unlock()
	}
	return dropped
}
