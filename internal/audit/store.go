/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"github.com/marcus-qen/agentengine/internal/engineerr"
	"github.com/marcus-qen/agentengine/internal/security"
)

// Store wraps a Trail with SQLite-backed persistence so events survive
// process restarts; chain-integrity semantics stay entirely in Trail —
// this type only mirrors each appended event to disk.
type Store struct {
	db    *sql.DB
	trail *Trail
	log   logr.Logger
	cron  *cron.Cron
}

// NewStore opens (or creates) a SQLite-backed audit store at dbPath.
func NewStore(dbPath string, cfg Config, sink AlertSink, log logr.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Internal, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, engineerr.Wrap(engineerr.Internal, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, engineerr.Wrap(engineerr.Internal, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_events (
		id            TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		execution_id  TEXT NOT NULL,
		kind          TEXT NOT NULL,
		timestamp_ms  INTEGER NOT NULL,
		severity      TEXT NOT NULL,
		result        TEXT NOT NULL,
		details       TEXT,
		details_hash  TEXT NOT NULL,
		prev_hash     TEXT NOT NULL,
		entry_hash    TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, engineerr.Wrap(engineerr.Internal, err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_events(tenant_id)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(timestamp_ms)`)

	return &Store{
		db:    db,
		trail: New(cfg, sink),
		log:   log.WithName("audit-store"),
	}, nil
}

// Append builds a new event with a generated ID (if unset) and persists
// it through the in-memory Trail, then mirrors it to SQLite. A persist
// failure never aborts the hosting execution (spec §7): it is logged and
// swallowed — the caller still gets the computed entry_hash back. No
// dead-letter copy of the failed event is kept; the log line is the only
// record of the lost row.
func (s *Store) Append(e Event) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Details != nil {
		e.Details = security.SanitizeDetails(e.Details)
	}

	entryHash, err := s.trail.Append(e)
	if err != nil {
		return "", err
	}

	// Re-read the committed event (Append recomputed hashes/timestamp)
	// so what we persist matches exactly what the chain holds.
	committed := s.lastEventUnsafe(e.TenantID)
	if err := s.persist(committed); err != nil {
		s.log.Error(err, "audit persist failed, event remains chained in memory only",
			"tenant", e.TenantID, "kind", e.Kind)
	}
	return entryHash, nil
}

func (s *Store) lastEventUnsafe(tenant string) Event {
	sh := s.trail.shardFor(tenant)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.events[len(sh.events)-1]
}

func (s *Store) persist(e Event) error {
	details, _ := json.Marshal(e.Details)
	_, err := s.db.Exec(`INSERT OR IGNORE INTO audit_events
		(id, tenant_id, execution_id, kind, timestamp_ms, severity, result, details, details_hash, prev_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.ExecutionID, string(e.Kind), e.TimestampMs,
		string(e.Severity), string(e.Result), string(details), e.DetailsHash, e.PrevHash, e.EntryHash,
	)
	return err
}

// Verify delegates to the in-memory chain.
func (s *Store) Verify(tenant string) VerifyResult { return s.trail.Verify(tenant) }

// TenantLog delegates to the in-memory chain.
func (s *Store) TenantLog(tenant string, start, end time.Time) TenantLogResult {
	return s.trail.TenantLog(tenant, start, end)
}

// ComplianceReport delegates to the in-memory chain.
func (s *Store) ComplianceReport(tenant string, start, end time.Time) ComplianceReportResult {
	return s.trail.ComplianceReport(tenant, start, end)
}

// Purge deletes persisted rows older than the retention window and
// returns the count removed.
func (s *Store) Purge(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.db.Exec("DELETE FROM audit_events WHERE timestamp_ms < ?", cutoff)
	if err != nil {
		return 0, engineerr.Wrap(engineerr.Internal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, engineerr.Wrap(engineerr.Internal, err)
	}
	return n, nil
}

// StartRetentionSweep schedules a cron job that purges both the SQLite
// store and the in-memory chains on schedule (default: daily at 03:00).
// Returns a stop function.
func (s *Store) StartRetentionSweep(ctx context.Context, retention time.Duration, schedule string) (func(), error) {
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		dropped := s.trail.Sweep(time.Now())
		n, err := s.Purge(retention)
		if err != nil {
			s.log.Error(err, "retention sweep: sqlite purge failed")
			return
		}
		s.log.Info("retention sweep complete", "memoryDropped", dropped, "sqliteDropped", n)
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Internal, fmt.Errorf("schedule retention sweep: %w", err))
	}
	s.cron = c
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return func() { c.Stop() }, nil
}

// Close shuts down the store.
func (s *Store) Close() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	return s.db.Close()
}
