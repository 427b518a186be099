/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package ratelimit provides execution-admission back-pressure for the
// IsolatedRuntime worker pool. It enforces both process-wide and
// per-definition concurrency limits with configurable burst and
// sustained rates, feeding the PoolExhausted exit code when a caller
// should retry rather than being admitted.
//
//   - Per-definition rate limits (executions/hour)
//   - Process-wide rate limits (total executions/hour)
//   - Burst allowance for priority-triggered executions
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/marcus-qen/agentengine/internal/engineerr"
)

// Config configures rate limiting.
type Config struct {
	// MaxConcurrentTotal is the process-wide limit on simultaneous executions.
	MaxConcurrentTotal int

	// MaxConcurrentPerDefinition is the per-definition limit on simultaneous executions.
	MaxConcurrentPerDefinition int

	// MaxExecutionsPerHourTotal is the process-wide limit on total executions per hour.
	MaxExecutionsPerHourTotal int

	// MaxExecutionsPerHourPerDefinition is the per-definition limit on executions per hour.
	MaxExecutionsPerHourPerDefinition int

	// BurstAllowance allows this many extra concurrent executions for
	// priority triggers, and ten times as many extra executions per hour
	// against the process-wide rate limit.
	BurstAllowance int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTotal:                10,
		MaxConcurrentPerDefinition:        1,
		MaxExecutionsPerHourTotal:         200,
		MaxExecutionsPerHourPerDefinition: 30,
		BurstAllowance:                    3,
	}
}

// Decision represents whether an execution is allowed and why.
type Decision struct {
	Allowed bool
	Reason  string
}

// Limiter tracks execution concurrency and rates.
type Limiter struct {
	config Config

	mu sync.Mutex

	// concurrent tracks currently running executions per agent definition.
	concurrent map[string]int // definitionID → count
	totalConc  int

	// history tracks admitted executions for rate calculation.
	history []execRecord
}

type execRecord struct {
	definitionID string
	time         time.Time
}

// NewLimiter creates a rate limiter.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		config:     cfg,
		concurrent: make(map[string]int),
	}
}

// Allow checks whether a new execution of definitionID is permitted.
func (l *Limiter) Allow(definitionID string, priority bool) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.pruneHistory(now)

	if l.concurrent[definitionID] >= l.config.MaxConcurrentPerDefinition {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("per-definition concurrency limit reached (%d/%d)", l.concurrent[definitionID], l.config.MaxConcurrentPerDefinition),
		}
	}

	maxConc := l.config.MaxConcurrentTotal
	if priority {
		maxConc += l.config.BurstAllowance
	}
	if l.totalConc >= maxConc {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("process-wide concurrency limit reached (%d/%d)", l.totalConc, maxConc),
		}
	}

	defCount := l.countDefinition(definitionID, now)
	if defCount >= l.config.MaxExecutionsPerHourPerDefinition {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("per-definition rate limit reached (%d executions in last hour, max %d)", defCount, l.config.MaxExecutionsPerHourPerDefinition),
		}
	}

	totalCount := len(l.history)
	maxRate := l.config.MaxExecutionsPerHourTotal
	if priority {
		maxRate += l.config.BurstAllowance * 10
	}
	if totalCount >= maxRate {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("process-wide rate limit reached (%d executions in last hour, max %d)", totalCount, maxRate),
		}
	}

	return Decision{Allowed: true}
}

// AllowErr is Allow lowered to the engine's error-as-value convention:
// a rejected Decision becomes a PoolExhausted error.
func (l *Limiter) AllowErr(definitionID string, priority bool) error {
	d := l.Allow(definitionID, priority)
	if !d.Allowed {
		return engineerr.New(engineerr.PoolExhausted, d.Reason)
	}
	return nil
}

// RecordStart marks an execution as started.
func (l *Limiter) RecordStart(definitionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.concurrent[definitionID]++
	l.totalConc++
	l.history = append(l.history, execRecord{definitionID: definitionID, time: time.Now()})
}

// RecordComplete marks an execution as finished.
func (l *Limiter) RecordComplete(definitionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.concurrent[definitionID] > 0 {
		l.concurrent[definitionID]--
	}
	if l.totalConc > 0 {
		l.totalConc--
	}
}

// Stats returns current limiter state (for metrics/status).
type Stats struct {
	ConcurrentTotal        int
	ConcurrentByDefinition map[string]int
	ExecutionsLastHour     int
}

// GetStats returns current limiter statistics.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneHistory(time.Now())

	byDef := make(map[string]int, len(l.concurrent))
	for k, v := range l.concurrent {
		byDef[k] = v
	}

	return Stats{
		ConcurrentTotal:        l.totalConc,
		ConcurrentByDefinition: byDef,
		ExecutionsLastHour:     len(l.history),
	}
}

// pruneHistory removes records older than 1 hour.
func (l *Limiter) pruneHistory(now time.Time) {
	cutoff := now.Add(-1 * time.Hour)
	i := 0
	for i < len(l.history) && l.history[i].time.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.history = l.history[i:]
	}
}

// countDefinition counts how many executions this definition has in the history window.
func (l *Limiter) countDefinition(definitionID string, now time.Time) int {
	count := 0
	cutoff := now.Add(-1 * time.Hour)
	for _, r := range l.history {
		if r.definitionID == definitionID && !r.time.Before(cutoff) {
			count++
		}
	}
	return count
}
