/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package runtime implements IsolatedRuntime: the hardened execution
// envelope every agent run executes inside. It enforces wall-clock
// deadlines, a per-execution memory ceiling sampled at suspension
// points, capability checks against the active SecurityProfile, and
// admits executions onto a bounded worker pool that fails fast rather
// than queuing without bound.
package runtime

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcus-qen/agentengine/internal/engineerr"
	"github.com/marcus-qen/agentengine/internal/secprofile"
)

// LogBuffer is a bounded log sink for one execution's side effects.
// Once full, further writes are dropped and counted rather than
// growing unbounded or blocking the step that produced them.
type LogBuffer struct {
	mu      sync.Mutex
	cap     int
	lines   []string
	dropped int
}

// NewLogBuffer creates a buffer holding at most capacity lines.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &LogBuffer{cap: capacity}
}

// Write appends one line, dropping it (and counting the drop) if full.
func (b *LogBuffer) Write(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) >= b.cap {
		b.dropped++
		return
	}
	b.lines = append(b.lines, line)
}

// Lines returns a copy of the retained lines and the dropped count.
func (b *LogBuffer) Lines() ([]string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out, b.dropped
}

// ExecutionContext is threaded through one execution's unit of work. It
// is the only handle a Unit gets onto the enforcement machinery —
// capability checks, memory sampling, and deadline checks all happen
// through it, never through ambient package state.
type ExecutionContext struct {
	Ctx     context.Context
	Profile secprofile.Profile
	Logs    *LogBuffer

	deadline  time.Time
	baseAlloc uint64
	highWater int64
}

// CheckCapability refuses the call unless Profile grants cap.
func (ec *ExecutionContext) CheckCapability(cap secprofile.Capability) error {
	if !ec.Profile.Capabilities.Has(cap) {
		return engineerr.Newf(engineerr.CapabilityDenied, "capability not granted by security profile %s", ec.Profile.Name)
	}
	return nil
}

// CheckSuspensionPoint is called by the Interpreter at every step
// boundary and before/after outbound I/O. It folds together the
// deadline check and the memory-ceiling sample the spec requires after
// each step.
func (ec *ExecutionContext) CheckSuspensionPoint() error {
	select {
	case <-ec.Ctx.Done():
		return engineerr.New(engineerr.Timeout, "execution deadline exceeded")
	default:
	}
	if !ec.deadline.IsZero() && time.Now().After(ec.deadline) {
		return engineerr.New(engineerr.Timeout, "execution wall-clock budget exhausted")
	}
	return ec.sampleMemory()
}

func (ec *ExecutionContext) sampleMemory() error {
	if ec.Profile.MemoryCeilingByte <= 0 {
		return nil
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	delta := int64(ms.HeapAlloc) - int64(ec.baseAlloc)
	if delta < 0 {
		delta = 0
	}
	if delta > atomic.LoadInt64(&ec.highWater) {
		atomic.StoreInt64(&ec.highWater, delta)
	}
	if delta > ec.Profile.MemoryCeilingByte {
		return engineerr.Newf(engineerr.MemoryExceeded, "heap delta %d bytes exceeds ceiling %d bytes", delta, ec.Profile.MemoryCeilingByte)
	}
	return nil
}

// MemoryHighWaterBytes returns the largest heap-delta sample observed
// so far this execution.
func (ec *ExecutionContext) MemoryHighWaterBytes() int64 {
	return atomic.LoadInt64(&ec.highWater)
}

// Unit is one execution's complete unit of work (an Interpreter.Run
// call, in practice), given the ExecutionContext to enforce itself
// against.
type Unit func(ec *ExecutionContext) (any, error)

// Result is the outcome IsolatedRuntime.Execute hands back.
type Result struct {
	Value                any
	Err                  error
	MemoryHighWaterBytes int64
	WallClock            time.Duration
	Logs                 []string
	LogsDropped          int
}

// Config configures the worker pool.
type Config struct {
	MinPool         int
	MaxPool         int
	IdlePoolTimeout time.Duration
	LogBufferLines  int
}

// DefaultConfig returns the spec's documented pool defaults.
func DefaultConfig() Config {
	return Config{
		MinPool:         5,
		MaxPool:         100,
		IdlePoolTimeout: 30 * time.Second,
		LogBufferLines:  256,
	}
}

// job is one admitted unit of work waiting for a permanent worker.
type job struct {
	ec     *ExecutionContext
	unit   Unit
	result chan Result
}

// Pool is the IsolatedRuntime worker pool. MinPool workers are
// permanent; capacity beyond that up to MaxPool is granted to transient
// one-shot workers spawned per admission, which exit as soon as their
// job completes rather than lingering — equivalent in effect to "idle
// workers beyond min_pool released after the idle timeout" since a
// transient worker never accrues idle time in the first place.
type Pool struct {
	cfg  Config
	jobs chan job
	sem  chan struct{} // bounds total in-flight executions at MaxPool

	mu      sync.Mutex
	warm    int
	started bool
}

// New creates a Pool and starts its MinPool permanent workers.
func New(cfg Config) *Pool {
	if cfg.MinPool <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.MaxPool < cfg.MinPool {
		cfg.MaxPool = cfg.MinPool
	}
	p := &Pool{
		cfg:  cfg,
		jobs: make(chan job),
		sem:  make(chan struct{}, cfg.MaxPool),
	}
	for i := 0; i < cfg.MinPool; i++ {
		go p.permanentWorker()
	}
	p.started = true
	return p
}

func (p *Pool) permanentWorker() {
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) transientWorker(j job) {
	p.run(j)
}

func (p *Pool) run(j job) {
	defer func() { <-p.sem }()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			j.result <- Result{
				Err:       engineerr.Newf(engineerr.Internal, "execution panicked: %v", r),
				WallClock: time.Since(start),
			}
		}
	}()
	value, err := j.unit(j.ec)
	lines, dropped := j.ec.Logs.Lines()
	j.result <- Result{
		Value:                value,
		Err:                  err,
		MemoryHighWaterBytes: j.ec.MemoryHighWaterBytes(),
		WallClock:            time.Since(start),
		Logs:                 lines,
		LogsDropped:          dropped,
	}
}

// Execute admits unit for execution under profile, bounded by deadline.
// It fails fast with PoolExhausted if the pool is already at MaxPool
// in-flight executions rather than queuing unboundedly.
func (p *Pool) Execute(ctx context.Context, unit Unit, profile secprofile.Profile) Result {
	select {
	case p.sem <- struct{}{}:
	default:
		return Result{Err: engineerr.Newf(engineerr.PoolExhausted, "runtime pool exhausted at max_pool_size=%d", p.cfg.MaxPool)}
	}

	deadline := time.Now().Add(profile.WallClock)
	execCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var baseAlloc uint64
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	baseAlloc = ms.HeapAlloc

	ec := &ExecutionContext{
		Ctx:       execCtx,
		Profile:   profile,
		Logs:      NewLogBuffer(p.cfg.LogBufferLines),
		deadline:  deadline,
		baseAlloc: baseAlloc,
	}

	j := job{ec: ec, unit: unit, result: make(chan Result, 1)}

	select {
	case p.jobs <- j:
		// a permanent worker picked it up; <-p.sem happens in run()
	default:
		go p.transientWorker(j)
	}

	select {
	case res := <-j.result:
		return res
	case <-execCtx.Done():
		// The unit did not observe the deadline at a suspension point in
		// time; still wait for it to return so the semaphore slot is
		// correctly released, but report the timeout to the caller now.
		select {
		case res := <-j.result:
			if res.Err == nil {
				res.Err = engineerr.New(engineerr.Timeout, "execution deadline exceeded")
			}
			return res
		case <-time.After(time.Second):
			return Result{Err: engineerr.New(engineerr.Timeout, fmt.Sprintf("execution deadline exceeded (profile=%s)", profile.Name))}
		}
	}
}
