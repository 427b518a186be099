/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/marcus-qen/agentengine/internal/engineerr"
	"github.com/marcus-qen/agentengine/internal/secprofile"
)

func testProfile(t *testing.T) secprofile.Profile {
	t.Helper()
	p, ok := secprofile.Get(secprofile.TenantIsolated)
	if !ok {
		t.Fatal("tenant-isolated profile must be pinned")
	}
	return p
}

func TestExecute_ReturnsUnitValue(t *testing.T) {
	p := New(DefaultConfig())
	res := p.Execute(context.Background(), func(ec *ExecutionContext) (any, error) {
		return "ok", nil
	}, testProfile(t))

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != "ok" {
		t.Errorf("value = %v, want ok", res.Value)
	}
}

func TestExecute_PropagatesUnitError(t *testing.T) {
	p := New(DefaultConfig())
	wantErr := engineerr.New(engineerr.VariableRefError, "boom")
	res := p.Execute(context.Background(), func(ec *ExecutionContext) (any, error) {
		return nil, wantErr
	}, testProfile(t))

	if engineerr.CodeOf(res.Err) != engineerr.VariableRefError {
		t.Errorf("code = %v, want VariableRefError", engineerr.CodeOf(res.Err))
	}
}

func TestExecute_DeadlineExceeded(t *testing.T) {
	profile := testProfile(t)
	profile.WallClock = 20 * time.Millisecond

	p := New(DefaultConfig())
	res := p.Execute(context.Background(), func(ec *ExecutionContext) (any, error) {
		for {
			if err := ec.CheckSuspensionPoint(); err != nil {
				return nil, err
			}
			time.Sleep(5 * time.Millisecond)
		}
	}, profile)

	if engineerr.CodeOf(res.Err) != engineerr.Timeout {
		t.Errorf("code = %v, want Timeout", engineerr.CodeOf(res.Err))
	}
}

func TestExecute_CapabilityDeniedWhenProfileLacksCapability(t *testing.T) {
	p := New(DefaultConfig())
	profile, _ := secprofile.Get(secprofile.UltraSecure)

	res := p.Execute(context.Background(), func(ec *ExecutionContext) (any, error) {
		if err := ec.CheckCapability(secprofile.CapNetAI); err != nil {
			return nil, err
		}
		return "should not reach here", nil
	}, profile)

	if engineerr.CodeOf(res.Err) != engineerr.CapabilityDenied {
		t.Errorf("code = %v, want CapabilityDenied", engineerr.CodeOf(res.Err))
	}
}

func TestExecute_PoolExhaustedFailsFastAtMaxPool(t *testing.T) {
	p := New(Config{MinPool: 1, MaxPool: 1, IdlePoolTimeout: time.Second, LogBufferLines: 16})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		p.Execute(context.Background(), func(ec *ExecutionContext) (any, error) {
			close(started)
			<-release
			return nil, nil
		}, testProfile(t))
	}()
	<-started

	res := p.Execute(context.Background(), func(ec *ExecutionContext) (any, error) {
		return "unreachable", nil
	}, testProfile(t))

	close(release)

	if engineerr.CodeOf(res.Err) != engineerr.PoolExhausted {
		t.Errorf("code = %v, want PoolExhausted", engineerr.CodeOf(res.Err))
	}
}

func TestExecutionContext_LogBufferDropsBeyondCapacity(t *testing.T) {
	buf := NewLogBuffer(2)
	buf.Write("a")
	buf.Write("b")
	buf.Write("c")

	lines, dropped := buf.Lines()
	if len(lines) != 2 {
		t.Errorf("lines = %d, want 2", len(lines))
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestExecute_MemoryHighWaterReported(t *testing.T) {
	p := New(DefaultConfig())
	profile := testProfile(t)

	res := p.Execute(context.Background(), func(ec *ExecutionContext) (any, error) {
		_ = ec.CheckSuspensionPoint()
		return "done", nil
	}, profile)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.MemoryHighWaterBytes < 0 {
		t.Errorf("high water = %d, want >= 0", res.MemoryHighWaterBytes)
	}
}
