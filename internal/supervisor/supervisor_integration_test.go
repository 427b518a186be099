/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package supervisor

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/agentengine/internal/agentdef"
	"github.com/marcus-qen/agentengine/internal/audit"
	"github.com/marcus-qen/agentengine/internal/compliance"
	"github.com/marcus-qen/agentengine/internal/engineerr"
	"github.com/marcus-qen/agentengine/internal/interpreter"
	"github.com/marcus-qen/agentengine/internal/registry"
	"github.com/marcus-qen/agentengine/internal/runtime"
	"github.com/marcus-qen/agentengine/internal/secprofile"
	"github.com/marcus-qen/agentengine/internal/steps"
	"github.com/marcus-qen/agentengine/internal/threat"
)

var _ = Describe("Supervisor end to end", func() {
	var (
		trail *audit.Trail
		sup   *Supervisor
	)

	newSupervisorWithGate := func(gate compliance.Gate) *Supervisor {
		reg := registry.New(logr.Discard())
		Expect(reg.Register(&agentdef.Definition{
			ID: "greeter",
			Workflow: []agentdef.Step{
				{Name: "greet", Kind: agentdef.StepCustomAction, Result: "greeting",
					Action: map[string]any{"function": "greet"}},
				{Kind: agentdef.StepOutputProject, Action: map[string]any{"message": "$greeting"}},
			},
		}, false)).To(Succeed())

		trail = audit.New(audit.Config{MaxEventsPerTenant: 1000}, nil)

		return New(Deps{
			Registry: reg,
			Gate:     gate,
			Audit:    trail,
			Runtime:  runtime.New(runtime.DefaultConfig()),
			Interpreter: interpreter.New(steps.New(steps.Deps{
				Custom: map[string]steps.CustomFunction{
					"greet": {
						Capability: secprofile.CapDeterministicUtility,
						Call: func(context.Context, map[string]any) (any, error) {
							return "hello there", nil
						},
					},
				},
			})),
			Scorer:         threat.New(),
			DefaultProfile: secprofile.TenantIsolated,
			Log:            logr.Discard(),
		})
	}

	BeforeEach(func() {
		sup = newSupervisorWithGate(compliance.NewInProcessGate())
	})

	It("runs the full workflow and leaves a verifiable, paired audit chain", func() {
		out, err := sup.Execute(context.Background(), "greeter", map[string]any{}, nil, "tenant-x")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(map[string]any{"message": "hello there"}))

		out2, err := sup.Execute(context.Background(), "greeter", map[string]any{}, nil, "tenant-x")
		Expect(err).NotTo(HaveOccurred())
		Expect(out2).To(Equal(map[string]any{"message": "hello there"}))

		verify := trail.Verify("tenant-x")
		Expect(verify.Valid).To(BeTrue())
		Expect(verify.EventCount).To(Equal(4)) // 2 executions x (start, end)

		log := trail.TenantLog("tenant-x", time.Time{}, time.Time{})
		Expect(log.Events).To(HaveLen(4))
		Expect(log.Events[0].Kind).To(Equal(audit.KindExecutionStart))
		Expect(log.Events[1].Kind).To(Equal(audit.KindExecutionEnd))
		Expect(log.Events[1].Result).To(Equal(audit.ResultOk))
	})

	It("short-circuits on a compliance denial and records only the denial", func() {
		denyingGate := compliance.NewInProcessGate(compliance.Rule{
			Name: "deny-everything",
			Check: func(tenantID string, props map[string]any) compliance.Verdict {
				return compliance.Deny("policy test denial")
			},
		})
		sup = newSupervisorWithGate(denyingGate)

		_, err := sup.Execute(context.Background(), "greeter", nil, nil, "tenant-y")
		Expect(err).To(HaveOccurred())
		Expect(engineerr.CodeOf(err)).To(Equal(engineerr.CapabilityDenied))

		log := trail.TenantLog("tenant-y", time.Time{}, time.Time{})
		Expect(log.Events).To(HaveLen(1))
		Expect(log.Events[0].Kind).To(Equal(audit.KindComplianceDenied))
		Expect(log.Events[0].Result).To(Equal(audit.ResultFail))
	})
})
