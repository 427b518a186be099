/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package interpreter runs one agent definition's workflow to completion:
// validate input, execute steps in declaration order under the active
// ExecutionContext, project the output, and enforce the output size cap.
// It never decides whether an execution is allowed to start — that is
// ComplianceGate and QuotaEnforcer's job, one layer up in Supervisor.
package interpreter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marcus-qen/agentengine/internal/agentdef"
	"github.com/marcus-qen/agentengine/internal/engineerr"
	"github.com/marcus-qen/agentengine/internal/runtime"
	"github.com/marcus-qen/agentengine/internal/schema"
	"github.com/marcus-qen/agentengine/internal/steps"
	"github.com/marcus-qen/agentengine/internal/telemetry"
	"github.com/marcus-qen/agentengine/internal/varstore"
)

// MaxOutputBytes bounds the serialized size of a completed run's output.
const MaxOutputBytes = 5 << 20

// Interpreter executes one Definition's workflow against a StepExecutor.
type Interpreter struct {
	executor *steps.Executor
}

// New creates an Interpreter over the given StepExecutor.
func New(executor *steps.Executor) *Interpreter {
	return &Interpreter{executor: executor}
}

// Run executes def's workflow against input under ec, returning the
// projected output or the first failure encountered. props is the
// per-call capability/consent envelope (checked against required_props,
// never against input); depth is the current sub-agent nesting depth (0
// for a top-level execution).
func (ip *Interpreter) Run(ec *runtime.ExecutionContext, def *agentdef.Definition, input any, props map[string]any, depth int) (any, error) {
	if def.InputSchema != nil {
		if res := def.InputSchema.Validate(input); !res.Valid() {
			return nil, schemaViolation(res)
		}
	}

	if missing := missingRequiredProps(def.RequiredProps, props); len(missing) > 0 {
		return nil, engineerr.Newf(engineerr.MissingProps, "missing required props: %s", strings.Join(missing, ", ")).WithPaths(missing)
	}

	vars := varstore.New(input)

	for _, vd := range def.Variables {
		val, err := initValue(vars, vd.InitExpr)
		if err != nil {
			return nil, err
		}
		if _, err := vars.Bind(vd.Name, val); err != nil {
			return nil, err
		}
	}

	var output any = map[string]any{}
	lastWasOutput := false

	for _, step := range def.Workflow {
		if err := ec.CheckSuspensionPoint(); err != nil {
			return nil, err
		}

		stepCtx, span := telemetry.StartStepSpan(ec.Ctx, step.Name, string(step.Kind))
		stepEC := ec
		stepEC.Ctx = stepCtx

		val, err := ip.executor.Execute(stepEC, step, vars, depth)
		if err != nil {
			telemetry.EndStepSpan(span, string(engineerr.CodeOf(err)), false, "")
			return nil, err
		}
		telemetry.EndStepSpan(span, string(engineerr.Ok), false, "")

		if step.Result != "" {
			if _, err := vars.Bind(step.Result, val); err != nil {
				return nil, err
			}
		}

		lastWasOutput = step.Kind == agentdef.StepOutputProject
		if lastWasOutput {
			output = val
		}
	}

	if !lastWasOutput {
		output = map[string]any{}
	}

	if def.OutputSchema != nil {
		if res := def.OutputSchema.Validate(output); !res.Valid() {
			return nil, schemaViolation(res)
		}
	}

	b, err := json.Marshal(output)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Internal, err)
	}
	if len(b) > MaxOutputBytes {
		return nil, engineerr.Newf(engineerr.MemoryExceeded, "output %d bytes exceeds %d byte cap", len(b), MaxOutputBytes)
	}

	return output, nil
}

// initValue evaluates one VarDecl.InitExpr: a "$ref" string resolves
// against the store built so far (including earlier-declared variables
// and "$input...."); anything else is a literal, used as-is.
func initValue(vars *varstore.Store, initExpr any) (any, error) {
	if ref, ok := initExpr.(string); ok && strings.HasPrefix(ref, "$") {
		return varstore.Resolve(vars, ref)
	}
	return initExpr, nil
}

func missingRequiredProps(required []string, props map[string]any) []string {
	if len(required) == 0 {
		return nil
	}
	var missing []string
	for _, p := range required {
		v, present := props[p]
		if !present || isEmptyProp(v) {
			missing = append(missing, p)
		}
	}
	return missing
}

// isEmptyProp reports whether a present prop value still counts as
// absent per spec §4.4 step 3's "present and non-empty" requirement.
func isEmptyProp(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

func schemaViolation(res schema.Result) error {
	paths := make([]string, len(res.Issues))
	msgs := make([]string, len(res.Issues))
	for i, iss := range res.Issues {
		paths[i] = iss.Path
		msgs[i] = fmt.Sprintf("%s: %s", iss.Path, iss.Message)
	}
	return engineerr.Newf(engineerr.SchemaViolation, "schema validation failed: %s", strings.Join(msgs, "; ")).WithPaths(paths)
}
