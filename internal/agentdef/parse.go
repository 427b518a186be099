/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package agentdef

import (
	"encoding/json"
	"fmt"

	sigsyaml "sigs.k8s.io/yaml"

	"github.com/marcus-qen/agentengine/internal/engineerr"
	"github.com/marcus-qen/agentengine/internal/schema"
	"github.com/marcus-qen/agentengine/internal/yamlload"
)

// MaxWorkflowSteps bounds workflow length (spec §3 invariant).
const MaxWorkflowSteps = 100

// ValidationResult mirrors the fatal/warning split the rest of the corpus
// uses for load-time checks: Errors block registration, Warnings do not.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// toAny lowers a yamlload.Value tree into the generic JSON-compatible
// interface{} shape the rest of the engine (schema validation, variable
// store, output projection) operates on.
func toAny(v *yamlload.Value) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case yamlload.KindNull:
		return nil
	case yamlload.KindBool:
		return v.Bool
	case yamlload.KindInt:
		return v.Int
	case yamlload.KindFloat:
		return v.Float
	case yamlload.KindString:
		return v.String
	case yamlload.KindSequence:
		out := make([]any, 0, len(v.Sequence))
		for _, e := range v.Sequence {
			out = append(out, toAny(e))
		}
		return out
	case yamlload.KindMapping:
		out := make(map[string]any, len(v.Mapping))
		for _, e := range v.Mapping {
			out[e.Key] = toAny(e.Value)
		}
		return out
	default:
		return nil
	}
}

// decodeSchemaNode lowers a schema sub-document into a schema.Node via
// sigs.k8s.io/yaml, which accepts the JSON-compatible intermediate form
// produced by toAny just as readily as raw YAML.
func decodeSchemaNode(v *yamlload.Value) (*schema.Node, error) {
	raw := toAny(v)
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Internal, err)
	}
	var n schema.Node
	if err := sigsyaml.Unmarshal(b, &n); err != nil {
		return nil, engineerr.Wrap(engineerr.SchemaViolation, err)
	}
	return &n, nil
}

// Parse lowers a fail-safe scalar yamlload.Value tree into a validated
// Definition. Compilation errors (schema issues, unknown step kinds,
// missing required keys) are fatal here, at load time — never at run
// time, matching spec §4.1/§4.3.
func Parse(root *yamlload.Value, sourceHash string, cache *schema.Cache) (*Definition, error) {
	if root == nil || root.Kind != yamlload.KindMapping {
		return nil, engineerr.New(engineerr.Internal, "agent document must be a mapping")
	}

	agent := root.Get("agent")
	if agent == nil {
		return nil, engineerr.New(engineerr.Internal, "missing top-level 'agent' key")
	}
	id := strOf(agent.Get("id"))
	version := strOf(agent.Get("version"))
	protocol := strOf(agent.Get("protocol"))
	if protocol != ProtocolTag {
		return nil, engineerr.Newf(engineerr.Internal, "unrecognized protocol tag %q", protocol)
	}
	if id == "" {
		return nil, engineerr.New(engineerr.Internal, "agent.id must be non-empty")
	}

	meta := root.Get("metadata")
	if meta == nil {
		return nil, engineerr.New(engineerr.Internal, "missing top-level 'metadata' key")
	}
	metadata := Metadata{
		Name:        strOf(meta.Get("name")),
		Description: strOf(meta.Get("description")),
		Category:    strOf(meta.Get("category")),
		Route:       strOf(meta.Get("route")),
	}
	if metadata.Name == "" || metadata.Description == "" || metadata.Category == "" {
		return nil, engineerr.New(engineerr.Internal, "metadata.{name,description,category} are required")
	}

	schemaNode := root.Get("schema")
	if schemaNode == nil {
		return nil, engineerr.New(engineerr.Internal, "missing top-level 'schema' key")
	}
	inputNode, err := decodeSchemaNode(schemaNode.Get("input"))
	if err != nil {
		return nil, err
	}
	outputNode, err := decodeSchemaNode(schemaNode.Get("output"))
	if err != nil {
		return nil, err
	}
	inputValidator, err := cache.CompileCached(inputNode, "input")
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Internal, err)
	}
	outputValidator, err := cache.CompileCached(outputNode, "output")
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Internal, err)
	}

	logic := root.Get("logic")
	if logic == nil {
		return nil, engineerr.New(engineerr.Internal, "missing top-level 'logic' key")
	}

	var variables []VarDecl
	if varsNode := logic.Get("variables"); varsNode != nil {
		if varsNode.Kind != yamlload.KindSequence {
			return nil, engineerr.New(engineerr.Internal, "logic.variables must be a sequence")
		}
		for _, entry := range varsNode.Sequence {
			variables = append(variables, VarDecl{
				Name:         strOf(entry.Get("name")),
				DeclaredType: strOf(entry.Get("type")),
				InitExpr:     toAny(entry.Get("init")),
			})
		}
	}

	workflowNode := logic.Get("workflow")
	if workflowNode == nil || workflowNode.Kind != yamlload.KindSequence || len(workflowNode.Sequence) == 0 {
		return nil, engineerr.New(engineerr.Internal, "logic.workflow must be a non-empty sequence")
	}
	if len(workflowNode.Sequence) > MaxWorkflowSteps {
		return nil, engineerr.Newf(engineerr.Internal, "workflow exceeds %d steps", MaxWorkflowSteps)
	}

	var workflow []Step
	for i, entry := range workflowNode.Sequence {
		typeStr := strOf(entry.Get("type"))
		kind, ok := StepKindFromString(typeStr)
		if !ok {
			return nil, engineerr.Newf(engineerr.UnknownStep, "workflow[%d]: unknown step type %q", i, typeStr)
		}
		actionVal := toAny(entry.Get("action"))
		actionMap, _ := actionVal.(map[string]any)
		if actionMap == nil {
			actionMap = map[string]any{}
		}
		result := strOf(entry.Get("result"))
		if r, ok := actionMap["result"].(string); ok && result == "" {
			result = r
		}
		workflow = append(workflow, Step{
			Name:   strOf(entry.Get("name")),
			Kind:   kind,
			Action: actionMap,
			Result: result,
		})
	}

	var requiredProps []string
	if rp := root.Get("required_props"); rp != nil && rp.Kind == yamlload.KindSequence {
		for _, e := range rp.Sequence {
			requiredProps = append(requiredProps, strOf(e))
		}
	}

	return &Definition{
		ID:              id,
		Version:         version,
		ProtocolTag:     protocol,
		Metadata:        metadata,
		InputSchema:     inputValidator,
		OutputSchema:    outputValidator,
		RequiredProps:   requiredProps,
		Variables:       variables,
		Workflow:        workflow,
		YAMLFingerprint: sourceHash,
	}, nil
}

// Validate performs load-time structural checks beyond what Parse already
// enforces (duplicate result names, terminal step shape), mirroring the
// required/duplicate-ID checks the corpus's skill validator applies.
func Validate(def *Definition) *ValidationResult {
	res := &ValidationResult{}
	if def.Metadata.Name == "" {
		res.fail("metadata.name is required")
	}
	seenResults := map[string]bool{}
	for i, step := range def.Workflow {
		if step.Name == "" {
			res.warn("workflow[%d]: step has no diagnostic name", i)
		}
		if step.Result != "" {
			if seenResults[step.Result] {
				res.warn("workflow[%d]: result %q rebinds an earlier step's result", i, step.Result)
			}
			seenResults[step.Result] = true
		}
	}
	if len(def.Workflow) > 0 && def.Workflow[len(def.Workflow)-1].Kind != StepOutputProject {
		res.warn("last workflow step is not output-project; run() falls back to an empty object per compatibility behavior")
	}
	return res
}

func strOf(v *yamlload.Value) string {
	if v == nil || v.Kind != yamlload.KindString {
		return ""
	}
	return v.String
}
