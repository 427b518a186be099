/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package agentdef holds the typed, validated in-memory representation of
// an agent: metadata, compiled schemas, variable declarations, and the
// workflow of Steps. A Step is a sealed tagged union over the closed
// kind enumeration — there is no code path that dispatches a step kind
// string at run time without first passing through StepKindFromString,
// which is the single gate an unrecognized kind must pass.
package agentdef

import "github.com/marcus-qen/agentengine/internal/schema"

// ProtocolTag is the single pinned protocol value agent documents must
// declare; anything else is rejected at load time.
const ProtocolTag = "agent-engine/v1"

// StepKind is the closed, enumerated set of workflow step kinds.
type StepKind string

const (
	StepTextGen       StepKind = "text-gen"
	StepTranslation   StepKind = "translation"
	StepImageGen      StepKind = "image-gen"
	StepMCPTool       StepKind = "mcp-tool"
	StepEmbed         StepKind = "embed"
	StepVectorStore   StepKind = "vector-store"
	StepDocFetch      StepKind = "doc-fetch"
	StepRAG           StepKind = "rag"
	StepSubAgent      StepKind = "sub-agent"
	StepCustomAction  StepKind = "custom-action"
	StepOutputProject StepKind = "output-project"
)

var knownStepKinds = map[StepKind]bool{
	StepTextGen: true, StepTranslation: true, StepImageGen: true,
	StepMCPTool: true, StepEmbed: true, StepVectorStore: true,
	StepDocFetch: true, StepRAG: true, StepSubAgent: true,
	StepCustomAction: true, StepOutputProject: true,
}

// StepKindFromString is the single gate a raw "type" string must pass
// through before it can ever reach a StepExecutor. Any value outside the
// enumeration is rejected here, at load time, with UnknownStep — never at
// run time, and never via a default branch that silently dispatches.
func StepKindFromString(s string) (StepKind, bool) {
	k := StepKind(s)
	return k, knownStepKinds[k]
}

// VarDecl is one entry in logic.variables: a declared-type binding whose
// init_expr is either a scalar literal or a $ref, with no string
// interpolation.
type VarDecl struct {
	Name        string
	DeclaredType string
	InitExpr    any // string | int64 | float64 | bool | nil, or a "$ref" string
}

// Step is one workflow entry. Action carries the kind-specific fields as
// a loosely-typed map; each StepExecutor is responsible for reading only
// the keys its own kind defines.
type Step struct {
	Name   string
	Kind   StepKind
	Action map[string]any
	Result string // variable name the step's return value binds to, if any
}

// Metadata is the agent's descriptive header.
type Metadata struct {
	Name        string
	Description string
	Category    string
	Route       string
}

// Definition is the immutable, validated representation of one agent,
// compiled once at load time and never mutated afterward.
type Definition struct {
	ID             string
	Version        string
	ProtocolTag    string
	Metadata       Metadata
	InputSchema    *schema.Validator
	OutputSchema   *schema.Validator
	RequiredProps  []string
	Variables      []VarDecl
	Workflow       []Step
	YAMLFingerprint string // SHA-256 of the raw YAML source bytes, hex-encoded
}
