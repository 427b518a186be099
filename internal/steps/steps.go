/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package steps implements StepExecutor: the exact contract for each of
// the eleven closed workflow step kinds. Every executor takes the
// ExecutionContext (for capability/deadline/memory enforcement), the
// step's declared Action fields, and the execution's VariableStore, and
// returns the value the step binds to its Result name.
package steps

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/marcus-qen/agentengine/internal/agentdef"
	"github.com/marcus-qen/agentengine/internal/engineerr"
	"github.com/marcus-qen/agentengine/internal/mcpclient"
	"github.com/marcus-qen/agentengine/internal/provider"
	"github.com/marcus-qen/agentengine/internal/runtime"
	"github.com/marcus-qen/agentengine/internal/secprofile"
	"github.com/marcus-qen/agentengine/internal/varstore"
)

// CustomFunction is one entry in the CustomFunctions table: a registered,
// non-dynamic callable a custom-action step may invoke. It declares the
// capability it exercises at registration time, out of band from the
// security profile's step-kind table.
type CustomFunction struct {
	Capability secprofile.Capability
	Call       func(ctx context.Context, args map[string]any) (any, error)
}

// SubAgentRunner recursively runs another agent definition, set by the
// Interpreter at construction to avoid an import cycle between steps and
// interpreter.
type SubAgentRunner func(ctx context.Context, ec *runtime.ExecutionContext, agentID string, input any, depth int) (any, error)

// ToolClientFactory returns a new, unconnected ToolClient; the caller
// connects it to the step's server_url. mcp-tool and doc-fetch always
// close the session they open, even on failure.
type ToolClientFactory func() mcpclient.ToolClient

// Deps bundles every host collaborator a StepExecutor may need.
type Deps struct {
	Model         provider.ModelProvider
	Vector        provider.VectorStore
	NewToolClient ToolClientFactory
	Custom        map[string]CustomFunction
	RunSubAgent   SubAgentRunner
}

// Executor dispatches one Step to its kind-specific contract.
type Executor struct {
	deps Deps
}

// New creates an Executor over the given host collaborators.
func New(deps Deps) *Executor {
	return &Executor{deps: deps}
}

// Execute runs one step and returns the value its Result name binds to.
// The step runs under ec.Ctx, which already carries the execution's
// wall-clock deadline.
func (x *Executor) Execute(ec *runtime.ExecutionContext, step agentdef.Step, vars *varstore.Store, depth int) (any, error) {
	switch step.Kind {
	case agentdef.StepOutputProject:
		return x.outputProject(step, vars)
	case agentdef.StepTextGen:
		return x.textGen(ec, step, vars)
	case agentdef.StepTranslation:
		return x.translation(ec, step, vars)
	case agentdef.StepImageGen:
		return x.imageGen(ec, step, vars)
	case agentdef.StepMCPTool:
		return x.mcpTool(ec, step, vars)
	case agentdef.StepEmbed:
		return x.embed(ec, step, vars)
	case agentdef.StepVectorStore:
		return x.vectorStore(ec, step, vars)
	case agentdef.StepDocFetch:
		return x.docFetch(ec, step, vars)
	case agentdef.StepRAG:
		return x.rag(ec, step, vars)
	case agentdef.StepSubAgent:
		return x.subAgent(ec, step, vars, depth)
	case agentdef.StepCustomAction:
		return x.customAction(ec, step, vars)
	default:
		return nil, engineerr.Newf(engineerr.UnknownStep, "unrecognized step kind %q", step.Kind)
	}
}

// resolveField resolves a single Action value: a "$..." string is
// resolved through the VariableStore, anything else is a literal.
func resolveField(vars *varstore.Store, raw any) (any, error) {
	if s, ok := raw.(string); ok && varstore.IsReference(s) {
		return varstore.Resolve(vars, s)
	}
	return raw, nil
}

func stringField(vars *varstore.Store, action map[string]any, key string) (string, error) {
	raw, ok := action[key]
	if !ok {
		return "", nil
	}
	v, err := resolveField(vars, raw)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// --- output-project ---------------------------------------------------

func (x *Executor) outputProject(step agentdef.Step, vars *varstore.Store) (any, error) {
	projection := step.Action
	if m, ok := step.Action["output"].(map[string]any); ok {
		projection = m
	}
	out := make(map[string]any, len(projection))
	for k, raw := range projection {
		v, err := resolveField(vars, raw)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// --- text-gen -----------------------------------------------------------

func (x *Executor) textGen(ec *runtime.ExecutionContext, step agentdef.Step, vars *varstore.Store) (any, error) {
	if err := ec.CheckCapability(secprofile.CapNetAI); err != nil {
		return nil, err
	}
	prompt, err := stringField(vars, step.Action, "prompt")
	if err != nil {
		return nil, err
	}
	temperature := floatFieldOr(step.Action, "temperature", 0.7)
	maxTokens := intFieldOr(step.Action, "max_tokens", 512)

	res, err := x.deps.Model.GenerateText(ec.Ctx, prompt, temperature, maxTokens)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"text": res.Text,
		"metadata": map[string]any{
			"model":       res.Model,
			"elapsed_ms":  res.ElapsedMs,
			"temperature": temperature,
			"max_tokens":  maxTokens,
			"prompt":      prompt,
		},
	}, nil
}

// --- translation ---------------------------------------------------------

func (x *Executor) translation(ec *runtime.ExecutionContext, step agentdef.Step, vars *varstore.Store) (any, error) {
	if err := ec.CheckCapability(secprofile.CapNetAI); err != nil {
		return nil, err
	}
	text, err := stringField(vars, step.Action, "text")
	if err != nil {
		return nil, err
	}
	src, err := stringField(vars, step.Action, "src")
	if err != nil {
		return nil, err
	}
	dst, err := stringField(vars, step.Action, "dst")
	if err != nil {
		return nil, err
	}

	if src == dst {
		return map[string]any{
			"text": text,
			"metadata": map[string]any{
				"model": "bypass", "elapsed_ms": int64(0), "temperature": 0.0, "src": src, "dst": dst,
			},
		}, nil
	}

	prompt := strings.NewReplacer("{{text}}", text, "{{src}}", src, "{{dst}}", dst).
		Replace("Translate the following text from {{src}} to {{dst}}, preserving meaning and tone:\n\n{{text}}")

	res, err := x.deps.Model.GenerateText(ec.Ctx, prompt, 0.2, 2048)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"text": res.Text,
		"metadata": map[string]any{
			"model": res.Model, "elapsed_ms": res.ElapsedMs, "temperature": 0.2, "src": src, "dst": dst,
		},
	}, nil
}

// --- image-gen -------------------------------------------------------------

var resolutionPattern = regexp.MustCompile(`^\d+x\d+$`)

func (x *Executor) imageGen(ec *runtime.ExecutionContext, step agentdef.Step, vars *varstore.Store) (any, error) {
	if err := ec.CheckCapability(secprofile.CapNetAI); err != nil {
		return nil, err
	}
	description, err := stringField(vars, step.Action, "description")
	if err != nil {
		return nil, err
	}
	style, err := stringField(vars, step.Action, "style")
	if err != nil {
		return nil, err
	}
	resolution, err := stringField(vars, step.Action, "resolution")
	if err != nil {
		return nil, err
	}
	if resolution == "" {
		resolution = "1024x1024"
	}
	if !resolutionPattern.MatchString(resolution) {
		return nil, engineerr.Newf(engineerr.SchemaViolation, "image-gen resolution %q does not match WxH", resolution)
	}

	prompt := description
	if style != "" {
		prompt = fmt.Sprintf("%s, in the style of %s", description, style)
	}

	res, err := x.deps.Model.GenerateImage(ec.Ctx, prompt, resolution)
	if err != nil {
		return nil, err
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", orDefault(res.MediaType, "image/png"), res.Base64)
	return map[string]any{
		"image_url":    dataURL,
		"image_base64": res.Base64,
		"media_type":   orDefault(res.MediaType, "image/png"),
		"prompt_used":  prompt,
		"metadata": map[string]any{
			"elapsed_ms": res.ElapsedMs, "resolution": resolution, "style": style,
		},
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// --- mcp-tool ----------------------------------------------------------

func (x *Executor) mcpTool(ec *runtime.ExecutionContext, step agentdef.Step, vars *varstore.Store) (any, error) {
	if err := ec.CheckCapability(secprofile.CapNetRemoteTool); err != nil {
		return nil, err
	}
	serverURL, err := stringField(vars, step.Action, "server_url")
	if err != nil {
		return nil, err
	}
	toolName, err := stringField(vars, step.Action, "tool_name")
	if err != nil {
		return nil, err
	}
	toolArgs, err := mapField(vars, step.Action, "tool_arguments")
	if err != nil {
		return nil, err
	}

	client := x.deps.NewToolClient()
	if err := client.Connect(ec.Ctx, serverURL); err != nil {
		_ = client.Close()
		return nil, err
	}
	defer client.Close()

	if toolName == "list_tools" {
		tools, err := client.ListTools(ec.Ctx)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			out = append(out, map[string]any{"name": t.Name, "description": t.Description, "parameters": t.Parameters})
		}
		return map[string]any{"tools": out}, nil
	}

	tools, err := client.ListTools(ec.Ctx)
	if err != nil {
		return nil, err
	}
	if !hasTool(tools, toolName) {
		return nil, engineerr.Newf(engineerr.ProviderError, "tool %q not advertised by %s", toolName, serverURL)
	}

	deadline := time.Now().Add(30 * time.Second)
	result, err := client.Call(ec.Ctx, toolName, toolArgs, deadline)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"text":     strings.Join(result.ContentSegments, "\n"),
		"is_error": result.IsError,
	}, nil
}

func hasTool(tools []mcpclient.ToolDesc, name string) bool {
	for _, t := range tools {
		if t.Name == name || strings.HasSuffix(t.Name, "."+name) {
			return true
		}
	}
	return false
}

func mapField(vars *varstore.Store, action map[string]any, key string) (map[string]any, error) {
	raw, ok := action[key]
	if !ok {
		return map[string]any{}, nil
	}
	v, err := resolveField(vars, raw)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// --- embed ---------------------------------------------------------------

func (x *Executor) embed(ec *runtime.ExecutionContext, step agentdef.Step, vars *varstore.Store) (any, error) {
	if err := ec.CheckCapability(secprofile.CapNetAI); err != nil {
		return nil, err
	}
	if rawTexts, ok := step.Action["texts"]; ok {
		v, err := resolveField(vars, rawTexts)
		if err != nil {
			return nil, err
		}
		texts, err := toStringSlice(v)
		if err != nil {
			return nil, err
		}
		vectors, err := x.deps.Model.EmbedMany(ec.Ctx, texts)
		if err != nil {
			return map[string]any{"success": false, "error": err.Error()}, nil
		}
		return map[string]any{"success": true, "vectors": vectors}, nil
	}

	text, err := stringField(vars, step.Action, "text")
	if err != nil {
		return nil, err
	}
	vec, err := x.deps.Model.Embed(ec.Ctx, text)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true, "vector": vec}, nil
}

func toStringSlice(v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, engineerr.New(engineerr.SchemaViolation, "expected a list of strings")
	}
	out := make([]string, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, engineerr.New(engineerr.SchemaViolation, "expected a list of strings")
		}
		out[i] = s
	}
	return out, nil
}

// --- vector-store --------------------------------------------------------

func (x *Executor) vectorStore(ec *runtime.ExecutionContext, step agentdef.Step, vars *varstore.Store) (any, error) {
	if err := ec.CheckCapability(secprofile.CapNetVector); err != nil {
		return nil, err
	}
	collection, err := stringField(vars, step.Action, "collection_name")
	if err != nil {
		return nil, err
	}
	operation, _ := step.Action["operation"].(string)

	if err := x.deps.Vector.GetOrCreateCollection(ec.Ctx, collection); err != nil {
		return nil, engineerr.Wrap(engineerr.ProviderError, err)
	}

	switch operation {
	case "hasData":
		minCount := intFieldOr(step.Action, "min_count", 1)
		count, err := x.deps.Vector.Count(ec.Ctx, collection)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.ProviderError, err)
		}
		return map[string]any{"has_data": count >= minCount, "count": count}, nil

	case "store":
		docsRaw, err := resolveField(vars, step.Action["documents"])
		if err != nil {
			return nil, err
		}
		docs, err := toStringSlice(docsRaw)
		if err != nil {
			return nil, err
		}
		vectors, err := x.deps.Model.EmbedMany(ec.Ctx, docs)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(docs))
		metas := make([]map[string]any, len(docs))
		for i := range docs {
			ids[i] = fmt.Sprintf("%s-%d-%d", collection, time.Now().UnixNano(), i)
			metas[i] = map[string]any{"source": "agent-engine"}
		}
		if err := x.deps.Vector.Add(ec.Ctx, collection, ids, vectors, docs, metas); err != nil {
			return nil, engineerr.Wrap(engineerr.ProviderError, err)
		}
		return map[string]any{"stored": len(docs)}, nil

	case "search":
		query, err := stringField(vars, step.Action, "query")
		if err != nil {
			return nil, err
		}
		topK := intFieldOr(step.Action, "top_k", 5)
		qvec, err := x.deps.Model.Embed(ec.Ctx, query)
		if err != nil {
			return nil, err
		}
		res, err := x.deps.Vector.Query(ec.Ctx, collection, qvec, topK)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.ProviderError, err)
		}
		results := make([]map[string]any, len(res.Documents))
		for i := range res.Documents {
			results[i] = map[string]any{
				"text":     res.Documents[i],
				"metadata": res.Metadatas[i],
				"distance": res.Distances[i],
			}
		}
		return map[string]any{"results": results, "documents": strings.Join(res.Documents, "\n")}, nil

	default:
		return nil, engineerr.Newf(engineerr.SchemaViolation, "unknown vector-store operation %q", operation)
	}
}

// --- doc-fetch -----------------------------------------------------------

const maxChunkChars = 800

func (x *Executor) docFetch(ec *runtime.ExecutionContext, step agentdef.Step, vars *varstore.Store) (any, error) {
	if err := ec.CheckCapability(secprofile.CapNetRemoteTool); err != nil {
		return nil, err
	}
	serverURL, err := stringField(vars, step.Action, "server_url")
	if err != nil {
		return nil, err
	}
	source, err := stringField(vars, step.Action, "source")
	if err != nil {
		return nil, err
	}

	client := x.deps.NewToolClient()
	if err := client.Connect(ec.Ctx, serverURL); err != nil {
		_ = client.Close()
		return nil, err
	}
	defer client.Close()

	tools, err := client.ListTools(ec.Ctx)
	if err != nil {
		return nil, err
	}
	toolName := discoverDocTool(tools)
	if toolName == "" {
		return nil, engineerr.Newf(engineerr.ProviderError, "%s advertises no document-fetch tool", serverURL)
	}

	deadline := time.Now().Add(30 * time.Second)
	result, err := client.Call(ec.Ctx, toolName, map[string]any{"source": source}, deadline)
	if err != nil {
		return nil, err
	}

	text := strings.Join(result.ContentSegments, "\n\n")
	return map[string]any{
		"chunks": chunkParagraphs(text, maxChunkChars),
		"source": source,
	}, nil
}

// discoverDocTool heuristically picks the tool whose name suggests
// document retrieval — hosts that need finer control should name their
// tool "fetch_document" or similar to be discovered deterministically.
func discoverDocTool(tools []mcpclient.ToolDesc) string {
	candidates := []string{"fetch_document", "fetch_doc", "get_document", "read_document", "document", "fetch"}
	for _, cand := range candidates {
		for _, t := range tools {
			if strings.Contains(strings.ToLower(t.Name), cand) {
				return t.Name
			}
		}
	}
	return ""
}

// chunkParagraphs splits text into chunks of at most maxChars,
// preserving paragraph boundaries where possible.
func chunkParagraphs(text string, maxChars int) []string {
	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+2+len(p) > maxChars {
			flush()
		}
		if len(p) > maxChars {
			flush()
			for len(p) > maxChars {
				chunks = append(chunks, p[:maxChars])
				p = p[maxChars:]
			}
			if p != "" {
				current.WriteString(p)
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()
	return chunks
}

// --- rag -------------------------------------------------------------------

func (x *Executor) rag(ec *runtime.ExecutionContext, step agentdef.Step, vars *varstore.Store) (any, error) {
	if err := ec.CheckCapability(secprofile.CapNetAI); err != nil {
		return nil, err
	}
	query, err := stringField(vars, step.Action, "query")
	if err != nil {
		return nil, err
	}
	docContext, err := stringField(vars, step.Action, "context")
	if err != nil {
		return nil, err
	}
	history, err := stringField(vars, step.Action, "history")
	if err != nil {
		return nil, err
	}

	var prompt strings.Builder
	prompt.WriteString("Answer the question using only the provided context.\n\nContext:\n")
	prompt.WriteString(docContext)
	if history != "" {
		prompt.WriteString("\n\nConversation so far:\n")
		prompt.WriteString(history)
	}
	prompt.WriteString("\n\nQuestion: ")
	prompt.WriteString(query)

	res, err := x.deps.Model.GenerateText(ec.Ctx, prompt.String(), 0.3, 1024)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"response":  res.Text,
		"answer":    res.Text,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// --- sub-agent -------------------------------------------------------------

// MaxNestingDepth bounds recursive sub-agent invocation (spec §4.5).
const MaxNestingDepth = 8

func (x *Executor) subAgent(ec *runtime.ExecutionContext, step agentdef.Step, vars *varstore.Store, depth int) (any, error) {
	if depth >= MaxNestingDepth {
		return nil, engineerr.Newf(engineerr.NestingExceeded, "sub-agent nesting depth %d exceeds max %d", depth, MaxNestingDepth)
	}
	agentID, err := stringField(vars, step.Action, "agent_id")
	if err != nil {
		return nil, err
	}
	input, err := resolveField(vars, step.Action["input"])
	if err != nil {
		return nil, err
	}
	if x.deps.RunSubAgent == nil {
		return nil, engineerr.New(engineerr.Internal, "sub-agent execution not wired")
	}
	return x.deps.RunSubAgent(ec.Ctx, ec, agentID, input, depth+1)
}

// --- custom-action -----------------------------------------------------

func (x *Executor) customAction(ec *runtime.ExecutionContext, step agentdef.Step, vars *varstore.Store) (any, error) {
	name, err := stringField(vars, step.Action, "function")
	if err != nil {
		return nil, err
	}
	fn, ok := x.deps.Custom[name]
	if !ok {
		return nil, engineerr.Newf(engineerr.UnknownCustom, "no registered custom function %q", name)
	}
	if err := ec.CheckCapability(fn.Capability); err != nil {
		return nil, err
	}
	args, err := mapField(vars, step.Action, "arguments")
	if err != nil {
		return nil, err
	}
	return fn.Call(ec.Ctx, args)
}

// --- numeric helpers -----------------------------------------------------

func floatFieldOr(action map[string]any, key string, def float64) float64 {
	raw, ok := action[key]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

func intFieldOr(action map[string]any, key string, def int) int {
	raw, ok := action[key]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}
