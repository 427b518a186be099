/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package steps

import (
	"context"
	"strings"
	"testing"

	"github.com/marcus-qen/agentengine/internal/agentdef"
	"github.com/marcus-qen/agentengine/internal/engineerr"
	"github.com/marcus-qen/agentengine/internal/mcpclient"
	"github.com/marcus-qen/agentengine/internal/provider"
	"github.com/marcus-qen/agentengine/internal/runtime"
	"github.com/marcus-qen/agentengine/internal/secprofile"
	"github.com/marcus-qen/agentengine/internal/varstore"
)

// mockModel is an in-memory provider.ModelProvider test double.
type mockModel struct {
	textErr  error
	text     provider.TextResult
	image    provider.ImageResult
	imageErr error
	vector   []float64
	vectors  [][]float64
	embedErr error
}

func (m *mockModel) GenerateText(_ context.Context, prompt string, _ float64, _ int) (provider.TextResult, error) {
	if m.textErr != nil {
		return provider.TextResult{}, m.textErr
	}
	if m.text.Text == "" {
		return provider.TextResult{Text: "generated: " + prompt, Model: "mock-model"}, nil
	}
	return m.text, nil
}

func (m *mockModel) GenerateImage(_ context.Context, _ string, _ string) (provider.ImageResult, error) {
	if m.imageErr != nil {
		return provider.ImageResult{}, m.imageErr
	}
	if m.image.Base64 == "" {
		return provider.ImageResult{Base64: "ZmFrZQ==", MediaType: "image/png"}, nil
	}
	return m.image, nil
}

func (m *mockModel) Embed(_ context.Context, _ string) ([]float64, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.vector == nil {
		return []float64{0.1, 0.2, 0.3}, nil
	}
	return m.vector, nil
}

func (m *mockModel) EmbedMany(_ context.Context, texts []string) ([][]float64, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.vectors == nil {
		out := make([][]float64, len(texts))
		for i := range texts {
			out[i] = []float64{float64(i), 0, 0}
		}
		return out, nil
	}
	return m.vectors, nil
}

func testContext() *runtime.ExecutionContext {
	profile, _ := secprofile.Get(secprofile.TenantIsolated)
	return &runtime.ExecutionContext{
		Ctx:     context.Background(),
		Profile: profile,
		Logs:    runtime.NewLogBuffer(16),
	}
}

func newExecutor(model provider.ModelProvider, vector provider.VectorStore, newClient ToolClientFactory) *Executor {
	return New(Deps{Model: model, Vector: vector, NewToolClient: newClient})
}

// --- output-project ---------------------------------------------------

func TestOutputProject_ResolvesLiteralsAndReferences(t *testing.T) {
	x := newExecutor(&mockModel{}, nil, nil)
	vars := varstore.New(map[string]any{"name": "Ada"})
	vars.Bind("greeting", "hello")

	step := agentdef.Step{
		Kind: agentdef.StepOutputProject,
		Action: map[string]any{
			"status": "ok",
			"from":   "$greeting",
			"caller": "$input.name",
		},
	}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if m["status"] != "ok" || m["from"] != "hello" || m["caller"] != "Ada" {
		t.Errorf("unexpected output: %+v", m)
	}
}

// --- text-gen -----------------------------------------------------------

func TestTextGen_Success(t *testing.T) {
	x := newExecutor(&mockModel{}, nil, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepTextGen, Action: map[string]any{"prompt": "say hi"}}

	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if !strings.Contains(m["text"].(string), "say hi") {
		t.Errorf("text = %v", m["text"])
	}
}

func TestTextGen_CapabilityDenied(t *testing.T) {
	x := newExecutor(&mockModel{}, nil, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepTextGen, Action: map[string]any{"prompt": "say hi"}}

	ec := testContext()
	ec.Profile, _ = secprofile.Get(secprofile.UltraSecure)

	_, err := x.Execute(ec, step, vars, 0)
	if engineerr.CodeOf(err) != engineerr.CapabilityDenied {
		t.Errorf("code = %v, want CapabilityDenied", engineerr.CodeOf(err))
	}
}

// --- translation ---------------------------------------------------------

func TestTranslation_BypassesWhenSrcEqualsDst(t *testing.T) {
	x := newExecutor(&mockModel{}, nil, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepTranslation, Action: map[string]any{
		"text": "ola", "src": "pt", "dst": "pt",
	}}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if m["text"] != "ola" {
		t.Errorf("text = %v, want unchanged", m["text"])
	}
}

func TestTranslation_CallsModelWhenLanguagesDiffer(t *testing.T) {
	x := newExecutor(&mockModel{text: provider.TextResult{Text: "hello", Model: "mock"}}, nil, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepTranslation, Action: map[string]any{
		"text": "ola", "src": "pt", "dst": "en",
	}}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if m["text"] != "hello" {
		t.Errorf("text = %v, want hello", m["text"])
	}
}

// --- image-gen -------------------------------------------------------------

func TestImageGen_Success(t *testing.T) {
	x := newExecutor(&mockModel{}, nil, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepImageGen, Action: map[string]any{
		"description": "a cat", "resolution": "512x512",
	}}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if !strings.HasPrefix(m["image_url"].(string), "data:image/png;base64,") {
		t.Errorf("image_url = %v", m["image_url"])
	}
}

func TestImageGen_RejectsMalformedResolution(t *testing.T) {
	x := newExecutor(&mockModel{}, nil, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepImageGen, Action: map[string]any{
		"description": "a cat", "resolution": "big",
	}}
	_, err := x.Execute(testContext(), step, vars, 0)
	if engineerr.CodeOf(err) != engineerr.SchemaViolation {
		t.Errorf("code = %v, want SchemaViolation", engineerr.CodeOf(err))
	}
}

// --- mcp-tool ----------------------------------------------------------

func TestMCPTool_ListTools(t *testing.T) {
	client := mcpclient.NewMockClient([]mcpclient.ToolDesc{{Name: "search", Description: "searches"}})
	x := newExecutor(&mockModel{}, nil, func() mcpclient.ToolClient { return client })
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepMCPTool, Action: map[string]any{
		"server_url": "https://tools.example/mcp", "tool_name": "list_tools",
	}}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	tools := m["tools"].([]map[string]any)
	if len(tools) != 1 || tools[0]["name"] != "search" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestMCPTool_CallsKnownTool(t *testing.T) {
	client := mcpclient.NewMockClient([]mcpclient.ToolDesc{{Name: "search"}})
	client.SetResponse("search", mcpclient.CallResult{ContentSegments: []string{"result one"}})
	x := newExecutor(&mockModel{}, nil, func() mcpclient.ToolClient { return client })
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepMCPTool, Action: map[string]any{
		"server_url": "https://tools.example/mcp", "tool_name": "search",
		"tool_arguments": map[string]any{"q": "go"},
	}}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if m["text"] != "result one" {
		t.Errorf("text = %v", m["text"])
	}
}

func TestMCPTool_UnknownToolFails(t *testing.T) {
	client := mcpclient.NewMockClient([]mcpclient.ToolDesc{{Name: "search"}})
	x := newExecutor(&mockModel{}, nil, func() mcpclient.ToolClient { return client })
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepMCPTool, Action: map[string]any{
		"server_url": "https://tools.example/mcp", "tool_name": "delete_everything",
	}}
	_, err := x.Execute(testContext(), step, vars, 0)
	if engineerr.CodeOf(err) != engineerr.ProviderError {
		t.Errorf("code = %v, want ProviderError", engineerr.CodeOf(err))
	}
}

// --- embed ---------------------------------------------------------------

func TestEmbed_SingleText(t *testing.T) {
	x := newExecutor(&mockModel{}, nil, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepEmbed, Action: map[string]any{"text": "hello"}}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if m["success"] != true {
		t.Errorf("success = %v, want true", m["success"])
	}
}

func TestEmbed_ManyTexts(t *testing.T) {
	x := newExecutor(&mockModel{}, nil, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepEmbed, Action: map[string]any{
		"texts": []any{"a", "b"},
	}}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	vectors := m["vectors"].([][]float64)
	if len(vectors) != 2 {
		t.Errorf("vectors = %+v, want 2 entries", vectors)
	}
}

func TestEmbed_ProviderErrorReportedAsFailure(t *testing.T) {
	x := newExecutor(&mockModel{embedErr: engineerr.New(engineerr.ProviderError, "down")}, nil, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepEmbed, Action: map[string]any{"text": "hello"}}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected hard error: %v", err)
	}
	m := out.(map[string]any)
	if m["success"] != false {
		t.Errorf("success = %v, want false", m["success"])
	}
}

// --- vector-store --------------------------------------------------------

func TestVectorStore_HasDataAndStoreAndSearch(t *testing.T) {
	vs := provider.NewMockVectorStore()
	x := newExecutor(&mockModel{}, vs, nil)
	vars := varstore.New(nil)

	hasData := agentdef.Step{Kind: agentdef.StepVectorStore, Action: map[string]any{
		"collection_name": "docs", "operation": "hasData",
	}}
	out, err := x.Execute(testContext(), hasData, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(map[string]any)["has_data"] != false {
		t.Errorf("expected empty collection to report no data")
	}

	store := agentdef.Step{Kind: agentdef.StepVectorStore, Action: map[string]any{
		"collection_name": "docs", "operation": "store",
		"documents": []any{"doc one", "doc two"},
	}}
	out, err = x.Execute(testContext(), store, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(map[string]any)["stored"] != 2 {
		t.Errorf("stored = %v, want 2", out.(map[string]any)["stored"])
	}

	search := agentdef.Step{Kind: agentdef.StepVectorStore, Action: map[string]any{
		"collection_name": "docs", "operation": "search", "query": "doc", "top_k": 1,
	}}
	out, err = x.Execute(testContext(), search, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results := out.(map[string]any)["results"].([]map[string]any)
	if len(results) != 1 {
		t.Errorf("results = %+v, want 1", results)
	}
}

func TestVectorStore_UnknownOperationFails(t *testing.T) {
	vs := provider.NewMockVectorStore()
	x := newExecutor(&mockModel{}, vs, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepVectorStore, Action: map[string]any{
		"collection_name": "docs", "operation": "explode",
	}}
	_, err := x.Execute(testContext(), step, vars, 0)
	if engineerr.CodeOf(err) != engineerr.SchemaViolation {
		t.Errorf("code = %v, want SchemaViolation", engineerr.CodeOf(err))
	}
}

// --- doc-fetch -----------------------------------------------------------

func TestDocFetch_ChunksRetrievedText(t *testing.T) {
	client := mcpclient.NewMockClient([]mcpclient.ToolDesc{{Name: "fetch_document"}})
	client.SetResponse("fetch_document", mcpclient.CallResult{
		ContentSegments: []string{strings.Repeat("word ", 400)},
	})
	x := newExecutor(&mockModel{}, nil, func() mcpclient.ToolClient { return client })
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepDocFetch, Action: map[string]any{
		"server_url": "https://tools.example/mcp", "source": "doc-1",
	}}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks := out.(map[string]any)["chunks"].([]string)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, c := range chunks {
		if len(c) > maxChunkChars {
			t.Errorf("chunk length %d exceeds max %d", len(c), maxChunkChars)
		}
	}
}

func TestDocFetch_NoDocToolAdvertisedFails(t *testing.T) {
	client := mcpclient.NewMockClient([]mcpclient.ToolDesc{{Name: "unrelated"}})
	x := newExecutor(&mockModel{}, nil, func() mcpclient.ToolClient { return client })
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepDocFetch, Action: map[string]any{
		"server_url": "https://tools.example/mcp", "source": "doc-1",
	}}
	_, err := x.Execute(testContext(), step, vars, 0)
	if engineerr.CodeOf(err) != engineerr.ProviderError {
		t.Errorf("code = %v, want ProviderError", engineerr.CodeOf(err))
	}
}

// --- rag -------------------------------------------------------------------

func TestRAG_BuildsPromptFromContextAndHistory(t *testing.T) {
	x := newExecutor(&mockModel{text: provider.TextResult{Text: "the answer is 42"}}, nil, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepRAG, Action: map[string]any{
		"query": "what is the answer?", "context": "the answer is 42", "history": "",
	}}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if m["answer"] != "the answer is 42" {
		t.Errorf("answer = %v", m["answer"])
	}
}

// --- sub-agent -------------------------------------------------------------

func TestSubAgent_DelegatesToRunner(t *testing.T) {
	var gotDepth int
	x := New(Deps{
		RunSubAgent: func(_ context.Context, _ *runtime.ExecutionContext, agentID string, input any, depth int) (any, error) {
			gotDepth = depth
			return map[string]any{"agent": agentID, "input": input}, nil
		},
	})
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepSubAgent, Action: map[string]any{
		"agent_id": "helper-agent", "input": "payload",
	}}
	out, err := x.Execute(testContext(), step, vars, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDepth != 3 {
		t.Errorf("depth passed to runner = %d, want 3", gotDepth)
	}
	m := out.(map[string]any)
	if m["agent"] != "helper-agent" {
		t.Errorf("agent = %v", m["agent"])
	}
}

func TestSubAgent_RejectsExceedingMaxNestingDepth(t *testing.T) {
	x := New(Deps{RunSubAgent: func(context.Context, *runtime.ExecutionContext, string, any, int) (any, error) {
		return "unreachable", nil
	}})
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepSubAgent, Action: map[string]any{"agent_id": "a"}}
	_, err := x.Execute(testContext(), step, vars, MaxNestingDepth)
	if engineerr.CodeOf(err) != engineerr.NestingExceeded {
		t.Errorf("code = %v, want NestingExceeded", engineerr.CodeOf(err))
	}
}

func TestSubAgent_FailsWhenRunnerNotWired(t *testing.T) {
	x := New(Deps{})
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepSubAgent, Action: map[string]any{"agent_id": "a"}}
	_, err := x.Execute(testContext(), step, vars, 0)
	if engineerr.CodeOf(err) != engineerr.Internal {
		t.Errorf("code = %v, want Internal", engineerr.CodeOf(err))
	}
}

// --- custom-action -----------------------------------------------------

func TestCustomAction_InvokesRegisteredFunction(t *testing.T) {
	x := New(Deps{Custom: map[string]CustomFunction{
		"double": {
			Capability: secprofile.CapDeterministicUtility,
			Call: func(_ context.Context, args map[string]any) (any, error) {
				n := args["n"].(float64)
				return n * 2, nil
			},
		},
	}})
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepCustomAction, Action: map[string]any{
		"function": "double", "arguments": map[string]any{"n": float64(21)},
	}}
	out, err := x.Execute(testContext(), step, vars, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != float64(42) {
		t.Errorf("out = %v, want 42", out)
	}
}

func TestCustomAction_UnknownFunctionFails(t *testing.T) {
	x := New(Deps{Custom: map[string]CustomFunction{}})
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepCustomAction, Action: map[string]any{"function": "missing"}}
	_, err := x.Execute(testContext(), step, vars, 0)
	if engineerr.CodeOf(err) != engineerr.UnknownCustom {
		t.Errorf("code = %v, want UnknownCustom", engineerr.CodeOf(err))
	}
}

func TestCustomAction_CapabilityDenied(t *testing.T) {
	x := New(Deps{Custom: map[string]CustomFunction{
		"egress_only": {
			Capability: secprofile.CapNetEgress,
			Call: func(context.Context, map[string]any) (any, error) {
				return "unreachable", nil
			},
		},
	}})
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepCustomAction, Action: map[string]any{"function": "egress_only"}}

	ec := testContext()
	ec.Profile, _ = secprofile.Get(secprofile.UltraSecure)

	_, err := x.Execute(ec, step, vars, 0)
	if engineerr.CodeOf(err) != engineerr.CapabilityDenied {
		t.Errorf("code = %v, want CapabilityDenied", engineerr.CodeOf(err))
	}
}

// --- dispatch --------------------------------------------------------------

func TestExecute_UnknownKindFails(t *testing.T) {
	x := newExecutor(&mockModel{}, nil, nil)
	vars := varstore.New(nil)
	step := agentdef.Step{Kind: agentdef.StepKind("nonsense"), Action: map[string]any{}}
	_, err := x.Execute(testContext(), step, vars, 0)
	if engineerr.CodeOf(err) != engineerr.UnknownStep {
		t.Errorf("code = %v, want UnknownStep", engineerr.CodeOf(err))
	}
}
