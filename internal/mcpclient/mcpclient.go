/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package mcpclient bridges the mcp-tool and doc-fetch step kinds to
// external Model Context Protocol servers. It is the engine's only
// outbound network surface besides ModelProvider and VectorStore, and is
// gated behind the net-remote-tool capability (internal/secprofile).
package mcpclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/marcus-qen/agentengine/internal/engineerr"
)

// ToolDesc describes a single tool exposed by a connected MCP server.
type ToolDesc struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// CallResult is the outcome of invoking a remote tool.
type CallResult struct {
	ContentSegments []string
	IsError         bool
}

// ToolClient is the host-collaborator surface the mcp-tool and doc-fetch
// steps call into (spec §6): connect once, list the server's declared
// tools, call them with a per-call deadline, and close when the
// execution is done.
type ToolClient interface {
	Connect(ctx context.Context, url string) error
	ListTools(ctx context.Context) ([]ToolDesc, error)
	Call(ctx context.Context, name string, args map[string]any, deadline time.Time) (CallResult, error)
	Close() error
}

// Client is the real ToolClient, a single-server MCP session. Tool names
// returned from ListTools are namespaced "mcp.<server>.<tool>" so callers
// can disambiguate when multiple Clients are pooled by name.
type Client struct {
	log         logr.Logger
	serverName  string
	sdkClient   *mcpsdk.Client
	session     *mcpsdk.ClientSession
	httpTimeout time.Duration

	mu    sync.RWMutex
	tools map[string]*mcpsdk.Tool
}

// New creates a Client identified by serverName (used only for the tool
// namespace prefix and logging — the server itself is addressed by the
// URL passed to Connect).
func New(log logr.Logger, serverName string) *Client {
	return &Client{
		log:        log.WithName("mcpclient").WithValues("server", serverName),
		serverName: serverName,
		sdkClient: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "agent-engine", Version: "1.0"},
			nil,
		),
		httpTimeout: 30 * time.Second,
		tools:       make(map[string]*mcpsdk.Tool),
	}
}

func (c *Client) Connect(ctx context.Context, url string) error {
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint:             url,
		HTTPClient:           &http.Client{Timeout: c.httpTimeout},
		DisableStandaloneSSE: true,
	}

	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return engineerr.Wrap(engineerr.ProviderError, fmt.Errorf("connect to %s: %w", url, err))
	}
	c.session = session

	result, err := session.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		return engineerr.Wrap(engineerr.ProviderError, fmt.Errorf("list tools from %s: %w", url, err))
	}

	c.mu.Lock()
	for _, t := range result.Tools {
		c.tools[t.Name] = t
	}
	c.mu.Unlock()

	c.log.Info("connected to MCP server", "endpoint", url, "tools", len(result.Tools))
	return nil
}

func (c *Client) ListTools(_ context.Context) ([]ToolDesc, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	descs := make([]ToolDesc, 0, len(c.tools))
	for _, t := range c.tools {
		descs = append(descs, ToolDesc{
			Name:        fmt.Sprintf("mcp.%s.%s", c.serverName, t.Name),
			Description: t.Description,
			Parameters:  paramsOf(t),
		})
	}
	return descs, nil
}

func paramsOf(t *mcpsdk.Tool) map[string]any {
	if m, ok := t.InputSchema.(map[string]any); ok {
		return m
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Call invokes the named tool (either the bare tool name or the
// "mcp.<server>.<tool>" namespaced form) and waits until deadline.
func (c *Client) Call(ctx context.Context, name string, args map[string]any, deadline time.Time) (CallResult, error) {
	if c.session == nil {
		return CallResult{}, engineerr.New(engineerr.ProviderError, "mcp client not connected")
	}

	toolName := name
	prefix := fmt.Sprintf("mcp.%s.", c.serverName)
	if strings.HasPrefix(name, prefix) {
		toolName = strings.TrimPrefix(name, prefix)
	}

	c.mu.RLock()
	_, known := c.tools[toolName]
	c.mu.RUnlock()
	if !known {
		return CallResult{}, engineerr.Newf(engineerr.ProviderError, "unknown remote tool %q on server %q", toolName, c.serverName)
	}

	callCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	result, err := c.session.CallTool(callCtx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return CallResult{}, engineerr.Wrap(engineerr.ProviderError, fmt.Errorf("mcp call %s/%s: %w", c.serverName, toolName, err))
	}

	return CallResult{
		ContentSegments: extractTextSegments(result),
		IsError:         result.IsError,
	}, nil
}

func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

func extractTextSegments(result *mcpsdk.CallToolResult) []string {
	if result == nil {
		return nil
	}
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return parts
}
