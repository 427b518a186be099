/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package provider

import (
	"context"
	"time"

	"github.com/marcus-qen/agentengine/internal/engineerr"
)

// ModelProvider is the host-supplied AI capability surface StepExecutor
// calls into for text-gen, translation, image-gen, embed, and rag steps
// (spec §6). It is narrower than the chat-oriented Provider interface
// above: StepExecutor never sees message history or tool-call plumbing,
// only the four capability-shaped methods the spec names.
type ModelProvider interface {
	GenerateText(ctx context.Context, prompt string, temperature float64, maxTokens int) (TextResult, error)
	GenerateImage(ctx context.Context, prompt string, size string) (ImageResult, error)
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float64, error)
}

// TextResult is the output of a text generation call.
type TextResult struct {
	Text      string
	ElapsedMs int64
	Model     string
}

// ImageResult is the output of an image generation call.
type ImageResult struct {
	Base64    string
	MediaType string
	ElapsedMs int64
}

// ImageGenerator is implemented by backends that can render images
// directly (OpenAI's DALL-E endpoints); backends that cannot (Anthropic's
// Messages API has no image-generation surface) are adapted to return
// ProviderError instead.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, size string) (ImageResult, error)
}

// Embedder is implemented by backends that expose an embeddings endpoint.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float64, error)
}

// Adapter lowers a chat-completion Provider into the spec-shaped
// ModelProvider surface. GenerateText wraps Complete with a single user
// message; GenerateImage/Embed/EmbedMany delegate to the optional
// ImageGenerator/Embedder interfaces when the wrapped provider implements
// them, and otherwise return a ProviderError — the engine never
// fabricates an unsupported capability.
type Adapter struct {
	backend Provider
	model   string
}

// NewAdapter wraps backend, defaulting completions to model.
func NewAdapter(backend Provider, model string) *Adapter {
	return &Adapter{backend: backend, model: model}
}

func (a *Adapter) GenerateText(ctx context.Context, prompt string, temperature float64, maxTokens int) (TextResult, error) {
	start := time.Now()
	resp, err := a.backend.Complete(ctx, &CompletionRequest{
		Messages:  []Message{{Role: "user", Content: prompt}},
		Model:     a.model,
		MaxTokens: int32(maxTokens),
	})
	if err != nil {
		return TextResult{}, engineerr.Wrap(engineerr.ProviderError, err)
	}
	return TextResult{
		Text:      resp.Content,
		ElapsedMs: time.Since(start).Milliseconds(),
		Model:     a.model,
	}, nil
}

func (a *Adapter) GenerateImage(ctx context.Context, prompt string, size string) (ImageResult, error) {
	if ig, ok := a.backend.(ImageGenerator); ok {
		return ig.GenerateImage(ctx, prompt, size)
	}
	return ImageResult{}, engineerr.Newf(engineerr.ProviderError, "%s does not support image generation", a.backend.Name())
}

func (a *Adapter) Embed(ctx context.Context, text string) ([]float64, error) {
	if e, ok := a.backend.(Embedder); ok {
		return e.Embed(ctx, text)
	}
	return nil, engineerr.Newf(engineerr.ProviderError, "%s does not support embeddings", a.backend.Name())
}

func (a *Adapter) EmbedMany(ctx context.Context, texts []string) ([][]float64, error) {
	if e, ok := a.backend.(Embedder); ok {
		return e.EmbedMany(ctx, texts)
	}
	return nil, engineerr.Newf(engineerr.ProviderError, "%s does not support embeddings", a.backend.Name())
}
