/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package secprofile defines the three pinned SecurityProfile constants
// and the capability bitset every StepExecutor is checked against.
package secprofile

import "time"

// Capability is a single named permission bit.
type Capability uint32

const (
	// CapNetAI permits calls to ModelProvider (text, image, embeddings).
	CapNetAI Capability = 1 << iota
	// CapNetRemoteTool permits calls to ToolClient (MCP servers).
	CapNetRemoteTool
	// CapNetVector permits calls to VectorStore.
	CapNetVector
	// CapDeterministicUtility permits deterministic utility modules
	// (string/number helpers with no I/O), granted from high-security up.
	CapDeterministicUtility
	// CapNetEgress permits unrestricted outbound network egress, the
	// broadest grant, limited to tenant-isolated.
	CapNetEgress
)

// Has reports whether mask grants capability c.
func (mask Capability) Has(c Capability) bool { return mask&c == c }

// Name is one of the three pinned profile names; callers select by name,
// never by constructing a profile value themselves.
type Name string

const (
	UltraSecure    Name = "ultra-secure"
	HighSecurity   Name = "high-security"
	TenantIsolated Name = "tenant-isolated"
)

// Profile is a read-only, hard-coded resource and capability bundle.
type Profile struct {
	Name              Name
	MemoryCeilingByte int64
	WallClock         time.Duration
	Capabilities      Capability
	AllowedModules    []string
	RestrictedNames   []string
}

var profiles = map[Name]Profile{
	UltraSecure: {
		Name:              UltraSecure,
		MemoryCeilingByte: 2 << 20, // 2 MiB
		WallClock:         5 * time.Second,
		Capabilities:      0,
	},
	HighSecurity: {
		Name:              HighSecurity,
		MemoryCeilingByte: 4 << 20, // 4 MiB
		WallClock:         10 * time.Second,
		Capabilities:      CapDeterministicUtility,
		AllowedModules:    []string{"strings", "numbers", "time"},
	},
	TenantIsolated: {
		Name:              TenantIsolated,
		MemoryCeilingByte: 8 << 20, // 8 MiB
		WallClock:         15 * time.Second,
		Capabilities:      CapDeterministicUtility | CapNetEgress | CapNetAI | CapNetRemoteTool | CapNetVector,
		AllowedModules:    []string{"strings", "numbers", "time"},
	},
}

// Get looks up a pinned profile by name. The second return reports
// whether the name is one of the three pinned constants.
func Get(name Name) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// StepCapability maps a step kind's well-known required capability, used
// by the Interpreter when it asks the IsolatedRuntime to enforce a step.
// Step kinds with no entry require no capability (output-project,
// custom-action — whose capability is whatever its registered function
// declared at registration time, carried out of band).
var stepCapability = map[string]Capability{
	"text-gen":     CapNetAI,
	"translation":  CapNetAI,
	"image-gen":    CapNetAI,
	"embed":        CapNetAI,
	"rag":          CapNetAI,
	"mcp-tool":     CapNetRemoteTool,
	"doc-fetch":    CapNetRemoteTool,
	"vector-store": CapNetVector,
}

// RequiredCapability returns the capability a step kind needs, and
// whether one is required at all.
func RequiredCapability(stepKind string) (Capability, bool) {
	c, ok := stepCapability[stepKind]
	return c, ok
}
