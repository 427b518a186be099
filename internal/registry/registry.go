/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package registry holds the process-wide name -> AgentDefinition map.
// It is created once per process; all mutation goes through a single
// writer lock, matching the corpus's Loader/Cache pair in internal/skill.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/agentengine/internal/agentdef"
	"github.com/marcus-qen/agentengine/internal/engineerr"
	"github.com/marcus-qen/agentengine/internal/schema"
	"github.com/marcus-qen/agentengine/internal/yamlload"
)

// Builtin agent names seeded by LoadBuiltins.
const (
	BuiltinJoker      = "joker"
	BuiltinTranslator = "translator"
	BuiltinImageGen   = "image-gen"
)

// Registry maps agent name to its compiled Definition.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*agentdef.Definition
	cache *schema.Cache
	log   logr.Logger
}

// New creates an empty Registry.
func New(log logr.Logger) *Registry {
	return &Registry{
		defs:  make(map[string]*agentdef.Definition),
		cache: schema.NewCache(),
		log:   log.WithName("registry"),
	}
}

// Register validates and stores def under its agent id. Re-registering
// an existing name without allowOverwrite fails.
func (r *Registry) Register(def *agentdef.Definition, allowOverwrite bool) error {
	if def.ProtocolTag != agentdef.ProtocolTag {
		return engineerr.Newf(engineerr.Internal, "protocol tag %q does not match pinned value", def.ProtocolTag)
	}
	if def.YAMLFingerprint == "" {
		return engineerr.New(engineerr.Internal, "agent definition has no yaml_fingerprint")
	}

	vr := agentdef.Validate(def)
	if !vr.Valid() {
		return engineerr.Newf(engineerr.Internal, "agent %q failed validation: %s", def.ID, strings.Join(vr.Errors, "; "))
	}
	for _, w := range vr.Warnings {
		r.log.Info("agent registered with warning", "agent", def.ID, "warning", w)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists && !allowOverwrite {
		return engineerr.Newf(engineerr.Internal, "agent %q already registered", def.ID)
	}
	r.defs[def.ID] = def
	return nil
}

// Get returns the Definition for name, if registered.
func (r *Registry) Get(name string) (*agentdef.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Names returns every registered agent name (diagnostic / CLI use).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for k := range r.defs {
		out = append(out, k)
	}
	return out
}

// parseAndRegister is the common load → parse → register path shared by
// every source.
func (r *Registry) parseAndRegister(src []byte, allowOverwrite bool) (*agentdef.Definition, error) {
	loaded, err := yamlload.Load(src)
	if err != nil {
		return nil, err
	}
	def, err := agentdef.Parse(loaded.Root, loaded.SourceHash, r.cache)
	if err != nil {
		return nil, err
	}
	if err := r.Register(def, allowOverwrite); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadBuiltins seeds the three built-in agents the engine ships with.
func (r *Registry) LoadBuiltins() error {
	for name, src := range builtinSources() {
		if _, err := r.parseAndRegister([]byte(src), false); err != nil {
			return fmt.Errorf("load builtin %q: %w", name, err)
		}
	}
	return nil
}

// LoadFromDirectory recursively discovers .yaml/.yml files under path and
// registers each. Per-file errors are logged but do not abort the walk —
// matching the corpus's "filename errors are logged but non-fatal"
// discovery behavior.
func (r *Registry) LoadFromDirectory(path string) error {
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			r.log.Error(err, "walk error", "path", p)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			r.log.Error(err, "read agent file", "path", p)
			return nil
		}
		if _, err := r.parseAndRegister(b, false); err != nil {
			r.log.Error(err, "register agent file", "path", p)
		}
		return nil
	})
}
