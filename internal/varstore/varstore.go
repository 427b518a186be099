/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package varstore implements the per-execution VariableStore: a
// dynamically-typed name-to-value map drawn from the JSON value lattice,
// size-accounted against the execution's memory ceiling, plus the
// $name[.path...] reference-resolution rule shared by every step kind
// that accepts references.
package varstore

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/marcus-qen/agentengine/internal/engineerr"
)

// MaxValueBytes bounds the serialized size of any single value on its
// initial binding (spec §3: "each value ≤ 1 KiB on initial binding").
const MaxValueBytes = 1024

// Store is the per-execution scoped variable map. Not safe for concurrent
// use — a single execution's steps run strictly in declaration order.
type Store struct {
	values map[string]any
	input  any
}

// New creates an empty store scoped to one execution; input is the
// validated request input, addressable via the "input." reference prefix.
func New(input any) *Store {
	return &Store{values: make(map[string]any), input: input}
}

// Bind sets name to value after checking the per-value size cap. Returns
// the serialized size in bytes so callers can track memory_accounted.
func (s *Store) Bind(name string, value any) (int64, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return 0, engineerr.Wrap(engineerr.Internal, err)
	}
	if len(b) > MaxValueBytes {
		return 0, engineerr.Newf(engineerr.MemoryExceeded, "variable %q exceeds %d bytes on binding", name, MaxValueBytes)
	}
	s.values[name] = value
	return int64(len(b)), nil
}

// Get returns the raw bound value for name (no path navigation).
func (s *Store) Get(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Resolve implements the $name[.path...] / input.path reference rule:
// tokenize on '.', first segment selects a variable (or "input" for the
// request input), subsequent segments select object keys or list
// indices. Accessing null or a non-container mid-path raises
// VariableRefError.
func Resolve(s *Store, ref string) (any, error) {
	if !strings.HasPrefix(ref, "$") {
		return nil, engineerr.Newf(engineerr.VariableRefError, "not a reference: %q", ref)
	}
	path := strings.TrimPrefix(ref, "$")
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, engineerr.New(engineerr.VariableRefError, "empty reference")
	}

	root := segments[0]
	var cur any
	if root == "input" {
		cur = s.input
	} else {
		v, ok := s.values[root]
		if !ok {
			return nil, engineerr.Newf(engineerr.VariableRefError, "undefined variable %q", root).WithPaths([]string{root})
		}
		cur = v
	}

	for _, seg := range segments[1:] {
		next, err := navigate(cur, seg)
		if err != nil {
			return nil, engineerr.Newf(engineerr.VariableRefError, "%v", err).WithPaths([]string{path})
		}
		cur = next
	}
	return cur, nil
}

func navigate(cur any, seg string) (any, error) {
	if cur == nil {
		return nil, engineerr.New(engineerr.VariableRefError, "cannot navigate into null")
	}
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[seg]
		if !ok {
			return nil, engineerr.Newf(engineerr.VariableRefError, "no key %q", seg)
		}
		return v, nil
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, engineerr.Newf(engineerr.VariableRefError, "invalid list index %q", seg)
		}
		return c[idx], nil
	default:
		return nil, engineerr.New(engineerr.VariableRefError, "cannot navigate into a non-container")
	}
}

// IsReference reports whether s looks like a "$..." reference, as opposed
// to a literal value carried as a bare string.
func IsReference(s string) bool {
	return strings.HasPrefix(s, "$")
}
