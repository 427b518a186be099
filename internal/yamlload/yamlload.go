/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package yamlload parses agent-definition YAML under a fail-safe scalar
// schema: only null/bool/int/float/string scalars, mappings and sequences
// of those. No tags, no cyclic aliases, no binary. It is the only place
// in the engine that touches raw YAML; everything downstream works on the
// Value tree this package returns.
package yamlload

import (
	"crypto/sha256"
	"encoding/hex"

	"gopkg.in/yaml.v3"

	"github.com/marcus-qen/agentengine/internal/engineerr"
)

const (
	// MaxSourceBytes bounds the raw YAML document size.
	MaxSourceBytes = 1 << 20 // 1 MiB
	// MaxDepth bounds nesting depth, enforced during parsing.
	MaxDepth = 1000
	// MaxKeys bounds the total number of mapping keys across the document.
	MaxKeys = 10000
)

// Kind discriminates the scalar-only value lattice this loader produces.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSequence
	KindMapping
)

// Value is a node in the fail-safe scalar tree. Exactly one of the typed
// fields is meaningful, selected by Kind.
type Value struct {
	Kind     Kind
	Bool     bool
	Int      int64
	Float    float64
	String   string
	Sequence []*Value
	Mapping  []MapEntry
}

// MapEntry preserves declaration order, unlike a Go map.
type MapEntry struct {
	Key   string
	Value *Value
}

// Get returns the value bound to key in a mapping node, or nil.
func (v *Value) Get(key string) *Value {
	if v == nil || v.Kind != KindMapping {
		return nil
	}
	for _, e := range v.Mapping {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

// Result is the outcome of loading one YAML document.
type Result struct {
	Root *Value
	// SHA256 of the raw input bytes, hex-encoded.
	SourceHash string
}

// isRejectedControlChar reports whether r is one of the code points
// rejected in normalized scalar text.
func isRejectedControlChar(r rune) bool {
	switch {
	case r >= 0x0000 && r <= 0x0008:
		return true
	case r >= 0x000B && r <= 0x000C:
		return true
	case r >= 0x000E && r <= 0x001F:
		return true
	case r == 0x007F:
		return true
	}
	return false
}

// Load parses src under the fail-safe scalar schema, enforcing every bound
// from spec §4.2. Any violation returns a *engineerr.Error with code
// YamlSecurityError.
func Load(src []byte) (*Result, error) {
	if len(src) > MaxSourceBytes {
		return nil, engineerr.Newf(engineerr.YamlSecurityError, "source exceeds %d bytes", MaxSourceBytes)
	}

	sum := sha256.Sum256(src)

	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, engineerr.Wrap(engineerr.YamlSecurityError, err)
	}

	if doc.Kind == 0 {
		// empty document
		return &Result{Root: &Value{Kind: KindNull}, SourceHash: hex.EncodeToString(sum[:])}, nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, engineerr.New(engineerr.YamlSecurityError, "expected a single YAML document")
	}

	keyCount := 0
	root, err := convert(doc.Content[0], 0, nil, &keyCount)
	if err != nil {
		return nil, err
	}

	return &Result{Root: root, SourceHash: hex.EncodeToString(sum[:])}, nil
}

// convert walks a *yaml.Node tree, enforcing the fail-safe scalar schema,
// the depth bound (checked during, not after, traversal), the key-count
// bound, alias-cycle detection (an alias may never resolve to one of its
// own ancestors), and control-character rejection in scalar text.
func convert(n *yaml.Node, depth int, ancestors []*yaml.Node, keyCount *int) (*Value, error) {
	if depth > MaxDepth {
		return nil, engineerr.Newf(engineerr.YamlSecurityError, "document depth exceeds %d", MaxDepth)
	}

	switch n.Kind {
	case yaml.AliasNode:
		for _, a := range ancestors {
			if a == n.Alias {
				return nil, engineerr.New(engineerr.YamlSecurityError, "cyclic alias detected")
			}
		}
		return convert(n.Alias, depth+1, append(ancestors, n.Alias), keyCount)

	case yaml.ScalarNode:
		if n.Tag != "" && !isFailSafeScalarTag(n.Tag) {
			return nil, engineerr.Newf(engineerr.YamlSecurityError, "rejected explicit tag %q", n.Tag)
		}
		return convertScalar(n)

	case yaml.SequenceNode:
		if n.Tag != "" && n.Tag != "!!seq" {
			return nil, engineerr.Newf(engineerr.YamlSecurityError, "rejected explicit tag %q on sequence", n.Tag)
		}
		out := &Value{Kind: KindSequence, Sequence: make([]*Value, 0, len(n.Content))}
		childAncestors := append(ancestors, n)
		for _, c := range n.Content {
			cv, err := convert(c, depth+1, childAncestors, keyCount)
			if err != nil {
				return nil, err
			}
			out.Sequence = append(out.Sequence, cv)
		}
		return out, nil

	case yaml.MappingNode:
		if n.Tag != "" && n.Tag != "!!map" {
			return nil, engineerr.Newf(engineerr.YamlSecurityError, "rejected explicit tag %q on mapping", n.Tag)
		}
		out := &Value{Kind: KindMapping}
		childAncestors := append(ancestors, n)
		for i := 0; i+1 < len(n.Content); i += 2 {
			keyNode, valNode := n.Content[i], n.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode {
				return nil, engineerr.New(engineerr.YamlSecurityError, "mapping keys must be scalars")
			}
			key, err := normalizeText(keyNode.Value)
			if err != nil {
				return nil, err
			}
			*keyCount++
			if *keyCount > MaxKeys {
				return nil, engineerr.Newf(engineerr.YamlSecurityError, "document exceeds %d total keys", MaxKeys)
			}
			vv, err := convert(valNode, depth+1, childAncestors, keyCount)
			if err != nil {
				return nil, err
			}
			out.Mapping = append(out.Mapping, MapEntry{Key: key, Value: vv})
		}
		return out, nil

	default:
		return nil, engineerr.New(engineerr.YamlSecurityError, "rejected binary or unrecognized node kind")
	}
}

func isFailSafeScalarTag(tag string) bool {
	switch tag {
	case "!!null", "!!bool", "!!int", "!!float", "!!str":
		return true
	default:
		return false
	}
}

func convertScalar(n *yaml.Node) (*Value, error) {
	switch n.Tag {
	case "!!null":
		return &Value{Kind: KindNull}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, engineerr.Wrap(engineerr.YamlSecurityError, err)
		}
		return &Value{Kind: KindBool, Bool: b}, nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return nil, engineerr.Wrap(engineerr.YamlSecurityError, err)
		}
		return &Value{Kind: KindInt, Int: i}, nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, engineerr.Wrap(engineerr.YamlSecurityError, err)
		}
		return &Value{Kind: KindFloat, Float: f}, nil
	case "!!str", "":
		text, err := normalizeText(n.Value)
		if err != nil {
			return nil, err
		}
		return &Value{Kind: KindString, String: text}, nil
	case "!!binary":
		return nil, engineerr.New(engineerr.YamlSecurityError, "binary scalars are rejected")
	default:
		return nil, engineerr.Newf(engineerr.YamlSecurityError, "rejected explicit tag %q", n.Tag)
	}
}

// normalizeText validates UTF-8 and rejects the reserved control-character
// set from spec §4.2.
func normalizeText(s string) (string, error) {
	for _, r := range s {
		if r == '�' {
			return "", engineerr.New(engineerr.YamlSecurityError, "malformed UTF-8 sequence")
		}
		if isRejectedControlChar(r) {
			return "", engineerr.New(engineerr.YamlSecurityError, "rejected control character in scalar text")
		}
	}
	return s, nil
}
