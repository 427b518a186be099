package schema

import (
	"encoding/json"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func TestCompile_RejectsUnknownType(t *testing.T) {
	_, err := Compile(&Node{Type: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestCompile_RejectsArrayWithoutItems(t *testing.T) {
	_, err := Compile(&Node{Type: TypeArray})
	if err == nil {
		t.Fatal("expected error for array without items")
	}
}

func TestValidate_ObjectRejectsExcessKeysByDefault(t *testing.T) {
	v, err := Compile(&Node{
		Type:       TypeObject,
		Properties: map[string]*Node{"a": {Type: TypeString}},
		Required:   []string{"a"},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	res := v.Validate(map[string]any{"a": "x", "extra": 1})
	if res.Valid() {
		t.Fatal("expected rejection of additional property")
	}
}

func TestValidate_OpenAdditionalProperties(t *testing.T) {
	v, err := Compile(&Node{
		Type:                 TypeObject,
		Properties:           map[string]*Node{"a": {Type: TypeString}},
		AdditionalProperties: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	res := v.Validate(map[string]any{"a": "x", "extra": 1})
	if !res.Valid() {
		t.Fatalf("expected open object to accept extras, got %+v", res.Issues)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	v, _ := Compile(&Node{Type: TypeObject, Required: []string{"a"}, Properties: map[string]*Node{"a": {Type: TypeString}}})
	res := v.Validate(map[string]any{})
	if res.Valid() {
		t.Fatal("expected missing required property to fail")
	}
	if res.Issues[0].Path != "$.a" {
		t.Fatalf("expected path $.a, got %s", res.Issues[0].Path)
	}
}

func TestValidate_EnumSingleReducesToLiteralMatch(t *testing.T) {
	v, _ := Compile(&Node{Type: TypeEnum, Enum: []any{"only"}})
	if !v.Validate("only").Valid() {
		t.Fatal("expected literal match to pass")
	}
	if v.Validate("other").Valid() {
		t.Fatal("expected mismatch to fail")
	}
}

func TestCache_ReusesValidatorForIdenticalSchema(t *testing.T) {
	c := NewCache()
	n := &Node{Type: TypeString}
	v1, err := c.CompileCached(n, "input")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	v2, _ := c.CompileCached(&Node{Type: TypeString}, "input")
	if v1 != v2 {
		t.Fatal("expected identical schema+path to hit the cache")
	}
	if c.Size() != 1 {
		t.Fatalf("expected 1 cache entry, got %d", c.Size())
	}
}

func TestRoundTripCanonicalJSON(t *testing.T) {
	v, _ := Compile(&Node{
		Type:       TypeObject,
		Properties: map[string]*Node{"a": {Type: TypeInteger}},
		Required:   []string{"a"},
	})
	value := map[string]any{"a": float64(3)}
	before := v.Validate(value)
	b, err := Canonicalize(value)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("decode canonical form: %v", err)
	}
	after := v.Validate(decoded)
	if before.Valid() != after.Valid() {
		t.Fatal("validation verdict changed across canonical round trip")
	}
}
