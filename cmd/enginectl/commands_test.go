package main

import (
	"os"
	"path/filepath"
	"testing"
)

const validAgentYAML = `
agent:
  id: joker
  version: "1.0"
  protocol: agent-engine/v1
metadata:
  name: joker
  description: tells jokes
  category: entertainment
schema:
  input:
    type: object
    properties: {}
  output:
    type: object
    properties:
      greeting: {type: string}
    required: [greeting]
logic:
  variables:
    - name: g
      type: string
      init: "hi"
  workflow:
    - name: project
      type: output-project
      action:
        type: generate
        output:
          greeting: "$g"
`

func writeTempAgent(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp agent file: %v", err)
	}
	return path
}

func TestRunValidateAcceptsWellFormedAgent(t *testing.T) {
	path := writeTempAgent(t, validAgentYAML)
	if err := runValidate([]string{path}); err != nil {
		t.Fatalf("runValidate() = %v, want nil", err)
	}
}

func TestRunValidateRejectsWrongArgCount(t *testing.T) {
	if err := runValidate(nil); err == nil {
		t.Fatal("expected an error for zero file arguments")
	}
	if err := runValidate([]string{"a.yaml", "b.yaml"}); err == nil {
		t.Fatal("expected an error for more than one file argument")
	}
}

func TestRunValidateRejectsMissingFile(t *testing.T) {
	if err := runValidate([]string{filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatal("expected an error for a nonexistent file")
	}
}

func TestRunAuditRejectsMissingTenantFlag(t *testing.T) {
	if err := runAudit(nil); err == nil {
		t.Fatal("expected an error when --tenant is not supplied")
	}
}
