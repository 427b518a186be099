// Command enginectl is a local inspection CLI for the agent execution
// engine: list registered agents, validate a YAML definition without
// running it, and inspect a tenant's audit trail.
package main

import (
	"errors"
	"fmt"
	"os"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "agents":
		err = runAgents(args)
	case "validate":
		err = runValidate(args)
	case "audit":
		err = runAudit(args)
	case "version":
		fmt.Printf("enginectl %s (commit: %s, built: %s)\n", version, commit, date)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		err = fmt.Errorf("unknown command: %s", command)
	}

	if err != nil {
		if errors.Is(err, errUsage) {
			printUsage()
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("show usage")

func printUsage() {
	fmt.Fprintln(os.Stderr, `enginectl — agent execution engine inspection tool

Usage:
  enginectl agents [--dir PATH]         list registered agents (builtins plus any in PATH)
  enginectl validate FILE               validate an agent YAML definition without running it
  enginectl audit --tenant ID           print a tenant's audit trail entries
  enginectl version                     print version information`)
}
