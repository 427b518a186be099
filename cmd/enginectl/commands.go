package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	_ "modernc.org/sqlite"

	"github.com/marcus-qen/agentengine/internal/agentdef"
	"github.com/marcus-qen/agentengine/internal/registry"
	"github.com/marcus-qen/agentengine/internal/schema"
	"github.com/marcus-qen/agentengine/internal/yamlload"
)

func runAgents(args []string) error {
	fs := flag.NewFlagSet("agents", flag.ContinueOnError)
	dir := fs.String("dir", "", "directory of agent YAML files to load alongside the builtins")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := registry.New(logr.Discard())
	if err := reg.LoadBuiltins(); err != nil {
		return fmt.Errorf("load builtins: %w", err)
	}
	if *dir != "" {
		if err := reg.LoadFromDirectory(*dir); err != nil {
			return fmt.Errorf("load %s: %w", *dir, err)
		}
	}

	rows := make([][]string, 0, len(reg.Names()))
	for _, name := range reg.Names() {
		def, _ := reg.Get(name)
		rows = append(rows, []string{def.ID, def.Version, def.Metadata.Category, strconv.Itoa(len(def.Workflow))})
	}
	renderTable(os.Stdout, []string{"ID", "VERSION", "CATEGORY", "STEPS"}, rows)
	return nil
}

func runValidate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: validate requires exactly one file argument", errUsage)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	parsed, err := yamlload.Load(data)
	if err != nil {
		fmt.Printf("FAIL  %s\n  %v\n", args[0], err)
		os.Exit(1)
	}

	def, err := agentdef.Parse(parsed.Root, parsed.SourceHash, schema.NewCache())
	if err != nil {
		fmt.Printf("FAIL  %s\n  %v\n", args[0], err)
		os.Exit(1)
	}

	result := agentdef.Validate(def)
	if !result.Valid() {
		fmt.Printf("FAIL  %s\n", args[0])
		for _, e := range result.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		os.Exit(1)
	}

	fmt.Printf("OK    %s  (id=%s version=%s steps=%d)\n", args[0], def.ID, def.Version, len(def.Workflow))
	for _, w := range result.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	return nil
}

func runAudit(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant ID to inspect")
	dbPath := fs.String("db", "/var/lib/agentengine/audit.db", "path to the audit SQLite database")
	limit := fs.Int("limit", 50, "maximum number of events to print, most recent first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenant == "" {
		return fmt.Errorf("%w: audit requires --tenant", errUsage)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", *dbPath, err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, kind, timestamp_ms, severity, result, entry_hash
		FROM audit_events WHERE tenant_id = ? ORDER BY timestamp_ms DESC LIMIT ?`, *tenant, *limit)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var id, kind, severity, result, entryHash string
		var ts int64
		if err := rows.Scan(&id, &kind, &ts, &severity, &result, &entryHash); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		out = append(out, []string{
			time.UnixMilli(ts).UTC().Format(time.RFC3339),
			kind, severity, result, entryHash[:12],
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	renderTable(os.Stdout, []string{"TIME", "KIND", "SEVERITY", "RESULT", "ENTRY_HASH"}, out)
	return nil
}
