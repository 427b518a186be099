// Command engined runs the declarative agent execution engine as a
// standalone long-lived process: it loads configuration, wires every
// collaborator behind Supervisor, seeds the built-in agents, and serves
// health and Prometheus metrics endpoints.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcus-qen/agentengine/internal/audit"
	"github.com/marcus-qen/agentengine/internal/compliance"
	"github.com/marcus-qen/agentengine/internal/config"
	"github.com/marcus-qen/agentengine/internal/interpreter"
	"github.com/marcus-qen/agentengine/internal/metrics"
	"github.com/marcus-qen/agentengine/internal/provider"
	"github.com/marcus-qen/agentengine/internal/registry"
	"github.com/marcus-qen/agentengine/internal/runtime"
	"github.com/marcus-qen/agentengine/internal/shared/ratelimit"
	"github.com/marcus-qen/agentengine/internal/steps"
	"github.com/marcus-qen/agentengine/internal/supervisor"
	"github.com/marcus-qen/agentengine/internal/tenant"
	"github.com/marcus-qen/agentengine/internal/threat"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))
	logr.SetLogger(logger)

	cfg, err := config.Load(os.Getenv("AGENTENGINE_CONFIG_FILE"))
	if err != nil {
		logger.Error(err, "failed to load config")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error(err, "invalid config")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(logger.WithName("registry"))
	if err := reg.LoadBuiltins(); err != nil {
		logger.Error(err, "failed to load builtin agents")
		os.Exit(1)
	}
	if dir := os.Getenv("AGENTENGINE_AGENTS_DIR"); dir != "" {
		if err := reg.LoadFromDirectory(dir); err != nil {
			logger.Error(err, "failed to load agent directory", "dir", dir)
			os.Exit(1)
		}
	}

	pool := runtime.New(runtime.Config{
		MinPool:         cfg.MinPoolSize,
		MaxPool:         cfg.MaxPoolSize,
		IdlePoolTimeout: time.Duration(cfg.PoolIdleTimeoutMs) * time.Millisecond,
		LogBufferLines:  256,
	})

	backend, err := provider.NewAnthropicProvider(provider.ProviderConfig{
		Type:   "anthropic",
		APIKey: os.Getenv("ANTHROPIC_API_KEY"),
	})
	if err != nil {
		logger.Error(err, "failed to configure model provider")
		os.Exit(1)
	}
	modelID := os.Getenv("AGENTENGINE_MODEL_ID")
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}
	model := provider.NewAdapter(backend, modelID)
	ip := interpreter.New(steps.New(steps.Deps{Model: model}))

	trail := audit.New(audit.Config{
		MaxEventsPerTenant: 100_000,
		RetentionWindow:    time.Duration(cfg.DataRetentionDays) * 24 * time.Hour,
		MasterKey:          []byte(os.Getenv("AGENTENGINE_AUDIT_MASTER_KEY")),
	}, nil)

	sup := supervisor.New(supervisor.Deps{
		Registry:       reg,
		Gate:           compliance.NewInProcessGate(compliance.DefaultRules()...),
		Audit:          trail,
		Runtime:        pool,
		Interpreter:    ip,
		Scorer:         threat.New(),
		Quotas:         tenant.NewQuotaEnforcer(logger.WithName("tenant")),
		Limiter:        ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		DefaultProfile: cfg.DefaultSecurityProfile,
		Log:            logger,
	})
	_ = sup // exercised by a host process embedding this binary's HTTP/RPC front end

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":"%s","commit":"%s","date":"%s"}`+"\n", version, commit, date)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	addr := os.Getenv("AGENTENGINE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "server error")
			os.Exit(1)
		}
	}()

	logger.Info("engine started", "addr", addr, "version", version, "agents", len(reg.Names()))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "shutdown error")
	}
}
