// agentcheck serves the testing/tooling/chatting HTTP and WebSocket API,
// backed by an out-of-process companion command for the case-runner/
// agent/validator/tools collaborators.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/riverbend-labs/agentcheck/pkg/agentio"
	"github.com/riverbend-labs/agentcheck/pkg/api"
	"github.com/riverbend-labs/agentcheck/pkg/chat"
	"github.com/riverbend-labs/agentcheck/pkg/config"
	"github.com/riverbend-labs/agentcheck/pkg/discovery"
	"github.com/riverbend-labs/agentcheck/pkg/events"
	"github.com/riverbend-labs/agentcheck/pkg/history"
	"github.com/riverbend-labs/agentcheck/pkg/jobs"
	"github.com/riverbend-labs/agentcheck/pkg/pipeline"
	"github.com/riverbend-labs/agentcheck/pkg/tools"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	projectRoot := flag.String("project-root",
		getEnv("PROJECT_ROOT", ""),
		"Path to the project whose test_*.py files should be discovered")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir, *projectRoot)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	scanner, err := discovery.NewScanner(cfg.ProjectRoot, cfg.ReloadExcludes)
	if err != nil {
		log.Fatalf("Failed to create discovery scanner: %v", err)
	}
	watcher, err := discovery.NewWatcher(scanner, cfg.ProjectRoot)
	if err != nil {
		log.Fatalf("Failed to start discovery watcher: %v", err)
	}
	go watcher.Run(ctx)

	historyStore, err := history.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to create history store: %v", err)
	}

	if cfg.Agent.Command == "" {
		log.Fatalf("agent.command must be configured: it launches the companion process implementing the case-runner/agent/validator callables")
	}

	companion := agentio.NewProcessClient(cfg.Agent.Command, cfg.Agent.Args...)
	defer companion.Close()

	runner := pipeline.NewRunner(companion, companion, companion, historyStore)

	workerCount := cfg.Queue.WorkerCount
	if workerCount == 0 {
		workerCount = runtime.NumCPU()
	}

	bus := events.NewBus()
	jobMgr := jobs.NewManager(scanner, runner, bus, workerCount)
	jobMgr.Start(ctx)
	defer jobMgr.Stop()

	streamCmd, streamArgs := cfg.Agent.ResolvedStreamCommand()
	agentFactory := agentio.NewAgentFactory(streamCmd, streamArgs...)
	relay := chat.NewRelay(agentFactory)

	toolsCmd, toolsArgs := cfg.Agent.ResolvedToolsCommand()
	toolProvider := agentio.NewProcessToolProvider(toolsCmd, toolsArgs...)
	invoker := tools.NewInvoker(toolProvider)

	agents := []api.AgentSummary{}

	server := api.NewServer(scanner, jobMgr, bus, historyStore, invoker, relay, agents, cfg.Server.AllowedWSOrigins)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Engine(),
	}

	go func() {
		slog.Info("agentcheck listening", "addr", addr, "project_root", cfg.ProjectRoot)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}
}
