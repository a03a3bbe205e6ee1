// Command gobbyd is Gobby's daemon: it loads configuration, opens the
// local store, and serves the HTTP/WS boundary until signaled to stop.
// Mirrors gastown's internal/daemon.Run — exclusive flock, PID file,
// signal-driven shutdown — generalized from a heartbeat loop to an
// http.Server, since Gobby's daemon is request-driven rather than
// patrol-driven.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/steveyegge/gobby/internal/agentspawn"
	"github.com/steveyegge/gobby/internal/config"
	"github.com/steveyegge/gobby/internal/dispatch"
	"github.com/steveyegge/gobby/internal/hooks"
	"github.com/steveyegge/gobby/internal/httpapi"
	"github.com/steveyegge/gobby/internal/logging"
	"github.com/steveyegge/gobby/internal/mcpclient"
	"github.com/steveyegge/gobby/internal/orchestrator"
	"github.com/steveyegge/gobby/internal/store"
	"github.com/steveyegge/gobby/internal/workflow"
)

var configPathFlag string

func main() {
	root := &cobra.Command{
		Use:   "gobbyd",
		Short: "Gobby daemon: hook dispatch, workflow engine, MCP proxy, and agent orchestration",
		RunE:  runDaemon,
	}
	root.Flags().StringVar(&configPathFlag, "config", config.DefaultConfigPath(), "path to config.json")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	values, err := config.LoadOrCreateValues(configPathFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logDir := values.LogDir
	if logDir == "" {
		logDir = logging.DefaultDir()
	}
	logger, rotator, err := logging.New(logging.Options{Dir: logDir, Name: "gobbyd.log"})
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer rotator.Close()

	logger.Printf("gobbyd starting (PID %d)", os.Getpid())

	// Exclusive lock prevents a second daemon instance from racing this
	// one to the PID file (TOCTOU), mirroring daemon.Run's flock usage.
	lockPath := filepath.Join(config.HomeDir(), "gobbyd.lock")
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("gobbyd already running (lock held by another process)")
	}
	defer func() { _ = fileLock.Unlock() }()

	pidPath := filepath.Join(config.HomeDir(), "gobby.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	dbPath := filepath.Join(config.HomeDir(), "gobby.sqlite")
	st, err := store.Open(dbPath, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	status := config.NewStatus(st)
	secrets := config.NewSecrets(st.Secrets(), dbPath)

	registry := hooks.NewRegistry()

	engine := workflow.NewEngine(st, logger)
	workflowsDir := filepath.Join(config.HomeDir(), "workflows")
	defs, err := workflow.LoadDir(workflowsDir, logger.Printf)
	if err != nil {
		logger.Printf("loading workflows: %v", err)
	}
	engine.LoadWorkflows(defs)

	spawner := agentspawn.NewRegistry()
	orch := orchestrator.New(st, spawner, nil, orchestrator.Config{
		DefaultProvider:   values.DefaultProvider,
		DefaultModel:      values.DefaultModel,
		DefaultMaxConcur:  values.MaxConcurrent,
		DefaultMode:       agentspawn.Mode(values.DefaultMode),
		DefaultBaseBranch: values.DefaultBaseBranch,
		MaxSpawnDepth:     values.MaxSpawnDepth,
		SpawnTimeout:      values.SpawnTimeout,
	})
	engine.SetOrchestrator(orch)

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Store:               st,
		Engine:              engine,
		HealthChecker:       status,
		HealthCheckInterval: values.HealthCheckInterval,
		Logger:              logger,
	})
	defer dispatcher.Shutdown()

	mcp := mcpclient.NewManager(mcpclient.Config{
		Store:  st,
		Logger: logger,
	})
	mcp.Start()
	defer mcp.Shutdown()

	server := httpapi.NewServer(httpapi.Config{
		Store:      st,
		Dispatcher: dispatcher,
		Registry:   registry,
		MCP:        mcp,
		Status:     status,
		Secrets:    secrets,
		ConfigPath: configPathFlag,
		Logger:     logger,
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", values.DaemonPort),
		Handler: server,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	status.MarkReady()
	logger.Println("gobbyd ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Printf("received signal %v, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			logger.Printf("http server error: %v", err)
		}
	}

	status.MarkNotReady()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Printf("error during http shutdown: %v", err)
	}

	logger.Println("gobbyd stopped")
	return nil
}
