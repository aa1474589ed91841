// Command helmsmand is the Helmsman daemon entrypoint: it resolves
// configuration, brings up the full component graph via
// internal/supervisor, and serves commands over MCP (stdio) alongside
// an HTTP admin surface (health, metrics, event push), grounded on
// joestump-claude-ops's cmd/claudeops bring-up/shutdown shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helmsman-dev/helmsman/internal/config"
	"github.com/helmsman-dev/helmsman/internal/engine/rodengine"
	"github.com/helmsman-dev/helmsman/internal/httpadmin"
	"github.com/helmsman-dev/helmsman/internal/supervisor"
	"github.com/helmsman-dev/helmsman/internal/transport"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "helmsmand",
		Short: "Helmsman browser-automation control plane daemon",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("config", "", "path to a config file (optional)")
	f.String("data-root", "./data", "directory for ledger, sessions and the evidence index")
	f.Int("port", 8787, "admin HTTP port (health, metrics, event push)")
	f.String("host", "127.0.0.1", "admin HTTP bind address")
	f.Bool("auth-enabled", false, "require a token on every command envelope")
	f.String("auth-token", "", "static operator token, when auth is enabled")
	f.String("scheduler-profile", "balanced", "single|stealth|balanced|aggressive")
	f.String("chrome-bin", "", "path to a Chromium binary to launch (empty: rod's default search)")
	f.String("chrome-debugger-url", "", "connect to an already-running Chromium instead of launching one")
	f.Bool("chrome-headless", true, "run Chromium headless")
	f.String("redaction-config", "", "path to a custom redaction pattern file (optional)")
	f.Duration("drain-timeout", 30*time.Second, "max time to wait for in-flight commands during shutdown")
	f.Duration("command-timeout", 30*time.Second, "per-command handler timeout")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")

	resolver, err := config.NewResolver(configPath)
	if err != nil {
		return fmt.Errorf("resolving configuration: %w", err)
	}
	if err := resolver.BindFlags(flags); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	cfg := resolver.Snapshot()
	log.Info("helmsmand starting",
		zap.String("version", version),
		zap.String("data_root", cfg.DataRoot),
		zap.String("scheduler_profile", cfg.Scheduler.Profile))

	redactionConfig, _ := flags.GetString("redaction-config")
	chromeBin, _ := flags.GetString("chrome-bin")
	debuggerURL, _ := flags.GetString("chrome-debugger-url")
	headless, _ := flags.GetBool("chrome-headless")
	drainTimeout, _ := flags.GetDuration("drain-timeout")
	commandTimeout, _ := flags.GetDuration("command-timeout")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup, err := supervisor.New(ctx, resolver, log, supervisor.Options{
		RedactionConfigPath: redactionConfig,
		Engine: rodengine.Config{
			Bin:         chromeBin,
			DebuggerURL: debuggerURL,
			Headless:    headless,
		},
		CommandTimeout: commandTimeout,
	})
	if err != nil {
		return fmt.Errorf("bringing up supervisor: %w", err)
	}

	r := chi.NewRouter()
	httpadmin.Mount(r, sup.Healthy)
	transport.MountEvents(r, sup.Bus, log, "/events")

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("admin HTTP listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin HTTP server exited", zap.Error(err))
		}
	}()

	mcpServer := transport.NewServer(version, "stdio", sup.Dispatcher)
	mcpErrCh := make(chan error, 1)
	go func() {
		mcpErrCh <- mcpServer.ServeStdio(ctx, os.Stdin, os.Stdout)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-mcpErrCh:
		if err != nil {
			log.Warn("mcp stdio server exited", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainTimeout+5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("admin HTTP shutdown", zap.Error(err))
	}
	if err := sup.Shutdown(shutdownCtx, drainTimeout); err != nil {
		return fmt.Errorf("supervisor shutdown: %w", err)
	}
	return nil
}
