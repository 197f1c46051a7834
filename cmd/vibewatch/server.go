package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vibewatch/internal/api"
	"vibewatch/internal/config"
	"vibewatch/internal/gitinfo"
	"vibewatch/internal/ingest"
	"vibewatch/internal/storage"
	"vibewatch/internal/syncer"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the vibewatch daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running vibewatch daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopDaemon()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vibewatch daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vibewatch.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runDaemon() error {
	fmt.Fprintf(os.Stderr, "vibewatch version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})))

	// Refuse to double-start: probe the health endpoint before claiming the
	// PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("vibewatch is already running (PID %d)", pid)
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		printWarning("vibewatch is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("daemon already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir, cfg.User.Name)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Start watching conversation logs.
	git := gitinfo.NewProvider(0)
	proc := ingest.NewProcessor(store, git, cfg.Watch.Dir)
	mon := ingest.NewMonitor(proc, cfg.Watch.Dir, cfg.Watch.Interval())
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("starting monitor: %w", err)
	}
	defer mon.Stop()

	// Start the sync worker. Without credentials it runs idle; adding a scope
	// later wakes it, and credentials are picked up on restart.
	var uploader syncer.Uploader
	if cfg.Sync.Configured() {
		uploader = syncer.NewClient(cfg.Sync.BaseURL, cfg.Sync.APIKey)
		slog.Info("sync enabled", "base_url", cfg.Sync.BaseURL)
	} else {
		slog.Info("sync credentials not configured, uploads idle")
	}
	worker := syncer.NewWorker(store, uploader, cfg.Sync.BatchSize)
	workerDone := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(workerDone)
	}()

	handler := api.NewAppHandler(api.AppDeps{
		Store:  store,
		Syncer: worker,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("management API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// An upload in flight is not aborted by shutdown; give it a bounded window
	// to finish and record its result before the process exits.
	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
	}
	return nil
}

func stopDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("vibewatch is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vibewatch (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vibewatch (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Daemon", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Daemon", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Watch dir", "%s", cfg.Watch.Dir)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("User", "%s", cfg.User.Name)
	if cfg.Sync.Configured() {
		printStatus("Sync", "configured (%s)", cfg.Sync.BaseURL)
	} else {
		printStatus("Sync", "not configured")
	}

	if running {
		statsResp, err := client.Get(serverURL + "/stats")
		if err == nil {
			var stats struct {
				TotalEvents   int64 `json:"total_events"`
				TotalSessions int64 `json:"total_sessions"`
				UnsyncedCount int64 `json:"unsynced_count"`
				TrackedFiles  int64 `json:"tracked_files"`
			}
			if decodeJSON(statsResp, &stats) == nil {
				printStatus("Events", "%d (%d unsynced)", stats.TotalEvents, stats.UnsyncedCount)
				printStatus("Sessions", "%d", stats.TotalSessions)
				printStatus("Tracked files", "%d", stats.TrackedFiles)
			}
		}
	}
	return nil
}
