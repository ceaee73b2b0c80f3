// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"actionloop/config"
	"actionloop/daemon/api"
	"actionloop/daemon/jobs"
	"actionloop/daemon/metrics"
	"actionloop/daemon/models"
	"actionloop/daemon/store"
	"actionloop/daemon/webhooks"
	"actionloop/logger"
	"actionloop/mainloop"
	"actionloop/scriptaction"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to config file (YAML)")
	addr := flag.String("addr", "", "API server address (overrides config file)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	maxThreads := flag.Int("max-threads", 0, "Concurrency cap (overrides config file)")
	pluginDir := flag.String("plugin-dir", "", "Additional directory to search for action handler plugins")
	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("mainloopd version %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		pterm.Error.Printfln("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.DaemonAddr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *maxThreads > 0 {
		cfg.MaxThreads = *maxThreads
	}
	if cfg.DaemonAddr == "" {
		cfg.DaemonAddr = "localhost:8080"
	}
	if cfg.MaxThreads < 1 {
		cfg.MaxThreads = 4
	}

	showBanner()

	log := logger.NewWithConfig(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Info("starting mainloopd", "version", version, "max_threads", cfg.MaxThreads, "addr", cfg.DaemonAddr)

	loop := mainloop.New(cfg.MaxThreads, log)
	defer loop.Shutdown()

	manager := jobs.NewManager(log, loop)
	manager.RegisterHandler("shell", jobs.NewShellHandler())
	manager.RegisterHandler("sleep", jobs.NewSleepHandler())

	if len(cfg.Webhooks) > 0 {
		wh := make([]webhooks.Webhook, len(cfg.Webhooks))
		for i, w := range cfg.Webhooks {
			wh[i] = webhooks.Webhook{
				URL: w.URL, Events: w.Events, Headers: w.Headers,
				Timeout: w.Timeout, Retry: w.Retry, Enabled: w.Enabled,
			}
		}
		manager.SetWebhookManager(webhooks.NewManager(wh, log))
		log.Info("webhooks configured", "count", len(wh))
	}

	metrics.NewCollector(loop)
	metrics.SetBuildInfo(version, runtime.Version())

	var dbStore *store.SQLiteStore
	if cfg.DatabasePath != "" {
		dbStore, err = store.NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			log.Error("failed to open audit database", "path", cfg.DatabasePath, "error", err)
			os.Exit(1)
		}
		store.Attach(dbStore, loop, func(a mainloop.Action) *models.ActionRecord { return manager.RecordForAction(a) }, log)
		log.Info("audit ledger opened", "path", cfg.DatabasePath)
		defer dbStore.Close()
	}

	pluginDirs := scriptaction.DefaultPluginDirs()
	if *pluginDir != "" {
		pluginDirs = append(pluginDirs, *pluginDir)
	}
	pluginMgr := scriptaction.NewManager(manager, log, &scriptaction.Config{
		Enabled:     true,
		Directories: pluginDirs,
		HotReload:   true,
	})
	if err := pluginMgr.LoadAll(); err != nil {
		log.Warn("action handler plugin load failed", "error", err)
	}
	if err := pluginMgr.StartWatcher(); err != nil {
		log.Warn("action handler plugin watcher failed to start", "error", err)
	}
	defer pluginMgr.StopWatcher()

	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := api.NewServer(manager, loop, log, shutdownCtx)
	hub := server.EnableWebSocket(loop)
	go hub.Run(shutdownCtx)
	httpServer := &http.Server{Addr: cfg.DaemonAddr, Handler: server}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server listening", "addr", cfg.DaemonAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	showEndpoints(cfg.DaemonAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error("API server error", "error", err)
	}

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := httpServer.Shutdown(stopCtx); err != nil {
		log.Warn("HTTP server shutdown error", "error", err)
	}

	log.Info("draining running actions")
	loop.Shutdown()
	log.Info("mainloopd stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnvironment(), nil
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	return cfg.MergeWithEnv(), nil
}

func showBanner() {
	orange := pterm.NewStyle(pterm.FgLightRed)
	amber := pterm.NewStyle(pterm.FgYellow)

	pterm.DefaultBigText.WithLetters(
		pterm.NewLettersFromStringWithStyle("MAINLOOP", orange),
		pterm.NewLettersFromStringWithStyle("D", amber),
	).Render()

	pterm.DefaultCenter.WithCenterEachLineSeparately().Println(
		pterm.LightYellow("Bounded-concurrency action scheduler daemon\n") +
			pterm.Gray("Version "+version),
	)
}

func showEndpoints(addr string) {
	baseURL := fmt.Sprintf("http://%s", addr)

	data := [][]string{
		{"Endpoint", "Method", "Description"},
		{baseURL + "/health", "GET", "Health check"},
		{baseURL + "/status", "GET", "Daemon status"},
		{baseURL + "/system", "GET", "Process-level system metrics"},
		{baseURL + "/metrics", "GET", "Prometheus metrics"},
		{baseURL + "/actions/submit", "POST", "Submit action(s) (JSON/YAML)"},
		{baseURL + "/actions/query", "GET/POST", "Query submitted actions"},
		{baseURL + "/actions/{id}", "GET", "Get a single action record"},
		{baseURL + "/actions/cancel", "POST", "Cancel pending action(s)"},
		{baseURL + "/actions/pause", "POST", "Pause queue admission"},
		{baseURL + "/actions/resume", "POST", "Resume queue admission"},
		{baseURL + "/ws", "WS", "WebSocket (live signal-bus stream)"},
	}

	pterm.DefaultSection.Println("Available API Endpoints")
	pterm.DefaultTable.
		WithHasHeader().
		WithHeaderRowSeparator("-").
		WithBoxed().
		WithData(data).
		Render()
}
