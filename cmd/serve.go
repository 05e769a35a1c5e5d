package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adhocore/gronx"

	"github.com/klarlabs/klar/internal/bridge"
	"github.com/klarlabs/klar/internal/chatlog"
	"github.com/klarlabs/klar/internal/collector"
	"github.com/klarlabs/klar/internal/config"
	"github.com/klarlabs/klar/internal/convsync"
	"github.com/klarlabs/klar/internal/engine"
	"github.com/klarlabs/klar/internal/httpapi"
	"github.com/klarlabs/klar/internal/memory"
	"github.com/klarlabs/klar/internal/ollama"
	"github.com/klarlabs/klar/internal/prompts"
	"github.com/klarlabs/klar/internal/retriever"
	"github.com/klarlabs/klar/internal/sop"
	"github.com/klarlabs/klar/internal/stagelog"
	"github.com/klarlabs/klar/internal/summary"
	"github.com/klarlabs/klar/internal/telemetry"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}

	store, err := memory.NewStore(cfg.Storage.MemoryPath, cfg.Storage.MaxHistory)
	if err != nil {
		slog.Error("memory store init failed", "path", cfg.Storage.MemoryPath, "error", err)
		os.Exit(1)
	}

	catalog, err := sop.Load(cfg.Storage.SOPPath)
	if err != nil {
		slog.Error("sop catalog load failed", "path", cfg.Storage.SOPPath, "error", err)
		os.Exit(1)
	}
	if err := catalog.Validate(); err != nil {
		slog.Error("sop catalog invalid", "error", err)
		os.Exit(1)
	}

	logs, err := chatlog.New(cfg.Storage.LogDir)
	if err != nil {
		slog.Error("chat log init failed", "dir", cfg.Storage.LogDir, "error", err)
		os.Exit(1)
	}
	stages := stagelog.New(filepath.Join(cfg.Storage.LogDir, "stages"))

	llm := ollama.New(
		cfg.Ollama.Host,
		cfg.Ollama.FallbackHost,
		cfg.Ollama.Model,
		time.Duration(cfg.Ollama.TimeoutSec*float64(time.Second)),
		cfg.Ollama.Workers,
	)
	llm.SetAuditLog(filepath.Join(cfg.Storage.LogDir, "llm_log.jsonl"))

	lib := prompts.NewLibrary(cfg.Storage.PromptDir)
	defer lib.Close()

	col := collector.New(llm, store, lib)
	eng := engine.New(store, llm, catalog, col, logs, stages, lib)

	db, err := convsync.OpenDB(cfg.Storage.ConversationsPath)
	if err != nil {
		slog.Error("conversation db init failed", "path", cfg.Storage.ConversationsPath, "error", err)
		os.Exit(1)
	}
	syncer := convsync.NewSyncer(cfg.Node.BaseURL, db, 10*time.Second)

	wa := bridge.New(cfg.Node.BaseURL, 5*time.Second)
	rag := retriever.New(cfg.Qdrant.URL, cfg.Qdrant.EmbedModel, llm, llm)
	summarizer := summary.New(llm, logs, syncer, cfg.Node.BaseURL)

	srv := httpapi.New(httpapi.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		AdminSecret: cfg.Admin.Secret,
		RateRPM:     cfg.Server.RateLimitRPM,
		Engine:      eng,
		Bridge:      wa,
		Summarizer:  summarizer,
		Syncer:      syncer,
		Retriever:   rag,
		Logs:        logs,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Sync.Enabled {
		go runSyncSchedule(rootCtx, syncer, cfg.Sync.Schedule)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-rootCtx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
	llm.Close()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown incomplete", "error", err)
	}
}

// runSyncSchedule fires SyncAll whenever the cron expression is due, checked
// once per minute. Overlapping runs are prevented by the check interval
// matching cron's minute resolution.
func runSyncSchedule(ctx context.Context, syncer *convsync.Syncer, schedule string) {
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		slog.Error("invalid sync schedule, background sync disabled", "schedule", schedule)
		return
	}
	slog.Info("background sync scheduled", "schedule", schedule)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(schedule, now)
			if err != nil || !due {
				continue
			}
			res := syncer.SyncAll(ctx)
			if !res.Success {
				slog.Warn("scheduled sync failed", "error", res.Error)
			}
		}
	}
}
