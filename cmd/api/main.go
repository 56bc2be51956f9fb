package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zhouzirui/handbook-assistant/backend/internal/config"
	"github.com/zhouzirui/handbook-assistant/backend/internal/handler"
	"github.com/zhouzirui/handbook-assistant/backend/internal/model/handbook"
	"github.com/zhouzirui/handbook-assistant/backend/internal/service/ai"
	"github.com/zhouzirui/handbook-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/handbook-assistant/backend/internal/service/interaction"
	"github.com/zhouzirui/handbook-assistant/backend/internal/service/retrieval"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Load handbook pages into the passage store
	passages, err := retrieval.LoadPages(cfg.Retrieval.PagesDir, cfg.Retrieval.ChunkMaxChars)
	if err != nil {
		log.Printf("warning: failed to load handbook pages from %s: %v", cfg.Retrieval.PagesDir, err)
	}
	handbookStore := handbook.NewMemoryStore(passages)
	handbookRetriever := retrieval.NewRetriever(handbookStore, cfg.Retrieval.TopK)
	log.Printf("handbook loaded: %d passages from %s", handbookStore.Len(), cfg.Retrieval.PagesDir)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize AI service and the compose engine on top of it
	var (
		engine  *chat.Service
		janitor *chat.Janitor
	)
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, handbookRetriever, cfg.AI, cfg.Retrieval.TopK)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without chatbot functionality - 请检查 Ark 模型相关环境变量")
		} else {
			log.Println("AI service initialized successfully")
			engine, janitor = newEngine(cfg, aiService, registry)
		}
	} else {
		log.Println("Ark 凭证未配置，跳过问答功能初始化")
	}

	var routes handler.Engine
	if engine != nil {
		routes = engine
	}
	router := handler.NewRouter(routes, registry)

	startServer(ctx, cfg.Server, router)

	if janitor != nil {
		janitor.Stop()
	}
	if engine != nil {
		engine.Close()
	}
	log.Println("shutdown complete")
}

func newEngine(cfg *config.Config, generator chat.Generator, registry *prometheus.Registry) (*chat.Service, *chat.Janitor) {
	store := chat.NewStore(cfg.Compose.HistoryLimit)
	metrics := chat.NewMetrics(registry, store)

	var recorder chat.Recorder = interaction.NopRecorder{}
	if cfg.Interaction.LogPath != "" {
		jsonl, err := interaction.NewJSONLRecorder(cfg.Interaction.LogPath)
		if err != nil {
			log.Printf("warning: interaction log disabled: %v", err)
		} else {
			recorder = jsonl
			log.Printf("recording interactions to %s", jsonl.Path())
		}
	}

	engine, err := chat.NewService(generator, chat.Config{
		ComposeWindow:     cfg.Compose.Window,
		HistoryLimit:      cfg.Compose.HistoryLimit,
		GenerationTimeout: cfg.Compose.GenerationTimeout,
	}, chat.WithStore(store), chat.WithMetrics(metrics), chat.WithRecorder(recorder))
	if err != nil {
		log.Fatalf("failed to create compose engine: %v", err)
	}
	log.Printf("compose engine ready: window=%s history=%d", cfg.Compose.Window, cfg.Compose.HistoryLimit)

	if cfg.Compose.SessionIdleTTL <= 0 {
		log.Println("session janitor disabled")
		return engine, nil
	}
	janitor := chat.NewJanitor(store, cfg.Compose.SessionIdleTTL, cfg.Compose.SweepSchedule, metrics)
	if err := janitor.Start(); err != nil {
		log.Fatalf("failed to start session janitor: %v", err)
	}
	return engine, janitor
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Handbook assistant backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
