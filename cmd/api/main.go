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

	"github.com/zhouzirui/embedchat/backend/internal/config"
	"github.com/zhouzirui/embedchat/backend/internal/handler"
	"github.com/zhouzirui/embedchat/backend/internal/model/embed"
	"github.com/zhouzirui/embedchat/backend/internal/observability"
	"github.com/zhouzirui/embedchat/backend/internal/service/ai"
	"github.com/zhouzirui/embedchat/backend/internal/service/chat"
	"github.com/zhouzirui/embedchat/backend/internal/service/turn"
	"github.com/zhouzirui/embedchat/backend/internal/service/upstream"
	"github.com/zhouzirui/embedchat/backend/internal/service/webhook"
	badgerstore "github.com/zhouzirui/embedchat/backend/internal/storage/badger"
	"github.com/zhouzirui/embedchat/backend/internal/store"
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

	shutdownTracing, err := observability.InitTracing(ctx, "embedchat", cfg.Observability.OTelStdout)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("warning: tracing shutdown: %v", err)
		}
	}()

	embeds, err := embed.LoadFile(cfg.Embeds.ProfilesFile)
	if err != nil {
		log.Fatalf("failed to load embed profiles: %v", err)
	}

	historyStore, closeStore, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer closeStore()

	generator := newGenerator(ctx, cfg)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	runner := turn.New(turn.Options{
		Generator:        generator,
		Store:            historyStore,
		Metrics:          metrics,
		UnavailableReply: cfg.Turn.UnavailableReply,
		Prefetch:         cfg.Turn.PrefetchSources,
	})

	router := handler.NewRouter(handler.Deps{
		Runner:   runner,
		History:  historyStore,
		Embeds:   embeds,
		HelpRule: embed.NewHelpRule(cfg.Turn.HelpKeywords, cfg.Turn.HelpReply),
		Metrics:  metrics,
		APIKeys:  cfg.Server.APIKeys,
	})

	startServer(ctx, cfg.Server, router)
}

// openStore 根据配置选择内存或 Badger 存储。
func openStore(cfg config.StorageConfig) (store.Store, func(), error) {
	switch cfg.Backend {
	case config.StorageBadger:
		bcfg := badgerstore.DefaultConfig(cfg.BadgerPath)
		bcfg.SyncWrites = cfg.SyncWrites
		db, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("badger storage opened at %s", cfg.BadgerPath)
		return db, func() {
			if err := db.Close(); err != nil {
				log.Printf("warning: failed to close badger: %v", err)
			}
		}, nil
	default:
		log.Println("using in-memory storage, history is lost on restart")
		return chat.NewService(), func() {}, nil
	}
}

// newGenerator 选择回答后端；返回 nil 时每轮对话都走"不可用"提前返回。
func newGenerator(ctx context.Context, cfg *config.Config) upstream.Generator {
	useWebhook := cfg.Turn.Upstream == config.UpstreamWebhook ||
		(cfg.Turn.Upstream == config.UpstreamAuto && cfg.Webhook.Enabled())

	if useWebhook {
		if !cfg.Webhook.Enabled() {
			log.Println("WEBHOOK_URL 未配置，对话将返回不可用提示")
			return nil
		}
		log.Printf("using workflow webhook at %s", cfg.Webhook.URL)
		return webhook.New(webhook.Config{
			URL:       cfg.Webhook.URL,
			HealthURL: cfg.Webhook.HealthURL,
			Timeout:   cfg.Webhook.Timeout,
		})
	}

	if !cfg.AI.Enabled() {
		log.Println("Ark 凭证未配置，对话将返回不可用提示")
		return nil
	}
	svc, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		log.Printf("warning: failed to initialize AI service: %v", err)
		log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
		return nil
	}
	log.Println("AI service initialized successfully")
	return svc
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("embedchat gateway listening on %s", addr)
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
