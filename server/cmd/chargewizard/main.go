package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	logx "charge-wizard/pkg/logger"
	"charge-wizard/server/internal/agent"
	"charge-wizard/server/internal/api"
	"charge-wizard/server/internal/config"
	"charge-wizard/server/internal/flow"
	"charge-wizard/server/internal/llm"
	"charge-wizard/server/internal/orchestrator"
	"charge-wizard/server/internal/prompt"
	"charge-wizard/server/internal/session"
	"charge-wizard/server/internal/stream"
)

func main() {
	configPath := flag.String("config", "server/configs/config.yaml", "config file path")
	flag.Parse()

	// .env 只在本地开发存在，缺失不算错误
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logx.Fatal().Err(err).Msg("load config failed")
	}
	logx.Init(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var llmClient llm.Client
	if cfg.LLM.Provider != "" {
		llmClient, err = llm.NewClient(cfg)
		if err != nil {
			logx.Fatal().Err(err).Msg("init llm client failed")
		}
		logx.Info().Str("provider", cfg.LLM.Provider).Msg("llm client ready")
	} else {
		logx.Info().Msg("no llm provider configured, running rule-based agents only")
	}

	prompts, err := prompt.NewManager(cfg.Paths.Prompts)
	if err != nil {
		logx.Fatal().Err(err).Msg("load prompts failed")
	}

	var store session.Store
	switch cfg.Session.Backend {
	case "redis":
		rs, err := session.NewRedisStore(ctx, cfg.Redis, cfg.Session.MaxIdle)
		if err != nil {
			logx.Fatal().Err(err).Msg("init redis store failed")
		}
		defer rs.Close()
		store = rs
	default:
		ms := session.NewInMemoryStore(cfg.Session.MaxIdle)
		ms.StartJanitor(ctx, cfg.Session.SweepInterval)
		store = ms
	}
	logx.Info().Str("backend", cfg.Session.Backend).Msg("session store ready")

	hub := stream.NewHub()
	orch := orchestrator.New(orchestrator.Deps{
		Store:          store,
		Classifier:     flow.NewClassifier(llmClient, prompts),
		Understanding:  agent.NewUnderstanding(llmClient, prompts),
		Validation:     agent.NewValidation(llmClient, prompts),
		Recommendation: agent.NewRecommendation(llmClient, prompts),
		Conversation:   agent.NewConversation(llmClient, prompts),
		Hub:            hub,
	})

	server := api.NewServer(cfg, store, orch, hub)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logx.Info().Str("addr", httpServer.Addr).Msg("charge wizard server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logx.Info().Msg("shutting down")
		return httpServer.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		logx.Fatal().Err(err).Msg("server exited with error")
	}
}
