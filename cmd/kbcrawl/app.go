package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/config"
	logpkg "github.com/sagecloud/kbcrawl/internal/logger"
	"github.com/sagecloud/kbcrawl/internal/metrics"
	"github.com/sagecloud/kbcrawl/internal/store"
	"github.com/sagecloud/kbcrawl/internal/transport/ops"
	openaiTransport "github.com/sagecloud/kbcrawl/internal/transport/openai"
	"github.com/sagecloud/kbcrawl/internal/usecase/health"
	"github.com/sagecloud/kbcrawl/internal/vecindex"
)

// app is the composition root shared by every subcommand.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  *store.Store
}

func newApp() (*app, error) {
	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	metrics.Register()

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: st}, nil
}

func (a *app) close() {
	_ = a.store.Close()
	_ = a.logger.Sync()
}

func (a *app) indexCfg() vecindex.Config {
	return vecindex.Config{
		Driver:    a.cfg.Index.Driver,
		Path:      a.cfg.Index.Path,
		Addrs:     a.cfg.Index.Redis.Addrs,
		Password:  a.cfg.Index.Redis.Password,
		KeyPrefix: a.cfg.Index.Redis.KeyPrefix,
	}
}

func (a *app) embedder() (*openaiTransport.Embedder, error) {
	apiKey := a.cfg.Embedding.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY missing: set embedding.api_key or the environment variable")
	}
	return openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:  apiKey,
		BaseURL: a.cfg.Embedding.BaseURL,
		Model:   a.cfg.Embedding.Model,
		Logger:  a.logger,
	}), nil
}

func (a *app) chatClient() (*openaiTransport.ChatClient, error) {
	apiKey := a.cfg.Embedding.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY missing: set embedding.api_key or the environment variable")
	}
	return openaiTransport.NewChatClient(&openaiTransport.ChatConfig{
		APIKey:  apiKey,
		BaseURL: a.cfg.Embedding.BaseURL,
		Model:   a.cfg.Chat.Model,
		Logger:  a.logger,
	}), nil
}

// startOps serves /metrics, /healthz and /status while a long command runs.
// Disabled when ops.addr is empty.
func (a *app) startOps(ctx context.Context) {
	if a.cfg.Ops.Addr == "" {
		return
	}
	srv := ops.NewServer(a.cfg.Ops.Addr, a.cfg.Ops.AuthToken,
		a.store, health.New(a.store, nil), a.logger)
	srv.Start(ctx)
}

// printJSON writes v to stdout, indented.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
