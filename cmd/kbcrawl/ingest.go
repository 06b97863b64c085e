package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sagecloud/kbcrawl/internal/chunker"
	"github.com/sagecloud/kbcrawl/internal/config"
	"github.com/sagecloud/kbcrawl/internal/crawler"
	"github.com/sagecloud/kbcrawl/internal/usecase/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Crawl the configured sources and ingest changed pages",
	Long: "Crawls from the configured (or overridden) seeds, chunks and embeds\n" +
		"pages whose content changed, and keeps the vector index in sync with\n" +
		"the document store. The run is tracked in the ingest_runs table.",
	RunE: runIngest,
}

var (
	ingestSeeds    []string
	ingestMaxPages int
)

func init() {
	ingestCmd.Flags().StringSliceVar(&ingestSeeds, "seeds", nil, "Seed URLs (overrides config)")
	ingestCmd.Flags().IntVar(&ingestMaxPages, "max-pages", 0, "Page budget (overrides config)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.startOps(ctx)

	seeds := a.cfg.Crawl.Seeds
	if len(ingestSeeds) > 0 {
		seeds = ingestSeeds
	}
	maxPages := a.cfg.Crawl.MaxPages
	if ingestMaxPages > 0 {
		maxPages = ingestMaxPages
	}

	allowlist, err := config.LoadStringList(a.cfg.Crawl.AllowlistFile)
	if err != nil {
		return err
	}
	denylist, err := config.LoadStringList(a.cfg.Crawl.DenylistFile)
	if err != nil {
		return err
	}

	engine := crawler.New(crawler.Config{
		Seeds:        seeds,
		Allowlist:    allowlist,
		Denylist:     denylist,
		UserAgent:    a.cfg.Crawl.UserAgent,
		MaxPages:     maxPages,
		PerHostCap:   a.cfg.Crawl.PerHostCap,
		Timeout:      time.Duration(a.cfg.Crawl.TimeoutSec) * time.Second,
		MaxRedirects: a.cfg.Crawl.MaxRedirects,
		LogEvery:     a.cfg.Crawl.LogEvery,
		RateLimit:    time.Duration(a.cfg.Crawl.RateLimitSec * float64(time.Second)),
		RateJitter:   time.Duration(a.cfg.Crawl.RateLimitJitter * float64(time.Second)),
		RetryMax:     a.cfg.Crawl.RetryMax,
		RetryBackoff: time.Duration(a.cfg.Crawl.RetryBackoffMSec) * time.Millisecond,
	}, a.logger)

	embedder, err := a.embedder()
	if err != nil {
		return err
	}

	rules := make([]ingest.SourceRule, 0, len(a.cfg.Sources.Rules))
	for _, r := range a.cfg.Sources.Rules {
		rules = append(rules, ingest.SourceRule{Contains: r.Contains, Type: r.Type})
	}

	svc := ingest.New(ingest.Deps{
		Store:       a.store,
		Crawler:     engine,
		Embedder:    embedder,
		Chunker:     chunker.New(a.cfg.Chunk.MaxWords, a.cfg.Chunk.OverlapWords),
		IndexCfg:    a.indexCfg(),
		Rules:       rules,
		DefaultType: a.cfg.Sources.DefaultType,
		Logger:      a.logger,
	})

	result, err := svc.Run(ctx)
	if result != nil {
		_ = printJSON(result)
	}
	return err
}
