package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Crawl.MaxPages != 2000 {
		t.Errorf("expected MaxPages=2000, got %d", cfg.Crawl.MaxPages)
	}
	if cfg.Crawl.RateLimitSec != 1.5 {
		t.Errorf("expected RateLimitSec=1.5, got %v", cfg.Crawl.RateLimitSec)
	}
	if cfg.Crawl.RetryMax != 3 {
		t.Errorf("expected RetryMax=3, got %d", cfg.Crawl.RetryMax)
	}
	if cfg.Chunk.MaxWords != 800 || cfg.Chunk.OverlapWords != 120 {
		t.Errorf("expected chunk defaults 800/120, got %d/%d", cfg.Chunk.MaxWords, cfg.Chunk.OverlapWords)
	}
	if cfg.Database.Path != "data/kbcrawl.db" {
		t.Errorf("expected default database path, got %q", cfg.Database.Path)
	}
	if cfg.Index.Driver != "flat" {
		t.Errorf("expected Driver='flat', got %q", cfg.Index.Driver)
	}
	if cfg.Index.Redis.KeyPrefix != "kbcrawl:" {
		t.Errorf("expected KeyPrefix='kbcrawl:', got %q", cfg.Index.Redis.KeyPrefix)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected default embedding model, got %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.BatchSize != 100 {
		t.Errorf("expected BatchSize=100, got %d", cfg.Embedding.BatchSize)
	}
	if cfg.Retrieval.TopK != 8 {
		t.Errorf("expected TopK=8, got %d", cfg.Retrieval.TopK)
	}
	if len(cfg.Retrieval.RecencyBonuses) != 3 || cfg.Retrieval.RecencyBonuses[0] != 0.15 {
		t.Errorf("expected recency bonuses [0.15 0.1 0.05], got %v", cfg.Retrieval.RecencyBonuses)
	}
	if cfg.Sanitize.MinChars != 500 || cfg.Sanitize.MinWords != 80 {
		t.Errorf("expected sanitize thresholds 500/80, got %d/%d", cfg.Sanitize.MinChars, cfg.Sanitize.MinWords)
	}
	if len(cfg.Sanitize.JunkPatterns) == 0 {
		t.Error("expected default junk patterns")
	}
	if cfg.Sources.DefaultType != "editorial" {
		t.Errorf("expected DefaultType='editorial', got %q", cfg.Sources.DefaultType)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		Crawl:     CrawlConfig{MaxPages: 50, RateLimitSec: 3},
		Chunk:     ChunkConfig{MaxWords: 400, OverlapWords: 60},
		Index:     IndexConfig{Driver: "redis"},
		Retrieval: RetrievalConfig{TopK: 4, RecencyBonuses: []float64{0.3, 0.2, 0.1}},
	}
	cfg.ApplyDefaults()

	if cfg.Crawl.MaxPages != 50 {
		t.Errorf("expected MaxPages=50, got %d", cfg.Crawl.MaxPages)
	}
	if cfg.Chunk.MaxWords != 400 {
		t.Errorf("expected MaxWords=400, got %d", cfg.Chunk.MaxWords)
	}
	if cfg.Index.Driver != "redis" {
		t.Errorf("expected Driver='redis', got %q", cfg.Index.Driver)
	}
	if cfg.Retrieval.RecencyBonuses[0] != 0.3 {
		t.Errorf("expected RecencyBonuses kept, got %v", cfg.Retrieval.RecencyBonuses)
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	cfg.Index.Driver = "faiss"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown index driver")
	}
}

func TestValidate_RedisDriverNeedsAddrs(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	cfg.Index.Driver = "redis"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for redis driver without addrs")
	}

	cfg.Index.Redis.Addrs = []string{"localhost:6379"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error with addrs set: %v", err)
	}
}

func TestValidate_OverlapMustBeBelowMaxWords(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	cfg.Chunk.MaxWords = 100
	cfg.Chunk.OverlapWords = 100

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for overlap >= max_words")
	}
}

func TestValidate_IncompleteSourceRule(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	cfg.Sources.Rules = []SourceRule{{Contains: "certified"}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for rule without type")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("KBCRAWL_TEST_KEY", "secret")

	got := string(expandEnvVars([]byte("key: ${KBCRAWL_TEST_KEY}")))
	if got != "key: secret" {
		t.Errorf("got %q", got)
	}

	got = string(expandEnvVars([]byte("model: ${KBCRAWL_TEST_UNSET:-fallback}")))
	if got != "model: fallback" {
		t.Errorf("got %q", got)
	}

	t.Setenv("KBCRAWL_TEST_SET", "real")
	got = string(expandEnvVars([]byte("model: ${KBCRAWL_TEST_SET:-fallback}")))
	if got != "model: real" {
		t.Errorf("got %q", got)
	}
}

func TestLoadStringList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := "- /tag/\n- \"  \"\n- /feed\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := LoadStringList(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 2 || items[0] != "/tag/" || items[1] != "/feed" {
		t.Errorf("items = %v", items)
	}
}

func TestLoadStringList_MissingFile(t *testing.T) {
	items, err := LoadStringList(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items != nil {
		t.Errorf("items = %v, want nil", items)
	}
}

func TestLoadStringList_EmptyPath(t *testing.T) {
	items, err := LoadStringList("")
	if err != nil || items != nil {
		t.Errorf("got %v, %v", items, err)
	}
}
