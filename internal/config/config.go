// Package config loads the kbcrawl configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the full kbcrawl configuration.
type Config struct {
	Crawl     CrawlConfig     `yaml:"crawl"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Database  DatabaseConfig  `yaml:"database"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chat      ChatConfig      `yaml:"chat"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Sanitize  SanitizeConfig  `yaml:"sanitize"`
	Sources   SourcesConfig   `yaml:"sources"`
	Ops       OpsConfig       `yaml:"ops"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// CrawlConfig holds crawler run parameters.
type CrawlConfig struct {
	Seeds            []string `yaml:"seeds"`
	AllowlistFile    string   `yaml:"allowlist_file"`
	DenylistFile     string   `yaml:"denylist_file"`
	UserAgent        string   `yaml:"user_agent"`
	MaxPages         int      `yaml:"max_pages"`
	RateLimitSec     float64  `yaml:"rate_limit_sec"`
	RateLimitJitter  float64  `yaml:"rate_limit_jitter_sec"`
	PerHostCap       int      `yaml:"per_host_cap"` // 0 = uncapped
	TimeoutSec       int      `yaml:"timeout_sec"`
	MaxRedirects     int      `yaml:"max_redirects"`
	LogEvery         int      `yaml:"log_every"`
	RetryMax         int      `yaml:"retry_max"`
	RetryBackoffMSec int      `yaml:"retry_backoff_msec"`
}

// ChunkConfig holds chunker parameters.
type ChunkConfig struct {
	MaxWords     int `yaml:"max_words"`
	OverlapWords int `yaml:"overlap_words"`
}

// DatabaseConfig holds the SQLite metadata store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	Driver string           `yaml:"driver"` // flat, redis (default: flat)
	Path   string           `yaml:"path"`   // flat driver index file
	Redis  RedisIndexConfig `yaml:"redis"`
}

// RedisIndexConfig holds redis driver connection settings.
type RedisIndexConfig struct {
	Addrs     []string `yaml:"addrs"`
	Password  string   `yaml:"password"`
	KeyPrefix string   `yaml:"key_prefix"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"` // rebuild batch size
}

// ChatConfig holds answer-generation settings.
type ChatConfig struct {
	Model string `yaml:"model"`
}

// RetrievalConfig holds retrieval ranking settings.
type RetrievalConfig struct {
	TopK           int       `yaml:"top_k"`
	ShoppingTerms  []string  `yaml:"shopping_terms"`
	CuratedBonus   float64   `yaml:"curated_bonus"`
	EditorialBonus float64   `yaml:"editorial_bonus"`
	RecencyBonuses []float64 `yaml:"recency_bonuses"` // bands: <=180d, <=365d, <=730d
}

// SanitizeConfig holds sanitizer thresholds.
type SanitizeConfig struct {
	MinChars     int      `yaml:"min_chars"`
	MinWords     int      `yaml:"min_words"`
	JunkPatterns []string `yaml:"junk_patterns"`
}

// SourceRule maps a URL substring to a source category.
type SourceRule struct {
	Contains string `yaml:"contains"`
	Type     string `yaml:"type"`
}

// SourcesConfig derives a document's source category from its URL.
type SourcesConfig struct {
	Rules       []SourceRule `yaml:"rules"`
	DefaultType string       `yaml:"default_type"`
}

// OpsConfig holds the optional metrics/status listener settings.
type OpsConfig struct {
	Addr      string `yaml:"addr"`       // empty disables the listener
	AuthToken string `yaml:"auth_token"` // empty disables auth
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Crawl.UserAgent == "" {
		c.Crawl.UserAgent = "kbcrawl/1.0 (+https://github.com/sagecloud/kbcrawl)"
	}
	if c.Crawl.MaxPages <= 0 {
		c.Crawl.MaxPages = 2000
	}
	if c.Crawl.RateLimitSec <= 0 {
		c.Crawl.RateLimitSec = 1.5
	}
	if c.Crawl.RateLimitJitter <= 0 {
		c.Crawl.RateLimitJitter = 0.5
	}
	if c.Crawl.TimeoutSec <= 0 {
		c.Crawl.TimeoutSec = 15
	}
	if c.Crawl.MaxRedirects <= 0 {
		c.Crawl.MaxRedirects = 5
	}
	if c.Crawl.LogEvery <= 0 {
		c.Crawl.LogEvery = 25
	}
	if c.Crawl.RetryMax <= 0 {
		c.Crawl.RetryMax = 3
	}
	if c.Crawl.RetryBackoffMSec <= 0 {
		c.Crawl.RetryBackoffMSec = 400
	}
	if c.Chunk.MaxWords <= 0 {
		c.Chunk.MaxWords = 800
	}
	if c.Chunk.OverlapWords <= 0 {
		c.Chunk.OverlapWords = 120
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/kbcrawl.db"
	}
	if c.Index.Driver == "" {
		c.Index.Driver = "flat"
	}
	if c.Index.Path == "" {
		c.Index.Path = "data/vectors.index"
	}
	if c.Index.Redis.KeyPrefix == "" {
		c.Index.Redis.KeyPrefix = "kbcrawl:"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 100
	}
	if c.Chat.Model == "" {
		c.Chat.Model = "gpt-4.1-mini"
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 8
	}
	if len(c.Retrieval.ShoppingTerms) == 0 {
		c.Retrieval.ShoppingTerms = []string{
			"shop", "shopping", "souvenir", "gift", "store", "market",
			"vendor", "craft", "artisan", "experience", "tour",
		}
	}
	if c.Retrieval.CuratedBonus <= 0 {
		c.Retrieval.CuratedBonus = 0.2
	}
	if c.Retrieval.EditorialBonus <= 0 {
		c.Retrieval.EditorialBonus = 0.1
	}
	if len(c.Retrieval.RecencyBonuses) != 3 {
		c.Retrieval.RecencyBonuses = []float64{0.15, 0.1, 0.05}
	}
	if c.Sanitize.MinChars <= 0 {
		c.Sanitize.MinChars = 500
	}
	if c.Sanitize.MinWords <= 0 {
		c.Sanitize.MinWords = 80
	}
	if len(c.Sanitize.JunkPatterns) == 0 {
		c.Sanitize.JunkPatterns = []string{
			"/tag/", "/tags/", "/category/", "/author/", "/page/", "page=",
			"/search", "?s=", "/feed", "/rss", "/wp-json", "/wp-admin",
		}
	}
	if c.Sources.DefaultType == "" {
		c.Sources.DefaultType = "editorial"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Index.Driver {
	case "flat", "redis":
	default:
		return fmt.Errorf("index.driver must be \"flat\" or \"redis\", got %q", c.Index.Driver)
	}
	if c.Index.Driver == "redis" && len(c.Index.Redis.Addrs) == 0 {
		return fmt.Errorf("index.redis.addrs is required for the redis driver")
	}
	if c.Chunk.OverlapWords >= c.Chunk.MaxWords {
		return fmt.Errorf("chunk.overlap_words (%d) must be less than chunk.max_words (%d)",
			c.Chunk.OverlapWords, c.Chunk.MaxWords)
	}
	for i, r := range c.Sources.Rules {
		if r.Contains == "" || r.Type == "" {
			return fmt.Errorf("sources.rules[%d]: contains and type are required", i)
		}
	}
	return nil
}

// LoadStringList reads a YAML file holding a flat list of strings
// (allowlist/denylist rule files). A missing file yields an empty list.
func LoadStringList(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read list %s: %w", path, err)
	}
	var items []string
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse list %s: %w", path, err)
	}
	out := items[:0]
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
