package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port        int              `json:"port"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	Store       StoreConfig      `json:"store"`
	Lexical     LexicalConfig    `json:"lexical"`
	Retrieval   RetrievalConfig  `json:"retrieval"`
	Reader      ReaderConfig     `json:"reader"`
	Embedding   EmbeddingConfig  `json:"embedding"`
	FileStore   FileStoreConfig  `json:"file_store"`
	Jobs        JobsConfig       `json:"jobs"`
	CORS        CORSConfig       `json:"cors"`
	RateLimitMs int              `json:"rate_limit_ms"`
	Languages   []LanguageConfig `json:"languages"`
	Fallback    FallbackConfig   `json:"fallback"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`

	MaxOpenConns           int `json:"max_open_conns"`
	MaxIdleConns           int `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `json:"conn_max_lifetime_seconds"`
}

// ConnString is the DSN when set, otherwise a key/value string built from
// the host fields.
func (c DatabaseConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.DBName, sslmode)
}

// Enabled reports whether a Postgres database is configured. Without one
// the corpus lives in memory only.
func (c DatabaseConfig) Enabled() bool {
	return c.DSN != "" || c.Host != ""
}

type StoreConfig struct {
	EmbeddingDim int `json:"embedding_dim"`
}

type LexicalConfig struct {
	Threshold float64 `json:"threshold"`
}

type RetrievalConfig struct {
	// Backend selects where the indexes run: "memory" or "postgres".
	Backend string `json:"backend"`

	LexicalTimeoutMs  int     `json:"lexical_timeout_ms"`
	SemanticTimeoutMs int     `json:"semantic_timeout_ms"`
	LexicalWeight     float64 `json:"lexical_weight"`
	SemanticWeight    float64 `json:"semantic_weight"`
	RerankThreshold   int     `json:"rerank_threshold"`
	RerankDepth       int     `json:"rerank_depth"`
	Reranker          string  `json:"reranker"`
	CacheSize         int     `json:"cache_size"`
	CacheTTLSeconds   int     `json:"cache_ttl_seconds"`
}

type ReaderConfig struct {
	LexiconK      int `json:"lexicon_k"`
	GrammarK      int `json:"grammar_k"`
	MaxInputChars int `json:"max_input_chars"`
}

type EmbeddingConfig struct {
	Providers       []EmbeddingProviderConfig `json:"providers"`
	LRUSize         int                       `json:"lru_size"`
	LRUTTLSeconds   int                       `json:"lru_ttl_seconds"`
	DBCache         bool                      `json:"db_cache"`
	CacheRetainDays int                       `json:"cache_retain_days"`
}

type EmbeddingProviderConfig struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Model string      `json:"model"`
	Data  interface{} `json:"data"`
}

type FileStoreConfig struct {
	Type string   `json:"type"`
	Dir  string   `json:"dir"`
	S3   S3Config `json:"s3"`
}

type S3Config struct {
	Endpoint  string `json:"endpoint"`
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
	UseSSL    bool   `json:"use_ssl"`
}

type JobsConfig struct {
	CorpusReload          string `json:"corpus_reload"`
	EmbeddingCacheCleanup string `json:"embedding_cache_cleanup"`
	TimeoutSeconds        int    `json:"timeout_seconds"`
}

type CORSConfig struct {
	AllowOrigins []string `json:"allow_origins"`
}

type LanguageConfig struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// FallbackConfig adds form-to-lemma tables consulted after the built-in
// suffix rules, keyed by language then folded form.
type FallbackConfig struct {
	DisableSuffixRules bool                         `json:"disable_suffix_rules"`
	Forms              map[string]map[string]string `json:"forms"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Store.EmbeddingDim < 0 {
		return fmt.Errorf("store.embedding_dim must not be negative")
	}
	if cfg.Lexical.Threshold < 0 || cfg.Lexical.Threshold > 1 {
		return fmt.Errorf("lexical.threshold must be within [0,1]")
	}
	if cfg.Lexical.Threshold == 0 {
		cfg.Lexical.Threshold = 0.05
	}
	cfg.Retrieval.Backend = strings.ToLower(strings.TrimSpace(cfg.Retrieval.Backend))
	switch cfg.Retrieval.Backend {
	case "":
		cfg.Retrieval.Backend = "memory"
	case "memory":
	case "postgres":
		if !cfg.Database.Enabled() {
			return fmt.Errorf("retrieval.backend postgres requires database")
		}
	default:
		return fmt.Errorf("retrieval.backend must be memory or postgres")
	}
	if cfg.Retrieval.LexicalWeight < 0 || cfg.Retrieval.SemanticWeight < 0 {
		return fmt.Errorf("retrieval weights must not be negative")
	}
	if cfg.Retrieval.LexicalTimeoutMs <= 0 {
		cfg.Retrieval.LexicalTimeoutMs = 300
	}
	if cfg.Retrieval.SemanticTimeoutMs <= 0 {
		cfg.Retrieval.SemanticTimeoutMs = 300
	}
	if cfg.Retrieval.RerankThreshold <= 0 {
		cfg.Retrieval.RerankThreshold = 5
	}
	cfg.Retrieval.Reranker = strings.ToLower(strings.TrimSpace(cfg.Retrieval.Reranker))
	switch cfg.Retrieval.Reranker {
	case "":
		cfg.Retrieval.Reranker = "overlap"
	case "overlap", "none":
	default:
		return fmt.Errorf("retrieval.reranker must be overlap or none")
	}
	if cfg.Retrieval.RerankDepth <= 0 {
		cfg.Retrieval.RerankDepth = 50
	}
	if cfg.Reader.LexiconK <= 0 {
		cfg.Reader.LexiconK = 3
	}
	if cfg.Reader.GrammarK <= 0 {
		cfg.Reader.GrammarK = 5
	}
	if cfg.Reader.MaxInputChars <= 0 {
		cfg.Reader.MaxInputChars = 20000
	}
	for _, p := range cfg.Embedding.Providers {
		if strings.TrimSpace(p.Type) == "" {
			return fmt.Errorf("embedding provider %q needs a type", p.Name)
		}
	}
	if len(cfg.Embedding.Providers) > 0 && cfg.Store.EmbeddingDim == 0 {
		return fmt.Errorf("embedding providers require store.embedding_dim")
	}
	if cfg.Embedding.DBCache && !cfg.Database.Enabled() {
		return fmt.Errorf("embedding.db_cache requires database")
	}
	if cfg.Embedding.CacheRetainDays <= 0 {
		cfg.Embedding.CacheRetainDays = 30
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	switch cfg.FileStore.Type {
	case "local":
	case "s3":
		if cfg.FileStore.S3.Endpoint == "" || cfg.FileStore.S3.Bucket == "" || cfg.FileStore.S3.SecretID == "" || cfg.FileStore.S3.SecretKey == "" {
			return fmt.Errorf("file_store.s3 endpoint/bucket/secret_id/secret_key are required for s3 store")
		}
		if cfg.FileStore.S3.Region == "" {
			cfg.FileStore.S3.Region = "us-east-1"
		}
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	if cfg.Jobs.CorpusReload == "" && cfg.Database.Enabled() {
		cfg.Jobs.CorpusReload = "@every 1m"
	}
	if cfg.Jobs.TimeoutSeconds <= 0 {
		cfg.Jobs.TimeoutSeconds = 600
	}
	if cfg.Jobs.EmbeddingCacheCleanup == "" && cfg.Embedding.DBCache {
		cfg.Jobs.EmbeddingCacheCleanup = "@daily"
	}
	for _, lang := range cfg.Languages {
		if strings.TrimSpace(lang.Code) == "" {
			return fmt.Errorf("languages entries need a code")
		}
	}
	return nil
}
