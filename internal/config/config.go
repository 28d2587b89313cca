package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Index     IndexConfig     `yaml:"index"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	History   HistoryConfig   `yaml:"history"`
	Eval      EvalConfig      `yaml:"eval"`
	LogLevel  string          `yaml:"log_level"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	CORSOrigins    []string `yaml:"cors_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type LLMConfig struct {
	OpenAIKey         string        `yaml:"openai_key"`
	AnthropicKey      string        `yaml:"anthropic_key"`
	OllamaURL         string        `yaml:"ollama_url"`
	DefaultProvider   string        `yaml:"default_provider"`
	DefaultModel      string        `yaml:"default_model"`
	FallbackProvider  string        `yaml:"fallback_provider"`
	EmbeddingProvider string        `yaml:"embedding_provider"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	MaxRetries        int           `yaml:"max_retries"`
	Timeout           time.Duration `yaml:"timeout"`
	EmbeddingCacheTTL time.Duration `yaml:"embedding_cache_ttl"`
}

type StorageConfig struct {
	UploadDir         string   `yaml:"upload_dir"`
	MaxUploadBytes    int64    `yaml:"max_upload_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	WatchUploads      bool     `yaml:"watch_uploads"`
}

// IndexConfig selects the retrieval index backend.
type IndexConfig struct {
	Backend    string `yaml:"backend"` // "chromem" or "pgvector"
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	Compress   bool   `yaml:"compress"`
}

type IngestConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	Strategy     string `yaml:"strategy"` // "recursive" or "fixed"
	Mode         string `yaml:"mode"`     // "sync" or "async"
}

type RetrievalConfig struct {
	TopK    int           `yaml:"top_k"`
	Timeout time.Duration `yaml:"timeout"`
}

type HistoryConfig struct {
	Backend  string        `yaml:"backend"` // "memory" or "redis"
	MaxTurns int           `yaml:"max_turns"`
	TTL      time.Duration `yaml:"ttl"`
}

type EvalConfig struct {
	OutputDir  string `yaml:"output_dir"`
	JudgeModel string `yaml:"judge_model"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			CORSOrigins:    []string{"*"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Database: DatabaseConfig{
			MaxConns: 10,
			MinConns: 2,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		LLM: LLMConfig{
			OllamaURL:         "http://localhost:11434",
			DefaultProvider:   "openai",
			DefaultModel:      "gpt-4o",
			EmbeddingModel:    "text-embedding-3-small",
			MaxRetries:        2,
			Timeout:           60 * time.Second,
			EmbeddingCacheTTL: 24 * time.Hour,
		},
		Storage: StorageConfig{
			UploadDir:         "./uploads",
			MaxUploadBytes:    20 << 20,
			AllowedExtensions: []string{"pdf", "txt", "csv", "doc", "docx", "md", "xlsx"},
		},
		Index: IndexConfig{
			Backend:    "chromem",
			Path:       "./chroma_db",
			Collection: "knowledge_base",
		},
		Ingest: IngestConfig{
			ChunkSize:    3000,
			ChunkOverlap: 200,
			Strategy:     "recursive",
			Mode:         "sync",
		},
		Retrieval: RetrievalConfig{
			TopK:    3,
			Timeout: 30 * time.Second,
		},
		History: HistoryConfig{
			Backend:  "memory",
			MaxTurns: 50,
			TTL:      24 * time.Hour,
		},
		Eval: EvalConfig{
			OutputDir:  "./eval_results",
			JudgeModel: "gpt-4o-mini",
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, a .env file in the working directory and the process environment,
// in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var err error
	set := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port, err = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.CORSOrigins = getEnvList("CORS_ORIGINS", cfg.Server.CORSOrigins)
	rps, e := getEnvFloat("RATE_LIMIT_RPS", cfg.Server.RateLimitRPS)
	set(e)
	cfg.Server.RateLimitRPS = rps
	cfg.Server.RateLimitBurst, e = getEnvInt("RATE_LIMIT_BURST", cfg.Server.RateLimitBurst)
	set(e)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConns, e = getEnvInt("DB_MAX_CONNS", cfg.Database.MaxConns)
	set(e)
	cfg.Database.MinConns, e = getEnvInt("DB_MIN_CONNS", cfg.Database.MinConns)
	set(e)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB, e = getEnvInt("REDIS_DB", cfg.Redis.DB)
	set(e)

	cfg.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.LLM.OpenAIKey = getEnv("OPENAI_API_KEY", cfg.LLM.OpenAIKey)
	cfg.LLM.AnthropicKey = getEnv("ANTHROPIC_API_KEY", cfg.LLM.AnthropicKey)
	cfg.LLM.OllamaURL = getEnv("OLLAMA_URL", cfg.LLM.OllamaURL)
	cfg.LLM.DefaultProvider = getEnv("LLM_DEFAULT_PROVIDER", cfg.LLM.DefaultProvider)
	cfg.LLM.DefaultModel = getEnv("LLM_DEFAULT_MODEL", cfg.LLM.DefaultModel)
	cfg.LLM.FallbackProvider = getEnv("LLM_FALLBACK_PROVIDER", cfg.LLM.FallbackProvider)
	cfg.LLM.EmbeddingProvider = getEnv("EMBEDDING_PROVIDER", cfg.LLM.EmbeddingProvider)
	cfg.LLM.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)
	cfg.LLM.MaxRetries, e = getEnvInt("LLM_MAX_RETRIES", cfg.LLM.MaxRetries)
	set(e)
	cfg.LLM.Timeout, e = getEnvDuration("LLM_TIMEOUT", cfg.LLM.Timeout)
	set(e)
	cfg.LLM.EmbeddingCacheTTL, e = getEnvDuration("EMBEDDING_CACHE_TTL", cfg.LLM.EmbeddingCacheTTL)
	set(e)

	cfg.Storage.UploadDir = getEnv("UPLOAD_FOLDER", cfg.Storage.UploadDir)
	maxUpload, e := getEnvInt("MAX_UPLOAD_BYTES", int(cfg.Storage.MaxUploadBytes))
	set(e)
	cfg.Storage.MaxUploadBytes = int64(maxUpload)
	cfg.Storage.AllowedExtensions = getEnvList("ALLOWED_EXTENSIONS", cfg.Storage.AllowedExtensions)
	cfg.Storage.WatchUploads, e = getEnvBool("WATCH_UPLOADS", cfg.Storage.WatchUploads)
	set(e)

	cfg.Index.Backend = getEnv("VECTOR_BACKEND", cfg.Index.Backend)
	cfg.Index.Path = getEnv("VECTORSTORE_PATH", cfg.Index.Path)
	cfg.Index.Collection = getEnv("COLLECTION_NAME", cfg.Index.Collection)
	cfg.Index.Compress, e = getEnvBool("VECTORSTORE_COMPRESS", cfg.Index.Compress)
	set(e)

	cfg.Ingest.ChunkSize, e = getEnvInt("CHUNK_SIZE", cfg.Ingest.ChunkSize)
	set(e)
	cfg.Ingest.ChunkOverlap, e = getEnvInt("CHUNK_OVERLAP", cfg.Ingest.ChunkOverlap)
	set(e)
	cfg.Ingest.Strategy = getEnv("CHUNK_STRATEGY", cfg.Ingest.Strategy)
	cfg.Ingest.Mode = getEnv("INGEST_MODE", cfg.Ingest.Mode)

	cfg.Retrieval.TopK, e = getEnvInt("RETRIEVAL_K", cfg.Retrieval.TopK)
	set(e)
	cfg.Retrieval.Timeout, e = getEnvDuration("RETRIEVAL_TIMEOUT", cfg.Retrieval.Timeout)
	set(e)

	cfg.History.Backend = getEnv("HISTORY_BACKEND", cfg.History.Backend)
	cfg.History.MaxTurns, e = getEnvInt("HISTORY_MAX_TURNS", cfg.History.MaxTurns)
	set(e)
	cfg.History.TTL, e = getEnvDuration("HISTORY_TTL", cfg.History.TTL)
	set(e)

	cfg.Eval.OutputDir = getEnv("EVAL_OUTPUT_DIR", cfg.Eval.OutputDir)
	cfg.Eval.JudgeModel = getEnv("EVAL_JUDGE_MODEL", cfg.Eval.JudgeModel)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks the settings the service cannot run without and creates the
// upload, index and evaluation directories.
func (c *Config) Validate() error {
	var problems []string

	if c.Ingest.ChunkSize <= 0 {
		problems = append(problems, "CHUNK_SIZE must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		problems = append(problems, "CHUNK_OVERLAP must satisfy 0 <= overlap < CHUNK_SIZE")
	}
	if c.Retrieval.TopK <= 0 {
		problems = append(problems, "RETRIEVAL_K must be positive")
	}
	if len(c.Storage.AllowedExtensions) == 0 {
		problems = append(problems, "ALLOWED_EXTENSIONS must not be empty")
	}
	switch c.Index.Backend {
	case "chromem":
	case "pgvector":
		if c.Database.URL == "" {
			problems = append(problems, "DATABASE_URL is required for VECTOR_BACKEND=pgvector")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown VECTOR_BACKEND %q", c.Index.Backend))
	}
	if c.Index.Collection == "" {
		problems = append(problems, "COLLECTION_NAME must not be empty")
	}
	if c.History.Backend != "memory" && c.History.Backend != "redis" {
		problems = append(problems, fmt.Sprintf("unknown HISTORY_BACKEND %q", c.History.Backend))
	}
	if c.Ingest.Mode != "sync" && c.Ingest.Mode != "async" {
		problems = append(problems, fmt.Sprintf("unknown INGEST_MODE %q", c.Ingest.Mode))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}

	dirs := []string{c.Storage.UploadDir, c.Eval.OutputDir}
	if c.Index.Backend == "chromem" {
		dirs = append(dirs, c.Index.Path)
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}
	return nil
}

// AllowedExtension reports whether ext (with or without the leading dot) is on
// the upload allow-list.
func (c StorageConfig) AllowedExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range c.AllowedExtensions {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == ext {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
