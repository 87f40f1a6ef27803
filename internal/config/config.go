package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/aryannaik/course-search/internal/courses"
	"github.com/aryannaik/course-search/internal/index"
)

// Config is the process configuration. Values come from, in order of
// precedence: environment, .env, course-search.yaml, defaults.
type Config struct {
	ListingURL   string
	BaseURL      string
	UserAgent    string
	FetchTimeout time.Duration

	EmbedBackend  string
	EmbedModel    string
	EmbedDim      int
	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	IndexMetric    string
	CacheBackend   string
	DataDir        string
	QueryCacheSize int

	Port        string
	StaticDir   string
	CORSOrigins []string

	LogLevel  string
	LogFormat string
}

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendHash   = "hash"

	CacheJSON   = "json"
	CacheSQLite = "sqlite"
	CacheNone   = "none"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("listing_url", courses.DefaultListingURL)
	v.SetDefault("base_url", courses.DefaultBaseURL)
	v.SetDefault("user_agent", courses.DefaultUserAgent)
	v.SetDefault("fetch_timeout", "30s")

	v.SetDefault("embed_backend", BackendOllama)
	v.SetDefault("embed_model", "")
	v.SetDefault("embed_dim", 256)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "")

	v.SetDefault("index_metric", string(index.L2))
	v.SetDefault("cache_backend", CacheJSON)
	v.SetDefault("data_dir", "data")
	v.SetDefault("query_cache_size", 256)

	v.SetDefault("port", "8990")
	v.SetDefault("static_dir", "")
	v.SetDefault("cors_origins", "*")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// Load reads .env (if present) into the environment, then resolves every key
// through viper.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("course-search")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	embedModel := v.GetString("embed_model")
	backend := strings.ToLower(v.GetString("embed_backend"))
	if embedModel == "" {
		switch backend {
		case BackendOllama:
			embedModel = "nomic-embed-text"
		case BackendOpenAI:
			embedModel = "text-embedding-ada-002"
		}
	}

	cfg := &Config{
		ListingURL:   v.GetString("listing_url"),
		BaseURL:      v.GetString("base_url"),
		UserAgent:    v.GetString("user_agent"),
		FetchTimeout: v.GetDuration("fetch_timeout"),

		EmbedBackend:  backend,
		EmbedModel:    embedModel,
		EmbedDim:      v.GetInt("embed_dim"),
		OllamaHost:    v.GetString("ollama_host"),
		OpenAIAPIKey:  v.GetString("openai_api_key"),
		OpenAIBaseURL: v.GetString("openai_base_url"),

		IndexMetric:    strings.ToLower(v.GetString("index_metric")),
		CacheBackend:   strings.ToLower(v.GetString("cache_backend")),
		DataDir:        v.GetString("data_dir"),
		QueryCacheSize: v.GetInt("query_cache_size"),

		Port:        v.GetString("port"),
		StaticDir:   v.GetString("static_dir"),
		CORSOrigins: splitList(v.GetString("cors_origins")),

		LogLevel:  strings.ToLower(v.GetString("log_level")),
		LogFormat: strings.ToLower(v.GetString("log_format")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.EmbedBackend {
	case BackendOllama, BackendHash:
	case BackendOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required when EMBED_BACKEND=openai")
		}
	default:
		return fmt.Errorf("unknown EMBED_BACKEND %q (want ollama, openai or hash)", c.EmbedBackend)
	}

	if _, err := index.ParseMetric(c.IndexMetric); err != nil {
		return err
	}

	switch c.CacheBackend {
	case CacheJSON, CacheSQLite, CacheNone:
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q (want json, sqlite or none)", c.CacheBackend)
	}

	if c.ListingURL == "" {
		return errors.New("LISTING_URL must not be empty")
	}
	if c.Port == "" {
		return errors.New("PORT must not be empty")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
