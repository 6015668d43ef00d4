package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
// It covers the analytics engine, import, storage backends, caching, the
// advisory text client and the HTTP service.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Advisor AdvisorConfig `yaml:"advisor"`
	Server  ServerConfig  `yaml:"server"`
}

type EngineConfig struct {
	// Smallest type+hashtag group a forecast trusts before falling back
	MinSamples int `yaml:"minSamples"`
	// Trend bucket width: "day" or "week"
	Granularity string `yaml:"granularity"`
	// Parallel workers for aggregation and index builds; 0 or 1 runs serially
	Workers  int `yaml:"workers"`
	DefaultK int `yaml:"defaultK"`
}

type IngestConfig struct {
	// Extra hashtag delimiter on top of , ; | and whitespace
	HashtagDelimiter string        `yaml:"hashtagDelimiter"`
	SourcePath       string        `yaml:"sourcePath"`
	RefreshInterval  time.Duration `yaml:"refreshInterval"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
	// Vector mirror: "none", "sqlite", "postgres" or "atlas"
	VectorBackend string `yaml:"vectorBackend"`
	// If empty, read from env POSTGRES_DSN
	PostgresDSN string `yaml:"postgresDSN"`
	// If empty, read from env MONGODB_URI
	MongoURI        string `yaml:"mongoURI"`
	MongoDatabase   string `yaml:"mongoDatabase"`
	MongoCollection string `yaml:"mongoCollection"`
	MongoIndex      string `yaml:"mongoIndex"`
	// numDimensions of the Atlas vector index; vectors are zero-padded to it
	MongoDimensions int `yaml:"mongoDimensions"`
}

type CacheConfig struct {
	// Redis address; empty disables the result cache. Env REDIS_ADDR.
	RedisAddr string        `yaml:"redisAddr"`
	TTL       time.Duration `yaml:"ttl"`
}

type AdvisorConfig struct {
	Provider string `yaml:"provider"` // "openai" or "none"
	Model    string `yaml:"model"`
	// If empty, read from env OPENAI_API_KEY
	APIKey     string  `yaml:"apiKey"`
	BaseURL    string  `yaml:"baseURL"`
	RPS        float64 `yaml:"rps"`
	MaxRetries int     `yaml:"maxRetries"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Engine:  EngineConfig{MinSamples: 5, Granularity: "day", Workers: 4, DefaultK: 5},
		Ingest:  IngestConfig{SourcePath: "./posts.csv", RefreshInterval: time.Minute},
		Storage: StorageConfig{DBPath: "./postpulse.db", VectorBackend: "sqlite", MongoDatabase: "postpulse", MongoCollection: "post_vectors", MongoIndex: "vector_index", MongoDimensions: 2048},
		Cache:   CacheConfig{TTL: 5 * time.Minute},
		Advisor: AdvisorConfig{Provider: "none", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1", RPS: 1, MaxRetries: 3},
		Server:  ServerConfig{Addr: ":8080", MetricsAddr: ""},
	}
}

// LoadDotEnv loads .env from the working directory if present. Variables
// already set in the process environment win.
func LoadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Storage.PostgresDSN == "" {
		c.Storage.PostgresDSN = os.Getenv("POSTGRES_DSN")
	}
	if c.Storage.MongoURI == "" {
		c.Storage.MongoURI = os.Getenv("MONGODB_URI")
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = os.Getenv("METRICS_ADDR")
	}
	if c.Advisor.APIKey == "" && c.Advisor.Provider == "openai" {
		c.Advisor.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Load reads YAML config from path on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	LoadDotEnv()
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
