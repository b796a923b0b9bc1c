package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"siteqa/internal/domain"
)

// Config holds all configuration for siteqa.
type Config struct {
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Generation  GenerationConfig  `yaml:"generation"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Retrieve    RetrieveConfig    `yaml:"retrieve"`
	Migrate     MigrateConfig     `yaml:"migrate"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"` // "openai", "ollama", "compatible", "hash"
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"` // Environment variable for API key
	Dimension         int     `yaml:"dimension"`
	BatchSize         int     `yaml:"batch_size"`
	MaxInputChars     int     `yaml:"max_input_chars"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = unlimited
}

// GenerationConfig configures the answer generator.
type GenerationConfig struct {
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// VectorIndexConfig selects and configures the vector index backend.
type VectorIndexConfig struct {
	Backend  string          `yaml:"backend"` // "flat", "bolt", "pinecone", "qdrant"
	Local    LocalIndex      `yaml:"local"`
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
}

// LocalIndex points at the local artifact pair: the index file and the
// metadata JSON array aligned with it.
type LocalIndex struct {
	IndexPath    string `yaml:"index_path"`
	BoltPath     string `yaml:"bolt_path"`
	MetadataPath string `yaml:"metadata_path"`
}

// PineconeConfig contains connection details for a Pinecone index.
type PineconeConfig struct {
	APIKeyEnv         string  `yaml:"api_key_env"`
	ControllerURL     string  `yaml:"controller_url"`
	IndexName         string  `yaml:"index_name"`
	Namespace         string  `yaml:"namespace"`
	Metric            string  `yaml:"metric"`
	Cloud             string  `yaml:"cloud"`
	Region            string  `yaml:"region"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	ReadyTimeoutSecs  int     `yaml:"ready_timeout_secs"` // 0 = two minutes
}

// QdrantConfig contains connection details for a Qdrant collection.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	Distance    string `yaml:"distance"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// MetadataConfig selects and configures the metadata store.
type MetadataConfig struct {
	Backend string       `yaml:"backend"` // "mongo", "bolt", "sqlite", "memory"
	Mongo   *MongoConfig `yaml:"mongo,omitempty"`
	Bolt    BoltConfig   `yaml:"bolt"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// MongoConfig contains connection details for MongoDB.
type MongoConfig struct {
	URIEnv       string `yaml:"uri_env"`
	Database     string `yaml:"database"`
	Collection   string `yaml:"collection"`
	Transactions bool   `yaml:"transactions"`
	TimeoutSecs  int    `yaml:"timeout_secs"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK                int `yaml:"top_k"`
	MetadataConcurrency int `yaml:"metadata_concurrency"` // 1 = sequential lookups
	CallTimeoutSecs     int `yaml:"call_timeout_secs"`
	CacheSize           int `yaml:"cache_size"` // 0 disables the serve result cache
	CacheTTLSecs        int `yaml:"cache_ttl_secs"`
}

// MigrateConfig holds migration configuration.
type MigrateConfig struct {
	BatchSize int `yaml:"batch_size"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:      "openai",
			Model:         "text-embedding-ada-002",
			APIKeyEnv:     "OPENAI_API_KEY",
			Dimension:     1536,
			BatchSize:     100,
			MaxInputChars: 24000,
			TimeoutSecs:   30,
		},
		Generation: GenerationConfig{
			Model:       "gpt-4",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.7,
			MaxTokens:   500,
			TimeoutSecs: 60,
		},
		VectorIndex: VectorIndexConfig{
			Backend: "pinecone",
			Local: LocalIndex{
				IndexPath:    filepath.Join("embeddings_db", "flat_index.idx"),
				BoltPath:     filepath.Join("embeddings_db", "vectors.db"),
				MetadataPath: filepath.Join("embeddings_db", "metadata.json"),
			},
			Pinecone: &PineconeConfig{
				APIKeyEnv:     "PINECONE_API_KEY",
				ControllerURL: "https://api.pinecone.io",
				IndexName:     "my-docs",
				Metric:        "cosine",
				Cloud:         "aws",
				Region:        "us-west-2",
				TimeoutSecs:   20,
			},
		},
		Metadata: MetadataConfig{
			Backend: "mongo",
			Mongo: &MongoConfig{
				URIEnv:      "MONGO_URI",
				Database:    "chatbot_db",
				Collection:  "metadata",
				TimeoutSecs: 10,
			},
			Bolt:   BoltConfig{Path: filepath.Join("embeddings_db", "metadata.db")},
			SQLite: SQLiteConfig{Path: filepath.Join("embeddings_db", "metadata.sqlite")},
		},
		Retrieve: RetrieveConfig{
			TopK:                3,
			MetadataConcurrency: 4,
			CallTimeoutSecs:     30,
		},
		Migrate: MigrateConfig{
			BatchSize: 100,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for siteqa.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "siteqa.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".siteqa", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyDefaults fills zero values left by a partial YAML file.
func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = def.Embedding.Dimension
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.Embedding.MaxInputChars == 0 {
		cfg.Embedding.MaxInputChars = def.Embedding.MaxInputChars
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = def.Embedding.TimeoutSecs
	}
	if cfg.Retrieve.TopK == 0 {
		cfg.Retrieve.TopK = def.Retrieve.TopK
	}
	if cfg.Retrieve.MetadataConcurrency == 0 {
		cfg.Retrieve.MetadataConcurrency = def.Retrieve.MetadataConcurrency
	}
	if cfg.Retrieve.CallTimeoutSecs == 0 {
		cfg.Retrieve.CallTimeoutSecs = def.Retrieve.CallTimeoutSecs
	}
	if cfg.Migrate.BatchSize == 0 {
		cfg.Migrate.BatchSize = def.Migrate.BatchSize
	}
	if p := cfg.VectorIndex.Pinecone; p != nil {
		if p.ControllerURL == "" {
			p.ControllerURL = def.VectorIndex.Pinecone.ControllerURL
		}
		if p.IndexName == "" {
			p.IndexName = def.VectorIndex.Pinecone.IndexName
		}
		if p.Metric == "" {
			p.Metric = def.VectorIndex.Pinecone.Metric
		}
		if p.TimeoutSecs == 0 {
			p.TimeoutSecs = def.VectorIndex.Pinecone.TimeoutSecs
		}
	}
	if q := cfg.VectorIndex.Qdrant; q != nil {
		if q.Distance == "" {
			q.Distance = "Cosine"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}
	if m := cfg.Metadata.Mongo; m != nil {
		if m.Database == "" {
			m.Database = def.Metadata.Mongo.Database
		}
		if m.Collection == "" {
			m.Collection = def.Metadata.Mongo.Collection
		}
		if m.TimeoutSecs == 0 {
			m.TimeoutSecs = def.Metadata.Mongo.TimeoutSecs
		}
	}
}

// Validate checks the configuration before any index or store is touched.
// Every failure wraps domain.ErrConfiguration.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("%w: embedding.dimension must be positive", domain.ErrConfiguration)
	}
	switch c.Embedding.Provider {
	case "openai", "compatible":
		if err := requireEnv(c.Embedding.APIKeyEnv); err != nil {
			return err
		}
	case "ollama", "hash":
	default:
		return fmt.Errorf("%w: unsupported embedding provider %q", domain.ErrConfiguration, c.Embedding.Provider)
	}

	switch c.VectorIndex.Backend {
	case "flat":
		if c.VectorIndex.Local.IndexPath == "" {
			return fmt.Errorf("%w: vector_index.local.index_path is required", domain.ErrConfiguration)
		}
	case "bolt":
		if c.VectorIndex.Local.BoltPath == "" {
			return fmt.Errorf("%w: vector_index.local.bolt_path is required", domain.ErrConfiguration)
		}
	case "pinecone":
		if c.VectorIndex.Pinecone == nil {
			return fmt.Errorf("%w: vector_index.pinecone section missing", domain.ErrConfiguration)
		}
		if err := requireEnv(c.VectorIndex.Pinecone.APIKeyEnv); err != nil {
			return err
		}
	case "qdrant":
		if c.VectorIndex.Qdrant == nil || c.VectorIndex.Qdrant.URL == "" || c.VectorIndex.Qdrant.Collection == "" {
			return fmt.Errorf("%w: vector_index.qdrant needs url and collection", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown vector index backend %q", domain.ErrConfiguration, c.VectorIndex.Backend)
	}

	switch c.Metadata.Backend {
	case "mongo":
		if c.Metadata.Mongo == nil {
			return fmt.Errorf("%w: metadata.mongo section missing", domain.ErrConfiguration)
		}
		if err := requireEnv(c.Metadata.Mongo.URIEnv); err != nil {
			return err
		}
	case "bolt":
		if c.Metadata.Bolt.Path == "" {
			return fmt.Errorf("%w: metadata.bolt.path is required", domain.ErrConfiguration)
		}
	case "sqlite":
		if c.Metadata.SQLite.Path == "" {
			return fmt.Errorf("%w: metadata.sqlite.path is required", domain.ErrConfiguration)
		}
	case "memory":
	default:
		return fmt.Errorf("%w: unknown metadata backend %q", domain.ErrConfiguration, c.Metadata.Backend)
	}

	if c.Retrieve.TopK <= 0 {
		return fmt.Errorf("%w: retrieve.top_k must be positive", domain.ErrConfiguration)
	}
	if c.Migrate.BatchSize <= 0 {
		return fmt.Errorf("%w: migrate.batch_size must be positive", domain.ErrConfiguration)
	}
	return nil
}

// ValidateMigration checks that the configured backends can receive a
// migration. The flat index and the in-memory store are the local source
// artifacts themselves, so they cannot be destinations.
func (c *Config) ValidateMigration() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.VectorIndex.Backend == "flat" {
		return fmt.Errorf("%w: vector_index.backend flat is the migration source, choose bolt, pinecone or qdrant", domain.ErrConfiguration)
	}
	if c.Metadata.Backend == "memory" {
		return fmt.Errorf("%w: metadata.backend memory does not persist, choose bolt, sqlite or mongo", domain.ErrConfiguration)
	}
	return nil
}

// ValidateGeneration checks the generator credentials. Only commands that
// produce answers need them.
func (c *Config) ValidateGeneration() error {
	if c.Generation.BaseURL != "" && c.Generation.APIKeyEnv == "" {
		return nil // keyless local endpoint
	}
	return requireEnv(c.Generation.APIKeyEnv)
}

func requireEnv(name string) error {
	if name == "" {
		return fmt.Errorf("%w: credential environment variable not configured", domain.ErrConfiguration)
	}
	if os.Getenv(name) == "" {
		return fmt.Errorf("%w: environment variable %s is not set", domain.ErrConfiguration, name)
	}
	return nil
}

// Timeout converts a seconds setting into a duration.
func Timeout(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}
