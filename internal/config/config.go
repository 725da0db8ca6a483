package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Archiver ArchiverConfig `mapstructure:"archiver"`
	Registry RegistryConfig `mapstructure:"registry"`
	Feed     FeedConfig     `mapstructure:"feed"`
	DLQ      DLQConfig      `mapstructure:"dlq"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type AuthConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	HashedTokens []string `mapstructure:"hashed_tokens"`
	JWTSecret    string   `mapstructure:"jwt_secret"`
}

// ArchiveConfig selects the object store backend. Exactly one backend is
// active; the others are ignored.
type ArchiveConfig struct {
	Backend string             `mapstructure:"backend"`
	File    FileStoreConfig    `mapstructure:"file"`
	S3      S3StoreConfig      `mapstructure:"s3"`
	NATS    NATSObjStoreConfig `mapstructure:"nats"`
}

type FileStoreConfig struct {
	Path string `mapstructure:"path"`
}

type S3StoreConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type NATSObjStoreConfig struct {
	URL    string `mapstructure:"url"`
	Bucket string `mapstructure:"bucket"`
}

type ArchiverConfig struct {
	Workers             int           `mapstructure:"workers"`
	RecordTimeout       time.Duration `mapstructure:"record_timeout"`
	DefaultFormat       string        `mapstructure:"default_format"`
	SignSecret          string        `mapstructure:"sign_secret"`
	RequireKnownSources bool          `mapstructure:"require_known_sources"`
}

type RegistryConfig struct {
	Backend     string `mapstructure:"backend"`
	SourcesFile string `mapstructure:"sources_file"`
	DatabaseURL string `mapstructure:"database_url"`
}

type FeedConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	Stream           string        `mapstructure:"stream"`
	Subjects         []string      `mapstructure:"subjects"`
	Consumer         string        `mapstructure:"consumer"`
	BatchSize        int           `mapstructure:"batch_size"`
	BatchWait        time.Duration `mapstructure:"batch_wait"`
	AckWait          time.Duration `mapstructure:"ack_wait"`
	MaxDeliver       int           `mapstructure:"max_deliver"`
	RedeliverBackoff time.Duration `mapstructure:"redeliver_backoff"`
}

type DLQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Backend  string `mapstructure:"backend"`
	NatsURL  string `mapstructure:"nats_url"`
	BasePath string `mapstructure:"base_path"`
}

type CatalogConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	IndexPrefix   string `mapstructure:"index_prefix"`
	ShardCount    int    `mapstructure:"shard_count"`
	ReplicaCount  int    `mapstructure:"replica_count"`
}

type StatsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisURL      string        `mapstructure:"redis_url"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("archive.backend", "file")
	v.SetDefault("archive.file.path", "./data/archive")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("archive.nats.url", "nats://localhost:4222")
	v.SetDefault("archive.nats.bucket", "barrow-archive")
	v.SetDefault("archiver.workers", 4)
	v.SetDefault("archiver.record_timeout", "10s")
	v.SetDefault("archiver.default_format", "dynamodb-streams")
	v.SetDefault("archiver.require_known_sources", false)
	v.SetDefault("registry.backend", "static")
	v.SetDefault("feed.enabled", false)
	v.SetDefault("feed.url", "nats://localhost:4222")
	v.SetDefault("feed.stream", "ARCHIVE_FEED")
	v.SetDefault("feed.subjects", []string{"archive.feed.>"})
	v.SetDefault("feed.consumer", "barrow-archiver")
	v.SetDefault("feed.batch_size", 100)
	v.SetDefault("feed.batch_wait", "5s")
	v.SetDefault("feed.ack_wait", "30s")
	v.SetDefault("feed.max_deliver", 5)
	v.SetDefault("feed.redeliver_backoff", "5s")
	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.backend", "file")
	v.SetDefault("dlq.nats_url", "nats://localhost:4222")
	v.SetDefault("dlq.base_path", "./data/dlq")
	v.SetDefault("catalog.enabled", false)
	v.SetDefault("catalog.url", "https://localhost:9200")
	v.SetDefault("catalog.username", "admin")
	v.SetDefault("catalog.password", "admin")
	v.SetDefault("catalog.tls_skip_verify", true)
	v.SetDefault("catalog.index_prefix", "barrow-catalog")
	v.SetDefault("catalog.shard_count", 1)
	v.SetDefault("catalog.replica_count", 0)
	v.SetDefault("stats.enabled", false)
	v.SetDefault("stats.redis_url", "redis://localhost:6379/0")
	v.SetDefault("stats.flush_interval", "30s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/barrow")
	}

	// Environment variables override (BARROW_SERVER_PORT, etc.)
	v.SetEnvPrefix("BARROW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
