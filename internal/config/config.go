// Package config loads redline configuration from file, environment and
// defaults, and installs the global logger.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/redline/internal/extract"
)

// EnvPrefix prefixes every environment override, e.g. REDLINE_STORE_DSN
const EnvPrefix = "REDLINE"

// Config holds the full application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Chunking extract.Config `yaml:"chunking" mapstructure:"chunking"`
	Hash     HashConfig     `yaml:"hash" mapstructure:"hash"`
	Rules    RulesConfig    `yaml:"rules" mapstructure:"rules"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Sweep    SweepConfig    `yaml:"sweep" mapstructure:"sweep"`

	// File is the config file that was read, empty when none was found.
	File string `yaml:"-" mapstructure:"-"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// HashConfig selects the content hash algorithm.
type HashConfig struct {
	Algorithm string `yaml:"algorithm" mapstructure:"algorithm"`
}

// RulesConfig points at an external rule table. Empty uses the built-in one.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the extraction result cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskDir   string        `yaml:"disk_dir" mapstructure:"disk_dir"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// SweepConfig configures batch revalidation.
type SweepConfig struct {
	Workers       int           `yaml:"workers" mapstructure:"workers"`
	RatePerSecond float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int           `yaml:"burst" mapstructure:"burst"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Dir returns the per-user redline directory ($HOME/.redline)
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".redline"
	}
	return filepath.Join(home, ".redline")
}

func setDefaults(v *viper.Viper) {
	chunking := extract.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("chunking.target_chunk_size", chunking.TargetChunkSize)
	v.SetDefault("chunking.max_chunk_size", chunking.MaxChunkSize)
	v.SetDefault("chunking.min_chunk_size", chunking.MinChunkSize)
	v.SetDefault("hash.algorithm", extract.AlgorithmSHA256)
	v.SetDefault("rules.path", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", filepath.Join(Dir(), "redline.db"))
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.memory_ttl", 15*time.Minute)
	v.SetDefault("cache.disk_dir", filepath.Join(Dir(), "cache"))
	v.SetDefault("cache.disk_ttl", 7*24*time.Hour)
	v.SetDefault("sweep.workers", 8)
	v.SetDefault("sweep.rate_per_second", 50.0)
	v.SetDefault("sweep.burst", 10)
	v.SetDefault("sweep.timeout", 10*time.Minute)
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static values; failing here is a programming error.
		panic(eris.Wrap(err, "config: unmarshal defaults"))
	}
	return &cfg
}

// Load reads configuration from file and environment. An empty path
// searches for redline.yaml in the working directory and $HOME/.redline.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("redline")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.File = v.ConfigFileUsed()

	return &cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var problems []string

	if err := c.Chunking.Validate(); err != nil {
		problems = append(problems, "chunking: "+err.Error())
	}
	switch c.Hash.Algorithm {
	case extract.AlgorithmSHA256, extract.AlgorithmBLAKE3:
	default:
		problems = append(problems, "hash.algorithm must be sha256 or blake3")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DSN == "" {
		problems = append(problems, "store.dsn is required")
	}
	if c.Sweep.Workers <= 0 {
		problems = append(problems, "sweep.workers must be positive")
	}
	if c.Sweep.RatePerSecond < 0 {
		problems = append(problems, "sweep.rate_per_second must not be negative")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
