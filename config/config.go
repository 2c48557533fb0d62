package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	CfgFlag = flag.String("config", "config.toml", "configuration file (toml format)")

	// BackoffMaxElapsedTime bounds how long a single RPC call may keep
	// retrying against one endpoint before the pool gives up and rotates.
	BackoffMaxElapsedTime = 30 * time.Second
	// Timeout bounds a single RPC round trip.
	Timeout = 10 * time.Second

	GlobalConfigCallback = ConfigCallback[GlobalConfig]{}
)

// GlobalConfig is the subset of Config that packages outside config/ need
// to react to (e.g. logger re-reading its level after a config reload).
type GlobalConfig interface {
	LoggerConfig() LoggerConfig
	ChainConfig() ChainConfig
}

type Config struct {
	DB      DBConfig      `toml:"db"`
	Logger  LoggerConfig  `toml:"logger"`
	Chain   ChainConfig   `toml:"chain"`
	Indexer IndexerConfig `toml:"indexer"`
}

type LoggerConfig struct {
	Level       string `toml:"level"` // DEBUG, INFO, WARN, ERROR, DPANIC, PANIC, FATAL (zap)
	File        string `toml:"file"`
	MaxFileSize int    `toml:"max_file_size"` // megabytes
	Console     bool   `toml:"console"`
}

type DBConfig struct {
	Host             string `toml:"host" envconfig:"DB_HOST"`
	Port             int    `toml:"port" envconfig:"DB_PORT"`
	Database         string `toml:"database" envconfig:"DB_DATABASE"`
	Username         string `toml:"username" envconfig:"DB_USERNAME"`
	Password         string `toml:"password" envconfig:"DB_PASSWORD"`
	LogQueries       bool   `toml:"log_queries"`
	DropTableAtStart bool   `toml:"drop_table_at_start"`
}

// ChainConfig describes the pool of untrusted JSON-RPC endpoints the
// indexer reads blocks from, and the chain they are all expected to serve.
type ChainConfig struct {
	RPCURLs []string `toml:"rpc_urls" envconfig:"CHAIN_RPC_URLS"`
	ChainID int64    `toml:"chain_id" envconfig:"CHAIN_ID"`
}

type IndexerConfig struct {
	BatchSize      int `toml:"batch_size"`
	Concurrency    int `toml:"concurrency"`
	StartBlock     int `toml:"start_block"`
	PollIntervalMs int `toml:"poll_interval_ms"`
}

func newConfig() *Config {
	return &Config{
		Indexer: IndexerConfig{
			BatchSize:      100,
			Concurrency:    4,
			PollIntervalMs: 500,
		},
	}
}

func BuildConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := newConfig()
	if err := ParseConfigFile(cfg, *CfgFlag); err != nil {
		return nil, err
	}
	if err := ReadEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func ParseConfigFile(cfg *Config, fileName string) error {
	content, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("error opening config file: %w", err)
	}

	if _, err := toml.Decode(string(content), cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	return nil
}

func ReadEnv(cfg interface{}) error {
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("error reading env config: %w", err)
	}

	return nil
}

func (c Config) LoggerConfig() LoggerConfig {
	return c.Logger
}

func (c Config) ChainConfig() ChainConfig {
	return c.Chain
}
