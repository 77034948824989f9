package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is loaded from the optional YAML file, then overridden by
// environment variables, then by flags.
type Config struct {
	// Port the gateway listens on.
	Port int `yaml:"port" env:"CACHE_FIRST_PORT"`
	// Origin to proxy to. If empty, an embedded demo origin is started
	// on OriginPort and used as the upstream.
	Origin string `yaml:"origin" env:"CACHE_FIRST_ORIGIN"`
	// OriginPort is the port of the embedded demo origin.
	OriginPort int `yaml:"originPort" env:"CACHE_FIRST_ORIGIN_PORT"`
	// Provider selects the partition store: memory, sqlite or leveldb.
	Provider string `yaml:"provider" env:"CACHE_FIRST_PROVIDER"`
	// SQLiteFile is the database file of the sqlite provider.
	// Empty means in-memory.
	SQLiteFile string `yaml:"sqliteFile" env:"CACHE_FIRST_SQLITE_FILE"`
	// LevelDBPath is the database directory of the leveldb provider.
	LevelDBPath string `yaml:"leveldbPath" env:"CACHE_FIRST_LEVELDB_PATH"`
	// ChurnProbability is the per-read probability that the embedded
	// origin regenerates its resource.
	ChurnProbability *float64 `yaml:"churnProbability" env:"CACHE_FIRST_CHURN_PROBABILITY"`
	// ItemTTL is the time-to-live of the origin's item cache,
	// as a duration string like "30s".
	ItemTTL string `yaml:"itemTTL" env:"CACHE_FIRST_ITEM_TTL"`
	// ItemDBFile is the database file of the origin's item store.
	// Empty means in-memory.
	ItemDBFile string `yaml:"itemDBFile" env:"CACHE_FIRST_ITEM_DB_FILE"`
	// DBLatency is the artificial latency added to every item store
	// operation, as a duration string. It is what makes the write-behind
	// and cache-aside timing differences observable in the demo.
	DBLatency string `yaml:"dbLatency" env:"CACHE_FIRST_DB_LATENCY"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, err
		}
	}
	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.OriginPort == 0 {
		config.OriginPort = 8081
	}
	if config.Provider == "" {
		config.Provider = "memory"
	}
	if config.Provider == "leveldb" && config.LevelDBPath == "" {
		config.LevelDBPath = "./data/partitions"
	}
	if config.ItemTTL != "" {
		if _, err := time.ParseDuration(config.ItemTTL); err != nil {
			return config, fmt.Errorf("itemTTL: %w", err)
		}
	}
	if config.DBLatency == "" {
		config.DBLatency = "500ms"
	}
	if _, err := time.ParseDuration(config.DBLatency); err != nil {
		return config, fmt.Errorf("dbLatency: %w", err)
	}
	return config, nil
}

// itemTTL returns the parsed item cache TTL, or zero for the default.
func (c Config) itemTTL() time.Duration {
	if c.ItemTTL == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.ItemTTL)
	return d
}

// dbLatency returns the parsed artificial item store latency.
func (c Config) dbLatency() time.Duration {
	d, _ := time.ParseDuration(c.DBLatency)
	return d
}
