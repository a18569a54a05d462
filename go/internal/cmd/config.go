package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gameonhq/sync-gateway/go/internal/realtime"
)

// Config is the optional YAML tuning file; environment variables override it
type Config struct {
	Sync struct {
		IdleTimeout    string `yaml:"idle_timeout"`
		SweepInterval  string `yaml:"sweep_interval"`
		AutoJoinTopics bool   `yaml:"auto_join_topics"`
	} `yaml:"sync"`
	Nats struct {
		StreamName    string `yaml:"stream_name"`
		ConsumerName  string `yaml:"consumer_name"`
		SubjectFilter string `yaml:"subject_filter"`
		PushSubject   string `yaml:"push_subject"`
	} `yaml:"nats"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// syncConfig resolves the sync service tuning from the YAML file (when
// present) with environment variable overrides
func syncConfig(fileConfig *Config) realtime.Config {
	cfg := realtime.DefaultConfig()

	if fileConfig != nil {
		if d, err := time.ParseDuration(fileConfig.Sync.IdleTimeout); err == nil && d > 0 {
			cfg.IdleTimeout = d
		}
		if d, err := time.ParseDuration(fileConfig.Sync.SweepInterval); err == nil && d > 0 {
			cfg.SweepInterval = d
		}
		cfg.AutoJoinTopics = fileConfig.Sync.AutoJoinTopics
	}

	if d, err := time.ParseDuration(os.Getenv("SYNC_IDLE_TIMEOUT")); err == nil && d > 0 {
		cfg.IdleTimeout = d
	}
	if d, err := time.ParseDuration(os.Getenv("SYNC_SWEEP_INTERVAL")); err == nil && d > 0 {
		cfg.SweepInterval = d
	}
	cfg.AutoJoinTopics = getEnvAsBool("SYNC_AUTO_JOIN_TOPICS", cfg.AutoJoinTopics)

	return cfg
}
