// Package config provides environment-based configuration for the sync subsystem.
package config

import (
	"fmt"
	"os"
	"time"
)

// Backend kinds selectable at construction time.
const (
	BackendSQLite = "sqlite"
	BackendKV     = "kv"
)

// Config holds the offline sync configuration.
type Config struct {
	DataDir string
	Backend string // sqlite or kv

	// Connectivity probe
	ProbeURL          string
	HeartbeatInterval time.Duration
	ProbeTimeout      time.Duration

	// Message transmission endpoint
	SendURL string

	// Prometheus listen address
	MetricsAddr string

	// Remote object storage
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3UseSSL      bool
	ImageBucket   string
	VideoBucket   string
	PublicBaseURL string
}

// Load reads configuration from the environment with local defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:           getEnv("SYNC_DATA_DIR", defaultDataDir()),
		Backend:           getEnv("SYNC_BACKEND", BackendSQLite),
		ProbeURL:          getEnv("SYNC_PROBE_URL", "http://localhost:8080/healthz"),
		HeartbeatInterval: getDuration("SYNC_HEARTBEAT_INTERVAL", 30*time.Second),
		ProbeTimeout:      getDuration("SYNC_PROBE_TIMEOUT", 10*time.Second),
		SendURL:           getEnv("SYNC_SEND_URL", "http://localhost:8080/api/messages"),
		MetricsAddr:       getEnv("SYNC_METRICS_ADDR", ":9091"),
		S3Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:       getEnv("S3_SECRET_KEY", "minioadmin"),
		S3UseSSL:          getEnv("S3_USE_SSL", "") == "true",
		ImageBucket:       getEnv("S3_IMAGE_BUCKET", "message-images"),
		VideoBucket:       getEnv("S3_VIDEO_BUCKET", "message-videos"),
		PublicBaseURL:     getEnv("S3_PUBLIC_BASE_URL", ""),
	}

	if cfg.Backend != BackendSQLite && cfg.Backend != BackendKV {
		return nil, fmt.Errorf("unknown backend %q (expected %s or %s)", cfg.Backend, BackendSQLite, BackendKV)
	}
	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tindahan"
	}
	return home + "/.tindahan"
}

func getEnv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func (c *Config) String() string {
	return fmt.Sprintf("DataDir=%s, Backend=%s, ProbeURL=%s, S3Endpoint=%s",
		c.DataDir, c.Backend, c.ProbeURL, c.S3Endpoint)
}
