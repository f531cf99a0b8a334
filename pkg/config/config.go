// Package config centralizes the environment-variable configuration
// described in spec §6, the way the reference syncer.py reads its
// environment directly at import time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-derived setting the syncer needs.
type Config struct {
	ClientID          string
	ClientSecret      string
	SentinelHubRootURL string
	Backend           string // "redis" or "zookeeper" (CLI arg, not env)
	RedisHost         string
	RedisPort         int
	ZookeeperHosts    string
	RefreshBucketsSec *int64
	RevisitTimeMsec   *int64
	LogLevel          string
	// PrometheusURL, if set, selects the real Prometheus-backed health
	// source for the reactive fallback throttle (pkg/health) instead of
	// the simulated one. Empty means simulated.
	PrometheusURL string
}

// Load reads the environment variables listed in §6. backendArg is the
// syncer's single positional CLI argument: "zookeeper" selects the
// coordination-service backend, anything else (or empty) selects the
// networked hash-store backend.
func Load(backendArg string) (Config, error) {
	clientID := os.Getenv("CLIENT_ID")
	clientSecret := os.Getenv("CLIENT_SECRET")

	// Docker-compose doesn't strip surrounding double quotes from .env
	// values; running from the command line does not add them. Strip
	// them here so both paths produce the same secret.
	if strings.HasPrefix(clientSecret, `"`) && strings.HasSuffix(clientSecret, `"`) && len(clientSecret) >= 2 {
		clientSecret = clientSecret[1 : len(clientSecret)-1]
	}

	if clientID == "" || clientSecret == "" {
		return Config{}, fmt.Errorf("config: CLIENT_ID and CLIENT_SECRET env vars are required")
	}

	cfg := Config{
		ClientID:            clientID,
		ClientSecret:        clientSecret,
		SentinelHubRootURL:  getEnvDefault("SENTINELHUB_ROOT_URL", "https://services.sentinel-hub.com"),
		RedisHost:           getEnvDefault("REDIS_HOST", "127.0.0.1"),
		ZookeeperHosts:      getEnvDefault("ZOOKEEPER_HOSTS", "127.0.0.1:2181"),
		LogLevel:            getEnvDefault("LOGLEVEL", "INFO"),
		PrometheusURL:       os.Getenv("PROMETHEUS_URL"),
	}

	if backendArg == "zookeeper" {
		cfg.Backend = "zookeeper"
	} else {
		cfg.Backend = "redis"
	}

	redisPort, err := strconv.Atoi(getEnvDefault("REDIS_PORT", "6379"))
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid REDIS_PORT: %w", err)
	}
	cfg.RedisPort = redisPort

	if v := os.Getenv("REFRESH_BUCKETS_SEC"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid REFRESH_BUCKETS_SEC: %w", err)
		}
		cfg.RefreshBucketsSec = &n
	}

	if v := os.Getenv("REVISIT_TIME_MSEC"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid REVISIT_TIME_MSEC: %w", err)
		}
		cfg.RevisitTimeMsec = &n
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
