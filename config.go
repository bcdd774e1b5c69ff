package univibe

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config is the environment-sourced client configuration. Only the backend
// origin is required; everything else falls back to the library defaults.
type Config struct {
	BaseURL                string
	TimeoutSeconds         int
	CacheTTLSeconds        int
	ThrottleIntervalMillis int
	InflightWaitSeconds    int
	RetryMax               int
	RedisAddr              string
	RedisDB                int
	RedisPassword          string
	RedisKeyPrefix         string
}

// LoadConfig reads configuration from UNIVIBE_* environment variables.
func LoadConfig() (Config, error) {
	cfg := Config{
		BaseURL:                getenv("UNIVIBE_API_BASE_URL", ""),
		TimeoutSeconds:         getenvInt("UNIVIBE_TIMEOUT_SECONDS", 30),
		CacheTTLSeconds:        getenvInt("UNIVIBE_CACHE_TTL_SECONDS", 30),
		ThrottleIntervalMillis: getenvInt("UNIVIBE_THROTTLE_INTERVAL_MS", 0),
		InflightWaitSeconds:    getenvInt("UNIVIBE_INFLIGHT_WAIT_SECONDS", 10),
		RetryMax:               getenvInt("UNIVIBE_RETRY_MAX", 2),
		RedisAddr:              getenv("UNIVIBE_REDIS_ADDR", ""),
		RedisDB:                getenvInt("UNIVIBE_REDIS_DB", 0),
		RedisPassword:          os.Getenv("UNIVIBE_REDIS_PASSWORD"),
		RedisKeyPrefix:         getenv("UNIVIBE_REDIS_KEY_PREFIX", "univibe:cache:"),
	}

	if cfg.BaseURL == "" {
		return cfg, errors.New("UNIVIBE_API_BASE_URL is required")
	}
	return cfg, nil
}

// FromConfig builds a Client from an environment configuration. Extra options
// are applied after the config-derived ones and win on conflict.
func FromConfig(cfg Config, extra ...Option) *Client {
	options := []Option{
		WithBaseURL(cfg.BaseURL),
		WithTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second),
		WithCacheTTL(time.Duration(cfg.CacheTTLSeconds) * time.Second),
		WithThrottleInterval(time.Duration(cfg.ThrottleIntervalMillis) * time.Millisecond),
		WithInflightWait(time.Duration(cfg.InflightWaitSeconds) * time.Second),
		WithRetryMax(cfg.RetryMax),
	}
	if cfg.RedisAddr != "" {
		options = append(options, WithRedisCache(NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), cfg.RedisKeyPrefix))
	}
	options = append(options, extra...)
	return New(options...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
