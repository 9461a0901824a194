package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	CellColumn  string
	Resolution  int
	Containment string
	Compact     bool
	Workers     int

	CacheEnabled bool
	CacheSize    int
	CacheTTL     time.Duration
	RedisAddr    string
	RedisTimeout time.Duration

	MetricsEnabled bool
}

func FromEnv() Config {
	res := getint("H3_RES", 8)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		CellColumn:  getenv("CELL_COLUMN", "cell"),
		Resolution:  res,
		Containment: getenv("CONTAINMENT", "center"),
		Compact:     getbool("COMPACT", false),
		Workers:     getint("RASTER_WORKERS", 0),

		CacheEnabled: getbool("CACHE_ENABLED", true),
		CacheSize:    getint("CACHE_SIZE", 4096),
		CacheTTL:     getduration("CACHE_TTL", time.Hour),
		RedisAddr:    getenv("REDIS_ADDR", ""),
		RedisTimeout: getduration("REDIS_OP_TIMEOUT", 250*time.Millisecond),

		MetricsEnabled: getbool("METRICS_ENABLED", true),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
