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
	// Store
	StoreBackend string
	DataDir      string
	DatabaseURL  string
	RedisURL     string
	RedisTTL     time.Duration
	// Remote deputy API
	RemoteBaseURL string
	RemoteTimeout time.Duration
	// Cache and fetch scheduling
	Legislature   string
	FetchBatch    int
	FetchPause    time.Duration
	Cooldown      time.Duration
	MaxAttempts   int
	CacheCapacity int
	PrefetchBatch int
	// Sync
	SyncURL     string
	SyncMethod  string
	SyncTimeout time.Duration
	// Hosts the HTTP sync endpoint may download from, besides SyncURL's own.
	SyncAllowedHosts []string
}

func Load() Config {
	return Config{
		Addr:          getenv("HEMICYCLE_ADDR", ":8080"),
		LogLevel:      getenv("HEMICYCLE_LOG_LEVEL", "info"),
		StoreBackend:  getenv("HEMICYCLE_STORE", "pocketbase"),
		DataDir:       getenv("DATA_DIR", "./pb_data"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		RedisURL:      getenv("REDIS_URL", ""),
		RedisTTL:      time.Duration(getenvInt("HEMICYCLE_REDIS_TTL_SECONDS", 86400)) * time.Second,
		RemoteBaseURL: getenv("HEMICYCLE_REMOTE_URL", "http://localhost:8090/api"),
		RemoteTimeout: time.Duration(getenvInt("HEMICYCLE_REMOTE_TIMEOUT_SECONDS", 15)) * time.Second,
		Legislature:   getenv("HEMICYCLE_LEGISLATURE", "17"),
		FetchBatch:    getenvInt("HEMICYCLE_FETCH_BATCH", 10),
		FetchPause:    time.Duration(getenvInt("HEMICYCLE_FETCH_PAUSE_MS", 250)) * time.Millisecond,
		Cooldown:      time.Duration(getenvInt("HEMICYCLE_COOLDOWN_SECONDS", 10)) * time.Second,
		MaxAttempts:   getenvInt("HEMICYCLE_MAX_ATTEMPTS", 0),
		CacheCapacity: getenvInt("HEMICYCLE_CACHE_CAPACITY", 0),
		PrefetchBatch: getenvInt("HEMICYCLE_PREFETCH_BATCH", 50),
		SyncURL:       getenv("HEMICYCLE_SYNC_URL", "https://data.assemblee-nationale.fr/static/openData/repository/17/amo/deputes_actifs_mandats_actifs_organes/AMO10_deputes_actifs_mandats_actifs_organes.json.zip"),
		SyncMethod:    getenv("HEMICYCLE_SYNC_METHOD", "zip"),
		SyncTimeout:   time.Duration(getenvInt("HEMICYCLE_SYNC_TIMEOUT_SECONDS", 120)) * time.Second,

		SyncAllowedHosts: getenvList("HEMICYCLE_SYNC_ALLOWED_HOSTS"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
