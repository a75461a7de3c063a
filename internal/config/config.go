package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIAddr              string
	TemporalAddress      string
	TemporalTaskQueue    string
	PostgresURL          string
	DataOutRoot          string
	Analyzer             string
	EmbedProviders       string
	EmbedDim             int
	EmbedBatchSize       int
	EmbedConcurrency     int
	EmbedWarmupRetries   int
	EmbedWarmupDelay     time.Duration
	ProviderCooldownSecs int
	DefaultThreshold     float64
	SessionTTL           time.Duration
	MaxUploadBytes       int64
	PreviewRows          int
	CORSOrigin           string
}

func Load() Config {
	return Config{
		APIAddr:              getenv("DSSTRACK_API_ADDR", ":8000"),
		TemporalAddress:      getenv("DSSTRACK_TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue:    getenv("DSSTRACK_TEMPORAL_TASK_QUEUE", "dsstrack"),
		PostgresURL:          os.Getenv("DSSTRACK_POSTGRES_URL"),
		DataOutRoot:          getenv("DSSTRACK_DATA_OUT", "./data/out"),
		Analyzer:             strings.ToLower(getenv("DSSTRACK_ANALYZER", "local")),
		EmbedProviders:       getenv("DSSTRACK_EMBED_PROVIDERS", "mock"),
		EmbedDim:             getenvInt("DSSTRACK_EMBED_DIM", 384),
		EmbedBatchSize:       getenvInt("DSSTRACK_EMBED_BATCH_SIZE", 64),
		EmbedConcurrency:     getenvInt("DSSTRACK_EMBED_CONCURRENCY", 4),
		EmbedWarmupRetries:   getenvInt("DSSTRACK_EMBED_WARMUP_RETRIES", 3),
		EmbedWarmupDelay:     time.Duration(getenvInt("DSSTRACK_EMBED_WARMUP_DELAY_SECONDS", 5)) * time.Second,
		ProviderCooldownSecs: getenvInt("DSSTRACK_PROVIDER_COOLDOWN_SECONDS", 900),
		DefaultThreshold:     getenvFloat("DSSTRACK_DEFAULT_THRESHOLD", 0.85),
		SessionTTL:           time.Duration(getenvInt("DSSTRACK_SESSION_TTL_MINUTES", 0)) * time.Minute,
		MaxUploadBytes:       int64(getenvInt("DSSTRACK_MAX_UPLOAD_MB", 64)) << 20,
		PreviewRows:          getenvInt("DSSTRACK_PREVIEW_ROWS", 5),
		CORSOrigin:           getenv("DSSTRACK_CORS_ORIGIN", "*"),
	}
}

func getenv(k, fallback string) string {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(k string, fallback int) int {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(k string, fallback float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
