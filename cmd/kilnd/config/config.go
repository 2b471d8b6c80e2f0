package config

import (
	"os"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

type Config struct {
	Port                string
	DataDir             string
	Engine              string // docker, podman, or empty for auto-detect
	DefaultSpecPath     string // provisioning document whose commands serve as the $extend defaults
	PushRegistry        string
	MaxConcurrentBuilds int
	BuildTimeoutSeconds int
	MinFreeDisk         datasize.ByteSize
	MaxContextSize      datasize.ByteSize
	OTLPEndpoint        string
	JwtSecret           string
}

// Load loads configuration from environment variables.
// Automatically loads .env file if present.
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DataDir:             getEnv("DATA_DIR", "/var/lib/kiln"),
		Engine:              getEnv("ENGINE", ""),
		DefaultSpecPath:     getEnv("DEFAULT_SPEC", ""),
		PushRegistry:        getEnv("PUSH_REGISTRY", ""),
		MaxConcurrentBuilds: getEnvInt("MAX_CONCURRENT_BUILDS", 2),
		BuildTimeoutSeconds: getEnvInt("BUILD_TIMEOUT_SECONDS", 600),
		MinFreeDisk:         getEnvSize("MIN_FREE_DISK", 1*datasize.GB),
		MaxContextSize:      getEnvSize("MAX_CONTEXT_SIZE", 512*datasize.MB),
		OTLPEndpoint:        getEnv("OTLP_ENDPOINT", ""),
		JwtSecret:           getEnv("JWT_SECRET", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt falls back to the default when the variable is unset or not
// a number.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvSize parses human-readable sizes ("1GB", "512MB").
func getEnvSize(key string, defaultValue datasize.ByteSize) datasize.ByteSize {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	size, err := datasize.ParseString(value)
	if err != nil {
		return defaultValue
	}
	return size
}
