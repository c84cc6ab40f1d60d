package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds relay and client settings, loaded from environment variables.
type Config struct {
	Addr            string
	LogLevel        string
	CORSAllowOrigin string

	// Relay server.
	FrameInterval time.Duration
	ScenarioFile  string
	WatchScenario bool
	RedisAddr     string
	ResultTTL     time.Duration
	HistorySize   int

	// Connect client.
	RelayURL    string
	RevealDelay time.Duration
}

// Load reads an optional .env file into the environment and then calls FromEnv.
// Variables already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	return FromEnv(), nil
}

func FromEnv() Config {
	cfg := Config{
		Addr:            getEnv("ADDR", ":8000"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigin: getEnv("CORS_ALLOW_ORIGIN", "http://localhost:3000"),
	}
	cfg.FrameInterval = getEnvDuration("FRAME_INTERVAL", 333*time.Millisecond)
	cfg.ScenarioFile = getEnv("SCENARIO_FILE", "")
	cfg.WatchScenario = getEnvBool("WATCH_SCENARIO", true)
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.ResultTTL = getEnvDuration("RESULT_TTL", 24*time.Hour)
	cfg.HistorySize = getEnvInt("HISTORY_SIZE", 256)

	cfg.RelayURL = strings.TrimRight(getEnv("RELAY_URL", "http://localhost:8000"), "/")
	// The schedule view appears this long after completion, leaving the last frame visible.
	cfg.RevealDelay = getEnvDuration("REVEAL_DELAY", 2*time.Second)
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
