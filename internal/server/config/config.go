package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds tavernmsg server configuration loaded from environment.
type Config struct {
	Env          string
	Addr         string
	DatabaseURL  string
	UploadDir    string
	MaxUploadMB  int64
	MaxConnsIP   int
	AuthPerMin   int
	IdleAfter    time.Duration
	SnapshotSize int
}

// Load parses environment variables into a Config struct.
func Load() (Config, error) {
	cfg := Config{
		Env:          getEnv("APP_ENV", "dev"),
		Addr:         getEnv("ADDR", ":8080"),
		DatabaseURL:  getEnv("DATABASE_URL", "postgres://localhost/tavernmsg?sslmode=disable"),
		UploadDir:    getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadMB:  int64(parseIntWithDefault(os.Getenv("MAX_UPLOAD_MB"), 32)),
		MaxConnsIP:   parseIntWithDefault(os.Getenv("MAX_CONNECTIONS_PER_IP"), 10),
		AuthPerMin:   parseIntWithDefault(os.Getenv("AUTH_ATTEMPTS_PER_MIN"), 5),
		SnapshotSize: parseIntWithDefault(os.Getenv("SNAPSHOT_SIZE"), 100),
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	idle, err := parseDuration("IDLE_AFTER", "60s")
	if err != nil {
		return Config{}, err
	}
	cfg.IdleAfter = idle

	if cfg.SnapshotSize < 1 {
		cfg.SnapshotSize = 100
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntWithDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

func parseDuration(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}
