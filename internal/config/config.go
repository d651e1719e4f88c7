// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Gandolfi-G/duel-dot/internal/game"
)

// Config is the fully resolved server configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string
	RedisAddr      string
	LogLevel       string
	Game           game.Config
}

// Load reads the environment (after sourcing .env if present) and applies
// defaults for anything unset.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found, relying on environment")
	}

	gc := game.DefaultConfig()
	gc.Countdown = getDuration("DUEL_COUNTDOWN", gc.Countdown)
	gc.RoundTimeout = getDuration("DUEL_ROUND_TIMEOUT", gc.RoundTimeout)
	gc.NextRoundDelay = getDuration("DUEL_NEXT_ROUND_DELAY", gc.NextRoundDelay)
	gc.DisconnectGrace = getDuration("DUEL_DISCONNECT_GRACE", gc.DisconnectGrace)
	gc.TargetScore = getInt("DUEL_TARGET_SCORE", gc.TargetScore)

	return Config{
		Addr:           getEnv("DUEL_ADDR", ":8080"),
		AllowedOrigins: getList("DUEL_ALLOWED_ORIGINS", []string{"localhost:*"}),
		RedisAddr:      getEnv("DUEL_REDIS_ADDR", ""),
		LogLevel:       getEnv("DUEL_LOG_LEVEL", "info"),
		Game:           gc,
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logrus.WithField("key", key).Warnf("invalid integer %q, using default", v)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logrus.WithField("key", key).Warnf("invalid duration %q, using default", v)
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
