package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURI   string
	RedisAddr     string
	RedisPassword string
	NatsURL       string
	TelegramToken string
	AIAPIKey      string
	AIBaseURL     string
	AIModel       string

	// Timezone is the home zone all cron arithmetic runs in.
	Timezone         string
	PrefetchInterval time.Duration
	MonthsAhead      int
	LogLevel         string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	cfg := &Config{
		DatabaseURI:   os.Getenv("DATABASE_URI"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		NatsURL:       os.Getenv("NATS_URL"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		AIAPIKey:      os.Getenv("AI_API_KEY"),
		AIBaseURL:     getEnvOrDefault("AI_BASE_URL", "https://openrouter.ai/api/v1"),
		AIModel:       getEnvOrDefault("AI_MODEL", "openai/gpt-4o-mini"),
		Timezone:      getEnvOrDefault("TIMEZONE", "Local"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
	}

	interval, err := time.ParseDuration(getEnvOrDefault("PREFETCH_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid PREFETCH_INTERVAL: %w", err)
	}
	cfg.PrefetchInterval = interval

	months, err := strconv.Atoi(getEnvOrDefault("MONTHS_AHEAD", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MONTHS_AHEAD: %w", err)
	}
	cfg.MonthsAhead = months

	return cfg, nil
}

// Location resolves the configured home zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
