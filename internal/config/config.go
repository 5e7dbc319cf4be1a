package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries everything the server process needs at startup.
type Config struct {
	ServerHost     string
	ServerPort     string
	DBPath         string
	HistoryLimit   int
	AdminPort      string // empty disables the admin HTTP listener
	AdminJWTSecret string // empty leaves the admin API unauthenticated
	TestMode       bool
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional
		log.Println("[config] no .env file found, using environment variables")
	}

	cfg := &Config{
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort:     getEnv("SERVER_PORT", "12345"),
		DBPath:         getEnv("DB_PATH", "chatserver.db"),
		AdminPort:      getEnv("ADMIN_PORT", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		TestMode:       getEnv("TEST_MODE", "false") == "true",
	}

	limit, err := strconv.Atoi(getEnv("HISTORY_LIMIT", "100"))
	if err != nil || limit < 1 {
		return nil, fmt.Errorf("HISTORY_LIMIT must be a positive integer")
	}
	cfg.HistoryLimit = limit

	if _, err := strconv.Atoi(cfg.ServerPort); err != nil {
		return nil, fmt.Errorf("SERVER_PORT must be numeric: %w", err)
	}

	if cfg.AdminJWTSecret != "" && len(cfg.AdminJWTSecret) < 32 {
		return nil, fmt.Errorf("ADMIN_JWT_SECRET must be at least 32 characters long")
	}

	return cfg, nil
}

// Addr returns the TCP listen address for the chat protocol.
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
