package main

import (
	"os"
	"strconv"

	"bracket-engine/internal/challonge"
	"bracket-engine/internal/db"
	"bracket-engine/internal/redis"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the application
type Config struct {
	// Database configuration
	DBConfig db.Config

	// Redis configuration; an empty host runs the guild guard in-process
	RedisConfig redis.Config

	// Server configuration
	ServerPort  string
	Environment string

	// Authentication
	JWTSecret string

	// Bracket provider credentials
	Challonge challonge.Config

	// Ranking CSV export endpoint; empty disables seeding
	RankingURL string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() Config {
	// Load .env file if it exists
	godotenv.Load()

	return Config{
		DBConfig: db.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "3306"),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "bracket_engine"),
		},
		RedisConfig: redis.Config{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		Challonge: challonge.Config{
			BaseURL:  getEnv("CHALLONGE_URL", ""),
			Username: getEnv("CHALLONGE_USERNAME", ""),
			APIKey:   getEnv("CHALLONGE_API_KEY", ""),
		},
		RankingURL: getEnv("RANKING_URL", ""),
	}
}

// getEnv retrieves an environment variable or returns a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable or returns a fallback value
func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
