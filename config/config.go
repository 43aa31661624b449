package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds the signaling server configuration
type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Store          string
	Redis          RedisConfig

	LogLevel  string
	LogFormat string

	RoomIdleTimeout               time.Duration
	RoomSweepInterval             time.Duration
	ChatHistoryLimit              int
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
}

// RedisConfig holds the Redis connection settings
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Load reads the server configuration from the environment
func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Store:          getEnv("STORE", StoreMemory),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		RoomIdleTimeout:               getEnvDuration("ROOM_IDLE_TIMEOUT", 30*time.Minute),
		RoomSweepInterval:             getEnvDuration("ROOM_SWEEP_INTERVAL", time.Minute),
		ChatHistoryLimit:              getEnvInt("CHAT_HISTORY_LIMIT", 100),
		MaxSignalingMessageBytes:      int64(getEnvInt("MAX_SIGNALING_MESSAGE_BYTES", 64*1024)),
		MaxSignalingMessagesPerSecond: getEnvInt("MAX_SIGNALING_MESSAGES_PER_SECOND", 50),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
