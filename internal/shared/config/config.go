package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	EventStore EventStoreConfig
	Auth       AuthConfig
	Matching   MatchingConfig
	Realtime   RealtimeConfig
	HIS        HISConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// EventStoreConfig holds configuration for the EventStoreDB audit stream.
type EventStoreConfig struct {
	// Host is the EventStoreDB server hostname
	Host string
	// Port is the gRPC port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Enabled controls whether domain events are published at all;
	// the server runs in degraded mode when false or when connect fails
	Enabled bool
	Username string
	Password string
}

type AuthConfig struct {
	JWTSecret string
}

// MatchingConfig holds tunables for donor location.
type MatchingConfig struct {
	// FanOutCap bounds the number of donors notified per request
	FanOutCap int
}

// RealtimeConfig holds tunables for the SSE hub and dispatcher.
type RealtimeConfig struct {
	// RoomBuffer is the per-subscriber channel buffer; events are
	// dropped when the buffer is full
	RoomBuffer int
	// Workers is the dispatcher worker-pool size
	Workers int
	// QueueSize is the dispatcher job queue capacity
	QueueSize int
}

// HISConfig holds configuration for the hospital information system adapter.
type HISConfig struct {
	// Enabled controls whether the SQL Server adapter is started
	Enabled bool
	// DSN is the go-mssqldb connection string
	DSN string
	// PollIntervalSeconds between blood-bank inventory polls
	PollIntervalSeconds int
	// ShortageThreshold in units below which a shortage event is emitted
	ShortageThreshold int
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "raktlink"),
			Password: getEnv("DB_PASSWORD", "raktlink"),
			Database: getEnv("DB_NAME", "raktlink"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		EventStore: EventStoreConfig{
			Host:     getEnv("EVENTSTORE_HOST", "localhost"),
			Port:     getEnvInt("EVENTSTORE_PORT", 2113),
			Insecure: getEnvBool("EVENTSTORE_INSECURE", true),
			Enabled:  getEnvBool("EVENTSTORE_ENABLED", false),
			Username: getEnv("EVENTSTORE_USERNAME", ""),
			Password: getEnv("EVENTSTORE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Matching: MatchingConfig{
			FanOutCap: getEnvInt("MATCHING_FANOUT_CAP", 200),
		},
		Realtime: RealtimeConfig{
			RoomBuffer: getEnvInt("REALTIME_ROOM_BUFFER", 16),
			Workers:    getEnvInt("REALTIME_WORKERS", 4),
			QueueSize:  getEnvInt("REALTIME_QUEUE_SIZE", 1000),
		},
		HIS: HISConfig{
			Enabled:             getEnvBool("HIS_ENABLED", false),
			DSN:                 getEnv("HIS_DSN", ""),
			PollIntervalSeconds: getEnvInt("HIS_POLL_INTERVAL_SECONDS", 300),
			ShortageThreshold:   getEnvInt("HIS_SHORTAGE_THRESHOLD", 10),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
