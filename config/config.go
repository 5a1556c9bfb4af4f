package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the bump service
type Config struct {
	Telegram TelegramConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Logging  LoggingConfig
	Service  ServiceConfig
	Folders  FoldersConfig
}

// TelegramConfig holds Telegram MTProto configuration
type TelegramConfig struct {
	APIID   int
	APIHash string
}

// DatabaseConfig holds SQLite configuration
type DatabaseConfig struct {
	Path string
}

// KafkaConfig holds Kafka producer configuration. Brokers may be empty,
// in which case event publishing is disabled.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Name       string
	Port       string
	AdminToken string
}

// FoldersConfig holds the shared folder invite links and the schedule
// for the nightly folder sweep.
type FoldersConfig struct {
	InviteLinks []string
	PeerLimit   int
	SweepCron   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	apiID, err := strconv.Atoi(getEnv("TELEGRAM_API_ID", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_API_ID: %w", err)
	}

	peerLimit, err := strconv.Atoi(getEnv("FOLDER_PEER_LIMIT", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid FOLDER_PEER_LIMIT: %w", err)
	}

	brokers := []string{}
	brokersStr := getEnv("KAFKA_BROKERS", "")
	if brokersStr != "" {
		brokers = strings.Split(brokersStr, ",")
	}

	links := []string{}
	linksStr := getEnv("FOLDER_INVITE_LINKS", "")
	if linksStr != "" {
		links = strings.Split(linksStr, ",")
	}

	cfg := &Config{
		Telegram: TelegramConfig{
			APIID:   apiID,
			APIHash: getEnv("TELEGRAM_API_HASH", ""),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./bump.db"),
		},
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   getEnv("KAFKA_TOPIC", "broadcast-events"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Service: ServiceConfig{
			Name:       getEnv("SERVICE_NAME", "bump-service"),
			Port:       getEnv("SERVICE_PORT", "8000"),
			AdminToken: getEnv("ADMIN_TOKEN", ""),
		},
		Folders: FoldersConfig{
			InviteLinks: links,
			PeerLimit:   peerLimit,
			SweepCron:   getEnv("FOLDER_SWEEP_CRON", "0 4 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Telegram.APIID == 0 {
		return fmt.Errorf("TELEGRAM_API_ID is required")
	}

	if c.Telegram.APIHash == "" {
		return fmt.Errorf("TELEGRAM_API_HASH is required")
	}

	if c.Service.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required")
	}

	return nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
