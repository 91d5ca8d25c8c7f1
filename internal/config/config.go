package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Email       EmailConfig
	Reservation ReservationConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DSN builds the postgres connection string used by pgdriver.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type EmailConfig struct {
	APIKey    string
	FromName  string
	FromEmail string
}

type ReservationConfig struct {
	// ConfirmationWindow is how long a pending reservation may wait for
	// its confirmation link to be clicked before it is swept.
	ConfirmationWindow time.Duration
	// ConfirmBaseURL is the public URL of the confirm endpoint; the token
	// is appended as a query parameter when building the emailed link.
	ConfirmBaseURL string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "rsvpuser"),
			Password:     getEnv("DB_PASSWORD", "rsvppass"),
			Database:     getEnv("DB_NAME", "rsvpdb"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			Topic:   getEnv("KAFKA_TOPIC_RSVP", "rsvp-events"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
		},
		Email: EmailConfig{
			APIKey:    getEnv("MAILERSEND_API_KEY", ""),
			FromName:  getEnv("MAIL_FROM_NAME", "RSVP Service"),
			FromEmail: getEnv("MAIL_FROM_EMAIL", "rsvp@example.com"),
		},
		Reservation: ReservationConfig{
			ConfirmationWindow: time.Duration(getEnvInt("RSVP_CONFIRM_WINDOW_MINUTES", 30)) * time.Minute,
			ConfirmBaseURL:     getEnv("RSVP_CONFIRM_BASE_URL", "http://localhost:8080/api/v1/rsvps/confirm"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
