// Package config loads service settings from an optional YAML file and the environment.
// Environment variables always win over the file so container deployments can override
// individual keys without shipping a new file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string         `yaml:"env"`
	Server   ServerConfig   `yaml:"server"`
	TLS      TLSConfig      `yaml:"tls"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Chat     ChatConfig     `yaml:"chat"`
	Offers   OffersConfig   `yaml:"offers"`
	Jobs     JobsConfig     `yaml:"jobs"`
	SendGrid SendGridConfig `yaml:"sendgrid"`
}

type ServerConfig struct {
	Port                 string   `yaml:"port"`
	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
}

type TLSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CertPath        string `yaml:"cert_path"`
	KeyPath         string `yaml:"key_path"`
	AllowSelfSigned bool   `yaml:"allow_self_signed"`
}

type DatabaseConfig struct {
	URL                string        `yaml:"url"`
	MaxConns           int           `yaml:"max_conns"`
	MinConns           int           `yaml:"min_conns"`
	MaxConnIdleTime    time.Duration `yaml:"max_conn_idle_time"`
	ApplySchemaOnStart bool          `yaml:"apply_schema_on_start"`
	SchemaPath         string        `yaml:"schema_path"`
}

// RedisConfig selects the cross-instance realtime bus. An empty URL keeps fan-out in process.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type ChatConfig struct {
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	PresenceStaleAfter time.Duration `yaml:"presence_stale_after"`
	TypingIdle         time.Duration `yaml:"typing_idle"`
	TypingTTL          time.Duration `yaml:"typing_ttl"`
	MaxMessageLength   int           `yaml:"max_message_length"`
	// ConversationUpsert=false selects the scan-then-insert creation path.
	ConversationUpsert bool `yaml:"conversation_upsert"`
}

type OffersConfig struct {
	PendingTTL time.Duration `yaml:"pending_ttl"`
	UPIID      string        `yaml:"upi_id"`
	AppName    string        `yaml:"app_name"`
}

type JobsConfig struct {
	OfferSweep    string `yaml:"offer_sweep"`
	PresenceSweep string `yaml:"presence_sweep"`
}

type SendGridConfig struct {
	APIKey      string `yaml:"api_key"`
	SenderEmail string `yaml:"sender_email"`
	SenderName  string `yaml:"sender_name"`
}

// Default returns the configuration used when neither file nor environment sets a key.
func Default() Config {
	return Config{
		Env: "development",
		Server: ServerConfig{
			CORSAllowedOrigins: []string{"*"},
		},
		TLS: TLSConfig{
			AllowSelfSigned: true,
		},
		Database: DatabaseConfig{
			MaxConns:           10,
			MinConns:           2,
			MaxConnIdleTime:    5 * time.Minute,
			ApplySchemaOnStart: true,
			SchemaPath:         "pkg/db/schema.sql",
		},
		Chat: ChatConfig{
			HeartbeatInterval:  45 * time.Second,
			PresenceStaleAfter: 2 * time.Minute,
			TypingIdle:         1400 * time.Millisecond,
			TypingTTL:          5 * time.Second,
			MaxMessageLength:   10000,
			ConversationUpsert: true,
		},
		Offers: OffersConfig{
			PendingTTL: 72 * time.Hour,
			UPIID:      "merchantupi@bank",
			AppName:    "KisanMandi",
		},
		Jobs: JobsConfig{
			OfferSweep:    "@every 5m",
			PresenceSweep: "@every 1m",
		},
	}
}

// Load reads .env (if present), the YAML file at path (if non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Env = strings.ToLower(getEnv("APP_ENV", getEnv("ENV", c.Env)))

	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.Server.CORSAllowedOrigins = splitList(origins)
	}
	c.Server.CORSAllowCredentials = getEnvAsBool("CORS_ALLOW_CREDENTIALS", c.Server.CORSAllowCredentials)

	c.TLS.Enabled = getEnvAsBool("ENABLE_TLS", c.TLS.Enabled)
	c.TLS.CertPath = getEnv("TLS_CERT_PATH", c.TLS.CertPath)
	c.TLS.KeyPath = getEnv("TLS_KEY_PATH", c.TLS.KeyPath)
	c.TLS.AllowSelfSigned = getEnvAsBool("TLS_SELF_SIGNED", c.TLS.AllowSelfSigned)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.MaxConns = getEnvAsInt("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.ApplySchemaOnStart = getEnvAsBool("APPLY_SCHEMA_ON_START", c.Database.ApplySchemaOnStart)
	c.Database.SchemaPath = getEnv("SCHEMA_PATH", c.Database.SchemaPath)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)

	c.Chat.HeartbeatInterval = getEnvAsDuration("CHAT_HEARTBEAT_INTERVAL", c.Chat.HeartbeatInterval)
	c.Chat.PresenceStaleAfter = getEnvAsDuration("CHAT_PRESENCE_STALE_AFTER", c.Chat.PresenceStaleAfter)
	c.Chat.TypingIdle = getEnvAsDuration("CHAT_TYPING_IDLE", c.Chat.TypingIdle)
	c.Chat.TypingTTL = getEnvAsDuration("CHAT_TYPING_TTL", c.Chat.TypingTTL)
	c.Chat.MaxMessageLength = getEnvAsInt("CHAT_MAX_MESSAGE_LENGTH", c.Chat.MaxMessageLength)
	c.Chat.ConversationUpsert = getEnvAsBool("CHAT_CONVERSATION_UPSERT", c.Chat.ConversationUpsert)

	c.Offers.PendingTTL = getEnvAsDuration("OFFER_PENDING_TTL", c.Offers.PendingTTL)
	c.Offers.UPIID = getEnv("UPI_ID", c.Offers.UPIID)
	c.Offers.AppName = getEnv("APP_NAME", c.Offers.AppName)

	c.Jobs.OfferSweep = getEnv("JOBS_OFFER_SWEEP", c.Jobs.OfferSweep)
	c.Jobs.PresenceSweep = getEnv("JOBS_PRESENCE_SWEEP", c.Jobs.PresenceSweep)

	c.SendGrid.APIKey = getEnv("SENDGRID_API_KEY", c.SendGrid.APIKey)
	c.SendGrid.SenderEmail = getEnv("SENDGRID_SENDER_EMAIL", c.SendGrid.SenderEmail)
	c.SendGrid.SenderName = getEnv("SENDGRID_SENDER_NAME", c.SendGrid.SenderName)
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	// TLS is mandatory in production regardless of ENABLE_TLS.
	if c.IsProduction() {
		c.TLS.Enabled = true
	}
	if c.Server.Port == "" {
		if c.TLS.Enabled {
			c.Server.Port = "8443"
		} else {
			c.Server.Port = "8080"
		}
	}
	if len(c.Server.CORSAllowedOrigins) == 0 {
		c.Server.CORSAllowedOrigins = []string{"*"}
	}
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks the settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.IsProduction() && (c.TLS.CertPath == "" || c.TLS.KeyPath == "") {
		return fmt.Errorf("config: TLS_CERT_PATH and TLS_KEY_PATH are required in production")
	}
	durations := map[string]time.Duration{
		"chat.heartbeat_interval":   c.Chat.HeartbeatInterval,
		"chat.presence_stale_after": c.Chat.PresenceStaleAfter,
		"chat.typing_idle":          c.Chat.TypingIdle,
		"chat.typing_ttl":           c.Chat.TypingTTL,
		"offers.pending_ttl":        c.Offers.PendingTTL,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", key)
		}
	}
	if c.Chat.PresenceStaleAfter <= c.Chat.HeartbeatInterval {
		return fmt.Errorf("config: chat.presence_stale_after must exceed chat.heartbeat_interval")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("config: chat.max_message_length must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return duration
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
