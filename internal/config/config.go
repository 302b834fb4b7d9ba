package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	CORS      CORSConfig
	Redis     RedisConfig
	Chat      ChatConfig
	Retention RetentionConfig
	Erase     EraseConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DBConfig struct {
	Path string
}

type WebSocketConfig struct {
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
	MessagesPerSecond float64
	MessageBurst      int
}

type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
	// Refuse sockets and API calls without a valid token
	Require bool
}

type CORSConfig struct {
	AllowOrigins []string
}

// Redis is disabled when Addr is empty
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ChatConfig struct {
	HistoryLimit int
}

type RetentionConfig struct {
	Interval time.Duration
	// Newest chat messages kept per room; 0 turns retention off
	KeepMessages int
}

type EraseConfig struct {
	Threshold float64
}

// Config keys and the environment variables they read
var envKeys = map[string]string{
	"server.port":             "PORT",
	"server.read_timeout":     "READ_TIMEOUT",
	"server.write_timeout":    "WRITE_TIMEOUT",
	"server.shutdown_timeout": "SHUTDOWN_TIMEOUT",
	"db.path":                 "LIVEBOARD_DB_PATH",
	"ws.read_buffer_size":     "WS_READ_BUFFER_SIZE",
	"ws.write_buffer_size":    "WS_WRITE_BUFFER_SIZE",
	"ws.max_message_size":     "WS_MAX_MESSAGE_SIZE",
	"ws.messages_per_second":  "WS_MESSAGES_PER_SECOND",
	"ws.message_burst":        "WS_MESSAGE_BURST",
	"auth.jwt_secret":         "JWT_SECRET",
	"auth.token_expiry":       "TOKEN_EXPIRY",
	"auth.require":            "AUTH_REQUIRED",
	"cors.allow_origins":      "CORS_ALLOW_ORIGINS",
	"redis.addr":              "REDIS_ADDR",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"chat.history_limit":      "CHAT_HISTORY_LIMIT",
	"retention.interval":      "RETENTION_INTERVAL",
	"retention.keep_messages": "RETENTION_KEEP_MESSAGES",
	"erase.threshold":         "ERASE_THRESHOLD",
}

// NewViper returns a viper instance with every default and environment
// binding in place. Callers may bind command-line flags on top.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.port", "4000")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("db.path", "./data/liveboard.db")
	v.SetDefault("ws.read_buffer_size", 4096)
	v.SetDefault("ws.write_buffer_size", 4096)
	v.SetDefault("ws.max_message_size", 1024*1024)
	v.SetDefault("ws.messages_per_second", 100)
	v.SetDefault("ws.message_burst", 200)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_expiry", 24*time.Hour)
	v.SetDefault("auth.require", false)
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("retention.interval", 10*time.Minute)
	v.SetDefault("retention.keep_messages", 1000)
	v.SetDefault("erase.threshold", 8.0)

	for key, env := range envKeys {
		v.BindEnv(key, env)
	}

	return v
}

// Load reads an optional .env file into the environment and builds the
// configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Config] ignoring .env: %v", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            strings.TrimPrefix(v.GetString("server.port"), ":"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		DB: DBConfig{
			Path: strings.TrimSpace(v.GetString("db.path")),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:    v.GetInt("ws.read_buffer_size"),
			WriteBufferSize:   v.GetInt("ws.write_buffer_size"),
			MaxMessageSize:    v.GetInt64("ws.max_message_size"),
			MessagesPerSecond: v.GetFloat64("ws.messages_per_second"),
			MessageBurst:      v.GetInt("ws.message_burst"),
		},
		Auth: AuthConfig{
			JWTSecret:   v.GetString("auth.jwt_secret"),
			TokenExpiry: v.GetDuration("auth.token_expiry"),
			Require:     v.GetBool("auth.require"),
		},
		CORS: CORSConfig{
			AllowOrigins: splitList(v.GetString("cors.allow_origins")),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Chat: ChatConfig{
			HistoryLimit: v.GetInt("chat.history_limit"),
		},
		Retention: RetentionConfig{
			Interval:     v.GetDuration("retention.interval"),
			KeepMessages: v.GetInt("retention.keep_messages"),
		},
		Erase: EraseConfig{
			Threshold: v.GetFloat64("erase.threshold"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.DB.Path == "" {
		return errors.New("db.path is required")
	}
	if c.Erase.Threshold <= 0 {
		return fmt.Errorf("erase.threshold must be positive, got %v", c.Erase.Threshold)
	}
	if c.WebSocket.MessagesPerSecond <= 0 || c.WebSocket.MessageBurst <= 0 {
		return errors.New("ws rate limits must be positive")
	}
	if c.Auth.Require && c.Auth.JWTSecret == "" {
		return errors.New("auth.require needs auth.jwt_secret")
	}
	if c.Chat.HistoryLimit < 0 || c.Retention.KeepMessages < 0 {
		return errors.New("chat limits must not be negative")
	}
	if c.Retention.Interval <= 0 {
		return errors.New("retention.interval must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return ":" + c.Server.Port
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
