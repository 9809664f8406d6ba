package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hongjun500/chat-broadcast/pkg/errcode"
	"github.com/hongjun500/chat-broadcast/pkg/logger"
	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errcode.New(3001, "invalid configuration")

type Config struct {
	TCPAddr  string `validate:"required_without=WSAddr"`
	WSAddr   string
	WSPath   string `validate:"required,startswith=/"`
	HTTPAddr string
	Codec    string `validate:"oneof=json protobuf"`

	OutBuffer    int `validate:"min=1"`
	MaxFrameSize int `validate:"min=64,max=16777216"`
	MaxNameLen   int `validate:"min=1,max=1024"`

	HandshakeTimeout time.Duration `validate:"gt=0"`
	IdleTimeout      time.Duration `validate:"gt=0"`
	WriteTimeout     time.Duration `validate:"gt=0"`
}

func Default() *Config {
	return &Config{
		TCPAddr:          ":8080",
		WSAddr:           ":9001",
		WSPath:           "/ws",
		HTTPAddr:         ":9090",
		Codec:            "json",
		OutBuffer:        256,
		MaxFrameSize:     1 << 20,
		MaxNameLen:       50,
		HandshakeTimeout: 30 * time.Second,
		IdleTimeout:      5 * time.Minute,
		WriteTimeout:     10 * time.Second,
	}
}

// Load reads an optional .env file, then CHAT_* variables over the defaults.
// Unparsable numbers and durations keep their default.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Named("config").Debugw("dotenv_skipped", "err", err)
	}
	d := Default()
	cfg := &Config{
		TCPAddr:          getEnv("CHAT_TCP_ADDR", d.TCPAddr),
		WSAddr:           getEnv("CHAT_WS_ADDR", d.WSAddr),
		WSPath:           getEnv("CHAT_WS_PATH", d.WSPath),
		HTTPAddr:         getEnv("CHAT_HTTP_ADDR", d.HTTPAddr),
		Codec:            getEnv("CHAT_CODEC", d.Codec),
		OutBuffer:        getInt("CHAT_OUTBUF", d.OutBuffer),
		MaxFrameSize:     getInt("CHAT_MAX_FRAME", d.MaxFrameSize),
		MaxNameLen:       getInt("CHAT_MAX_NAME_LEN", d.MaxNameLen),
		HandshakeTimeout: getDuration("CHAT_HANDSHAKE_TIMEOUT", d.HandshakeTimeout),
		IdleTimeout:      getDuration("CHAT_IDLE_TIMEOUT", d.IdleTimeout),
		WriteTimeout:     getDuration("CHAT_WRITE_TIMEOUT", d.WriteTimeout),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// getEnv distinguishes an unset key from one set to "", which disables a listener.
func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return def
	}
	return d
}
