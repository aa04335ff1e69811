package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

type Config struct {
	// LOG_CAPACITY is the number of retained messages. Older ones are evicted
	// and readers asking for them get a replay gap.
	LogCapacity int `env:"LOG_CAPACITY,required=true" validate:"gt=0"`
	// SUBSCRIBER_QUEUE_CAPACITY is the number of messages buffered per
	// subscriber, and so the lag after which it is dropped.
	SubscriberQueueCapacity int `env:"SUBSCRIBER_QUEUE_CAPACITY,required=true" validate:"gt=0"`
	// MAX_MESSAGE_BYTES bounds message bodies, larger ones are refused.
	MaxMessageBytes int    `env:"MAX_MESSAGE_BYTES,required=true" validate:"gt=0"`
	MaxAuthorBytes  int    `env:"MAX_AUTHOR_BYTES,default=64" validate:"gt=0"`
	LogLevel        string `env:"LOG_LEVEL,required=true" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`

	StorageBackend string `env:"STORAGE_BACKEND,default=memory" validate:"oneof=memory badger sqlite"`
	BadgerFilepath string `env:"BADGER_FILEPATH" validate:"required_if=StorageBackend badger"`
	SQLitePath     string `env:"SQLITE_PATH" validate:"required_if=StorageBackend sqlite"`

	Host           string `env:"HOST,default=localhost"`
	Port           int    `env:"PORT,default=8080" validate:"gt=0,lt=65536"`
	GRPCPort       int    `env:"GRPC_PORT,default=9090" validate:"gt=0,lt=65536"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`

	SendRate  float64 `env:"SEND_RATE,default=0" validate:"gte=0"`
	SendBurst int     `env:"SEND_BURST,default=1" validate:"gte=0"`

	DispatchInterval time.Duration `env:"DISPATCH_INTERVAL,default=1s" validate:"gt=0"`
	MetricInterval   time.Duration `env:"METRIC_INTERVAL,default=5s" validate:"gt=0"`
	ReportInterval   time.Duration `env:"REPORT_INTERVAL,default=1m" validate:"gt=0"`
	RestartInterval  time.Duration `env:"RESTART_INTERVAL,default=1s" validate:"gt=0"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT,default=10s" validate:"gt=0"`
	PingInterval     time.Duration `env:"PING_INTERVAL,default=30s" validate:"gt=0"`
}

var validate = validator.New()

// LoadConfig reads the environment, after loading a .env file when one is
// present in the working directory.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func (c Config) Origins() []string {
	return lo.Compact(lo.Map(strings.Split(c.AllowedOrigins, ","), func(o string, _ int) string {
		return strings.TrimSpace(o)
	}))
}

func (c Config) StoragePath() string {
	switch c.StorageBackend {
	case "badger":
		return c.BadgerFilepath
	case "sqlite":
		return c.SQLitePath
	default:
		return ""
	}
}
