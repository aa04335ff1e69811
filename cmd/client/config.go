package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// CHAT_ENDPOINTS is the ordered list of servers, tried until one accepts.
	// Entries are host:port (tried with wss then ws) or full ws URLs.
	Endpoints   []string      `envconfig:"CHAT_ENDPOINTS" required:"true"`
	Name        string        `envconfig:"CHAT_NAME" required:"true"`
	Since       int64         `envconfig:"CHAT_SINCE" default:"0"`
	DialTimeout time.Duration `envconfig:"CHAT_DIAL_TIMEOUT" default:"5s"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"WARN"`
	// CHAT_COLOURS enables colorized output
	Colours bool `envconfig:"CHAT_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
