// Package logx configures the process-wide zerolog logger.
package logx

import (
	"io"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls logger output. Fields are read from LOG_* environment
// variables by FromEnv; values from the config file are merged on top.
type Config struct {
	Debug        bool   `split_words:"true" default:"false"`
	PrettyFormat bool   `split_words:"true" default:"false"`
	Level        string `split_words:"true"`
}

var DefaultConfig = &Config{}

// FromEnv reads LOG_DEBUG, LOG_PRETTY_FORMAT and LOG_LEVEL.
func FromEnv() (Config, error) {
	var c Config
	if err := envconfig.Process("log", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func safe(opts ...Config) *Config {
	if len(opts) == 0 {
		return DefaultConfig
	}
	return &opts[0]
}

// Init replaces log.Logger. Output goes to stderr so that stdio transports
// (MCP) keep stdout to themselves.
func Init(opts ...Config) {
	conf := safe(opts...)
	log.Logger = New(os.Stderr, *conf)
}

// New builds a logger writing to w.
func New(w io.Writer, conf Config) zerolog.Logger {
	var l zerolog.Logger
	if conf.PrettyFormat {
		l = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	} else {
		l = zerolog.New(w).With().Timestamp().Logger()
	}
	return l.Level(conf.level())
}

func (c Config) level() zerolog.Level {
	if c.Debug {
		return zerolog.DebugLevel
	}
	if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.Level))); err == nil && c.Level != "" {
		return lvl
	}
	return zerolog.InfoLevel
}
