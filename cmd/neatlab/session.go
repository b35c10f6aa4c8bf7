package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/baldhumanity/neatlab/env"
	"github.com/baldhumanity/neatlab/logging"
	"github.com/baldhumanity/neatlab/neat"
	"github.com/baldhumanity/neatlab/store"
)

// Session is the host configuration of a neatlab invocation. Engine tunables
// live in a separate INI file referenced by EngineConfig.
type Session struct {
	Logging      LoggingConfig `json:"logging" yaml:"logging"`
	Store        StoreConfig   `json:"store" yaml:"store"`
	Environment  env.Settings  `json:"environment" yaml:"environment"`
	EngineConfig string        `json:"engine_config,omitempty" yaml:"engine_config,omitempty"` // Path to an INI file
	VisibleLimit int           `json:"visible_limit,omitempty" yaml:"visible_limit,omitempty"`
}

// LoggingConfig selects the log level and format written to stderr.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text or json
}

// StoreConfig selects the run history backend.
type StoreConfig struct {
	Kind string `json:"kind" yaml:"kind"` // memory or sqlite
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DefaultSession returns the configuration used without a session file.
func DefaultSession() *Session {
	return &Session{
		Logging:      LoggingConfig{Level: "info", Format: "text"},
		Store:        StoreConfig{Kind: "memory"},
		Environment:  env.Settings{Name: "xor"},
		VisibleLimit: 12,
	}
}

// LoadSession reads a YAML session file on top of DefaultSession.
// An empty path returns the defaults.
func LoadSession(path string) (*Session, error) {
	session := DefaultSession()
	if path == "" {
		return session, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	if err := yaml.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	if session.Environment.Name == "" {
		session.Environment.Name = "xor"
	}
	return session, nil
}

// Config loads the engine configuration, or the defaults when no INI file is set.
func (s *Session) Config() (neat.Config, error) {
	if s.EngineConfig == "" {
		return neat.DefaultConfig(), nil
	}
	cfg, err := neat.LoadConfig(s.EngineConfig)
	if err != nil {
		return neat.Config{}, err
	}
	return *cfg, nil
}

// OpenStore creates and initializes the configured history store.
func (s *Session) OpenStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewStore(s.Store.Kind, s.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing %s store: %w", s.Store.Kind, err)
	}
	return st, nil
}

// Logger builds the stderr logger.
func (s *Session) Logger(w io.Writer) *slog.Logger {
	if s.Logging.Format == "json" {
		return logging.NewJSONLogger(s.Logging.Level, w)
	}
	return logging.NewLogger(s.Logging.Level, w)
}
