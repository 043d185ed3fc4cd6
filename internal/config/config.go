// Package config loads the server configuration from a TOML file and
// reloads tunables when the file changes.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Config is the server configuration
type Config struct {
	ListenAddr string     `toml:"listen_addr"`
	DBPath     string     `toml:"db_path"`
	Log        LogConfig  `toml:"log"`
	Chat       ChatConfig `toml:"chat"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `toml:"level"`
}

// ChatConfig holds the chat-turn tunables
type ChatConfig struct {
	// ContextTokens bounds the reconstructed context, in token-equivalents
	ContextTokens int `toml:"context_tokens"`
	// MaxResponseTokens caps a generated response
	MaxResponseTokens int `toml:"max_response_tokens"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		DBPath:     "branchchat.db",
		Log:        LogConfig{Level: "info"},
		Chat: ChatConfig{
			ContextTokens:     4000,
			MaxResponseTokens: 2000,
		},
	}
}

// Load reads a TOML config file over the defaults. A missing file is not
// an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "read config")
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}
