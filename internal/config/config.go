package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/mailpulse/mailpulse/internal/notify"
	"github.com/mailpulse/mailpulse/internal/webserver"
)

type Config struct {
	LogDir    string           `json:"logDir"`
	LogLevel  string           `json:"logLevel"`
	HubBuffer int              `json:"hubBuffer"`
	Webserver webserver.Config `json:"webserver"`
	Notify    notify.Config    `json:"notify"`
}

func Defaults() Config {
	return Config{
		LogLevel:  "info",
		HubBuffer: 32,
		Webserver: webserver.Config{
			Enabled:   true,
			Host:      "0.0.0.0",
			Port:      8080,
			Keepalive: "30s",
			Auth: webserver.AuthConfig{
				AccessTokenTTL:  "15m",
				RefreshTokenTTL: "168h",
			},
		},
	}
}

func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mailpulse", "config.json")
}

func DBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mailpulse", "state.db")
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EnsureJWTSecret generates and persists a signing secret on first run, so
// access tokens survive restarts. The config file is written back with the
// secret filled in.
func EnsureJWTSecret(path string, cfg *Config) error {
	if cfg.Webserver.Auth.JWTSecret != "" {
		return nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	cfg.Webserver.Auth.JWTSecret = hex.EncodeToString(b)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
