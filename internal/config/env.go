package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "HARVESTBOT"

// Env holds secrets and overrides read from the environment. envconfig falls
// back to the unprefixed name, so a bare GITHUB_TOKEN is picked up as well.
type Env struct {
	GitHubToken   string `envconfig:"GITHUB_TOKEN"`
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	AdminToken    string `envconfig:"ADMIN_TOKEN"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
}

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

// Overlay copies every non-empty value onto cfg. The environment wins over
// the file.
func (e *Env) Overlay(cfg *Config) {
	if e == nil || cfg == nil {
		return
	}
	if v := strings.TrimSpace(e.GitHubToken); v != "" {
		cfg.GitHub.Token = v
	}
	if v := strings.TrimSpace(e.TelegramToken); v != "" {
		cfg.Notifier.Token = v
	}
	if v := strings.TrimSpace(e.AdminToken); v != "" {
		cfg.Admin.Token = v
	}
	if v := strings.TrimSpace(e.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
}
