// Package config loads and validates the slack2jira configuration.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full slack2jira configuration. It is assembled once
// at startup and passed into each component at construction; nothing reads
// ambient process-wide state after that.
type Config struct {
	Slack SlackConfig `mapstructure:"slack"`
	Jira  JiraConfig  `mapstructure:"jira"`
	Groq  GroqConfig  `mapstructure:"groq"`
	HTTP  HTTPConfig  `mapstructure:"http"`
	GCP   GCPConfig   `mapstructure:"gcp"`
}

// SlackConfig contains Slack API settings.
type SlackConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

// JiraConfig contains Jira server and default issue settings.
type JiraConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIToken   string `mapstructure:"api_token"`
	ProjectKey string `mapstructure:"project_key"`
	IssueType  string `mapstructure:"issue_type"`
}

// GroqConfig contains Groq API settings for thread analysis.
type GroqConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// HTTPConfig bounds outbound requests.
type HTTPConfig struct {
	Timeout string `mapstructure:"timeout"`
}

// GCPConfig is only needed when credentials use secret:// references.
type GCPConfig struct {
	Project string `mapstructure:"project"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Jira.IssueType == "" {
		cfg.Jira.IssueType = "Task"
	}

	if cfg.Groq.Model == "" {
		cfg.Groq.Model = "llama-3.1-8b-instant"
	}

	if cfg.HTTP.Timeout == "" {
		cfg.HTTP.Timeout = "60s"
	}
}

// Timeout returns the parsed request timeout. Validate has already checked
// the format.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.HTTP.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// Validate validates the configuration. Missing credentials are collected
// into a single error so the operator can fix them all at once.
func (c *Config) Validate() error {
	var missing []string
	if c.Slack.BotToken == "" {
		missing = append(missing, "slack.bot_token")
	}
	if c.Jira.BaseURL == "" {
		missing = append(missing, "jira.base_url")
	}
	if c.Jira.APIToken == "" {
		missing = append(missing, "jira.api_token")
	}
	if c.Jira.ProjectKey == "" {
		missing = append(missing, "jira.project_key")
	}
	if c.Groq.APIKey == "" {
		missing = append(missing, "groq.api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if u, err := url.Parse(c.Jira.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("jira.base_url %q is not an http(s) URL", c.Jira.BaseURL)
	}

	if _, err := time.ParseDuration(c.HTTP.Timeout); err != nil {
		return fmt.Errorf("invalid http.timeout: %w", err)
	}

	return nil
}
