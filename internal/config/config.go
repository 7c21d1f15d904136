package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/harun/stepwise/internal/logger"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/agent"
	"github.com/harun/stepwise/pkg/browser"
	"github.com/harun/stepwise/pkg/capability"
)

// Config represents the main Stepwise configuration
type Config struct {
	// Reasoning service used by the five reasoning agents
	Reasoning ReasoningConfig `json:"reasoning" mapstructure:"reasoning"`

	// Orchestration defaults
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Remote gateway
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing tracing.Config `json:"tracing" mapstructure:"tracing"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Data directory for transcripts, audit log and log files
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ReasoningConfig selects the reasoning provider. Fallbacks are tried in
// order when the primary profile keeps failing.
type ReasoningConfig struct {
	Provider     string          `json:"provider" mapstructure:"provider"` // openai, anthropic, gemini
	Model        string          `json:"model" mapstructure:"model"`
	APIKey       string          `json:"api_key" mapstructure:"api_key"`
	BaseURL      string          `json:"base_url" mapstructure:"base_url"`
	Temperature  float64         `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int             `json:"max_tokens" mapstructure:"max_tokens"`
	InlineImages bool            `json:"inline_images" mapstructure:"inline_images"`
	MaxRetries   int             `json:"max_retries" mapstructure:"max_retries"`
	Cooldown     time.Duration   `json:"cooldown" mapstructure:"cooldown"`
	Fallbacks    []ProfileConfig `json:"fallbacks" mapstructure:"fallbacks"`
}

// ProfileConfig is an additional provider profile.
type ProfileConfig struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"`
	Model    string `json:"model" mapstructure:"model"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
}

// EngineConfig holds orchestration settings
type EngineConfig struct {
	DefaultMaxSteps int `json:"default_max_steps" mapstructure:"default_max_steps"`
	// CallTimeout bounds each reasoning or tool round-trip. Zero disables it.
	CallTimeout    time.Duration `json:"call_timeout" mapstructure:"call_timeout"`
	DrainTimeout   time.Duration `json:"drain_timeout" mapstructure:"drain_timeout"`
	QueueWarnAfter time.Duration `json:"queue_warn_after" mapstructure:"queue_warn_after"`
	Transcripts    bool          `json:"transcripts" mapstructure:"transcripts"`
	AuditLog       bool          `json:"audit_log" mapstructure:"audit_log"`
	// TranscriptRetention prunes transcripts older than this. Zero keeps them.
	TranscriptRetention time.Duration `json:"transcript_retention" mapstructure:"transcript_retention"`
	// PruneSchedule is a 5-field cron expression for the retention job.
	PruneSchedule string `json:"prune_schedule" mapstructure:"prune_schedule"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host              string        `json:"host" mapstructure:"host"`
	Port              int           `json:"port" mapstructure:"port"`
	SharedSecret      string        `json:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute int           `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int           `json:"max_concurrent" mapstructure:"max_concurrent"`
	IdempotencyTTL    time.Duration `json:"idempotency_ttl" mapstructure:"idempotency_ttl"`
	WriteTimeout      time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSizeMB int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackup int    `json:"max_backup" mapstructure:"max_backup"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ToolsConfig holds builtin and manifest tool settings
type ToolsConfig struct {
	Allow             []string `json:"allow" mapstructure:"allow"`
	Deny              []string `json:"deny" mapstructure:"deny"`
	ManifestsDir      string   `json:"manifests_dir" mapstructure:"manifests_dir"`
	WikipediaEndpoint string   `json:"wikipedia_endpoint" mapstructure:"wikipedia_endpoint"`
	SearchEndpoint    string   `json:"search_endpoint" mapstructure:"search_endpoint"`
	NewsFetchEndpoint string   `json:"news_fetch_endpoint" mapstructure:"news_fetch_endpoint"`
	NewsAPIEndpoint   string   `json:"news_api_endpoint" mapstructure:"news_api_endpoint"`
	// NewsAPIKey enables NewsAPITool.
	NewsAPIKey  string        `json:"news_api_key" mapstructure:"news_api_key"`
	HTTPTimeout time.Duration `json:"http_timeout" mapstructure:"http_timeout"`
	Generalist  bool          `json:"generalist" mapstructure:"generalist"`
	Browser     BrowserConfig `json:"browser" mapstructure:"browser"`
}

// BrowserConfig enables PageContentExtractionTool.
type BrowserConfig struct {
	Enabled        bool `json:"enabled" mapstructure:"enabled"`
	browser.Config `mapstructure:",squash"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Reasoning: ReasoningConfig{
			Provider:    agent.ProviderOpenAI,
			Model:       "openai/gpt-4o-mini",
			BaseURL:     "https://openrouter.ai/api/v1",
			Temperature: 0.2,
			MaxTokens:   4096,
			MaxRetries:  3,
			Cooldown:    time.Minute,
		},
		Engine: EngineConfig{
			DefaultMaxSteps: 5,
			DrainTimeout:    30 * time.Second,
			QueueWarnAfter:  10 * time.Second,
			Transcripts:     true,
			AuditLog:        true,
			PruneSchedule:   "0 3 * * *",
		},
		Gateway: GatewayConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			RequestsPerMinute: 60,
			MaxConcurrent:     10,
			IdempotencyTTL:    5 * time.Minute,
			WriteTimeout:      10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSizeMB: 50,
			MaxBackup: 5,
			Redaction: true,
		},
		Tracing: tracing.Config{
			ServiceName: "stepwise",
			SampleRatio: 1,
		},
		Tools: ToolsConfig{
			Allow:       []string{},
			Deny:        []string{},
			HTTPTimeout: 30 * time.Second,
			Generalist:  true,
			Browser: BrowserConfig{
				Enabled: true,
				Config:  browser.DefaultConfig(),
			},
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Reasoning.APIKey = mask(c.Reasoning.APIKey)
	masked.Reasoning.Fallbacks = make([]ProfileConfig, len(c.Reasoning.Fallbacks))
	for i, p := range c.Reasoning.Fallbacks {
		p.APIKey = mask(p.APIKey)
		masked.Reasoning.Fallbacks[i] = p
	}
	masked.Gateway.SharedSecret = mask(c.Gateway.SharedSecret)
	masked.Tools.NewsAPIKey = mask(c.Tools.NewsAPIKey)
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// AuthProfiles returns the reasoning profiles in priority order.
func (c *Config) AuthProfiles() []agent.AuthProfile {
	r := c.Reasoning
	profiles := []agent.AuthProfile{{
		ID:       "primary",
		Provider: r.Provider,
		APIKey:   r.APIKey,
		BaseURL:  r.BaseURL,
		Model:    r.Model,
		Priority: 0,
	}}
	for i, p := range r.Fallbacks {
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("fallback-%d", i+1)
		}
		model := p.Model
		if model == "" {
			model = r.Model
		}
		profiles = append(profiles, agent.AuthProfile{
			ID:       id,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Model:    model,
			Priority: i + 1,
		})
	}
	return profiles
}

// LoggerConfig converts the logging section for the logger package.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		File:      c.Logging.File,
		Console:   true,
		Pretty:    c.Logging.Pretty,
		Redaction: c.Logging.Redaction,
		MaxSizeMB: c.Logging.MaxSizeMB,
		MaxBackup: c.Logging.MaxBackup,
	}
}

// ToolPolicy returns the allow/deny filter for tool ids.
func (c *Config) ToolPolicy() capability.Policy {
	return capability.Policy{Allow: c.Tools.Allow, Deny: c.Tools.Deny}
}

// TranscriptDir is where session transcripts go, empty when disabled.
func (c *Config) TranscriptDir() string {
	if !c.Engine.Transcripts || c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "transcripts")
}

// AuditLogPath is the tool audit log file, empty when disabled.
func (c *Config) AuditLogPath() string {
	if !c.Engine.AuditLog || c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "audit.jsonl")
}
