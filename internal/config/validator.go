package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/harun/stepwise/pkg/agent"
	"github.com/robfig/cron/v3"
)

// ErrMissingAPIKey is reported for a reasoning profile without credentials.
var ErrMissingAPIKey = errors.New("api key is required")

var validProviders = []string{agent.ProviderOpenAI, agent.ProviderOpenRouter, agent.ProviderAnthropic, agent.ProviderGemini}

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates a reasoning provider name
func (v *Validator) ValidateProvider(provider string) error {
	if slices.Contains(validProviders, provider) {
		return nil
	}
	return fmt.Errorf("invalid provider: %q (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s: %w", provider, ErrMissingAPIKey)
	}

	switch provider {
	case agent.ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case agent.ProviderOpenRouter:
		if !strings.HasPrefix(key, "sk-or-") {
			return fmt.Errorf("invalid OpenRouter API key format (should start with sk-or-)")
		}
	}

	return nil
}

// ValidateBaseURL validates an optional provider base url
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base url: %q", raw)
	}
	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if slices.Contains(validLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort validates a listen port. Zero picks a free port.
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port out of range: %d", port)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	add := func(prefix string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	r := cfg.Reasoning
	add("reasoning.provider", v.ValidateProvider(r.Provider))
	add("reasoning.api_key", v.ValidateAPIKey(r.APIKey, r.Provider))
	add("reasoning.base_url", v.ValidateBaseURL(r.BaseURL))
	add("reasoning.model", v.ValidateModel(r.Model))
	add("reasoning.temperature", v.ValidateTemperature(r.Temperature))
	add("reasoning.max_tokens", v.ValidateMaxTokens(r.MaxTokens))
	if r.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("reasoning.max_retries must be >= 0"))
	}
	for i, p := range r.Fallbacks {
		prefix := fmt.Sprintf("reasoning.fallbacks[%d]", i)
		add(prefix+".provider", v.ValidateProvider(p.Provider))
		add(prefix+".api_key", v.ValidateAPIKey(p.APIKey, p.Provider))
		add(prefix+".base_url", v.ValidateBaseURL(p.BaseURL))
	}

	if cfg.Engine.DefaultMaxSteps < 1 {
		errs = append(errs, fmt.Errorf("engine.default_max_steps must be >= 1, got %d", cfg.Engine.DefaultMaxSteps))
	}
	if cfg.Engine.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.call_timeout must be >= 0"))
	}
	if cfg.Engine.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.drain_timeout must be >= 0"))
	}
	if cfg.Engine.TranscriptRetention < 0 {
		errs = append(errs, fmt.Errorf("engine.transcript_retention must be >= 0"))
	}
	add("engine.prune_schedule", v.ValidateSchedule(cfg.Engine.PruneSchedule))

	add("gateway.port", v.ValidatePort(cfg.Gateway.Port))
	if cfg.Gateway.RequestsPerMinute < 0 || cfg.Gateway.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("gateway limits must be >= 0"))
	}

	add("logging.level", v.ValidateLogLevel(cfg.Logging.Level))

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", cfg.Tracing.SampleRatio))
	}

	add("tools.wikipedia_endpoint", v.ValidateBaseURL(cfg.Tools.WikipediaEndpoint))
	add("tools.search_endpoint", v.ValidateBaseURL(cfg.Tools.SearchEndpoint))
	add("tools.news_fetch_endpoint", v.ValidateBaseURL(cfg.Tools.NewsFetchEndpoint))
	add("tools.news_api_endpoint", v.ValidateBaseURL(cfg.Tools.NewsAPIEndpoint))
	for _, id := range cfg.Tools.Allow {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("tools.allow contains an empty id"))
			break
		}
	}

	return errs
}

// ValidateSchedule checks a 5-field cron expression. Empty is allowed.
func (v *Validator) ValidateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}
