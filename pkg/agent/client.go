package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/stepwise/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNoProfiles is returned when every profile is missing or cooling down.
var ErrNoProfiles = errors.New("no usable auth profiles")

// Config holds client configuration
type Config struct {
	Logger          zerolog.Logger
	Profiles        []AuthProfile
	ProviderFactory ProviderCreator
	MaxRetries      int
	InitialBackoff  time.Duration
	// Cooldown is multiplied by the consecutive failure count of a profile.
	Cooldown time.Duration
}

type profileState struct {
	AuthProfile
	provider      LLMProvider
	failures      int
	cooldownUntil time.Time
}

// Client calls the reasoning service through prioritized auth profiles,
// retrying transient failures and failing over between profiles.
type Client struct {
	logger         zerolog.Logger
	factory        ProviderCreator
	maxRetries     int
	initialBackoff time.Duration
	cooldown       time.Duration

	mu       sync.Mutex
	profiles []*profileState
	now      func() time.Time
}

// NewClient creates a new reasoning client
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	factory := cfg.ProviderFactory
	if factory == nil {
		factory = &ProviderFactory{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}

	profiles := make([]*profileState, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		profiles = append(profiles, &profileState{AuthProfile: p})
	}
	// lower priority value wins
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})

	return &Client{
		logger:         cfg.Logger,
		factory:        factory,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		cooldown:       cfg.Cooldown,
		profiles:       profiles,
		now:            time.Now,
	}, nil
}

// Complete sends the request through the first healthy profile.
func (c *Client) Complete(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	logger := tracing.LoggerFromContext(ctx, c.logger)

	var lastErr error
	tried := 0
	for _, profile := range c.snapshot() {
		if c.coolingDown(profile) {
			logger.Debug().Str("profileId", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := c.providerFor(profile)
		if err != nil {
			logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Failed to create provider")
			lastErr = err
			continue
		}
		tried++

		resp, err := c.callWithRetry(ctx, provider, profile, request)
		if err == nil {
			c.markSuccess(profile)
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Auth profile failed")
		c.markFailure(profile)

		if !IsRetryableError(err) {
			return nil, err
		}
	}

	if tried == 0 && lastErr == nil {
		return nil, ErrNoProfiles
	}
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

func (c *Client) callWithRetry(ctx context.Context, provider LLMProvider, profile *profileState, request LLMRequest) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerReasoning, "reasoning.provider_call",
		attribute.String("provider", provider.Provider()),
		attribute.String("profile", profile.ID),
	)
	if request.Model == "" {
		request.Model = profile.Model
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		resp, err := provider.Call(ctx, request)
		if err == nil {
			tracing.EndSpan(span, nil)
			return resp, nil
		}
		lastErr = err
		if !IsRetryableError(err) || attempt == c.maxRetries-1 {
			break
		}

		// exponential backoff: 1x, 2x, 4x
		delay := c.initialBackoff * time.Duration(1<<attempt)
		c.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			tracing.EndSpan(span, ctx.Err())
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	tracing.EndSpan(span, lastErr)
	return nil, lastErr
}

func (c *Client) snapshot() []*profileState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*profileState, len(c.profiles))
	copy(out, c.profiles)
	return out
}

func (c *Client) coolingDown(p *profileState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(p.cooldownUntil)
}

func (c *Client) providerFor(p *profileState) (LLMProvider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.provider != nil {
		return p.provider, nil
	}
	provider, err := c.factory.NewProvider(p.AuthProfile)
	if err != nil {
		return nil, err
	}
	p.provider = provider
	return provider, nil
}

func (c *Client) markSuccess(p *profileState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.failures = 0
	p.cooldownUntil = time.Time{}
}

func (c *Client) markFailure(p *profileState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.failures++
	p.cooldownUntil = c.now().Add(c.cooldown * time.Duration(p.failures))
}
