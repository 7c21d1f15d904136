package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/agent"
	"github.com/harun/stepwise/pkg/bus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrUnexpectedPayload is returned when an agent receives a payload it does
// not understand.
var ErrUnexpectedPayload = errors.New("unexpected payload")

// Completer is the reasoning-service transport. *agent.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, request agent.LLMRequest) (*agent.LLMResponse, error)
}

// Config configures a Service.
type Config struct {
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
	Completer   Completer
	Model       string
	Temperature float64
	MaxTokens   int
	// InlineImages attaches image files to analyzer and verifier requests.
	InlineImages bool
	Now          func() time.Time
}

// Service answers the structured questions of the orchestration loop.
type Service struct {
	logger       zerolog.Logger
	metrics      *observability.Metrics
	completer    Completer
	model        string
	temperature  float64
	maxTokens    int
	inlineImages bool
	now          func() time.Time
}

// New creates a reasoning service.
func New(cfg Config) (*Service, error) {
	if cfg.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logger:       cfg.Logger.With().Str("component", "reasoning").Logger(),
		metrics:      cfg.Metrics,
		completer:    cfg.Completer,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		inlineImages: cfg.InlineImages,
		now:          now,
	}, nil
}

// Analyze runs QueryAnalyzer.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (QueryAnalysis, error) {
	var out QueryAnalysis
	err := s.structured(ctx, QueryAnalyzer, analyzePrompt(req, s.now()), s.images(ctx, req.Attachments), &out)
	return out, err
}

// Predict runs ActionPredictor.
func (s *Service) Predict(ctx context.Context, req PredictRequest) (ActionPlan, error) {
	var out ActionPlan
	err := s.structured(ctx, ActionPredictor, predictPrompt(req, s.now()), nil, &out)
	return out, err
}

// GenerateCommand runs CommandGenerator.
func (s *Service) GenerateCommand(ctx context.Context, req CommandRequest) (ToolCommand, error) {
	var out ToolCommand
	err := s.structured(ctx, CommandGenerator, commandPrompt(req, s.now()), nil, &out)
	return out, err
}

// Verify runs ContextVerifier.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (Verdict, error) {
	var out Verdict
	err := s.structured(ctx, ContextVerifier, verifyPrompt(req, s.now()), s.images(ctx, req.Attachments), &out)
	return out, err
}

// Finalize runs FinalOutputAgent and returns free text.
func (s *Service) Finalize(ctx context.Context, req FinalizeRequest) (string, error) {
	resp, err := s.call(ctx, FinalOutputAgent, finalizePrompt(req, s.now()), nil, false)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (s *Service) structured(ctx context.Context, agentType bus.AgentType, prompt string, images []agent.Image, v any) error {
	resp, err := s.call(ctx, agentType, prompt, images, true)
	if err != nil {
		return err
	}
	if err := decodeReply(resp.Content, v); err != nil {
		return fmt.Errorf("%s: %w", agentType, err)
	}
	return nil
}

func (s *Service) call(ctx context.Context, agentType bus.AgentType, prompt string, images []agent.Image, jsonOutput bool) (resp *agent.LLMResponse, err error) {
	ctx = tracing.WithAgent(ctx, string(agentType))
	ctx, span := tracing.StartSpan(ctx, tracing.TracerReasoning, "reasoning."+string(agentType),
		attribute.Int("prompt_chars", len(prompt)),
		attribute.Int("images", len(images)),
	)
	started := time.Now()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	defer func() {
		s.metrics.RecordReasoningCall(string(agentType), time.Since(started), err)
		tracing.EndSpan(span, err)
	}()

	logger.Debug().Str("prompt", prompt).Msg("Reasoning prompt")
	resp, err = s.completer.Complete(ctx, agent.LLMRequest{
		Model:       s.model,
		Messages:    []agent.Message{{Role: agent.RoleUser, Content: prompt, Images: images}},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		JSONOutput:  jsonOutput,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Reasoning call failed")
		return nil, fmt.Errorf("%s: %w", agentType, err)
	}
	logger.Debug().Str("reply", resp.Content).Dur("duration", time.Since(started)).Msg("Reasoning reply")
	return resp, nil
}

func (s *Service) images(ctx context.Context, atts []Attachment) []agent.Image {
	if !s.inlineImages {
		return nil
	}
	images, err := loadImages(atts)
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Warn().Err(err).Msg("Skipping unreadable image")
	}
	return images
}

// Handler returns the bus handler serving agentType.
func (s *Service) Handler(agentType bus.AgentType) bus.Handler {
	return bus.HandlerFunc(func(ctx context.Context, env bus.Envelope) (any, error) {
		if tracing.SessionID(ctx) == "" {
			ctx = tracing.WithSessionID(ctx, env.Topic)
		}
		switch req := env.Payload.(type) {
		case AnalyzeRequest:
			if agentType == QueryAnalyzer {
				return s.Analyze(ctx, req)
			}
		case PredictRequest:
			if agentType == ActionPredictor {
				return s.Predict(ctx, req)
			}
		case CommandRequest:
			if agentType == CommandGenerator {
				return s.GenerateCommand(ctx, req)
			}
		case VerifyRequest:
			if agentType == ContextVerifier {
				return s.Verify(ctx, req)
			}
		case FinalizeRequest:
			if agentType == FinalOutputAgent {
				return s.Finalize(ctx, req)
			}
		}
		return nil, fmt.Errorf("%s: %w %T", agentType, ErrUnexpectedPayload, env.Payload)
	})
}

// Agents supplies a handler per reasoning agent type. *Service is the
// production implementation.
type Agents interface {
	Handler(agentType bus.AgentType) bus.Handler
}

// Mount registers the five agent types on b as direct-only agents. Each is
// subscribed to every topic so that a session's Bootstrap broadcast
// materializes its instances; the broadcast itself is not delivered.
func Mount(b *bus.Bus, agents Agents) error {
	for _, t := range AgentTypes() {
		agentType := t
		_, err := b.Register(agentType, func(bus.AgentID) (bus.Handler, error) {
			return agents.Handler(agentType), nil
		}, bus.Options{})
		if err != nil {
			return fmt.Errorf("failed to mount %s: %w", agentType, err)
		}
		if err := b.Subscribe(agentType, bus.Wildcard); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", agentType, err)
		}
	}
	return nil
}
