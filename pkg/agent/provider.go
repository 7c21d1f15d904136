package agent

import (
	"context"
	"fmt"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
	// JSONOutput asks the provider for a single JSON object reply.
	JSONOutput bool
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content string
	Model   string
	Usage   *TokenUsage
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile AuthProfile) (LLMProvider, error)
}

// Provider names accepted in auth profiles.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
)

// ProviderFactory creates LLM providers
type ProviderFactory struct{}

// NewProvider creates a new LLM provider based on auth profile
func (f *ProviderFactory) NewProvider(profile AuthProfile) (LLMProvider, error) {
	if profile.APIKey == "" {
		return nil, fmt.Errorf("profile %q: api key is required", profile.ID)
	}
	switch profile.Provider {
	case ProviderAnthropic:
		return NewAnthropicProvider(profile), nil
	case ProviderOpenAI, ProviderOpenRouter:
		return NewOpenAIProvider(profile), nil
	case ProviderGemini:
		return NewGeminiProvider(profile), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

func pickModel(request LLMRequest, fallback string) string {
	if request.Model != "" {
		return request.Model
	}
	return fallback
}

func pickMaxTokens(request LLMRequest) int {
	if request.MaxTokens > 0 {
		return request.MaxTokens
	}
	return DefaultMaxTokens
}
