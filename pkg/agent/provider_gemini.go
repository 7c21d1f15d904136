package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider implements LLMProvider for Google Gemini
type GeminiProvider struct {
	model string
	opts  []option.ClientOption
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(profile AuthProfile) *GeminiProvider {
	opts := []option.ClientOption{option.WithAPIKey(profile.APIKey)}
	if profile.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(profile.BaseURL))
	}
	return &GeminiProvider{
		model: profile.Model,
		opts:  opts,
	}
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

// Call makes an API call to Google Gemini. A client is created per call so
// the model settings never leak between concurrent requests.
func (p *GeminiProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	client, err := genai.NewClient(ctx, p.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	modelName := pickModel(request, p.model)
	model := client.GenerativeModel(modelName)
	model.SetMaxOutputTokens(int32(pickMaxTokens(request)))
	if request.Temperature > 0 {
		model.SetTemperature(float32(request.Temperature))
	}
	if request.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(request.SystemPrompt)}}
	}
	if request.JSONOutput {
		model.ResponseMIMEType = "application/json"
	}

	history := make([]*genai.Content, 0, len(request.Messages))
	for _, msg := range request.Messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		parts := []genai.Part{genai.Text(msg.Content)}
		for _, img := range msg.Images {
			parts = append(parts, genai.ImageData(img.Format(), img.Data))
		}
		history = append(history, &genai.Content{Role: role, Parts: parts})
	}
	if len(history) == 0 || history[len(history)-1].Role != "user" {
		return nil, fmt.Errorf("gemini request must end with a user message")
	}

	cs := model.StartChat()
	cs.History = history[:len(history)-1]
	resp, err := cs.SendMessage(ctx, history[len(history)-1].Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	var content strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				content.WriteString(string(text))
			}
		}
	}

	result := &LLMResponse{Content: content.String(), Model: modelName}
	if resp.UsageMetadata != nil {
		result.Usage = &TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}
