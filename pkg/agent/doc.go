// Package agent is the reasoning-service client layer: LLM providers
// (OpenAI-compatible, Anthropic, Gemini) behind one LLMProvider interface and
// a Client that adds auth-profile failover and retry.
//
// Invariants:
// - Providers are stateless per call and safe for concurrent use.
// - Client retries only errors classified by IsRetryableError.
// - A failing profile is put in cooldown and skipped until it expires.
//
// Usage:
//
//	client, _ := agent.NewClient(agent.Config{Profiles: []agent.AuthProfile{{
//		ID: "default", Provider: "openai", APIKey: key, Model: "gpt-4o-mini",
//	}}})
//	resp, _ := client.Complete(ctx, agent.LLMRequest{
//		SystemPrompt: "You are terse.",
//		Messages:     []agent.Message{agent.UserText("hello")},
//	})
//	_ = resp.Content
package agent
