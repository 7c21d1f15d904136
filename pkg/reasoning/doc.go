// Package reasoning implements the five reasoning-service agents the
// orchestrator consults each step: QueryAnalyzer, ActionPredictor,
// CommandGenerator, ContextVerifier and FinalOutputAgent.
//
// Invariants:
//   - Every agent type is direct-only; broadcasts only materialize instances.
//   - Structured replies are decoded from a single JSON object; fenced code
//     blocks around it are accepted.
//   - Prompts always carry the current date and, where relevant, the rendered
//     capability catalog.
//
// Usage:
//
//	svc, _ := reasoning.New(reasoning.Config{Completer: client, Logger: logger})
//	_ = reasoning.Mount(b, svc)
//	reply, _ := b.Send(ctx, reasoning.AnalyzeRequest{Query: "..."}, reasoning.QueryAnalyzer, sessionID)
//	analysis := reply.(reasoning.QueryAnalysis)
package reasoning
