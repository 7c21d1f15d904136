// Package engine is the runtime facade: it owns the bus, the capability and
// session registries, and mounts the tool adapters, reasoning agents and the
// orchestrator on Start.
//
// Usage:
//
//	eng := engine.New(engine.Config{Logger: logger, Reasoning: svc})
//	_ = eng.RegisterTool(desc, exec)
//	if err := eng.Start(); err != nil { ... }
//	id, _ := eng.Submit(ctx, engine.Request{Message: "..."}, "")
//	stream, _ := eng.Stream(id)
//	for ev, err := range stream.All(ctx) { ... }
//	_ = eng.Stop(ctx, true)
package engine
