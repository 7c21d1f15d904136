// Package capability holds the tool catalog and the generic bus adapter that
// exposes each tool as a direct-only agent.
//
// Invariants:
//   - Tool ids are unique (ErrDuplicateCapability).
//   - Descriptors are immutable once registered: the registry stores and
//     returns deep copies, so the catalog a caller reads back marshals to the
//     same bytes as the descriptor it registered.
//   - Input is validated before the executor runs and output after; neither
//     failure is retried here.
//
// Usage:
//
//	reg := capability.NewRegistry()
//	_ = reg.Register(capability.Descriptor{
//		ToolID:      "EchoTool",
//		Name:        "Echo",
//		Description: "Returns its input",
//		InputSchema: capability.ObjectSchema(capability.Parameter{Name: "text", Type: "string", Description: "text to echo", Required: true}),
//	}, capability.ExecutorFunc(func(ctx context.Context, in map[string]any) (any, error) {
//		return map[string]any{"echo": in["text"]}, nil
//	}))
//	_ = capability.Mount(b, reg, capability.AdapterConfig{Logger: logger})
package capability
