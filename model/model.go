// Package model defines the chat model boundary the workflow nodes call.
// Model invocations are opaque to the engine; nodes treat them as external
// collaborators.
package model

import "context"

// ChatModel produces a single completion for a system/user prompt pair.
// Implementations must be safe for concurrent use across runs.
type ChatModel interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// ChatModelFunc adapts a function to the ChatModel interface.
type ChatModelFunc func(ctx context.Context, system, user string) (string, error)

// Generate calls f.
func (f ChatModelFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}
