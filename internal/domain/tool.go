package domain

import "context"

// Tool is the interface for agent capabilities (document search, summaries, agent delegation).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
