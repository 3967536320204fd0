package tools

import "context"

type ctxKey int

const (
	ctxKeyAgentID ctxKey = iota
)

// WithAgentID tags a context with the executing agent's node id, so
// tools can attribute writes and approval requests.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, ctxKeyAgentID, agentID)
}

// AgentIDFromCtx returns the executing agent's node id, or "".
func AgentIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyAgentID).(string); ok {
		return v
	}
	return ""
}
