package stepauth

import "context"

type contextKey int

const (
	ctxKeyClientIP contextKey = iota
	ctxKeyUserAgent
	ctxKeyDecision
)

// WithClientIP attaches the caller's IP for audit attribution.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// WithUserAgent attaches the caller's user agent for audit attribution.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

func clientIPFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyClientIP).(string)
	return v
}

func userAgentFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserAgent).(string)
	return v
}

// DecisionFromContext retrieves the authorization decision stored by the
// operation guard middleware, if any.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(ctxKeyDecision).(Decision)
	return d, ok
}

// ContextWithDecision stores an authorization decision for downstream
// handlers.
func ContextWithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, ctxKeyDecision, d)
}
