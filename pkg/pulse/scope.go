package pulse

import (
	"context"
	"slices"
)

// ScopedPayload is implemented by payloads whose delivery is conditioned
// on the caller holding a specific authorization scope.
type ScopedPayload interface {
	RequiredScope() string
}

type scopesKey struct{}

type actorKey struct{}

// WithScopes attaches granted authorization scopes to the context.
// Later calls replace earlier ones.
func WithScopes(ctx context.Context, scopes ...string) context.Context {
	return context.WithValue(ctx, scopesKey{}, scopes)
}

// ScopesFrom returns the scopes attached to the context, or nil.
func ScopesFrom(ctx context.Context) []string {
	if v, ok := ctx.Value(scopesKey{}).([]string); ok {
		return v
	}
	return nil
}

// WithActor attaches the acting principal's ID to the context. The actor
// ID appears in audit records for access-denied emits.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFrom returns the actor ID attached to the context, or "".
func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}

// requiredScope extracts the scope a payload demands, if any.
// Map payloads may declare it under the "required_scope" key.
func requiredScope(payload any) string {
	switch p := payload.(type) {
	case ScopedPayload:
		return p.RequiredScope()
	case map[string]any:
		if s, ok := p["required_scope"].(string); ok {
			return s
		}
	}
	return ""
}

// scopeGranted reports whether the context carries the required scope.
func scopeGranted(ctx context.Context, required string) bool {
	return slices.Contains(ScopesFrom(ctx), required)
}
