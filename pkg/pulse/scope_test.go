package pulse

import (
	"context"
	"testing"
)

type gatedPayload struct {
	scope string
}

func (p gatedPayload) RequiredScope() string { return p.scope }

func TestScopesRoundTrip(t *testing.T) {
	ctx := WithScopes(context.Background(), "orders:write", "orders:read")

	scopes := ScopesFrom(ctx)
	if len(scopes) != 2 || scopes[0] != "orders:write" {
		t.Errorf("unexpected scopes: %v", scopes)
	}

	if ScopesFrom(context.Background()) != nil {
		t.Error("expected nil scopes on bare context")
	}
}

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), "svc-billing")
	if ActorFrom(ctx) != "svc-billing" {
		t.Errorf("unexpected actor: %q", ActorFrom(ctx))
	}
	if ActorFrom(context.Background()) != "" {
		t.Error("expected empty actor on bare context")
	}
}

func TestRequiredScope(t *testing.T) {
	if got := requiredScope(gatedPayload{scope: "admin"}); got != "admin" {
		t.Errorf("interface payload: got %q", got)
	}
	if got := requiredScope(map[string]any{"required_scope": "ops"}); got != "ops" {
		t.Errorf("map payload: got %q", got)
	}
	if got := requiredScope(map[string]any{"required_scope": 42}); got != "" {
		t.Errorf("non-string scope should be ignored, got %q", got)
	}
	if got := requiredScope("plain"); got != "" {
		t.Errorf("unscoped payload: got %q", got)
	}
}

func TestScopeGranted(t *testing.T) {
	ctx := WithScopes(context.Background(), "a", "b")
	if !scopeGranted(ctx, "b") {
		t.Error("expected grant for held scope")
	}
	if scopeGranted(ctx, "c") {
		t.Error("expected denial for missing scope")
	}
	if scopeGranted(context.Background(), "a") {
		t.Error("expected denial with no scopes attached")
	}
}
