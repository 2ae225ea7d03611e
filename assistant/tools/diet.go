package tools

import (
	"context"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/platform"
)

// ToolBackend is the slice of the backend client the handlers need.
type ToolBackend interface {
	CallTool(ctx context.Context, caller assistant.Caller, req platform.ToolCallRequest) (*platform.ToolCallResult, error)
}

// backendTool forwards a named function to the backend tool-call endpoint.
// The endpoint variant (guest vs authenticated) is selected inside the
// backend client from the caller identity, per call.
type backendTool struct {
	name         string
	requiresAuth bool
	client       ToolBackend
}

func (t *backendTool) Name() string       { return t.name }
func (t *backendTool) RequiresAuth() bool { return t.requiresAuth }

func (t *backendTool) Invoke(ctx context.Context, call platform.ToolCallRequest, caller assistant.Caller) (string, error) {
	result, err := t.client.CallTool(ctx, caller, call)
	if err != nil {
		return "", err
	}
	// The backend output is already JSON-serialized; pass it through
	// untouched so it is serialized exactly once end to end.
	return result.Output, nil
}

// dietTools is the function surface the meal-planning assistants declare.
// Names prefixed auth_ expect an authenticated principal and operate on
// the caller's own data.
var dietTools = []struct {
	name         string
	requiresAuth bool
}{
	{"search_dishes", false},
	{"auth_search_dishes", true},
	{"get_nutrition_facts", false},
	{"suggest_daily_menu", false},
	{"find_chefs", false},
	{"get_user_profile", true},
	{"get_meal_plan", true},
	{"list_pantry_items", true},
	{"add_pantry_item", true},
	{"log_meal", true},
}

// NewDietRegistry builds the registry of meal-planning functions backed
// by the given client.
func NewDietRegistry(client ToolBackend) *Registry {
	registry := NewRegistry()
	for _, t := range dietTools {
		// Names are unique by construction; Register cannot fail here.
		_ = registry.Register(&backendTool{
			name:         t.name,
			requiresAuth: t.requiresAuth,
			client:       client,
		})
	}
	return registry
}
