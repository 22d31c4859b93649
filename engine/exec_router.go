// ABOUTME: Router executor: evaluates declared route conditions against the run bindings and
// ABOUTME: selects exactly one route port, with AI-determined routing delegated to the provider.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/lessonforge/pathrun/provider"
)

// routingCriteria values accepted by router nodes. They describe which facet
// of the learner profile the conditions are expected to examine; evaluation
// itself is uniform except for ai-determined.
var routingCriteria = map[string]bool{
	"elpa-level":     true,
	"performance":    true,
	"learning-style": true,
	"interest":       true,
	"ai-determined":  true,
}

// route is one declared routing target.
type route struct {
	ID        string
	Condition string
}

// RouterExecutor selects one of a router node's declared routes.
type RouterExecutor struct {
	// Provider backs ai-determined routing. Routers using any other
	// criteria never touch it; nil fails only ai-determined nodes.
	Provider provider.Provider
}

func (e *RouterExecutor) Type() NodeType {
	return NodeRouter
}

// Execute evaluates routes in declaration order and returns Branch for the
// first match. No match falls back to defaultRoute; without a default the
// node fails with ErrNoMatchingRoute.
func (e *RouterExecutor) Execute(ctx context.Context, node *Node, inputs Inputs, rc *RunContext) (*Outcome, error) {
	criteria := dataString(node, "routingCriteria", "performance")
	if !routingCriteria[criteria] {
		return nil, configErr(node, "routingCriteria", "unknown criteria %q", criteria)
	}

	routes, err := parseRoutes(node)
	if err != nil {
		return nil, err
	}
	defaultRoute := dataString(node, "defaultRoute", "")

	if criteria == "ai-determined" {
		return e.routeByModel(ctx, node, routes, defaultRoute, rc)
	}

	for _, r := range routes {
		if EvaluateCondition(r.Condition, rc) {
			return BranchTo(r.ID, nil), nil
		}
	}
	if defaultRoute != "" {
		return BranchTo(defaultRoute, nil), nil
	}
	return Failure(fmt.Errorf("router %q: %w", node.ID, ErrNoMatchingRoute)), nil
}

// routeByModel asks the provider to pick one of the declared route ids. An
// answer that is not a declared route falls back to the default route, then
// to failure; the model never invents a destination.
func (e *RouterExecutor) routeByModel(ctx context.Context, node *Node, routes []route, defaultRoute string, rc *RunContext) (*Outcome, error) {
	if e.Provider == nil {
		return Failure(fmt.Errorf("router %q: ai-determined routing requires a provider", node.ID)), nil
	}

	ids := make([]string, len(routes))
	for i, r := range routes {
		ids[i] = r.ID
	}

	prompt := dataString(node, "prompt", "Select the best route for this learner.")
	resp, err := e.Provider.Invoke(ctx, provider.Request{
		Model:  dataString(node, "model", ""),
		System: "You are a routing assistant. Answer with exactly one of the offered route ids and nothing else.",
		Prompt: fmt.Sprintf("%s\n\nLearner state: %v\nRoutes: %s", prompt, rc.Snapshot(), strings.Join(ids, ", ")),
	})
	if err != nil {
		return Failure(&ExecutionError{NodeID: node.ID, Err: err}), nil
	}

	answer := strings.TrimSpace(strings.ToLower(resp.Text))
	for _, r := range routes {
		if strings.ToLower(r.ID) == answer {
			return BranchTo(r.ID, nil), nil
		}
	}
	if defaultRoute != "" {
		return BranchTo(defaultRoute, nil), nil
	}
	return Failure(fmt.Errorf("router %q: model answered %q, %w", node.ID, resp.Text, ErrNoMatchingRoute)), nil
}

// parseRoutes decodes and validates the node's declared routes. Conditions
// must parse under the enumerable condition grammar; free-form expressions
// are rejected here, before any dispatch reaches them.
func parseRoutes(node *Node) ([]route, error) {
	raw, ok := node.Data["routes"].([]any)
	if !ok || len(raw) == 0 {
		return nil, configErr(node, "routes", "router requires a non-empty routes list")
	}

	routes := make([]route, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, configErr(node, "routes", "route %d is not an object", i)
		}
		id, _ := m["id"].(string)
		if id == "" {
			return nil, configErr(node, "routes", "route %d has no id", i)
		}
		cond, _ := m["condition"].(string)
		if !ValidateConditionSyntax(cond) {
			return nil, configErr(node, "routes", "route %q has malformed condition %q", id, cond)
		}
		routes = append(routes, route{ID: id, Condition: cond})
	}
	return routes, nil
}
