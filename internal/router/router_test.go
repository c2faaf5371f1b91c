package router

import (
	"context"
	"encoding/json"
	"testing"

	routex "github.com/dctx/routex/internal"
)

type fakeRuleStore struct {
	rules []*routex.RoutingRule
}

func (s *fakeRuleStore) ListEnabledRules(ctx context.Context) ([]*routex.RoutingRule, error) {
	var out []*routex.RoutingRule
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func rule(id string, priority int, cond routex.RuleCondition, targetChannel, targetModel string) *routex.RoutingRule {
	b, _ := json.Marshal(cond)
	return &routex.RoutingRule{ID: id, Name: id, Priority: priority, Enabled: true, Condition: b, TargetChannel: targetChannel, TargetModel: targetModel}
}

func TestRoutingOverride(t *testing.T) {
	store := &fakeRuleStore{rules: []*routex.RoutingRule{
		rule("premium-rule", 100, routex.RuleCondition{Models: []string{"claude-opus-4"}}, "premium", ""),
	}}
	r := New(store)

	d, err := r.Evaluate(context.Background(), routex.RequestContext{Model: "claude-opus-4"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Matched || d.TargetChannel != "premium" {
		t.Fatalf("expected match targeting premium, got %+v", d)
	}

	d2, _ := r.Evaluate(context.Background(), routex.RequestContext{Model: "claude-haiku"})
	if d2.Matched {
		t.Fatalf("expected no match for unrelated model, got %+v", d2)
	}
}

func TestDisabledRuleNeverFires(t *testing.T) {
	b, _ := json.Marshal(routex.RuleCondition{})
	store := &fakeRuleStore{rules: []*routex.RoutingRule{
		{ID: "r1", Name: "r1", Priority: 1, Enabled: false, Condition: b, TargetChannel: "x"},
	}}
	r := New(store)
	d, _ := r.Evaluate(context.Background(), routex.RequestContext{Model: "any"})
	if d.Matched {
		t.Fatal("disabled rule should never fire")
	}
}

func TestWildcardTargetDefersToLB(t *testing.T) {
	store := &fakeRuleStore{rules: []*routex.RoutingRule{
		rule("r1", 10, routex.RuleCondition{}, "*", "gpt-4o"),
	}}
	r := New(store)
	d, _ := r.Evaluate(context.Background(), routex.RequestContext{Model: "anything"})
	if d.TargetChannel != "" {
		t.Errorf("wildcard target should leave TargetChannel empty, got %q", d.TargetChannel)
	}
	if d.TargetModel != "gpt-4o" {
		t.Errorf("expected model override gpt-4o, got %q", d.TargetModel)
	}
}

func TestPriorityOrderingTieBreak(t *testing.T) {
	store := &fakeRuleStore{rules: []*routex.RoutingRule{
		rule("b-rule", 50, routex.RuleCondition{}, "chan-b", ""),
		rule("a-rule", 50, routex.RuleCondition{}, "chan-a", ""),
	}}
	r := New(store)
	d, _ := r.Evaluate(context.Background(), routex.RequestContext{Model: "x"})
	if d.TargetChannel != "chan-a" {
		t.Fatalf("expected tie broken by ascending name (a-rule first), got %+v", d)
	}
}
