// Package router implements the priority-ordered routing-rule match engine
// that runs before load balancing and may override its pick.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	routex "github.com/dctx/routex/internal"
)

// RuleStore provides the enabled rules in effective order: descending
// priority, ties broken by ascending name. A disabled rule is never
// returned.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]*routex.RoutingRule, error)
}

// Decision is the routing outcome for one request.
type Decision struct {
	// TargetChannel is the channel name to use directly, bypassing the
	// LoadBalancer, or "" if no rule matched / rule used the "*" sentinel.
	TargetChannel string
	// TargetModel overrides the request model when set.
	TargetModel string
	// Matched is true if some enabled rule matched.
	Matched bool
	RuleID  string
}

// rulesCacheTTL bounds how stale the cached rule list may be after an
// admin edit; short enough to pick up changes quickly.
const rulesCacheTTL = 10 * time.Second

// Router evaluates routing rules against a request context. Resolved rule
// lists are cached to avoid a store read on every request; each rule's
// condition JSON is still decoded on every evaluation.
type Router struct {
	store RuleStore
	cache *otter.Cache[string, []*routex.RoutingRule]
}

// New returns a Router backed by store.
func New(store RuleStore) *Router {
	cache := otter.Must(&otter.Options[string, []*routex.RoutingRule]{
		MaximumSize:      1,
		ExpiryCalculator: otter.ExpiryWriting[string, []*routex.RoutingRule](rulesCacheTTL),
	})
	return &Router{store: store, cache: cache}
}

const rulesCacheKey = "enabled_rules"

// Invalidate forces the next Evaluate call to re-read rules from the store.
// Called by admin handlers after rule CRUD.
func (r *Router) Invalidate() {
	r.cache.Invalidate(rulesCacheKey)
}

func (r *Router) enabledRules(ctx context.Context) ([]*routex.RoutingRule, error) {
	if cached, ok := r.cache.GetIfPresent(rulesCacheKey); ok {
		return cached, nil
	}
	rules, err := r.store.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list routing rules: %w", err)
	}
	// Effective order: descending priority, ties broken by ascending name.
	rules = slices.Clone(rules)
	slices.SortStableFunc(rules, func(a, b *routex.RoutingRule) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	r.cache.Set(rulesCacheKey, rules)
	return rules, nil
}

// Evaluate finds the first matching enabled rule (in the effective order
// enabledRules sorts them into) and returns its override.
func (r *Router) Evaluate(ctx context.Context, rc routex.RequestContext) (Decision, error) {
	rules, err := r.enabledRules(ctx)
	if err != nil {
		return Decision{}, err
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		var cond routex.RuleCondition
		if len(rule.Condition) > 0 {
			if err := json.Unmarshal(rule.Condition, &cond); err != nil {
				continue // malformed condition never fires
			}
		}
		if !matches(cond, rc) {
			continue
		}

		d := Decision{Matched: true, RuleID: rule.ID, TargetModel: rule.TargetModel}
		if rule.TargetChannel != "" && rule.TargetChannel != "*" {
			d.TargetChannel = rule.TargetChannel
		}
		return d, nil
	}
	return Decision{}, nil
}

func matches(cond routex.RuleCondition, rc routex.RequestContext) bool {
	if len(cond.Models) > 0 && !contains(cond.Models, rc.Model) {
		return false
	}
	if cond.PathPrefix != "" && !strings.HasPrefix(rc.Path, cond.PathPrefix) {
		return false
	}
	if len(cond.UserIDs) > 0 && !contains(cond.UserIDs, rc.UserID) {
		return false
	}
	if cond.HeaderKey != "" {
		if rc.Headers == nil || rc.Headers.Get(cond.HeaderKey) != cond.HeaderValue {
			return false
		}
	}
	if len(cond.Tags) > 0 && !anyOverlap(cond.Tags, rc.Tags) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func anyOverlap(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}
