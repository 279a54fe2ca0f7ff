package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Decision is the outcome of a resolution query. Rule names the deciding
// rule so callers can audit or debug why access was granted or withheld.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Rule    string `json:"rule"`
}

// Rule kinds reported to the decision observer.
const (
	RuleDenyGrant   = "deny_grant"
	RuleRole        = "role"
	RuleAllowGrant  = "allow_grant"
	RuleDefaultDeny = "default_deny"
)

// DecisionObserver receives every decision for metrics. Must be cheap and
// non-blocking.
type DecisionObserver func(allowed bool, rule string)

// Engine computes effective permissions over the scope graph, the catalog and
// the assignment/grant stores. It holds no mutable state between calls: each
// query is a pure function of its inputs and the store contents at call time,
// so concurrent reads need no locking.
type Engine struct {
	catalog     *Catalog
	graph       *Graph
	assignments AssignmentStore
	grants      GrantStore
	audit       AuditSink
	observe     DecisionObserver
	now         func() time.Time
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithAuditSink reports deny-by-override decisions to the sink.
func WithAuditSink(sink AuditSink) EngineOption {
	return func(e *Engine) { e.audit = sink }
}

// WithDecisionObserver registers a metrics hook invoked on every decision.
func WithDecisionObserver(fn DecisionObserver) EngineOption {
	return func(e *Engine) { e.observe = fn }
}

// WithClock overrides the expiry clock.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs a resolution engine.
func NewEngine(catalog *Catalog, graph *Graph, assignments AssignmentStore, grants GrantStore, opts ...EngineOption) (*Engine, error) {
	if catalog == nil || graph == nil || assignments == nil || grants == nil {
		return nil, fmt.Errorf("%w: catalog, graph, assignment and grant stores are required", ErrInvalidInput)
	}
	e := &Engine{
		catalog:     catalog,
		graph:       graph,
		assignments: assignments,
		grants:      grants,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// resolution is the per-query working set shared by HasPermission and
// EffectivePermissions so both produce consistent answers.
type resolution struct {
	chain       []ScopeNode
	assignments []Assignment
	roles       []Role
	base        map[string]struct{}
	grants      []Grant
}

func (e *Engine) resolve(ctx context.Context, userID string, scope ScopeNode) (*resolution, error) {
	chain, err := e.graph.Ancestors(ctx, scope)
	if err != nil {
		return nil, err
	}

	all, err := e.assignments.AssignmentsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	// An assignment at a node covers every scope whose chain reaches that
	// node, so filtering to chain membership is the whole containment check.
	matched := all[:0:0]
	for _, a := range all {
		if scopeInChain(chain, a.Scope) {
			matched = append(matched, a)
		}
	}

	base := make(map[string]struct{})
	roles := make([]Role, 0, len(matched))
	roleCodes := make([]string, 0, len(matched))
	seenRoles := make(map[string]struct{}, len(matched))
	for _, a := range matched {
		if _, ok := seenRoles[a.RoleCode]; ok {
			continue
		}
		seenRoles[a.RoleCode] = struct{}{}
		role, err := e.catalog.GetRole(ctx, a.RoleCode)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// A dangling role reference is corrupted catalog data,
				// never a silent deny.
				return nil, fmt.Errorf("%w: assignment %s references role %s", ErrUnknownRole, a.ID, a.RoleCode)
			}
			return nil, err
		}
		roles = append(roles, role)
		roleCodes = append(roleCodes, role.Code)
		for _, key := range role.InherentPermissions {
			base[key] = struct{}{}
		}
	}

	grants, err := e.grants.GrantsFor(ctx, []string{userID}, roleCodes)
	if err != nil {
		return nil, err
	}
	now := e.now()
	live := grants[:0:0]
	for _, g := range grants {
		if g.Expired(now) {
			continue
		}
		if scopeInChain(chain, g.Scope) {
			live = append(live, g)
		}
	}

	return &resolution{chain: chain, assignments: matched, roles: roles, base: base, grants: live}, nil
}

// decide applies the precedence rules to the resolved working set for one
// permission key: any DENY grant wins, then base-role membership or an ALLOW
// grant, then default deny.
func (res *resolution) decide(permissionKey string) (Decision, *Grant) {
	var denies, allows []Grant
	for _, g := range res.grants {
		if g.PermissionKey != permissionKey {
			continue
		}
		switch g.Effect {
		case EffectDeny:
			denies = append(denies, g)
		case EffectAllow:
			allows = append(allows, g)
		}
	}

	if len(denies) > 0 {
		winner := res.narrowest(denies)
		return Decision{Allowed: false, Rule: "deny:grant:" + winner.ID}, &winner
	}
	if _, ok := res.base[permissionKey]; ok {
		return Decision{Allowed: true, Rule: "allow:role:" + res.roleGranting(permissionKey)}, nil
	}
	if len(allows) > 0 {
		winner := res.narrowest(allows)
		return Decision{Allowed: true, Rule: "allow:grant:" + winner.ID}, nil
	}
	return Decision{Allowed: false, Rule: "default-deny"}, nil
}

// narrowest picks the deciding grant: closest to the queried scope, ties
// broken by newest creation time, then highest id, so the answer is
// deterministic.
func (res *resolution) narrowest(grants []Grant) Grant {
	depth := func(g Grant) int {
		for i, n := range res.chain {
			if n == g.Scope {
				return i
			}
		}
		return len(res.chain)
	}
	winner := grants[0]
	for _, g := range grants[1:] {
		dg, dw := depth(g), depth(winner)
		switch {
		case dg < dw:
			winner = g
		case dg == dw && g.CreatedAt.After(winner.CreatedAt):
			winner = g
		case dg == dw && g.CreatedAt.Equal(winner.CreatedAt) && g.ID > winner.ID:
			winner = g
		}
	}
	return winner
}

// roleGranting names the first resolved role carrying the permission, in
// assignment order, so the deciding rule is stable across calls.
func (res *resolution) roleGranting(permissionKey string) string {
	for _, r := range res.roles {
		for _, key := range r.InherentPermissions {
			if key == permissionKey {
				return r.Code
			}
		}
	}
	return ""
}

func (e *Engine) ruleKind(d Decision) string {
	switch {
	case strings.HasPrefix(d.Rule, "deny:grant:"):
		return RuleDenyGrant
	case strings.HasPrefix(d.Rule, "allow:role:"):
		return RuleRole
	case strings.HasPrefix(d.Rule, "allow:grant:"):
		return RuleAllowGrant
	default:
		return RuleDefaultDeny
	}
}

// HasPermission answers "can user U do permission P at scope S". A deny is a
// first-class result; only unknown permission keys and malformed scope data
// produce errors.
func (e *Engine) HasPermission(ctx context.Context, userID, permissionKey string, scope ScopeNode) (Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Decision{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	permissionKey = strings.TrimSpace(permissionKey)
	if _, err := e.catalog.GetPermission(ctx, permissionKey); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{}, fmt.Errorf("%w: %s", ErrUnknownPermission, permissionKey)
		}
		return Decision{}, err
	}

	res, err := e.resolve(ctx, userID, scope)
	if err != nil {
		return Decision{}, err
	}
	decision, denyGrant := res.decide(permissionKey)

	if e.observe != nil {
		e.observe(decision.Allowed, e.ruleKind(decision))
	}
	if denyGrant != nil && e.audit != nil {
		entry := AuditEntry{
			Actor:        userID,
			Action:       "authz.decision.deny_override",
			TargetEntity: "grant:" + denyGrant.ID,
			After: map[string]string{
				"permission": permissionKey,
				"scope":      scope.String(),
				"reason":     denyGrant.Reason,
			},
			CreatedAt: e.now().UTC(),
		}
		if err := e.audit.Record(ctx, entry); err != nil {
			return Decision{}, fmt.Errorf("record deny decision: %w", err)
		}
	}
	return decision, nil
}

// EffectivePermissions returns every permission key the user holds at the
// scope, computed from one resolution pass so the answer agrees with
// per-key HasPermission calls.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string, scope ScopeNode) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	perms, err := e.catalog.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	res, err := e.resolve(ctx, userID, scope)
	if err != nil {
		return nil, err
	}

	var effective []string
	for _, p := range perms {
		if decision, _ := res.decide(p.Key); decision.Allowed {
			effective = append(effective, p.Key)
		}
	}
	sort.Strings(effective)
	return effective, nil
}

// RoleRankAtLeast is the legacy coarse check: true iff the user holds an
// assignment at the scope or one of its ancestors whose role rank meets the
// required role's rank. It is a convenience approximation built from the same
// primitives as HasPermission and must never be used to override a DENY.
func (e *Engine) RoleRankAtLeast(ctx context.Context, userID string, scope ScopeNode, requiredRoleCode string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	required, err := e.catalog.GetRole(ctx, requiredRoleCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrUnknownRole, requiredRoleCode)
		}
		return false, err
	}

	chain, err := e.graph.Ancestors(ctx, scope)
	if err != nil {
		return false, err
	}
	assignments, err := e.assignments.AssignmentsFor(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		if !scopeInChain(chain, a.Scope) {
			continue
		}
		role, err := e.catalog.GetRole(ctx, a.RoleCode)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, fmt.Errorf("%w: assignment %s references role %s", ErrUnknownRole, a.ID, a.RoleCode)
			}
			return false, err
		}
		if role.Rank >= required.Rank {
			return true, nil
		}
	}
	return false, nil
}
