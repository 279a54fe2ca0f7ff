package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// IDSource mints identifiers for newly created entities.
type IDSource func() string

// AdminService guards every assignment/grant mutation behind the engine's own
// authorization check and writes a synchronous audit entry for each mutation.
// A failed pre-check leaves the stores and the audit log untouched.
type AdminService struct {
	engine      *Engine
	catalog     *Catalog
	graph       *Graph
	assignments AssignmentStore
	grants      GrantStore
	audit       AuditSink
	newID       IDSource
	now         func() time.Time
}

// AdminOption configures the admin service.
type AdminOption func(*AdminService)

// WithAdminClock overrides the timestamp source.
func WithAdminClock(now func() time.Time) AdminOption {
	return func(s *AdminService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAdminService constructs the guarded mutation service.
func NewAdminService(engine *Engine, catalog *Catalog, graph *Graph, assignments AssignmentStore, grants GrantStore, audit AuditSink, newID IDSource, opts ...AdminOption) (*AdminService, error) {
	if engine == nil || catalog == nil || graph == nil || assignments == nil || grants == nil {
		return nil, fmt.Errorf("%w: engine, catalog, graph and stores are required", ErrInvalidInput)
	}
	if audit == nil {
		return nil, fmt.Errorf("%w: audit sink is required", ErrInvalidInput)
	}
	if newID == nil {
		return nil, fmt.Errorf("%w: id source is required", ErrInvalidInput)
	}
	s := &AdminService{
		engine:      engine,
		catalog:     catalog,
		graph:       graph,
		assignments: assignments,
		grants:      grants,
		audit:       audit,
		newID:       newID,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// authorize runs the engine pre-check for an administrative action at the
// target scope and converts a deny into ErrForbidden. SELF targets sit
// outside the tenancy tree, so mutating them is a platform-level action
// checked at GLOBAL.
func (s *AdminService) authorize(ctx context.Context, actorID, permissionKey string, scope ScopeNode) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	if scope.Type == ScopeSelf {
		scope = GlobalScope
	}
	decision, err := s.engine.HasPermission(ctx, actorID, permissionKey, scope)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return fmt.Errorf("%w: %s requires %s at %s", ErrForbidden, actorID, permissionKey, scope)
	}
	return nil
}

// CreateAssignment binds roleCode to userID at scope on behalf of actorID.
func (s *AdminService) CreateAssignment(ctx context.Context, actorID, userID, roleCode string, scope ScopeNode) (Assignment, error) {
	userID = strings.TrimSpace(userID)
	roleCode = strings.TrimSpace(roleCode)
	if userID == "" || roleCode == "" {
		return Assignment{}, fmt.Errorf("%w: user_id and role_code are required", ErrInvalidInput)
	}
	if err := scope.Validate(); err != nil {
		return Assignment{}, err
	}

	role, err := s.catalog.GetRole(ctx, roleCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Assignment{}, fmt.Errorf("%w: %s", ErrUnknownRole, roleCode)
		}
		return Assignment{}, err
	}
	if !role.Permits(scope.Type) {
		return Assignment{}, fmt.Errorf("%w: role %s (tier %s) cannot be assigned at %s", ErrScopeTierMismatch, role.Code, role.Tier, scope.Type)
	}
	// Verifies the tenancy object exists; a dangling scope must fail here,
	// not during later resolution.
	if _, err := s.graph.Ancestors(ctx, scope); err != nil {
		return Assignment{}, err
	}
	if err := s.authorize(ctx, actorID, PermManageRoles, scope); err != nil {
		return Assignment{}, err
	}

	created, err := s.assignments.CreateAssignment(ctx, Assignment{
		ID:         s.newID(),
		UserID:     userID,
		RoleCode:   role.Code,
		Scope:      scope,
		AssignedBy: strings.TrimSpace(actorID),
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return Assignment{}, err
	}
	if err := s.audit.Record(ctx, AuditEntry{
		Actor:        strings.TrimSpace(actorID),
		Action:       "authz.assignment.create",
		TargetEntity: "assignment:" + created.ID,
		After: map[string]string{
			"user_id":   created.UserID,
			"role_code": created.RoleCode,
			"scope":     created.Scope.String(),
		},
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return Assignment{}, fmt.Errorf("audit assignment create: %w", err)
	}
	return created, nil
}

// RevokeAssignment hard-deletes an assignment. Revoking an id that no longer
// exists is an idempotent no-op: the loser of a concurrent revoke race sees
// success, not an error.
func (s *AdminService) RevokeAssignment(ctx context.Context, actorID, assignmentID string) error {
	assignmentID = strings.TrimSpace(assignmentID)
	if assignmentID == "" {
		return fmt.Errorf("%w: assignment id is required", ErrInvalidInput)
	}
	existing, err := s.assignments.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.authorize(ctx, actorID, PermManageRoles, existing.Scope); err != nil {
		return err
	}

	// Audit precedes the hard delete so a revoked binding always leaves a
	// trace even if the delete races another revoke.
	if err := s.audit.Record(ctx, AuditEntry{
		Actor:        strings.TrimSpace(actorID),
		Action:       "authz.assignment.revoke",
		TargetEntity: "assignment:" + existing.ID,
		Before: map[string]string{
			"user_id":   existing.UserID,
			"role_code": existing.RoleCode,
			"scope":     existing.Scope.String(),
		},
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("audit assignment revoke: %w", err)
	}
	if _, err := s.assignments.RevokeAssignment(ctx, assignmentID); err != nil {
		return err
	}
	return nil
}

// GrantRequest carries the caller-supplied fields of a new grant.
type GrantRequest struct {
	SubjectUserID   string
	SubjectRoleCode string
	PermissionKey   string
	Scope           ScopeNode
	Effect          GrantEffect
	Reason          string
	ValidUntil      *time.Time
}

// CreateGrant records an explicit ALLOW/DENY override on behalf of actorID.
func (s *AdminService) CreateGrant(ctx context.Context, actorID string, req GrantRequest) (Grant, error) {
	req.SubjectUserID = strings.TrimSpace(req.SubjectUserID)
	req.SubjectRoleCode = strings.TrimSpace(req.SubjectRoleCode)
	if (req.SubjectUserID == "") == (req.SubjectRoleCode == "") {
		return Grant{}, fmt.Errorf("%w: exactly one of subject_user_id and subject_role_code is required", ErrInvalidInput)
	}
	if req.Effect != EffectAllow && req.Effect != EffectDeny {
		return Grant{}, fmt.Errorf("%w: effect must be ALLOW or DENY", ErrInvalidInput)
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return Grant{}, fmt.Errorf("%w: grant reason is required", ErrInvalidInput)
	}
	if err := req.Scope.Validate(); err != nil {
		return Grant{}, err
	}
	// Grants attach to concrete tenancy objects only.
	switch req.Scope.Type {
	case ScopeOrganization, ScopeCompany, ScopeProject:
	default:
		return Grant{}, fmt.Errorf("%w: grants cannot target %s scope", ErrInvalidInput, req.Scope.Type)
	}

	req.PermissionKey = strings.TrimSpace(req.PermissionKey)
	if _, err := s.catalog.GetPermission(ctx, req.PermissionKey); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Grant{}, fmt.Errorf("%w: %s", ErrUnknownPermission, req.PermissionKey)
		}
		return Grant{}, err
	}
	if req.SubjectRoleCode != "" {
		if _, err := s.catalog.GetRole(ctx, req.SubjectRoleCode); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Grant{}, fmt.Errorf("%w: %s", ErrUnknownRole, req.SubjectRoleCode)
			}
			return Grant{}, err
		}
	}
	if _, err := s.graph.Ancestors(ctx, req.Scope); err != nil {
		return Grant{}, err
	}
	if err := s.authorize(ctx, actorID, PermManageGrants, req.Scope); err != nil {
		return Grant{}, err
	}

	created, err := s.grants.CreateGrant(ctx, Grant{
		ID:              s.newID(),
		SubjectUserID:   req.SubjectUserID,
		SubjectRoleCode: req.SubjectRoleCode,
		PermissionKey:   req.PermissionKey,
		Scope:           req.Scope,
		Effect:          req.Effect,
		Reason:          req.Reason,
		CreatedBy:       strings.TrimSpace(actorID),
		CreatedAt:       s.now().UTC(),
		ValidUntil:      req.ValidUntil,
	})
	if err != nil {
		return Grant{}, err
	}
	if err := s.audit.Record(ctx, AuditEntry{
		Actor:        strings.TrimSpace(actorID),
		Action:       "authz.grant.create",
		TargetEntity: "grant:" + created.ID,
		After: map[string]string{
			"subject":    grantSubject(created),
			"permission": created.PermissionKey,
			"scope":      created.Scope.String(),
			"effect":     string(created.Effect),
			"reason":     created.Reason,
		},
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return Grant{}, fmt.Errorf("audit grant create: %w", err)
	}
	return created, nil
}

// RevokeGrant hard-deletes a grant with the same idempotency contract as
// RevokeAssignment.
func (s *AdminService) RevokeGrant(ctx context.Context, actorID, grantID string) error {
	grantID = strings.TrimSpace(grantID)
	if grantID == "" {
		return fmt.Errorf("%w: grant id is required", ErrInvalidInput)
	}
	existing, err := s.grants.GetGrant(ctx, grantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.authorize(ctx, actorID, PermManageGrants, existing.Scope); err != nil {
		return err
	}

	if err := s.audit.Record(ctx, AuditEntry{
		Actor:        strings.TrimSpace(actorID),
		Action:       "authz.grant.revoke",
		TargetEntity: "grant:" + existing.ID,
		Before: map[string]string{
			"subject":    grantSubject(existing),
			"permission": existing.PermissionKey,
			"scope":      existing.Scope.String(),
			"effect":     string(existing.Effect),
		},
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("audit grant revoke: %w", err)
	}
	if _, err := s.grants.RevokeGrant(ctx, grantID); err != nil {
		return err
	}
	return nil
}

func grantSubject(g Grant) string {
	if g.SubjectUserID != "" {
		return "user:" + g.SubjectUserID
	}
	return "role:" + g.SubjectRoleCode
}
