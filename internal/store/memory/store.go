// Package memory provides in-process store adapters for the authorization
// engine: catalog, assignments, grants, tenancy directory and audit log.
// Used by tests and by the API server when no database DSN is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"paylane.org/internal/authz"
)

// Store implements every persistence interface the engine consumes, guarded
// by a single RWMutex: reads are concurrent, point writes are atomic per
// entity.
type Store struct {
	mu sync.RWMutex

	roles       map[string]authz.Role
	permissions map[string]authz.Permission
	permOrder   []string
	assignments map[string]authz.Assignment
	grants      map[string]authz.Grant

	companyOrg     map[string]string
	projectCompany map[string]string

	audit []authz.AuditEntry
}

var (
	_ authz.CatalogStore    = (*Store)(nil)
	_ authz.AssignmentStore = (*Store)(nil)
	_ authz.GrantStore      = (*Store)(nil)
	_ authz.Directory       = (*Store)(nil)
	_ authz.AuditSink       = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		roles:          make(map[string]authz.Role),
		permissions:    make(map[string]authz.Permission),
		assignments:    make(map[string]authz.Assignment),
		grants:         make(map[string]authz.Grant),
		companyOrg:     make(map[string]string),
		projectCompany: make(map[string]string),
	}
}

// --- tenancy directory ---

// AddCompany registers a company under an organization.
func (s *Store) AddCompany(companyID, organizationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companyOrg[companyID] = organizationID
}

// AddProject registers a project under a company.
func (s *Store) AddProject(projectID, companyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectCompany[projectID] = companyID
}

func (s *Store) ParentOf(_ context.Context, node authz.ScopeNode) (authz.ScopeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch node.Type {
	case authz.ScopeCompany:
		orgID, ok := s.companyOrg[node.ID]
		if !ok {
			return authz.ScopeNode{}, fmt.Errorf("%w: company %s", authz.ErrScopeNotFound, node.ID)
		}
		return authz.OrganizationScope(orgID), nil
	case authz.ScopeProject:
		companyID, ok := s.projectCompany[node.ID]
		if !ok {
			return authz.ScopeNode{}, fmt.Errorf("%w: project %s", authz.ErrScopeNotFound, node.ID)
		}
		return authz.CompanyScope(companyID), nil
	default:
		return authz.ScopeNode{}, fmt.Errorf("%w: %s has no directory parent", authz.ErrScopeNotFound, node)
	}
}

// --- catalog ---

func (s *Store) GetRole(_ context.Context, code string) (authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[code]
	if !ok {
		return authz.Role{}, fmt.Errorf("%w: role %s", authz.ErrNotFound, code)
	}
	return role, nil
}

func (s *Store) GetPermission(_ context.Context, key string) (authz.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perm, ok := s.permissions[key]
	if !ok {
		return authz.Permission{}, fmt.Errorf("%w: permission %s", authz.ErrNotFound, key)
	}
	return perm, nil
}

func (s *Store) ListRoles(_ context.Context) ([]authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles := make([]authz.Role, 0, len(s.roles))
	for _, r := range s.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Code < roles[j].Code })
	return roles, nil
}

func (s *Store) ListPermissions(_ context.Context) ([]authz.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms := make([]authz.Permission, 0, len(s.permOrder))
	for _, key := range s.permOrder {
		perms = append(perms, s.permissions[key])
	}
	return perms, nil
}

func (s *Store) CreateRole(_ context.Context, role authz.Role) (authz.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roles[role.Code]; exists {
		return authz.Role{}, fmt.Errorf("%w: role %s", authz.ErrConflict, role.Code)
	}
	s.roles[role.Code] = role
	return role, nil
}

func (s *Store) CreatePermission(_ context.Context, perm authz.Permission) (authz.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.permissions[perm.Key]; exists {
		return authz.Permission{}, fmt.Errorf("%w: permission %s", authz.ErrConflict, perm.Key)
	}
	s.permissions[perm.Key] = perm
	s.permOrder = append(s.permOrder, perm.Key)
	return perm, nil
}

// --- assignments ---

func (s *Store) AssignmentsFor(_ context.Context, userID string) ([]authz.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []authz.Assignment
	for _, a := range s.assignments {
		if a.UserID == userID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetAssignment(_ context.Context, id string) (authz.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return authz.Assignment{}, fmt.Errorf("%w: assignment %s", authz.ErrNotFound, id)
	}
	return a, nil
}

func (s *Store) CreateAssignment(_ context.Context, a authz.Assignment) (authz.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(a.ID) == "" {
		return authz.Assignment{}, fmt.Errorf("%w: assignment id is required", authz.ErrInvalidInput)
	}
	if _, exists := s.assignments[a.ID]; exists {
		return authz.Assignment{}, fmt.Errorf("%w: assignment %s", authz.ErrConflict, a.ID)
	}
	s.assignments[a.ID] = a
	return a, nil
}

func (s *Store) RevokeAssignment(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assignments[id]; !exists {
		return false, nil
	}
	delete(s.assignments, id)
	return true, nil
}

// --- grants ---

func (s *Store) GrantsFor(_ context.Context, userIDs []string, roleCodes []string) ([]authz.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		users[id] = struct{}{}
	}
	roles := make(map[string]struct{}, len(roleCodes))
	for _, code := range roleCodes {
		roles[code] = struct{}{}
	}

	var result []authz.Grant
	for _, g := range s.grants {
		if g.SubjectUserID != "" {
			if _, ok := users[g.SubjectUserID]; ok {
				result = append(result, g)
			}
			continue
		}
		if _, ok := roles[g.SubjectRoleCode]; ok {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetGrant(_ context.Context, id string) (authz.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return authz.Grant{}, fmt.Errorf("%w: grant %s", authz.ErrNotFound, id)
	}
	return g, nil
}

func (s *Store) CreateGrant(_ context.Context, g authz.Grant) (authz.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(g.ID) == "" {
		return authz.Grant{}, fmt.Errorf("%w: grant id is required", authz.ErrInvalidInput)
	}
	if _, exists := s.grants[g.ID]; exists {
		return authz.Grant{}, fmt.Errorf("%w: grant %s", authz.ErrConflict, g.ID)
	}
	s.grants[g.ID] = g
	return g, nil
}

func (s *Store) RevokeGrant(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.grants[id]; !exists {
		return false, nil
	}
	delete(s.grants, id)
	return true, nil
}

// --- audit ---

func (s *Store) Record(_ context.Context, entry authz.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// AuditEntries returns a copy of the recorded entries, oldest first.
func (s *Store) AuditEntries() []authz.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// Seed loads the builtin catalog into the store, mirroring the SQL seeds used
// against PostgreSQL.
func (s *Store) Seed(ctx context.Context) error {
	for _, p := range authz.BuiltinPermissions {
		if _, err := s.CreatePermission(ctx, p); err != nil {
			return err
		}
	}
	for _, r := range authz.BuiltinRoles {
		if _, err := s.CreateRole(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
