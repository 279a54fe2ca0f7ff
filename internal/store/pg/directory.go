package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"paylane.org/internal/authz"
)

var _ authz.Directory = (*Store)(nil)

// ParentOf resolves the containment edge for a company or project from the
// tenancy tables. A missing child row is a ScopeNotFound: the engine must
// halt rather than decide on dangling data.
func (s *Store) ParentOf(ctx context.Context, node authz.ScopeNode) (authz.ScopeNode, error) {
	if s.db == nil {
		return authz.ScopeNode{}, errors.New("database connection unavailable")
	}
	switch node.Type {
	case authz.ScopeCompany:
		var orgID string
		err := s.db.QueryRowContext(ctx, `
			select organization_id from companies where id = $1
		`, node.ID).Scan(&orgID)
		if errors.Is(err, sql.ErrNoRows) {
			return authz.ScopeNode{}, fmt.Errorf("%w: company %s", authz.ErrScopeNotFound, node.ID)
		}
		if err != nil {
			return authz.ScopeNode{}, err
		}
		return authz.OrganizationScope(orgID), nil
	case authz.ScopeProject:
		var companyID string
		err := s.db.QueryRowContext(ctx, `
			select company_id from projects where id = $1
		`, node.ID).Scan(&companyID)
		if errors.Is(err, sql.ErrNoRows) {
			return authz.ScopeNode{}, fmt.Errorf("%w: project %s", authz.ErrScopeNotFound, node.ID)
		}
		if err != nil {
			return authz.ScopeNode{}, err
		}
		return authz.CompanyScope(companyID), nil
	default:
		return authz.ScopeNode{}, fmt.Errorf("%w: %s has no directory parent", authz.ErrScopeNotFound, node)
	}
}
