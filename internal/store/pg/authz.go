package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"paylane.org/internal/authz"
)

var (
	_ authz.AssignmentStore = (*Store)(nil)
	_ authz.GrantStore      = (*Store)(nil)
)

func scanScope(scopeType string, scopeID sql.NullString) authz.ScopeNode {
	node := authz.ScopeNode{Type: authz.ScopeType(scopeType)}
	if scopeID.Valid {
		node.ID = scopeID.String
	}
	return node
}

func (s *Store) AssignmentsFor(ctx context.Context, userID string) ([]authz.Assignment, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, role_code, scope_type, scope_id, assigned_by, created_at
		from assignments
		where user_id = $1
		order by id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.Assignment
	for rows.Next() {
		var (
			a         authz.Assignment
			scopeType string
			scopeID   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleCode, &scopeType, &scopeID, &a.AssignedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Scope = scanScope(scopeType, scopeID)
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (authz.Assignment, error) {
	if s.db == nil {
		return authz.Assignment{}, errors.New("database connection unavailable")
	}
	var (
		a         authz.Assignment
		scopeType string
		scopeID   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, role_code, scope_type, scope_id, assigned_by, created_at
		from assignments
		where id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.RoleCode, &scopeType, &scopeID, &a.AssignedBy, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Assignment{}, fmt.Errorf("%w: assignment %s", authz.ErrNotFound, id)
	}
	if err != nil {
		return authz.Assignment{}, err
	}
	a.Scope = scanScope(scopeType, scopeID)
	return a, nil
}

func (s *Store) CreateAssignment(ctx context.Context, a authz.Assignment) (authz.Assignment, error) {
	if s.db == nil {
		return authz.Assignment{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into assignments (id, user_id, role_code, scope_type, scope_id, assigned_by)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, a.ID, a.UserID, a.RoleCode, string(a.Scope.Type), nullIfEmpty(a.Scope.ID), a.AssignedBy)
	if err := row.Scan(&a.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return authz.Assignment{}, fmt.Errorf("%w: assignment %s", authz.ErrConflict, a.ID)
			case pgErrForeignKeyViolation:
				return authz.Assignment{}, fmt.Errorf("%w: role %s", authz.ErrNotFound, a.RoleCode)
			}
		}
		return authz.Assignment{}, err
	}
	return a, nil
}

// RevokeAssignment deletes the row if present. Zero rows affected is the
// idempotent-success case, not an error.
func (s *Store) RevokeAssignment(ctx context.Context, id string) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from assignments where id = $1`, id)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff > 0, nil
}

const grantColumns = `id, subject_user_id, subject_role_code, permission_key, scope_type, scope_id, effect, reason, created_by, created_at, valid_until`

func scanGrant(scan func(dest ...any) error) (authz.Grant, error) {
	var (
		g           authz.Grant
		subjectUser sql.NullString
		subjectRole sql.NullString
		scopeType   string
		scopeID     sql.NullString
		effect      string
		validUntil  sql.NullTime
	)
	if err := scan(&g.ID, &subjectUser, &subjectRole, &g.PermissionKey, &scopeType, &scopeID, &effect, &g.Reason, &g.CreatedBy, &g.CreatedAt, &validUntil); err != nil {
		return authz.Grant{}, err
	}
	if subjectUser.Valid {
		g.SubjectUserID = subjectUser.String
	}
	if subjectRole.Valid {
		g.SubjectRoleCode = subjectRole.String
	}
	g.Scope = scanScope(scopeType, scopeID)
	g.Effect = authz.GrantEffect(effect)
	if validUntil.Valid {
		t := validUntil.Time
		g.ValidUntil = &t
	}
	return g, nil
}

// GrantsFor fetches every grant whose subject is one of the user ids or role
// codes. Expired grants are returned as-is; expiry is the engine's concern.
func (s *Store) GrantsFor(ctx context.Context, userIDs []string, roleCodes []string) ([]authz.Grant, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if len(userIDs) == 0 && len(roleCodes) == 0 {
		return nil, nil
	}

	var (
		clauses []string
		args    []any
		idx     = 1
	)
	if len(userIDs) > 0 {
		ph := make([]string, len(userIDs))
		for i, id := range userIDs {
			ph[i] = fmt.Sprintf("$%d", idx)
			args = append(args, id)
			idx++
		}
		clauses = append(clauses, fmt.Sprintf("subject_user_id in (%s)", strings.Join(ph, ", ")))
	}
	if len(roleCodes) > 0 {
		ph := make([]string, len(roleCodes))
		for i, code := range roleCodes {
			ph[i] = fmt.Sprintf("$%d", idx)
			args = append(args, code)
			idx++
		}
		clauses = append(clauses, fmt.Sprintf("subject_role_code in (%s)", strings.Join(ph, ", ")))
	}

	query := fmt.Sprintf(`
		select %s
		from grants
		where %s
		order by id
	`, grantColumns, strings.Join(clauses, " or "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.Grant
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetGrant(ctx context.Context, id string) (authz.Grant, error) {
	if s.db == nil {
		return authz.Grant{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select %s
		from grants
		where id = $1
	`, grantColumns), id)
	g, err := scanGrant(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Grant{}, fmt.Errorf("%w: grant %s", authz.ErrNotFound, id)
	}
	if err != nil {
		return authz.Grant{}, err
	}
	return g, nil
}

func (s *Store) CreateGrant(ctx context.Context, g authz.Grant) (authz.Grant, error) {
	if s.db == nil {
		return authz.Grant{}, errors.New("database connection unavailable")
	}
	var validUntil sql.NullTime
	if g.ValidUntil != nil {
		validUntil = sql.NullTime{Time: *g.ValidUntil, Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		insert into grants (id, subject_user_id, subject_role_code, permission_key, scope_type, scope_id, effect, reason, created_by, valid_until)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning created_at
	`, g.ID, nullIfEmpty(g.SubjectUserID), nullIfEmpty(g.SubjectRoleCode), g.PermissionKey,
		string(g.Scope.Type), nullIfEmpty(g.Scope.ID), string(g.Effect), g.Reason, g.CreatedBy, validUntil)
	if err := row.Scan(&g.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return authz.Grant{}, fmt.Errorf("%w: grant %s", authz.ErrConflict, g.ID)
			case pgErrForeignKeyViolation:
				return authz.Grant{}, fmt.Errorf("%w: permission %s", authz.ErrNotFound, g.PermissionKey)
			}
		}
		return authz.Grant{}, err
	}
	return g, nil
}

func (s *Store) RevokeGrant(ctx context.Context, id string) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from grants where id = $1`, id)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff > 0, nil
}
