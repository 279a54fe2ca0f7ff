package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"paylane.org/internal/authz"
)

var _ authz.CatalogStore = (*Store)(nil)

func (s *Store) GetRole(ctx context.Context, code string) (authz.Role, error) {
	if s.db == nil {
		return authz.Role{}, errors.New("database connection unavailable")
	}
	var (
		role     authz.Role
		tier     string
		rawPerms []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select code, tier, rank, inherent_permissions, created_at
		from roles
		where code = $1
	`, code).Scan(&role.Code, &tier, &role.Rank, &rawPerms, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Role{}, fmt.Errorf("%w: role %s", authz.ErrNotFound, code)
	}
	if err != nil {
		return authz.Role{}, err
	}
	role.Tier = authz.RoleTier(tier)
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &role.InherentPermissions); err != nil {
			return authz.Role{}, fmt.Errorf("decode inherent_permissions: %w", err)
		}
	}
	return role, nil
}

func (s *Store) GetPermission(ctx context.Context, key string) (authz.Permission, error) {
	if s.db == nil {
		return authz.Permission{}, errors.New("database connection unavailable")
	}
	var perm authz.Permission
	err := s.db.QueryRowContext(ctx, `
		select key, category, created_at
		from permissions
		where key = $1
	`, key).Scan(&perm.Key, &perm.Category, &perm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Permission{}, fmt.Errorf("%w: permission %s", authz.ErrNotFound, key)
	}
	if err != nil {
		return authz.Permission{}, err
	}
	return perm, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]authz.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select code, tier, rank, inherent_permissions, created_at
		from roles
		order by rank desc, code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []authz.Role
	for rows.Next() {
		var (
			role     authz.Role
			tier     string
			rawPerms []byte
		)
		if err := rows.Scan(&role.Code, &tier, &role.Rank, &rawPerms, &role.CreatedAt); err != nil {
			return nil, err
		}
		role.Tier = authz.RoleTier(tier)
		if len(rawPerms) > 0 {
			if err := json.Unmarshal(rawPerms, &role.InherentPermissions); err != nil {
				return nil, err
			}
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]authz.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select key, category, created_at
		from permissions
		order by key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []authz.Permission
	for rows.Next() {
		var perm authz.Permission
		if err := rows.Scan(&perm.Key, &perm.Category, &perm.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) CreateRole(ctx context.Context, role authz.Role) (authz.Role, error) {
	if s.db == nil {
		return authz.Role{}, errors.New("database connection unavailable")
	}
	rawPerms, err := json.Marshal(role.InherentPermissions)
	if err != nil {
		return authz.Role{}, fmt.Errorf("marshal inherent_permissions: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (code, tier, rank, inherent_permissions)
		values ($1, $2, $3, $4)
		returning created_at
	`, role.Code, string(role.Tier), role.Rank, rawPerms)
	if err := row.Scan(&role.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.Role{}, fmt.Errorf("%w: role %s", authz.ErrConflict, role.Code)
		}
		return authz.Role{}, err
	}
	return role, nil
}

func (s *Store) CreatePermission(ctx context.Context, perm authz.Permission) (authz.Permission, error) {
	if s.db == nil {
		return authz.Permission{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into permissions (key, category)
		values ($1, $2)
		returning created_at
	`, perm.Key, perm.Category)
	if err := row.Scan(&perm.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.Permission{}, fmt.Errorf("%w: permission %s", authz.ErrConflict, perm.Key)
		}
		return authz.Permission{}, err
	}
	return perm, nil
}
