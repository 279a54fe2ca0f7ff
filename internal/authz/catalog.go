package authz

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RoleTier bounds the scope types a role may legally be assigned at.
type RoleTier string

const (
	TierPlatform     RoleTier = "PLATFORM"
	TierOrganization RoleTier = "ORGANIZATION"
	TierCompany      RoleTier = "COMPANY"
	TierProject      RoleTier = "PROJECT"
	TierSelf         RoleTier = "SELF"
)

// tierBreadth orders tiers from narrowest to broadest; rank values are
// expected to be monotonic with this order.
var tierBreadth = map[RoleTier]int{
	TierSelf:         0,
	TierProject:      1,
	TierCompany:      2,
	TierOrganization: 3,
	TierPlatform:     4,
}

// ScopeTypeFor maps a tier to the single scope type it permits assignments at.
func (t RoleTier) ScopeTypeFor() (ScopeType, error) {
	switch t {
	case TierPlatform:
		return ScopeGlobal, nil
	case TierOrganization:
		return ScopeOrganization, nil
	case TierCompany:
		return ScopeCompany, nil
	case TierProject:
		return ScopeProject, nil
	case TierSelf:
		return ScopeSelf, nil
	default:
		return "", fmt.Errorf("%w: unknown role tier %q", ErrInvalidInput, t)
	}
}

// Permission is a flat, fine-grained capability key. No hierarchy exists
// among permissions; hierarchy lives in scope and role tiers only.
type Permission struct {
	Key       string    `json:"key"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Role is catalog data: a named bundle of inherent permissions bound to a
// tier, with a rank used only by the coarse at-least-this-role check.
type Role struct {
	Code                string    `json:"code"`
	Tier                RoleTier  `json:"tier"`
	Rank                int       `json:"rank"`
	InherentPermissions []string  `json:"inherent_permissions"`
	CreatedAt           time.Time `json:"created_at"`
}

// Permits reports whether the role's tier allows assignment at the scope type.
func (r Role) Permits(st ScopeType) bool {
	allowed, err := r.Tier.ScopeTypeFor()
	if err != nil {
		return false
	}
	return allowed == st
}

// CatalogStore persists the role/permission catalog. Read-mostly; reads must
// return ErrNotFound (wrapped) for missing codes/keys, writes must reject
// duplicates with ErrConflict.
type CatalogStore interface {
	GetRole(ctx context.Context, code string) (Role, error)
	GetPermission(ctx context.Context, key string) (Permission, error)
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
}

// RankWarner receives non-fatal catalog validation findings. Rank ties and
// inversions across tiers are legal but discouraged.
type RankWarner func(format string, args ...any)

// Catalog wraps a CatalogStore with validation in the style of the service
// layer: scrub input, enforce invariants, delegate.
type Catalog struct {
	store CatalogStore
	warn  RankWarner
}

// NewCatalog constructs a validated catalog facade.
func NewCatalog(store CatalogStore, warn RankWarner) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: catalog store is required", ErrInvalidInput)
	}
	if warn == nil {
		warn = func(string, ...any) {}
	}
	return &Catalog{store: store, warn: warn}, nil
}

func (c *Catalog) GetRole(ctx context.Context, code string) (Role, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Role{}, fmt.Errorf("%w: role code is required", ErrInvalidInput)
	}
	return c.store.GetRole(ctx, code)
}

func (c *Catalog) GetPermission(ctx context.Context, key string) (Permission, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Permission{}, fmt.Errorf("%w: permission key is required", ErrInvalidInput)
	}
	return c.store.GetPermission(ctx, key)
}

func (c *Catalog) ListRoles(ctx context.Context) ([]Role, error) {
	return c.store.ListRoles(ctx)
}

func (c *Catalog) ListPermissions(ctx context.Context) ([]Permission, error) {
	return c.store.ListPermissions(ctx)
}

// CreatePermission registers a new permission key. Keys are flat strings,
// unique across the catalog.
func (c *Catalog) CreatePermission(ctx context.Context, key, category string) (Permission, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Permission{}, fmt.Errorf("%w: permission key is required", ErrInvalidInput)
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return Permission{}, fmt.Errorf("%w: permission category is required", ErrInvalidInput)
	}
	return c.store.CreatePermission(ctx, Permission{Key: key, Category: category})
}

// CreateRole registers a new role. Uniqueness of the code is a hard
// requirement; a rank that breaks monotonicity with tier breadth only logs a
// warning, since administrators may legitimately flatten ranks.
func (c *Catalog) CreateRole(ctx context.Context, role Role) (Role, error) {
	role.Code = strings.TrimSpace(role.Code)
	if role.Code == "" {
		return Role{}, fmt.Errorf("%w: role code is required", ErrInvalidInput)
	}
	if _, ok := tierBreadth[role.Tier]; !ok {
		return Role{}, fmt.Errorf("%w: unknown role tier %q", ErrInvalidInput, role.Tier)
	}
	role.InherentPermissions = dedupeKeys(role.InherentPermissions)
	for _, key := range role.InherentPermissions {
		if _, err := c.store.GetPermission(ctx, key); err != nil {
			return Role{}, fmt.Errorf("%w: inherent permission %s", ErrUnknownPermission, key)
		}
	}

	existing, err := c.store.ListRoles(ctx)
	if err != nil {
		return Role{}, err
	}
	for _, other := range existing {
		if tierBreadth[other.Tier] < tierBreadth[role.Tier] && other.Rank >= role.Rank {
			c.warn("role %s (tier %s, rank %d) does not outrank narrower role %s (tier %s, rank %d)",
				role.Code, role.Tier, role.Rank, other.Code, other.Tier, other.Rank)
		}
		if tierBreadth[other.Tier] > tierBreadth[role.Tier] && other.Rank <= role.Rank {
			c.warn("role %s (tier %s, rank %d) outranks broader role %s (tier %s, rank %d)",
				role.Code, role.Tier, role.Rank, other.Code, other.Tier, other.Rank)
		}
	}
	return c.store.CreateRole(ctx, role)
}

func dedupeKeys(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
