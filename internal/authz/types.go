package authz

import "time"

// Assignment durably binds a role to a user at a scope. A user may hold many
// assignments; the same role may be held at several scopes.
type Assignment struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	RoleCode   string    `json:"role_code"`
	Scope      ScopeNode `json:"scope"`
	AssignedBy string    `json:"assigned_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// GrantEffect is the direction of an explicit override.
type GrantEffect string

const (
	EffectAllow GrantEffect = "ALLOW"
	EffectDeny  GrantEffect = "DENY"
)

// Grant is an explicit permission-level override attached to one concrete
// tenancy object. Exactly one of SubjectUserID/SubjectRoleCode is set. A nil
// ValidUntil means no expiry; an expired grant is treated as absent at
// resolution time without being deleted.
type Grant struct {
	ID              string      `json:"id"`
	SubjectUserID   string      `json:"subject_user_id,omitempty"`
	SubjectRoleCode string      `json:"subject_role_code,omitempty"`
	PermissionKey   string      `json:"permission_key"`
	Scope           ScopeNode   `json:"scope"`
	Effect          GrantEffect `json:"effect"`
	Reason          string      `json:"reason"`
	CreatedBy       string      `json:"created_by"`
	CreatedAt       time.Time   `json:"created_at"`
	ValidUntil      *time.Time  `json:"valid_until,omitempty"`
}

// Expired reports whether the grant is past its validity at the given time.
func (g Grant) Expired(now time.Time) bool {
	return g.ValidUntil != nil && g.ValidUntil.Before(now)
}

// AuditEntry is an append-only record of a store mutation or a deny-by-
// override decision. Before/After hold JSON-ish snapshots of the entity.
type AuditEntry struct {
	ID           string            `json:"id"`
	Actor        string            `json:"actor"`
	Action       string            `json:"action"`
	TargetEntity string            `json:"target_entity"`
	Before       map[string]string `json:"before,omitempty"`
	After        map[string]string `json:"after,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}
