package authz

import "context"

// AssignmentStore persists (user, role, scope) bindings. Point writes are
// atomic per entity. Revoke of a missing id is an idempotent no-op and
// reports whether anything was removed.
type AssignmentStore interface {
	AssignmentsFor(ctx context.Context, userID string) ([]Assignment, error)
	GetAssignment(ctx context.Context, id string) (Assignment, error)
	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	RevokeAssignment(ctx context.Context, id string) (bool, error)
}

// GrantStore persists explicit ALLOW/DENY overrides. GrantsFor returns every
// grant whose subject is one of the given user ids or role codes, including
// expired ones; expiry is applied lazily by the engine.
type GrantStore interface {
	GrantsFor(ctx context.Context, userIDs []string, roleCodes []string) ([]Grant, error)
	GetGrant(ctx context.Context, id string) (Grant, error)
	CreateGrant(ctx context.Context, g Grant) (Grant, error)
	RevokeGrant(ctx context.Context, id string) (bool, error)
}

// AuditSink receives audit entries. Record must complete before the mutation
// that produced the entry reports success to its caller.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}
