package authz

import "errors"

// Programming and data errors. A deny decision is never one of these: deny is
// a first-class result of the engine, these indicate malformed input or
// corrupted tenancy data.
var (
	ErrInvalidInput      = errors.New("authz: invalid input")
	ErrNotFound          = errors.New("authz: not found")
	ErrConflict          = errors.New("authz: resource conflict")
	ErrUnknownPermission = errors.New("authz: unknown permission")
	ErrUnknownRole       = errors.New("authz: unknown role")
	ErrScopeTierMismatch = errors.New("authz: role tier does not permit scope")
	ErrScopeNotFound     = errors.New("authz: scope not found")
	ErrForbidden         = errors.New("authz: forbidden")
)
