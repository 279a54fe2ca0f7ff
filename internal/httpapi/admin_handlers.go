package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"paylane.org/internal/auth"
	"paylane.org/internal/authz"
)

// actor resolves the verified subject performing an administrative call.
func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	subjectID, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return subjectID, true
}

type createAssignmentRequest struct {
	UserID   string       `json:"user_id"`
	RoleCode string       `json:"role_code"`
	Scope    scopePayload `json:"scope"`
}

func (a *API) handleAssignments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req createAssignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	scope, err := req.Scope.toNode()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.admin.CreateAssignment(r.Context(), actorID, req.UserID, req.RoleCode, scope)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/assignments/%s", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleAssignmentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/assignments/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err := a.admin.RevokeAssignment(r.Context(), actorID, id); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createGrantRequest struct {
	SubjectUserID   string       `json:"subject_user_id,omitempty"`
	SubjectRoleCode string       `json:"subject_role_code,omitempty"`
	Permission      string       `json:"permission"`
	Scope           scopePayload `json:"scope"`
	Effect          string       `json:"effect"`
	Reason          string       `json:"reason"`
	ValidUntil      *time.Time   `json:"valid_until,omitempty"`
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req createGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	scope, err := req.Scope.toNode()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.admin.CreateGrant(r.Context(), actorID, authz.GrantRequest{
		SubjectUserID:   req.SubjectUserID,
		SubjectRoleCode: req.SubjectRoleCode,
		PermissionKey:   req.Permission,
		Scope:           scope,
		Effect:          authz.GrantEffect(strings.ToUpper(strings.TrimSpace(req.Effect))),
		Reason:          req.Reason,
		ValidUntil:      req.ValidUntil,
	})
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/grants/%s", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleGrantByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/grants/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err := a.admin.RevokeGrant(r.Context(), actorID, id); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createRoleRequest struct {
	Code                string   `json:"code"`
	Tier                string   `json:"tier"`
	Rank                int      `json:"rank"`
	InherentPermissions []string `json:"inherent_permissions"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		roles, err := a.catalog.ListRoles(r.Context())
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		actorID, ok := actor(w, r)
		if !ok {
			return
		}
		if !a.requireCatalogAdmin(w, r, actorID) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.catalog.CreateRole(r.Context(), authz.Role{
			Code:                req.Code,
			Tier:                authz.RoleTier(strings.ToUpper(strings.TrimSpace(req.Tier))),
			Rank:                req.Rank,
			InherentPermissions: req.InherentPermissions,
		})
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

type createPermissionRequest struct {
	Key      string `json:"key"`
	Category string `json:"category"`
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		perms, err := a.catalog.ListPermissions(r.Context())
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
	case http.MethodPost:
		actorID, ok := actor(w, r)
		if !ok {
			return
		}
		if !a.requireCatalogAdmin(w, r, actorID) {
			return
		}
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.catalog.CreatePermission(r.Context(), req.Key, req.Category)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, perm)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// requireCatalogAdmin gates catalog writes behind manage_catalog at GLOBAL;
// the catalog is platform-operator data, never tenant data.
func (a *API) requireCatalogAdmin(w http.ResponseWriter, r *http.Request, actorID string) bool {
	decision, err := a.engine.HasPermission(r.Context(), actorID, authz.PermManageCatalog, authz.GlobalScope)
	if err != nil {
		handleAuthzError(w, r, err)
		return false
	}
	if !decision.Allowed {
		writeError(w, r, http.StatusForbidden, "manage_catalog permission required")
		return false
	}
	return true
}
