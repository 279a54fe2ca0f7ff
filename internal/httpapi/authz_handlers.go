package httpapi

import (
	"net/http"

	"paylane.org/internal/authz"
)

type scopePayload struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

func (p scopePayload) toNode() (authz.ScopeNode, error) {
	st, err := authz.ParseScopeType(p.Type)
	if err != nil {
		return authz.ScopeNode{}, err
	}
	node := authz.ScopeNode{Type: st, ID: p.ID}
	if err := node.Validate(); err != nil {
		return authz.ScopeNode{}, err
	}
	return node, nil
}

type checkRequest struct {
	UserID     string       `json:"user_id"`
	Permission string       `json:"permission"`
	Scope      scopePayload `json:"scope"`
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	scope, err := req.Scope.toNode()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decision, err := a.engine.HasPermission(r.Context(), req.UserID, req.Permission, scope)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleEffective(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	scope, err := scopePayload{Type: q.Get("scope_type"), ID: q.Get("scope_id")}.toNode()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perms, err := a.engine.EffectivePermissions(r.Context(), q.Get("user_id"), scope)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     q.Get("user_id"),
		"scope":       scope,
		"permissions": perms,
	})
}

type rankCheckRequest struct {
	UserID       string       `json:"user_id"`
	RequiredRole string       `json:"required_role"`
	Scope        scopePayload `json:"scope"`
}

func (a *API) handleRankCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req rankCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	scope, err := req.Scope.toNode()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := a.engine.RoleRankAtLeast(r.Context(), req.UserID, scope, req.RequiredRole)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"satisfied": ok})
}
