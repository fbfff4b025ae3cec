package httpapi

import (
	"net/http"
	"strings"
	"time"

	"edugate.org/internal/audit"
	"edugate.org/internal/auth"
)

type accessCheckRequest struct {
	UserID   string `json:"user_id"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

type grantPermissionRequest struct {
	Permission string     `json:"permission"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req accessCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Resource == "" || req.Action == "" {
		writeError(w, r, http.StatusBadRequest, "resource and action are required")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = principal.User.ID
	}
	// Checking someone else's access is itself a privileged operation.
	if userID != principal.User.ID && !principal.Can(auth.ResourceRBAC, auth.ActionManage) {
		writeError(w, r, http.StatusForbidden, "insufficient privileges")
		return
	}

	result, err := a.svc.CheckAccess(r.Context(), userID, req.Resource, req.Action)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleUserScoped routes /v1/users/{id}/permissions[/{name}] and
// /v1/users/{id}/role.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]
	switch {
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleUserPermissions(w, r, userID)
	case len(parts) == 3 && parts[1] == "permissions":
		a.handleUserPermissionRevoke(w, r, userID, parts[2])
	case len(parts) == 2 && parts[1] == "role":
		a.handleUserRole(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		principal, ok := requirePrincipal(w, r)
		if !ok {
			return
		}
		if userID != principal.User.ID && !principal.Can(auth.ResourceRBAC, auth.ActionManage) {
			writeError(w, r, http.StatusForbidden, "insufficient privileges")
			return
		}
		perms, err := a.svc.GetEffectivePermissions(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":     userID,
			"permissions": perms,
		})
	case http.MethodPost:
		principal, ok := a.requireRBAC(w, r)
		if !ok {
			return
		}
		var req grantPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.Permission == "" {
			writeError(w, r, http.StatusBadRequest, "permission is required")
			return
		}
		if err := a.svc.GrantUserPermission(r.Context(), principal.User.ID, userID, req.Permission, req.ExpiresAt); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.grant", map[string]any{
			"target_id":  userID,
			"permission": req.Permission,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserPermissionRevoke(w http.ResponseWriter, r *http.Request, userID, permission string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	principal, ok := a.requireRBAC(w, r)
	if !ok {
		return
	}
	if err := a.svc.RevokeUserPermission(r.Context(), principal.User.ID, userID, permission); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.user.revoke", map[string]any{
		"target_id":  userID,
		"permission": permission,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	principal, ok := a.requireRBAC(w, r)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.AssignRole(r.Context(), principal.User.ID, userID, auth.Role(req.Role)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.user.assign_role", map[string]any{
		"target_id": userID,
		"role":      req.Role,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionPurge sweeps expired session rows. Validation never depends on
// the sweep; this just keeps the table small.
func (a *API) handleSessionPurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireRBAC(w, r); !ok {
		return
	}
	purged, err := a.svc.PurgeExpiredSessions(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "session.purge", map[string]any{
		"purged": purged,
	})
	writeJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

// handleRoleScoped routes /v1/roles/{role}/permissions[/{name}].
func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	role := auth.Role(parts[0])
	if !role.Valid() {
		writeError(w, r, http.StatusNotFound, "unknown role")
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodPost:
		principal, ok := a.requireRBAC(w, r)
		if !ok {
			return
		}
		var req grantPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.Permission == "" {
			writeError(w, r, http.StatusBadRequest, "permission is required")
			return
		}
		if err := a.svc.GrantRolePermission(r.Context(), principal.User.ID, role, req.Permission); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.grant", map[string]any{
			"role":       string(role),
			"permission": req.Permission,
		})
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 3 && r.Method == http.MethodDelete:
		principal, ok := a.requireRBAC(w, r)
		if !ok {
			return
		}
		if err := a.svc.RevokeRolePermission(r.Context(), principal.User.ID, role, parts[2]); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.revoke", map[string]any{
			"role":       string(role),
			"permission": parts[2],
		})
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2:
		methodNotAllowed(w, r, http.MethodPost)
	case len(parts) == 3:
		methodNotAllowed(w, r, http.MethodDelete)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}
