package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authly.org/internal/audit"
	"authly.org/internal/auth"
	"authly.org/internal/tenant"
)

type createTenantRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type inviteRequest struct {
	Email   string `json:"email"`
	RoleKey string `json:"role"`
}

func (a *API) handleTenantsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var req createTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	t, err := a.tenants.Create(r.Context(), principal.UserID, req.Name, req.Slug)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.create", map[string]any{"tenant_id": t.ID, "slug": t.Slug})
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":   t.ID,
		"name": t.Name,
		"slug": t.Slug,
	})
}

// handleTenantResource routes /v1/tenants/{id}/invites and
// /v1/tenants/{id}/roles.
func (a *API) handleTenantResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tenants/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	tenantID, sub := parts[0], parts[1]

	switch sub {
	case "invites":
		a.handleTenantInvites(w, r, tenantID)
	case "roles":
		a.handleTenantRoles(w, r, tenantID)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) handleTenantInvites(w http.ResponseWriter, r *http.Request, tenantID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	actx := a.requirePerm(w, r, tenant.PermMembersInvite)
	if actx == nil {
		return
	}
	if !actx.Superadmin && actx.TenantID != tenantID {
		writeError(w, http.StatusForbidden, "forbidden", "permission denied")
		return
	}
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	inv, err := a.tenants.Invite(r.Context(), tenantID, actx.UserID, req.Email, req.RoleKey)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.invite", map[string]any{
		"tenant_id": tenantID,
		"email":     inv.Email,
		"role":      inv.RoleKey,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         inv.ID,
		"email":      inv.Email,
		"role":       inv.RoleKey,
		"code":       inv.Code,
		"expires_at": inv.ExpiresAt,
	})
}

func (a *API) handleTenantRoles(w http.ResponseWriter, r *http.Request, tenantID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actx := a.requirePerm(w, r, tenant.PermRolesRead)
	if actx == nil {
		return
	}
	if !actx.Superadmin && actx.TenantID != tenantID {
		writeError(w, http.StatusForbidden, "forbidden", "permission denied")
		return
	}
	roles, err := a.tenants.Roles(r.Context(), tenantID)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(roles))
	for _, role := range roles {
		out = append(out, map[string]any{
			"id":          role.ID,
			"key":         role.Key,
			"name":        role.Name,
			"permissions": role.Permissions,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": out})
}

// handleInviteResource routes /v1/invites/{code}/accept.
func (a *API) handleInviteResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/invites/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "accept" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	m, err := a.tenants.Accept(r.Context(), principal.UserID, parts[0])
	if err != nil {
		writeTenantError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.invite_accepted", map[string]any{
		"tenant_id": m.TenantID,
		"role":      m.RoleKey,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": m.TenantID,
		"role":      m.RoleKey,
		"status":    string(m.Status),
	})
}

// handleMe echoes the resolved authorization context so clients can
// discover their effective permissions in the selected tenant.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actx := a.authorize(w, r)
	if actx == nil {
		return
	}
	perms := make([]string, 0, len(actx.Permissions))
	for p := range actx.Permissions {
		perms = append(perms, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     actx.UserID,
		"superadmin":  actx.Superadmin,
		"tenant_id":   actx.TenantID,
		"role":        actx.RoleKey,
		"permissions": perms,
	})
}

func writeTenantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenant.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, tenant.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", "slug already in use")
	case errors.Is(err, tenant.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, tenant.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "permission denied")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
