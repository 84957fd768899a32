package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authly.org/internal/auth"
	"authly.org/internal/tenant"
	"authly.org/internal/token"
)

const (
	authHeader   = "Authorization"
	bearer       = "Bearer "
	tenantHeader = "X-Org-Id"
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/forgot",
	"/v1/auth/reset",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		principal, err := a.tokens.VerifyAccess(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		if full, err := a.accounts.Find(r.Context(), principal.UserID); err == nil {
			// Pick up flag changes made since the token was minted.
			principal.IsAdmin = principal.IsAdmin || full.IsAdmin
			principal.IsSuperAdmin = full.IsSuperAdmin
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize builds the per-request authorization context from the
// authenticated principal and the X-Org-Id selector. Errors are written to
// the response; callers bail out on nil.
func (a *API) authorize(w http.ResponseWriter, r *http.Request) *tenant.AuthorizationContext {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return nil
	}
	selector := strings.TrimSpace(r.Header.Get(tenantHeader))
	actx, err := a.resolver.Resolve(r.Context(), principal, selector)
	if err != nil {
		writeResolveError(w, err)
		return nil
	}
	return actx
}

// requirePerm gates a handler on a tenant permission.
func (a *API) requirePerm(w http.ResponseWriter, r *http.Request, perm string) *tenant.AuthorizationContext {
	actx := a.authorize(w, r)
	if actx == nil {
		return nil
	}
	if err := tenant.Require(actx, perm); err != nil {
		writeError(w, http.StatusForbidden, "forbidden", "permission denied")
		return nil
	}
	return actx
}

func writeResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenant.ErrTenantRequired):
		writeError(w, http.StatusBadRequest, "tenant_required", "tenant selector is required")
	case errors.Is(err, tenant.ErrNotAMember):
		writeError(w, http.StatusForbidden, "not_a_member", "no active membership in tenant")
	case errors.Is(err, tenant.ErrRoleMissing):
		writeError(w, http.StatusForbidden, "role_missing", "membership role no longer exists")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "authorization error")
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusUnauthorized, "account_locked", "account temporarily locked")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", "identifier already in use")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, token.ErrRefreshInvalid):
		writeError(w, http.StatusUnauthorized, "refresh_invalid", "refresh token rejected")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
