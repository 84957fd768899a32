package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"authly.org/internal/audit"
	"authly.org/internal/auth"
	"authly.org/internal/mfa"
	"authly.org/internal/obs"
	"authly.org/internal/stream"
	"authly.org/internal/token"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	MFACode    string `json:"mfa_code"`
	BackupCode string `json:"backup_code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func pairResponse(p token.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

func (a *API) clientMeta(r *http.Request) token.ClientMeta {
	return token.ClientMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	cred, err := a.accounts.Register(r.Context(), req.Username, req.Email, req.Phone, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{"user_id": cred.ID, "username": cred.Username})
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       cred.ID,
		"username": cred.Username,
		"email":    cred.Email,
	})
}

// handleLogin runs the full chain: lockout guard, password verification,
// second factor, token issuance.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	identifier := strings.ToLower(strings.TrimSpace(req.Identifier))
	if identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "identifier and password are required")
		return
	}

	ctx := r.Context()
	cred, err := a.accounts.FindByUsernameOrEmail(ctx, identifier)
	if err != nil {
		obs.IncLoginFailure()
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	if err := a.guard.AssertUsable(ctx, cred); err != nil {
		writeAuthError(w, err)
		return
	}
	if err := a.guard.Verify(ctx, cred, req.Password); err != nil {
		if cred.Locked(time.Now()) {
			a.publishEvent(stream.SecurityEvent{Kind: stream.KindLockout, UserID: cred.ID})
			_ = audit.LogEvent(ctx, "auth.lockout", map[string]any{"user_id": cred.ID})
		} else {
			_ = audit.LogEvent(ctx, "auth.login_failure", map[string]any{"user_id": cred.ID})
		}
		writeAuthError(w, err)
		return
	}

	if cred.MFA.Enabled {
		if req.MFACode == "" && req.BackupCode == "" {
			// Kick off delivery for out-of-band methods before asking the
			// client to retry with a proof.
			if err := a.mfa.Challenge(ctx, cred); err != nil {
				writeError(w, http.StatusInternalServerError, "internal", "internal error")
				return
			}
			writeError(w, http.StatusUnauthorized, "mfa_required", "second factor required")
			return
		}
		if err := a.mfa.VerifyLogin(ctx, cred, req.MFACode, req.BackupCode); err != nil {
			a.publishEvent(stream.SecurityEvent{Kind: stream.KindMFAFailure, UserID: cred.ID})
			writeMFAError(w, err)
			return
		}
	}

	principal := auth.Principal{UserID: cred.ID, IsAdmin: cred.IsAdmin, IsSuperAdmin: cred.IsSuperAdmin}
	pair, err := a.tokens.Issue(ctx, principal, a.clientMeta(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"user_id": cred.ID})
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "refresh_token is required")
		return
	}
	pair, err := a.tokens.Rotate(r.Context(), req.RefreshToken, a.clientMeta(r))
	if err != nil {
		if errors.Is(err, token.ErrRefreshInvalid) {
			a.publishEvent(stream.SecurityEvent{Kind: stream.KindRefreshReuse})
			_ = audit.LogEvent(r.Context(), "auth.refresh_rejected", nil)
		}
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

// handleLogout revokes the presented refresh token, or every session of
// the authenticated user when none is given. Idempotent.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var req refreshRequest
	_ = decodeJSON(w, r, &req) // empty body means global logout

	if err := a.tokens.Revoke(r.Context(), principal.UserID, strings.TrimSpace(req.RefreshToken)); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if req.RefreshToken == "" {
		a.publishEvent(stream.SecurityEvent{Kind: stream.KindRevocation, UserID: principal.UserID})
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"user_id": principal.UserID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type forgotRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	UserID      string `json:"user_id"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleForgot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req forgotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	// Same response whether or not the account exists.
	if err := a.accounts.Forgot(r.Context(), req.Email); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if err := a.accounts.Reset(r.Context(), req.UserID, req.Token, req.NewPassword); err != nil {
		writeAuthError(w, err)
		return
	}
	// A password change orphans every session.
	_ = a.tokens.Revoke(r.Context(), req.UserID, "")
	a.publishEvent(stream.SecurityEvent{Kind: stream.KindRevocation, UserID: req.UserID})
	_ = audit.LogEvent(r.Context(), "auth.password_reset", map[string]any{"user_id": req.UserID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeMFAError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mfa.ErrRequired):
		writeError(w, http.StatusUnauthorized, "mfa_required", "second factor required")
	case errors.Is(err, mfa.ErrInvalidProof):
		writeError(w, http.StatusUnauthorized, "invalid_mfa_proof", "second factor rejected")
	case errors.Is(err, mfa.ErrUnsupportedMethod):
		writeError(w, http.StatusBadRequest, "invalid_input", "unsupported mfa method")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *API) publishEvent(evt stream.SecurityEvent) {
	if a.stream != nil {
		a.stream.Publish(evt)
	}
}
