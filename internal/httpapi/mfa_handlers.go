package httpapi

import (
	"net/http"

	"authly.org/internal/audit"
	"authly.org/internal/auth"
)

type mfaEnrollRequest struct {
	Method string `json:"method"`
}

type mfaConfirmRequest struct {
	Code string `json:"code"`
}

// handleMFAEnroll starts enrollment for the authenticated user. The TOTP
// secret, provisioning URI and backup codes appear in this response only;
// the server keeps hashes.
func (a *API) handleMFAEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var req mfaEnrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	cred, err := a.accounts.Find(r.Context(), principal.UserID)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	enr, err := a.mfa.Enroll(r.Context(), cred, auth.MFAMethod(req.Method))
	if err != nil {
		writeMFAError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "mfa.enroll", map[string]any{"method": string(enr.Method)})

	resp := map[string]any{"method": string(enr.Method)}
	if enr.Secret != "" {
		resp["secret"] = enr.Secret
		resp["provisioning_uri"] = enr.ProvisioningURI
	}
	if len(enr.BackupCodes) > 0 {
		resp["backup_codes"] = enr.BackupCodes
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMFAConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var req mfaConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	cred, err := a.accounts.Find(r.Context(), principal.UserID)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	if err := a.mfa.Confirm(r.Context(), cred, req.Code); err != nil {
		writeMFAError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "mfa.confirm", map[string]any{"method": string(cred.MFA.Method)})
	writeJSON(w, http.StatusOK, map[string]any{
		"method":  string(cred.MFA.Method),
		"enabled": true,
	})
}
