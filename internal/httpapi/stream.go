package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"authly.org/internal/auth"
	"authly.org/internal/tenant"
)

// Stream handles Server-Sent Events for the security event feed. Operator
// surface: plain members never see cross-tenant lockout or reuse signals.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	if !hasSysPerm(principal, tenant.PermSysLogsRead) {
		writeError(w, http.StatusForbidden, "forbidden", "permission denied")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func hasSysPerm(p auth.Principal, perm string) bool {
	for _, g := range tenant.SysPermissions(p.IsAdmin, p.IsSuperAdmin) {
		if g == perm {
			return true
		}
	}
	return false
}
