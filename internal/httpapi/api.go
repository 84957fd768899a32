package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"authly.org/internal/auth"
	"authly.org/internal/mfa"
	"authly.org/internal/obs"
	"authly.org/internal/stream"
	"authly.org/internal/tenant"
	"authly.org/internal/token"
)

// ReadyProbe reports readiness; a nil DB means no dependency to check.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the authentication core.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	accounts *auth.Service
	guard    *auth.Guard
	mfa      *mfa.Engine
	tokens   *token.Manager
	tenants  *tenant.Service
	resolver *tenant.Resolver
	stream   *stream.Stream
}

// Deps bundles the collaborators the API needs.
type Deps struct {
	Accounts *auth.Service
	Guard    *auth.Guard
	MFA      *mfa.Engine
	Tokens   *token.Manager
	Tenants  *tenant.Service
	Resolver *tenant.Resolver
	Stream   *stream.Stream
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		accounts:   deps.Accounts,
		guard:      deps.Guard,
		mfa:        deps.MFA,
		tokens:     deps.Tokens,
		tenants:    deps.Tenants,
		resolver:   deps.Resolver,
		stream:     deps.Stream,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/forgot", a.handleForgot)
	a.mux.HandleFunc("/v1/auth/reset", a.handleReset)
	a.mux.HandleFunc("/v1/auth/mfa/enroll", a.handleMFAEnroll)
	a.mux.HandleFunc("/v1/auth/mfa/confirm", a.handleMFAConfirm)

	// tenancy
	a.mux.HandleFunc("/v1/tenants", a.handleTenantsCollection)
	a.mux.HandleFunc("/v1/tenants/", a.handleTenantResource)
	a.mux.HandleFunc("/v1/invites/", a.handleInviteResource)
	a.mux.HandleFunc("/v1/me", a.handleMe)

	// security event stream
	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware-wrapped handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authly-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "authly-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the uniform error envelope. Messages stay generic so
// the boundary never leaks which exact check failed.
func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]string{
			"code":    errCode,
			"message": msg,
		},
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
