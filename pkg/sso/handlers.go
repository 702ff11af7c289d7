package sso

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/formhive/formhive/pkg/auth"
	"github.com/formhive/formhive/pkg/config"
	"github.com/formhive/formhive/pkg/httputil"
	"github.com/formhive/formhive/pkg/observability"
)

// stateCookieName carries the CSRF state between redirect and callback
const stateCookieName = "formhive_sso_state"

// stateCookieTTL bounds how long a login attempt may stay in flight
const stateCookieTTL = 10 * time.Minute

// Handler exposes the SSO login flow and the admin connection CRUD
type Handler struct {
	cfg          *config.Config
	connections  *ConnectionStore
	verifier     *TokenVerifier
	provisioner  *ProvisioningService
	sessions     *auth.SessionManager
	newExchanger ExchangerFactory
	logger       *observability.Logger
}

// NewHandler creates a new SSO handler
func NewHandler(cfg *config.Config, connections *ConnectionStore, verifier *TokenVerifier,
	provisioner *ProvisioningService, sessions *auth.SessionManager,
	newExchanger ExchangerFactory, logger *observability.Logger) *Handler {
	if newExchanger == nil {
		newExchanger = NewOIDCExchanger
	}
	return &Handler{
		cfg:          cfg,
		connections:  connections,
		verifier:     verifier,
		provisioner:  provisioner,
		sessions:     sessions,
		newExchanger: newExchanger,
		logger:       logger,
	}
}

// RegisterRoutes attaches the SSO endpoints to the router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/auth/oidc/options", h.EmailOptions).Methods(http.MethodPost)
	r.HandleFunc("/auth/{slug}/redirect", h.Redirect).Methods(http.MethodGet)
	r.HandleFunc("/auth/{slug}/callback", h.Callback).Methods(http.MethodGet)
}

// RegisterAdminRoutes attaches the connection management endpoints.
// Authorization is enforced by middleware on the passed router.
func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/sso/connections", h.ListConnections).Methods(http.MethodGet)
	r.HandleFunc("/sso/connections", h.CreateConnection).Methods(http.MethodPost)
	r.HandleFunc("/sso/connections/{slug}", h.GetConnection).Methods(http.MethodGet)
	r.HandleFunc("/sso/connections/{slug}", h.UpdateConnection).Methods(http.MethodPut)
	r.HandleFunc("/sso/connections/{slug}", h.DeleteConnection).Methods(http.MethodDelete)
}

// Redirect sends the browser to the provider's authorization URL.
// GET /auth/{slug}/redirect
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}

	// Login must not start over plaintext HTTP outside development.
	if !h.cfg.IsDevelopment() && !httputil.IsSecure(r) {
		httputil.WriteBadRequest(w, ErrInsecureTransport.Error())
		return
	}

	conn, err := h.connections.GetBySlug(r.Context(), slug)
	if err != nil {
		httputil.WriteNotFoundError(w, ErrConnectionNotFound.Error())
		return
	}

	exchanger, err := h.newExchanger(r.Context(), conn, h.callbackURL(conn))
	if err != nil {
		h.logger.WithError(err).WithField("connection", slug).Error("provider discovery failed")
		httputil.WriteInternalError(w, errors.New("identity provider unavailable"))
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   !h.cfg.IsDevelopment(),
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, exchanger.AuthCodeURL(state), http.StatusFound)
}

// callbackResponse is the success body of the callback endpoint
type callbackResponse struct {
	Token       string       `json:"token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        callbackUser `json:"user"`
	NewUser     bool         `json:"new_user"`
	RedirectURL string       `json:"redirect_url"`
}

type callbackUser struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Callback completes the login: code exchange, token verification,
// provisioning and session issuance.
// GET /auth/{slug}/callback
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}

	conn, err := h.connections.GetBySlug(r.Context(), slug)
	if err != nil {
		httputil.WriteNotFoundError(w, ErrConnectionNotFound.Error())
		return
	}

	if !h.validState(w, r) {
		h.failLogin(w, slug, "invalid_state", http.StatusBadRequest, errors.New("login state mismatch"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.failLogin(w, slug, "missing_code", http.StatusBadRequest, errors.New("missing authorization code"))
		return
	}

	exchanger, err := h.newExchanger(r.Context(), conn, h.callbackURL(conn))
	if err != nil {
		h.logger.WithError(err).WithField("connection", slug).Error("provider discovery failed")
		httputil.WriteInternalError(w, errors.New("identity provider unavailable"))
		return
	}

	rawIDToken, profile, err := exchanger.Exchange(r.Context(), code)
	if err != nil {
		h.failLogin(w, slug, "exchange_failed", http.StatusBadRequest, errors.New("authorization code exchange failed"))
		return
	}

	claims, err := h.verifier.Verify(r.Context(), conn, rawIDToken)
	if err != nil {
		h.failLogin(w, slug, "verification_failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.provisioner.ProvisionUser(r.Context(), conn, profile, claims, httputil.ClientIP(r))
	if err != nil {
		status := http.StatusBadRequest
		reason := "provisioning_failed"
		if errors.Is(err, ErrAccountBlocked) {
			status = http.StatusForbidden
			reason = "account_blocked"
		}
		h.failLogin(w, slug, reason, status, err)
		return
	}

	session, token, err := h.sessions.IssueSession(r.Context(), result.User.ID)
	if err != nil {
		h.logger.WithError(err).WithField("connection", slug).Error("session issuance failed")
		httputil.WriteInternalError(w, errors.New("failed to issue session"))
		return
	}

	httputil.WriteSuccess(w, callbackResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(time.Until(session.ExpiresAt).Seconds()),
		User: callbackUser{
			ID:    result.User.ID,
			Email: result.User.Email,
			Name:  result.User.Name,
		},
		NewUser:     result.NewUser,
		RedirectURL: h.cfg.Server.BaseURL,
	})
}

// emailOptionsRequest is the body of the pre-redirect discovery endpoint
type emailOptionsRequest struct {
	Email string `json:"email"`
}

// EmailOptions tells the login UI what to do for an email address: redirect
// to SSO, fall back to password login, or refuse password login entirely.
// POST /auth/oidc/options
func (h *Handler) EmailOptions(w http.ResponseWriter, r *http.Request) {
	var req emailOptionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	email := strings.TrimSpace(req.Email)
	if at := strings.Index(email, "@"); at <= 0 || at == len(email)-1 {
		httputil.WriteValidationError(w, "a valid email address is required")
		return
	}

	conn, err := h.connections.GetByEmailDomain(r.Context(), email)
	if err == nil {
		httputil.WriteSuccess(w, map[string]string{
			"action": "redirect",
			"url":    strings.TrimSuffix(h.cfg.Server.BaseURL, "/") + "/auth/" + conn.Slug + "/redirect",
		})
		return
	}
	if !errors.Is(err, ErrConnectionNotFound) {
		httputil.WriteInternalError(w, errors.New("failed to resolve connection"))
		return
	}

	if h.cfg.Auth.ForceSSOLogin {
		httputil.WriteSuccess(w, map[string]string{"action": "blocked"})
		return
	}
	httputil.WriteSuccess(w, map[string]string{"action": "fallback"})
}

// connectionRequest is the admin create/update payload. Pointer fields
// distinguish "absent" from "zero" on update.
type connectionRequest struct {
	Name         string   `json:"name"`
	Slug         string   `json:"slug"`
	WorkspaceID  *int64   `json:"workspace_id"`
	Domain       string   `json:"domain"`
	Issuer       string   `json:"issuer"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
	RedirectPath string   `json:"redirect_path"`
	Enabled      *bool    `json:"enabled"`
	Type         string   `json:"type"`
	Options      Options  `json:"options"`
}

// ListConnections returns all connections. Secrets never serialize.
// GET /sso/connections
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	connections, err := h.connections.List(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, errors.New("failed to list connections"))
		return
	}
	if connections == nil {
		connections = []*IdentityConnection{}
	}
	httputil.WriteSuccess(w, connections)
}

// GetConnection returns one connection by slug, any enabled state.
// GET /sso/connections/{slug}
func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}

	conn, err := h.connections.GetBySlugAny(r.Context(), slug)
	if err != nil {
		httputil.WriteNotFoundError(w, ErrConnectionNotFound.Error())
		return
	}
	httputil.WriteSuccess(w, conn)
}

// CreateConnection creates a new identity connection.
// POST /sso/connections
func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	for _, field := range []struct{ value, name string }{
		{req.Name, "name"}, {req.Slug, "slug"}, {req.Domain, "domain"},
		{req.Issuer, "issuer"}, {req.ClientID, "client_id"}, {req.ClientSecret, "client_secret"},
	} {
		if !httputil.RequireNonEmpty(w, field.value, field.name) {
			return
		}
	}

	connType := ConnectionType(req.Type)
	if connType == "" {
		connType = ConnectionTypeOIDC
	}
	if connType != ConnectionTypeOIDC {
		httputil.WriteBadRequest(w, "only oidc connections are supported")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	conn := &IdentityConnection{
		Name:         req.Name,
		Slug:         req.Slug,
		WorkspaceID:  req.WorkspaceID,
		Domain:       req.Domain,
		Issuer:       req.Issuer,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Scopes:       req.Scopes,
		RedirectPath: req.RedirectPath,
		Enabled:      enabled,
		Type:         connType,
		Options:      req.Options,
	}

	if err := h.connections.Create(r.Context(), conn); err != nil {
		httputil.WriteConflict(w, err.Error())
		return
	}

	httputil.WriteCreated(w, conn)
}

// UpdateConnection applies a partial update. The stored secret is kept when
// client_secret is omitted; options merge key-by-key at the top level.
// PUT /sso/connections/{slug}
func (h *Handler) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}

	conn, err := h.connections.GetBySlugAny(r.Context(), slug)
	if err != nil {
		httputil.WriteNotFoundError(w, ErrConnectionNotFound.Error())
		return
	}

	var req connectionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Name != "" {
		conn.Name = req.Name
	}
	if req.Domain != "" {
		conn.Domain = req.Domain
	}
	if req.Issuer != "" {
		conn.Issuer = req.Issuer
	}
	if req.ClientID != "" {
		conn.ClientID = req.ClientID
	}
	if req.ClientSecret != "" {
		conn.ClientSecret = req.ClientSecret
	}
	if req.Scopes != nil {
		conn.Scopes = req.Scopes
	}
	if req.RedirectPath != "" {
		conn.RedirectPath = req.RedirectPath
	}
	if req.Enabled != nil {
		conn.Enabled = *req.Enabled
	}
	if req.Options != nil {
		if conn.Options == nil {
			conn.Options = Options{}
		}
		conn.Options = conn.Options.Merge(req.Options)
	}

	if err := h.connections.Update(r.Context(), conn); err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			httputil.WriteNotFoundError(w, ErrConnectionNotFound.Error())
			return
		}
		httputil.WriteInternalError(w, errors.New("failed to update connection"))
		return
	}

	httputil.WriteSuccess(w, conn)
}

// DeleteConnection removes a connection by slug.
// DELETE /sso/connections/{slug}
func (h *Handler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}

	if err := h.connections.Delete(r.Context(), slug); err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			httputil.WriteNotFoundError(w, ErrConnectionNotFound.Error())
			return
		}
		httputil.WriteInternalError(w, errors.New("failed to delete connection"))
		return
	}

	httputil.WriteNoContent(w)
}

// callbackURL builds the OAuth2 redirect URL for a connection, honoring its
// redirect-path override.
func (h *Handler) callbackURL(conn *IdentityConnection) string {
	if conn.RedirectPath != "" {
		return strings.TrimSuffix(h.cfg.Server.BaseURL, "/") + conn.RedirectPath
	}
	return h.cfg.RedirectURL(conn.Slug)
}

// validState compares the callback state parameter to the cookie set at
// redirect time, and clears the cookie either way.
func (h *Handler) validState(w http.ResponseWriter, r *http.Request) bool {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
	})

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	return cookie.Value == r.URL.Query().Get("state")
}

// failLogin records a failed attempt and writes the error response
func (h *Handler) failLogin(w http.ResponseWriter, slug, reason string, status int, err error) {
	observability.SSOLoginFailuresTotal.WithLabelValues(slug, reason).Inc()
	h.logger.WithError(err).WithFields(map[string]any{
		"connection": slug,
		"reason":     reason,
	}).Warn("SSO login failed")
	httputil.WriteErrorMessage(w, status, err.Error())
}
