package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gsarma/sentinel/internal/oauth"
	"github.com/gsarma/sentinel/internal/session"
	"github.com/gsarma/sentinel/internal/store"
)

// Flow is the federated login flow the handlers drive. *oauth.Coordinator
// implements it.
type Flow interface {
	Providers() []oauth.ProviderConfig
	Start(ctx context.Context, provider, redirectTarget string) (string, error)
	StartLink(ctx context.Context, userID uuid.UUID, provider, redirectTarget string) (string, error)
	HandleCallback(ctx context.Context, p oauth.CallbackParams) (*oauth.Result, error)
	Unlink(ctx context.Context, userID uuid.UUID, provider string) error
	SetPassword(ctx context.Context, userID uuid.UUID, password string) error
	Profile(ctx context.Context, userID uuid.UUID) (*oauth.Profile, error)
}

// Sessions issues bearer tokens for logged-in users.
type Sessions interface {
	Issue(u *store.User) (string, time.Time, error)
}

type Handler struct {
	flow     Flow
	sessions Sessions
	origins  []string
	ping     func(context.Context) error
	log      *zap.Logger
}

// NewHandler builds the HTTP handlers. Redirect targets must use one of
// allowedOrigins when the list is non-empty.
func NewHandler(flow Flow, sessions Sessions, allowedOrigins []string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{flow: flow, sessions: sessions, origins: allowedOrigins, log: log}
}

// WithHealthCheck makes Healthz report failures of ping.
func (h *Handler) WithHealthCheck(ping func(context.Context) error) *Handler {
	h.ping = ping
	return h
}

// ListProviders returns the configured providers for a login page.
func (h *Handler) ListProviders(c *gin.Context) {
	configs := h.flow.Providers()
	out := make([]gin.H, 0, len(configs))
	for _, p := range configs {
		out = append(out, gin.H{
			"name":         p.Provider,
			"display_name": p.DisplayName,
			"icon":         p.Icon,
			"color":        p.Color,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "providers": out})
}

// Login redirects the browser to the provider's authorization page.
func (h *Handler) Login(c *gin.Context) {
	redirect, err := h.checkRedirect(c.Query("redirect_url"))
	if err != nil {
		h.fail(c, err)
		return
	}
	authURL, err := h.flow.Start(c.Request.Context(), c.Param("provider"), redirect)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// Callback handles the provider redirect after user authorization.
func (h *Handler) Callback(c *gin.Context) {
	res, err := h.flow.HandleCallback(c.Request.Context(), oauth.CallbackParams{
		Provider:         c.Param("provider"),
		Code:             c.Query("code"),
		State:            c.Query("state"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	token, expiresAt, err := h.sessions.Issue(res.User)
	if err != nil {
		h.fail(c, err)
		return
	}

	if res.RedirectTarget != "" {
		target, err := withQuery(res.RedirectTarget, "token", token)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Redirect(http.StatusFound, target)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"user":       userView(res.User),
		"token":      token,
		"expires_at": expiresAt,
		"linked":     res.Linked,
	})
}

// Link starts a flow that adds a provider to the signed-in user's account.
func (h *Handler) Link(c *gin.Context) {
	userID, ok := session.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
		return
	}

	var body struct {
		RedirectURL string `json:"redirect_url"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
	}
	if body.RedirectURL == "" {
		body.RedirectURL = c.Query("redirect_url")
	}
	redirect, err := h.checkRedirect(body.RedirectURL)
	if err != nil {
		h.fail(c, err)
		return
	}

	authURL, err := h.flow.StartLink(c.Request.Context(), userID, c.Param("provider"), redirect)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "authorization_url": authURL})
}

// Unlink removes a provider from the signed-in user's login methods.
func (h *Handler) Unlink(c *gin.Context) {
	userID, ok := session.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
		return
	}
	provider := c.Param("provider")
	if err := h.flow.Unlink(c.Request.Context(), userID, provider); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": provider + " account unlinked"})
}

// SetPassword sets a local password so federated identities can be unlinked.
func (h *Handler) SetPassword(c *gin.Context) {
	userID, ok := session.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
		return
	}
	var body struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := h.flow.SetPassword(c.Request.Context(), userID, body.Password); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me returns the signed-in user and their linked providers.
func (h *Handler) Me(c *gin.Context) {
	userID, ok := session.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
		return
	}
	p, err := h.flow.Profile(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	identities := make([]gin.H, 0, len(p.Identities))
	for _, fi := range p.Identities {
		identities = append(identities, identityView(fi))
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"user":       userView(&p.User),
		"identities": identities,
	})
}

func (h *Handler) Healthz(c *gin.Context) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// checkRedirect accepts an empty target or an absolute http(s) URL whose
// origin is allowed.
func (h *Handler) checkRedirect(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", errInvalidRedirect
	}
	if len(h.origins) == 0 {
		return raw, nil
	}
	origin := u.Scheme + "://" + u.Host
	for _, allowed := range h.origins {
		if strings.EqualFold(origin, allowed) {
			return raw, nil
		}
	}
	return "", errInvalidRedirect
}

func withQuery(target, key, value string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func userView(u *store.User) gin.H {
	return gin.H{
		"id":            u.ID,
		"username":      u.Username,
		"email":         u.Email,
		"is_active":     u.IsActive,
		"has_password":  u.PasswordHash.Valid,
		"last_login_at": u.LastLoginAt,
		"created_at":    u.CreatedAt,
	}
}

func identityView(fi store.FederatedIdentity) gin.H {
	return gin.H{
		"provider":     fi.Provider,
		"email":        fi.Email.String,
		"display_name": fi.DisplayName.String,
		"avatar_url":   fi.AvatarUrl.String,
		"linked_at":    fi.CreatedAt,
		"updated_at":   fi.UpdatedAt,
	}
}
