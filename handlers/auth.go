package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cacatua/cacatua/backend/go-services/internal/identity"
	"github.com/cacatua/cacatua/backend/go-services/internal/models"
	"github.com/cacatua/cacatua/backend/go-services/internal/oidc"
	"github.com/cacatua/cacatua/backend/go-services/internal/sessions"
	"github.com/cacatua/cacatua/backend/go-services/internal/tokens"
	"github.com/cacatua/cacatua/backend/go-services/internal/users"
	"github.com/cacatua/cacatua/backend/go-services/pkg/logger"
	"github.com/cacatua/cacatua/backend/go-services/pkg/metrics"
	"github.com/cacatua/cacatua/backend/go-services/pkg/middleware"
	"github.com/gin-gonic/gin"
)

const (
	msgInvalidCredentials = "invalid email or password"
	msgInvalidRefresh     = "invalid or expired refresh token"
)

// LoginRequest is the password sign-in body.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthHandler answers login, refresh, logout and token checks.
type AuthHandler struct {
	identity identity.Provider
	idTokens oidc.TokenVerifier
	users    *users.Service
	codec    *tokens.Codec
	refresh  *sessions.Manager
}

func NewAuthHandler(p identity.Provider, u *users.Service, codec *tokens.Codec, refresh *sessions.Manager) *AuthHandler {
	return &AuthHandler{identity: p, users: u, codec: codec, refresh: refresh}
}

// WithIDTokenVerifier makes Login verify the provider's ID token and take the
// account identity from its claims.
func (h *AuthHandler) WithIDTokenVerifier(v oidc.TokenVerifier) *AuthHandler {
	h.idTokens = v
	return h
}

// Register routes under /api/Auth. limit runs after authentication on the
// bearer routes, so those are keyed by subject; the public ones by client IP.
func (h *AuthHandler) Register(rg *gin.RouterGroup, limit ...gin.HandlerFunc) {
	a := rg.Group("/api/Auth")
	public := a.Group("", limit...)
	public.POST("/login", h.Login)
	public.GET("/check-jwt", h.CheckJWT)
	public.POST("/refresh", h.Refresh)

	private := a.Group("", append([]gin.HandlerFunc{middleware.AuthMiddleware(h.codec)}, limit...)...)
	private.POST("/logout", h.Logout)
	private.GET("/me", h.Me)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "email and password are required"})
		return
	}
	ctx := c.Request.Context()

	res, err := h.identity.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			metrics.AuthLogins.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"message": msgInvalidCredentials})
			return
		}
		logger.Errorf("login: identity provider: %v", err)
		metrics.AuthLogins.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"message": "login failed"})
		return
	}

	account, err := h.resolveAccount(c, res)
	if err != nil {
		logger.Warnf("login: id token rejected: %v", err)
		metrics.AuthLogins.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"message": msgInvalidCredentials})
		return
	}

	profile, err := h.users.EnsureProfile(ctx, account)
	if err != nil {
		logger.Errorf("login: profile for %s: %v", account.UID, err)
		metrics.AuthLogins.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"message": "login failed"})
		return
	}

	access, err := h.codec.Issue(profile.UID)
	if err != nil {
		logger.Errorf("login: issue access token: %v", err)
		metrics.AuthLogins.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"message": "login failed"})
		return
	}
	refresh, err := h.refresh.Issue(ctx, profile.UID)
	if err != nil {
		logger.Errorf("login: persist refresh token for %s: %v", profile.UID, err)
		metrics.AuthLogins.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"message": "login failed"})
		return
	}

	metrics.AuthLogins.WithLabelValues("ok").Inc()
	logger.Infof("login: user %s signed in", profile.UID)
	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"user":    profile,
		"jwt":     access,
		"refresh": refresh,
	})
}

func (h *AuthHandler) resolveAccount(c *gin.Context, res *identity.SignInResult) (models.Account, error) {
	if h.idTokens == nil || res.IDToken == "" {
		return res.Account, nil
	}
	claims, err := oidc.VerifyClaims(c.Request.Context(), h.idTokens, res.IDToken)
	if err != nil {
		return models.Account{}, err
	}
	account, err := users.AccountFromClaims(claims)
	if err != nil {
		return models.Account{}, err
	}
	if account.Email == "" {
		account.Email = res.Account.Email
	}
	if account.DisplayName == "" {
		account.DisplayName = res.Account.DisplayName
	}
	return account, nil
}

func (h *AuthHandler) CheckJWT(c *gin.Context) {
	if !h.codec.Valid(c.Query("jwtToken")) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "JWT is invalid"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "JWT is valid"})
}

// Refresh exchanges a refresh token (a JSON string body) for a new pair. A
// failed exchange is final: nothing is issued and nothing is rotated.
func (h *AuthHandler) Refresh(c *gin.Context) {
	old, err := readJSONString(c.Request.Body)
	if err != nil || old == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "refresh token is required"})
		return
	}
	ctx := c.Request.Context()

	rec, err := h.refresh.Validate(ctx, old)
	if err != nil {
		if errors.Is(err, sessions.ErrInvalidRefreshToken) {
			metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"message": msgInvalidRefresh})
			return
		}
		logger.Errorf("refresh: validate: %v", err)
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"message": "refresh failed"})
		return
	}

	access, err := h.codec.Issue(rec.UserUID)
	if err != nil {
		logger.Errorf("refresh: issue access token: %v", err)
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"message": "refresh failed"})
		return
	}
	next, err := h.refresh.Generate()
	if err != nil {
		logger.Errorf("refresh: %v", err)
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"message": "refresh failed"})
		return
	}
	if err := h.refresh.Rotate(ctx, rec.UserUID, old, next); err != nil {
		if errors.Is(err, sessions.ErrTokenNotFound) {
			// lost a race with a concurrent refresh of the same token
			metrics.TokenRefreshes.WithLabelValues("conflict").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"message": msgInvalidRefresh})
			return
		}
		logger.Errorf("refresh: rotate for %s: %v", rec.UserUID, err)
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"message": "refresh failed"})
		return
	}

	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, gin.H{"jwt": access, "refreshToken": next})
}

// Logout revokes every refresh token of the authenticated user. The optional
// body is the user id as a JSON string and must name the caller.
func (h *AuthHandler) Logout(c *gin.Context) {
	subject := middleware.UID(c)
	uid, err := readJSONString(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "body must be the user id as a JSON string"})
		return
	}
	if uid != "" && uid != subject {
		c.JSON(http.StatusBadRequest, gin.H{"message": "user id does not match the authenticated user"})
		return
	}
	if err := h.refresh.RevokeAll(c.Request.Context(), subject); err != nil {
		logger.Errorf("logout: revoke tokens for %s: %v", subject, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.users.GetByUID(c.Request.Context(), middleware.UID(c))
	if err != nil {
		logger.Errorf("me: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "profile lookup failed"})
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// readJSONString decodes a body holding a single JSON string. An empty body
// yields "".
func readJSONString(body io.Reader) (string, error) {
	if body == nil {
		return "", nil
	}
	raw, err := io.ReadAll(io.LimitReader(body, 8<<10))
	if err != nil {
		return "", err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}
