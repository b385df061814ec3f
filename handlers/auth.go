package handlers

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/paperhub/paperhub/internal/config"
	"github.com/paperhub/paperhub/internal/models"
	"github.com/paperhub/paperhub/internal/oidc"
	"github.com/paperhub/paperhub/internal/sessions"
	"github.com/paperhub/paperhub/internal/tokens"
	"github.com/paperhub/paperhub/internal/users"
	"github.com/paperhub/paperhub/pkg/logger"
	"github.com/paperhub/paperhub/pkg/middleware"
)

// LoginRequest supports two modes: "oidc" exchanges an externally issued and
// verified id token for a local session; "dev" mints a session for a bare
// username (only outside production).
type LoginRequest struct {
	Mode     string `json:"mode" binding:"required"` // "oidc" | "dev"
	IDToken  string `json:"idToken"`
	Username string `json:"username"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg         *config.Config
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
	verifier    middleware.Verifier
}

func NewAuthHandler(cfg *config.Config, u *users.Service, s *sessions.Service, ver middleware.Verifier) *AuthHandler {
	return &AuthHandler{cfg: cfg, usersSvc: u, sessionsSvc: s, verifier: ver}
}

// Register routes under /auth
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var claims map[string]interface{}
	switch req.Mode {
	case "oidc":
		if req.IDToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "idToken required for oidc mode"})
			return
		}
		ver := h.verifier
		if ver == nil {
			if strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN"))) == "true" {
				ver = oidc.NewInsecureVerifier()
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "OIDC not configured"})
				return
			}
		}
		tok, err := ver.Verify(c.Request.Context(), req.IDToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id token", "details": err.Error()})
			return
		}
		if err := tok.Claims(&claims); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
			return
		}
	case "dev":
		if h.cfg.Server.Environment == "production" {
			c.JSON(http.StatusForbidden, gin.H{"error": "dev login disabled"})
			return
		}
		if strings.TrimSpace(req.Username) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username required for dev mode"})
			return
		}
		claims = map[string]interface{}{"sub": "dev:" + req.Username, "name": req.Username}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported mode"})
		return
	}

	u, err := h.usersSvc.UpsertFromClaims(c.Request.Context(), claims)
	if err != nil {
		logger.Errorf("user upsert error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user upsert failed"})
		return
	}
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "claims missing subject"})
		return
	}

	rft, err := h.sessionsSvc.CreateSession(c.Request.Context(), u.Sub, h.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		logger.Errorf("failed to create session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	access, err := tokens.GenerateAccessToken(h.cfg, u, h.cfg.JWT.AccessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  access,
		"refreshToken": rft,
		"user":         u,
		"expiresIn":    int(h.cfg.JWT.AccessTokenTTL.Seconds()),
	})
}

// Refresh accepts a refresh token and returns a new access token
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.sessionsSvc.ValidateRefresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "validation failed"})
		return
	}
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	u, err := h.usersSvc.GetBySub(c.Request.Context(), sess.Sub)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}
	if u == nil {
		// session may predate the user store; keep the sub
		u = &models.User{Sub: sess.Sub}
	}
	access, err := tokens.GenerateAccessToken(h.cfg, u, h.cfg.JWT.AccessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": access, "expiresIn": int(h.cfg.JWT.AccessTokenTTL.Seconds())})
}

// Logout invalidates the refresh token and blacklists the presented access token
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		at := strings.TrimPrefix(auth, "Bearer ")
		// best effort: blacklist for the access TTL, the token dies then anyway
		if err := sessions.BlacklistAccessToken(c.Request.Context(), at, h.cfg.JWT.AccessTokenTTL); err != nil {
			logger.Warnf("failed to blacklist access token: %v", err)
		}
	}
	if err := h.sessionsSvc.DeleteRefresh(c.Request.Context(), req.RefreshToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
