package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/PulseChat/internal/service"
	"github.com/Gopher0727/PulseChat/middleware/jwt"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
)

// CookieOptions controls the session cookie.
type CookieOptions struct {
	Name   string
	Secure bool
}

type AuthHandler struct {
	authService  service.IAuthService
	tokenManager *jwt.TokenManager
	cookie       CookieOptions
	logger       *logger.Logger
}

func NewAuthHandler(authService service.IAuthService, tokenManager *jwt.TokenManager, cookie CookieOptions, log *logger.Logger) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "jwt"
	}
	return &AuthHandler{
		authService:  authService,
		tokenManager: tokenManager,
		cookie:       cookie,
		logger:       log.Named("auth-handler"),
	}
}

// Set writes token as an HttpOnly session cookie; maxAge < 0 clears it.
func (o CookieOptions) Set(c *gin.Context, token string, maxAge int) {
	if o.Secure {
		c.SetSameSite(http.SameSiteNoneMode)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
	}
	c.SetCookie(o.Name, token, maxAge, "/", "", o.Secure, true)
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	h.cookie.Set(c, token, maxAge)
}

func (h *AuthHandler) Signup(c *gin.Context) {
	var req service.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.authService.Signup(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	h.setSessionCookie(c, res.Token, h.tokenManager.MaxAge())
	c.JSON(http.StatusCreated, gin.H{
		"user":    res.User,
		"token":   res.Token,
		"message": "User registered successfully",
	})
}

func (h *AuthHandler) Signin(c *gin.Context) {
	var req service.SigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.authService.Signin(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	h.setSessionCookie(c, res.Token, h.tokenManager.MaxAge())
	c.JSON(http.StatusOK, gin.H{
		"user":    res.User,
		"token":   res.Token,
		"message": "User logged in successfully",
	})
}

// Signout clears the cookie. Tokens are stateless, so a copy held elsewhere
// stays valid until it expires.
func (h *AuthHandler) Signout(c *gin.Context) {
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "User logged out successfully"})
}

func (h *AuthHandler) Check(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	user, err := h.authService.CurrentUser(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type updateProfileRequest struct {
	Avatar string `json:"avatar"`
}

func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.authService.UpdateAvatar(c.Request.Context(), userID, req.Avatar)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "message": "Update avatar successfully"})
}

type updateUserRequest struct {
	Username string `json:"username"`
}

func (h *AuthHandler) UpdateUser(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.authService.UpdateUsername(c.Request.Context(), userID, c.Param("id"), req.Username)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "message": "Update user successfully"})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}
