package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"personas-registry/internal/auth"
	"personas-registry/internal/domain"
)

type loginRequest struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

type registerUserRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type UserResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.setSessionCookie(c, auth.FormatBearer(session.Token), int(h.tokenTTL.Seconds()))
	h.logger(c).WithField("user_id", session.User.ID).Info("session issued")
	c.JSON(http.StatusOK, TokenResponse{AccessToken: session.Token, TokenType: "bearer"})
}

func (h *Handler) logout(c *gin.Context) {
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"detail": "Logged out"})
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, userToResponse(user))
}

func (h *Handler) currentUser(c *gin.Context) {
	session, ok := auth.UserFromContext(c.Request.Context())
	if !ok {
		h.respondError(c, errNoSessionUser)
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), session.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(user))
}

// setSessionCookie writes the session cookie; a negative maxAge deletes it.
// Browsers drop SameSite=None cookies without Secure, so insecure
// deployments fall back to Lax.
func (h *Handler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	if h.cookieSecure {
		c.SetSameSite(http.SameSiteNoneMode)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
	}
	c.SetCookie(auth.CookieName, value, maxAge, "/", "", h.cookieSecure, true)
}

func userToResponse(user *domain.User) UserResponse {
	return UserResponse{ID: user.ID, Email: user.Email}
}
