package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"personas-registry/internal/domain"
	"personas-registry/internal/service"
)

// SessionAuthenticator resolves a session cookie value to a user.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, value string) (*domain.User, error)
}

// Options collects the handler dependencies.
type Options struct {
	Users         service.UserService
	Personas      service.PersonaService
	Authenticator SessionAuthenticator
	TokenTTL      time.Duration
	CookieSecure  bool
	Logger        logrus.FieldLogger
	Metrics       *Metrics
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users        service.UserService
	personas     service.PersonaService
	authn        SessionAuthenticator
	tokenTTL     time.Duration
	cookieSecure bool
	log          logrus.FieldLogger
	metrics      *Metrics
}

func NewHandler(opts Options) *Handler {
	h := &Handler{
		users:        opts.Users,
		personas:     opts.Personas,
		authn:        opts.Authenticator,
		tokenTTL:     opts.TokenTTL,
		cookieSecure: opts.CookieSecure,
		log:          opts.Logger,
		metrics:      opts.Metrics,
	}
	if h.log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		h.log = logger
	}
	if h.metrics == nil {
		h.metrics = NewMetrics()
	}
	return h
}

// RegisterRoutes mounts the public API. Metrics are not part of it; they are
// served from Metrics.Handler on a separate listener because the rejection
// counters reveal why a session failed.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/token", h.login)
	router.POST("/logout", h.logout)

	users := router.Group("/users")
	{
		users.POST("/", h.registerUser)
		users.GET("/me", h.requireSession(), h.currentUser)
	}

	personas := router.Group("/personas", h.requireSession())
	{
		personas.POST("/", h.createPersona)
		personas.GET("/", h.listPersonas)
		personas.GET("/:public_id", h.getPersona)
		personas.PUT("/:public_id", h.updatePersona)
		personas.DELETE("/:public_id", h.deletePersona)
		personas.POST("/:public_id/religion/verify", h.verifyReligion)
	}
}
