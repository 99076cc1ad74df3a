package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"personas-registry/internal/auth"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

var errNoSessionUser = errors.New("no user attached to request context")

// requestLogger tags every request with a ULID, echoed in X-Request-ID, and
// logs the outcome once the handler chain has run.
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(requestIDHeader)
		if _, err := ulid.ParseStrict(id); err != nil {
			id = ulid.Make().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		latency := time.Since(start)

		h.metrics.observeRequest(c.Request.Method, route, strconv.Itoa(status), latency)

		entry := h.logger(c).WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  status,
			"latency": latency,
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

// requireSession rejects requests without a valid session cookie and
// attaches the session user to the request context otherwise.
func (h *Handler) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, _ := c.Cookie(auth.CookieName)

		user, err := h.authn.Authenticate(c.Request.Context(), value)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthenticated) {
				h.respondError(c, err)
				c.Abort()
				return
			}

			reason := auth.Reason(err)
			h.metrics.authRejections.WithLabelValues(reason).Inc()
			h.logger(c).WithField("reason", reason).Warn("session rejected")

			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detailUnauthorized})
			return
		}

		c.Request = c.Request.WithContext(auth.WithUser(c.Request.Context(), user))
		c.Next()
	}
}

func (h *Handler) logger(c *gin.Context) logrus.FieldLogger {
	if id := c.GetString(requestIDKey); id != "" {
		return h.log.WithField(requestIDKey, id)
	}
	return h.log
}
