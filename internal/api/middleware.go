package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/alphabot-ai/trickbook/internal/auth"
	"github.com/alphabot-ai/trickbook/internal/logger"
)

const identityKey = "identity"

// RequireAuth returns middleware that requires a valid bearer token
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			writeError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		id, err := h.auth.Verify(token)
		if err != nil {
			h.log.Debug("token rejected", "error", err)
			writeError(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireModerator must run after RequireAuth
func (h *Handler) RequireModerator() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identity(c)
		if id == nil || !id.Moderator() {
			writeError(c, http.StatusForbidden, "forbidden", "moderator role required")
			return
		}
		c.Next()
	}
}

// RequireMediaSecret guards callbacks from the video processing service.
func (h *Handler) RequireMediaSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader("X-Media-Secret")
		if h.cfg.MediaSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.cfg.MediaSecret)) != 1 {
			writeError(c, http.StatusUnauthorized, "unauthorized", "invalid media secret")
			return
		}
		c.Next()
	}
}

// RateLimit limits action per authenticated user, falling back to client IP.
func (h *Handler) RateLimit(action string, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := action + ":"
		if id := identity(c); id != nil {
			key += "user:" + id.UserID
		} else {
			key += "ip:" + c.ClientIP()
		}
		ctx := c.Request.Context()
		if !h.limiter.Allow(ctx, key, limit, h.cfg.RateLimitWindow) {
			retryAfter := int(h.limiter.RetryAfter(ctx, key, h.cfg.RateLimitWindow).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			writeRateLimited(c, retryAfter)
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}

// userID is only meaningful behind RequireAuth
func userID(c *gin.Context) string {
	if id := identity(c); id != nil {
		return id.UserID
	}
	return ""
}

// RequestLogger logs every request once it completes
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			fields = append(fields, "trace_id", sc.TraceID().String())
		}
		if id := identity(c); id != nil {
			fields = append(fields, "user_id", id.UserID)
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
