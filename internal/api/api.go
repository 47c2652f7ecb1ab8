package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/auth"
	"github.com/alphabot-ai/trickbook/internal/comments"
	"github.com/alphabot-ai/trickbook/internal/config"
	"github.com/alphabot-ai/trickbook/internal/graph"
	"github.com/alphabot-ai/trickbook/internal/logger"
	"github.com/alphabot-ai/trickbook/internal/moderation"
	"github.com/alphabot-ai/trickbook/internal/pipeline"
	"github.com/alphabot-ai/trickbook/internal/ratelimit"
)

// Handler holds dependencies for API handlers
type Handler struct {
	graph    *graph.Graph
	pipeline *pipeline.Pipeline
	comments *comments.Thread
	queue    *moderation.Queue
	auth     *auth.Service
	limiter  ratelimit.Limiter
	cfg      *config.Config
	log      *logger.Logger
}

// Deps are the services the transport exposes
type Deps struct {
	Graph    *graph.Graph
	Pipeline *pipeline.Pipeline
	Comments *comments.Thread
	Queue    *moderation.Queue
	Auth     *auth.Service
	Limiter  ratelimit.Limiter
}

// NewHandler creates a new API handler
func NewHandler(d Deps, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		graph:    d.Graph,
		pipeline: d.Pipeline,
		comments: d.Comments,
		queue:    d.Queue,
		auth:     d.Auth,
		limiter:  d.Limiter,
		cfg:      cfg,
		log:      log.With("service", "api"),
	}
}

// Router builds the gin engine with middleware and every route mounted.
func (h *Handler) Router() *gin.Engine {
	if h.cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("trickbook"))
	r.Use(RequestLogger(h.log))
	r.Use(cors.New(corsConfig(h.cfg.CORSOrigin)))
	// Preflights need a matched route so the middleware chain above runs.
	r.OPTIONS("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	user := h.RequireAuth()
	mod := h.RequireModerator()

	api.GET("/tricks", h.ListTricks)
	api.GET("/tricks/:ref", h.GetTrick)
	api.GET("/tricks/:ref/history", h.TrickHistory)
	api.GET("/tricks/:ref/submissions", h.ListSubmissions)
	api.POST("/tricks", user, h.CreateTrick)
	api.PUT("/tricks/:ref", user, h.ReviseTrick)
	api.DELETE("/tricks/:ref", user, mod, h.DeactivateTrick)

	api.GET("/difficulties", h.ListDifficulties)
	api.POST("/difficulties", user, mod, h.CreateDifficulty)
	api.GET("/categories", h.ListCategories)
	api.POST("/categories", user, mod, h.CreateCategory)

	api.POST("/submissions", user, h.RateLimit("submission", h.cfg.SubmissionRateLimit), h.CreateSubmission)
	api.GET("/submissions/:id", h.GetSubmission)
	api.POST("/submissions/:id/processed", h.RequireMediaSecret(), h.MarkProcessed)
	api.GET("/submissions/:id/vote", user, h.GetVote)
	api.PUT("/submissions/:id/vote", user, h.RateLimit("vote", h.cfg.VoteRateLimit), h.CastVote)
	api.DELETE("/submissions/:id/vote", user, h.RateLimit("vote", h.cfg.VoteRateLimit), h.RetractVote)
	api.GET("/submissions/:id/comments", h.ListComments)
	api.POST("/submissions/:id/comments", user, h.RateLimit("comment", h.cfg.CommentRateLimit), h.CreateComment)

	api.POST("/flags", user, h.RateLimit("flag", h.cfg.CommentRateLimit), h.CreateFlag)
	api.GET("/progress/:ref", user, h.GetProgress)

	modr := api.Group("/moderation", user, mod)
	modr.GET("/items", h.ListModerationItems)
	modr.GET("/items/:id", h.GetModerationItem)
	modr.POST("/items", h.CreateModerationItem)
	modr.POST("/items/:id/resolve", h.ResolveModerationItem)

	return r
}

func corsConfig(origin string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "*" {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range strings.Split(origin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, o)
		}
	}
	cfg.AllowCredentials = true
	return cfg
}

// Response helpers

type APIError struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: message, Code: code}})
}

// respondError maps a core error onto its HTTP status.
func (h *Handler) respondError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := statusFor(code)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	if code == "" {
		code = apperr.CodeInternal
	}
	writeError(c, status, string(code), msg)
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeRateLimited(c *gin.Context, retryAfter int) {
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorEnvelope{Error: APIError{
		Message:    "rate limit exceeded",
		Code:       "rate_limited",
		RetryAfter: retryAfter,
	}})
}

// bind decodes the JSON body, answering 400 on failure.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, string(apperr.CodeValidation), "invalid JSON")
		return false
	}
	return true
}
