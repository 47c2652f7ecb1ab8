package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/moderation"
	"github.com/alphabot-ai/trickbook/internal/pipeline"
	"github.com/alphabot-ai/trickbook/internal/store"
)

type CreateSubmissionRequest struct {
	Trick       string `json:"trick"`
	Description string `json:"description,omitempty"`
	VideoRef    string `json:"video_ref"`
}

type VoteRequest struct {
	Value int `json:"value"` // 1 or -1
}

type FlagRequest struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Reason     string `json:"reason"`
}

type ListSubmissionsResponse struct {
	Submissions []store.Submission `json:"submissions"`
}

// CreateSubmission handles POST /api/submissions
func (h *Handler) CreateSubmission(c *gin.Context) {
	var req CreateSubmissionRequest
	if !bind(c, &req) {
		return
	}
	sub, err := h.pipeline.Submit(c.Request.Context(), pipeline.NewSubmission{
		TrickRef:    req.Trick,
		UserID:      userID(c),
		Description: req.Description,
		VideoRef:    req.VideoRef,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// GetSubmission handles GET /api/submissions/:id
func (h *Handler) GetSubmission(c *gin.Context) {
	sub, err := h.pipeline.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ListSubmissions handles GET /api/tricks/:ref/submissions?sort=top|new&limit=N
func (h *Handler) ListSubmissions(c *gin.Context) {
	sort := store.SortTop
	if c.Query("sort") == string(store.SortNew) {
		sort = store.SortNew
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, string(apperr.CodeValidation), "limit must be a positive integer")
			return
		}
		limit = n
	}
	subs, err := h.pipeline.ListByTrick(c.Request.Context(), c.Param("ref"), sort, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListSubmissionsResponse{Submissions: subs})
}

// MarkProcessed handles POST /api/submissions/:id/processed from the media pipeline
func (h *Handler) MarkProcessed(c *gin.Context) {
	sub, err := h.pipeline.MarkProcessed(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// GetVote handles GET /api/submissions/:id/vote
func (h *Handler) GetVote(c *gin.Context) {
	v, err := h.pipeline.UserVote(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, VoteRequest{Value: v})
}

// CastVote handles PUT /api/submissions/:id/vote
func (h *Handler) CastVote(c *gin.Context) {
	var req VoteRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.pipeline.CastVote(c.Request.Context(), c.Param("id"), userID(c), req.Value)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RetractVote handles DELETE /api/submissions/:id/vote
func (h *Handler) RetractVote(c *gin.Context) {
	res, err := h.pipeline.RetractVote(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateFlag handles POST /api/flags
func (h *Handler) CreateFlag(c *gin.Context) {
	var req FlagRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	var (
		item *store.ModerationItem
		err  error
	)
	if moderation.TargetType(req.TargetType) == moderation.TargetSubmission {
		item, err = h.pipeline.Flag(ctx, req.TargetID, userID(c), req.Reason)
	} else {
		item, err = h.queue.Enqueue(ctx, moderation.Request{
			TargetType:  moderation.TargetType(req.TargetType),
			TargetID:    req.TargetID,
			Reason:      req.Reason,
			Source:      moderation.SourceFlag,
			RequestedBy: userID(c),
		})
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// GetProgress handles GET /api/progress/:ref for the caller
func (h *Handler) GetProgress(c *gin.Context) {
	p, err := h.pipeline.Progress(c.Request.Context(), userID(c), c.Param("ref"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
