package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alphabot-ai/trickbook/internal/store"
)

type CreateCommentRequest struct {
	ParentID string `json:"parent_id,omitempty"`
	Content  string `json:"content"`
}

type ListCommentsResponse struct {
	Comments []*store.Comment `json:"comments"`
}

// CreateComment handles POST /api/submissions/:id/comments
func (h *Handler) CreateComment(c *gin.Context) {
	var req CreateCommentRequest
	if !bind(c, &req) {
		return
	}
	comment, err := h.comments.AddComment(c.Request.Context(), c.Param("id"), userID(c), req.Content, req.ParentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// ListComments handles GET /api/submissions/:id/comments
func (h *Handler) ListComments(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.pipeline.Get(ctx, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	comments, err := h.comments.List(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListCommentsResponse{Comments: comments})
}
