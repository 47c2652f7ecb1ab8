package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/moderation"
	"github.com/alphabot-ai/trickbook/internal/store"
)

type CreateItemRequest struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Reason     string `json:"reason"`
}

type ResolveRequest struct {
	Decision string `json:"decision"` // accept or reject
	Note     string `json:"note,omitempty"`
}

type ListItemsResponse struct {
	Items []store.ModerationItem `json:"items"`
}

// ListModerationItems handles GET /api/moderation/items
func (h *Handler) ListModerationItems(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, string(apperr.CodeValidation), "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := h.queue.Pending(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListItemsResponse{Items: items})
}

// GetModerationItem handles GET /api/moderation/items/:id
func (h *Handler) GetModerationItem(c *gin.Context) {
	item, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// CreateModerationItem handles POST /api/moderation/items
func (h *Handler) CreateModerationItem(c *gin.Context) {
	var req CreateItemRequest
	if !bind(c, &req) {
		return
	}
	item, err := h.queue.Enqueue(c.Request.Context(), moderation.Request{
		TargetType:  moderation.TargetType(req.TargetType),
		TargetID:    req.TargetID,
		Reason:      req.Reason,
		Source:      moderation.SourceModerator,
		RequestedBy: userID(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// ResolveModerationItem handles POST /api/moderation/items/:id/resolve
func (h *Handler) ResolveModerationItem(c *gin.Context) {
	var req ResolveRequest
	if !bind(c, &req) {
		return
	}
	item, err := h.queue.Resolve(c.Request.Context(), c.Param("id"), moderation.Resolution{
		Decision:    moderation.Decision(req.Decision),
		ModeratorID: userID(c),
		Note:        req.Note,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
