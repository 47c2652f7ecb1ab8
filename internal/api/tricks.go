package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alphabot-ai/trickbook/internal/graph"
	"github.com/alphabot-ai/trickbook/internal/store"
)

type TrickRequest struct {
	Slug          string   `json:"slug,omitempty"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Difficulty    string   `json:"difficulty,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

func (r TrickRequest) content(userID string) graph.Content {
	return graph.Content{
		Slug:        r.Slug,
		Name:        r.Name,
		Description: r.Description,
		Difficulty:  r.Difficulty,
		Categories:  r.Categories,
		UserID:      userID,
	}
}

type ListTricksResponse struct {
	Tricks []store.TrickVersion `json:"tricks"`
}

type TrickResponse struct {
	*store.TrickVersion
	Requirements []graph.Requirement `json:"requirements"`
}

type CatalogRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ListTricks handles GET /api/tricks
func (h *Handler) ListTricks(c *gin.Context) {
	tricks, err := h.graph.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListTricksResponse{Tricks: tricks})
}

// GetTrick handles GET /api/tricks/:ref
func (h *Handler) GetTrick(c *gin.Context) {
	ctx := c.Request.Context()
	current, err := h.graph.Current(ctx, c.Param("ref"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	_, reqs, err := h.graph.Requirements(ctx, current.TrickID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, TrickResponse{TrickVersion: current, Requirements: reqs})
}

// TrickHistory handles GET /api/tricks/:ref/history
func (h *Handler) TrickHistory(c *gin.Context) {
	versions, err := h.graph.History(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// CreateTrick handles POST /api/tricks
func (h *Handler) CreateTrick(c *gin.Context) {
	var req TrickRequest
	if !bind(c, &req) {
		return
	}
	v, err := h.graph.AddTrick(c.Request.Context(), req.content(userID(c)), req.Prerequisites)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// ReviseTrick handles PUT /api/tricks/:ref. A staged revision answers 202.
func (h *Handler) ReviseTrick(c *gin.Context) {
	var req TrickRequest
	if !bind(c, &req) {
		return
	}
	v, err := h.graph.ReviseTrick(c.Request.Context(), c.Param("ref"), req.content(userID(c)), req.Prerequisites)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if !v.Active {
		status = http.StatusAccepted
	}
	c.JSON(status, v)
}

// DeactivateTrick handles DELETE /api/tricks/:ref
func (h *Handler) DeactivateTrick(c *gin.Context) {
	if err := h.graph.Deactivate(c.Request.Context(), c.Param("ref")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListDifficulties(c *gin.Context) {
	items, err := h.graph.Difficulties(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"difficulties": items})
}

func (h *Handler) CreateDifficulty(c *gin.Context) {
	var req CatalogRequest
	if !bind(c, &req) {
		return
	}
	d, err := h.graph.CreateDifficulty(c.Request.Context(), store.Difficulty{ID: req.ID, Name: req.Name, Description: req.Description})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListCategories(c *gin.Context) {
	items, err := h.graph.Categories(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": items})
}

func (h *Handler) CreateCategory(c *gin.Context) {
	var req CatalogRequest
	if !bind(c, &req) {
		return
	}
	cat, err := h.graph.CreateCategory(c.Request.Context(), store.Category{ID: req.ID, Name: req.Name, Description: req.Description})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}
