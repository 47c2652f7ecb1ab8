package graph

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/moderation"
	"github.com/alphabot-ai/trickbook/internal/store"
)

// trickHandler reviews trick versions. The item target is a version id.
type trickHandler struct {
	graph *Graph
}

func (h *trickHandler) Enqueued(dbc dbctx.Context, versionID string) error {
	var count int64
	if err := dbc.DB().Model(&store.TrickVersion{}).Where("id = ?", versionID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return apperr.NotFound("graph.Enqueued", apperr.ErrNotFound, "trick version %s", versionID)
	}
	return nil
}

// ResolveTarget accepts a version id, or a trick id or slug naming the
// trick's current version.
func (h *trickHandler) ResolveTarget(dbc dbctx.Context, ref string) (string, error) {
	const op = "graph.ResolveTarget"

	var count int64
	if err := dbc.DB().Model(&store.TrickVersion{}).Where("id = ?", ref).Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		return ref, nil
	}
	trick, err := lookupTx(dbc, ref)
	if err != nil {
		return "", err
	}
	if trick == nil {
		return "", apperr.NotFound(op, apperr.ErrNotFound, "trick %q", ref)
	}
	v, err := currentTx(dbc, trick.ID)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", apperr.NotFound(op, apperr.ErrNotFound, "trick %q has no active version", ref)
	}
	return v.ID, nil
}

// Resolve publishes the version as the trick's only active one on accept,
// and leaves it inactive on reject.
func (h *trickHandler) Resolve(dbc dbctx.Context, item *store.ModerationItem, decision moderation.Decision) error {
	const op = "graph.Resolve"

	if err := store.LockGraph(dbc); err != nil {
		return err
	}
	var v store.TrickVersion
	if err := dbc.DB().First(&v, "id = ?", item.TargetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Integrity(op, "item %s references missing trick version %s", item.ID, item.TargetID)
		}
		return err
	}

	if decision == moderation.Reject {
		return setVersionActive(dbc, v.ID, false)
	}

	var newer int64
	err := dbc.DB().Model(&store.TrickVersion{}).
		Where("trick_id = ? AND active = ? AND version > ?", v.TrickID, true, v.Version).
		Count(&newer).Error
	if err != nil {
		return err
	}
	if newer > 0 {
		return apperr.Conflict(op, apperr.ErrInvalidState, "trick %s already publishes a version newer than %d", v.TrickID, v.Version)
	}

	var edges []store.Prerequisite
	if err := dbc.DB().Where("version_id = ?", v.ID).Order("position ASC").Find(&edges).Error; err != nil {
		return err
	}
	ids := make([]string, len(edges))
	for i, e := range edges {
		active, err := hasActiveVersion(dbc, e.PrerequisiteID)
		if err != nil {
			return err
		}
		if !active {
			return apperr.NotFound(op, apperr.ErrUnknownPrerequisite, "prerequisite %s is no longer active", e.PrerequisiteID)
		}
		ids[i] = e.PrerequisiteID
	}
	if err := checkAcyclic(dbc, op, v.TrickID, ids); err != nil {
		return err
	}
	if err := deactivateVersions(dbc, v.TrickID, v.ID); err != nil {
		return err
	}
	return setVersionActive(dbc, v.ID, true)
}

func (h *trickHandler) Committed(ctx context.Context, item *store.ModerationItem) {
	var v store.TrickVersion
	if err := h.graph.db.WithContext(ctx).First(&v, "id = ?", item.TargetID).Error; err != nil {
		h.graph.log.Warn("graph mirror lookup failed", "version_id", item.TargetID, "error", err)
		return
	}
	h.graph.syncMirror(ctx, v.TrickID)
}
