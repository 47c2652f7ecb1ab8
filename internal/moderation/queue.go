package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/logger"
	"github.com/alphabot-ai/trickbook/internal/store"
)

const maxPending = 500

// Queue holds review items over tricks, submissions and comments. Each
// target has at most one open item and each item is resolved exactly once.
type Queue struct {
	db     *gorm.DB
	runner store.TxRunner
	log    *logger.Logger

	mu       sync.RWMutex
	handlers map[TargetType]Handler
}

func NewQueue(db *gorm.DB, log *logger.Logger) *Queue {
	return &Queue{
		db:       db,
		runner:   store.NewTxRunner(db),
		log:      log.With("service", "ModerationQueue"),
		handlers: make(map[TargetType]Handler),
	}
}

// Register installs the handler for a target type, replacing any previous one.
func (q *Queue) Register(t TargetType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = h
}

func (q *Queue) handler(t TargetType) Handler {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.handlers[t]
}

// Enqueue opens an item in its own transaction.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*store.ModerationItem, error) {
	var item *store.ModerationItem
	err := store.Execute(ctx, q.runner, "moderation.Enqueue", func(dbc dbctx.Context) error {
		var err error
		item, err = q.EnqueueTx(dbc, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	q.log.Info("moderation item opened",
		"item_id", item.ID,
		"target_type", item.TargetType,
		"target_id", item.TargetID,
		"source", item.Source,
	)
	return item, nil
}

// EnqueueTx opens an item inside the caller's transaction.
func (q *Queue) EnqueueTx(dbc dbctx.Context, req Request) (*store.ModerationItem, error) {
	const op = "moderation.Enqueue"

	req.TargetID = strings.TrimSpace(req.TargetID)
	if req.TargetID == "" {
		return nil, apperr.Validation(op, apperr.ErrInvalidInput, "target id is required")
	}
	if req.Source == "" {
		req.Source = SourceModerator
	}
	if !req.Source.Valid() {
		return nil, apperr.Validation(op, apperr.ErrInvalidInput, "unknown source %q", req.Source)
	}
	h := q.handler(req.TargetType)
	if !req.TargetType.Valid() || h == nil {
		return nil, apperr.Validation(op, apperr.ErrInvalidTargetType, "target type %q", req.TargetType)
	}
	if r, ok := h.(TargetResolver); ok {
		id, err := r.ResolveTarget(dbc, req.TargetID)
		if err != nil {
			return nil, err
		}
		req.TargetID = id
	}

	var open []store.ModerationItem
	err := dbc.DB().
		Where("target_type = ? AND target_id = ? AND resolved_at IS NULL", req.TargetType, req.TargetID).
		Limit(1).
		Find(&open).Error
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return nil, apperr.Conflict(op, apperr.ErrDuplicateOpenItem, "%s %s has open item %s", req.TargetType, req.TargetID, open[0].ID)
	}

	if err := h.Enqueued(dbc, req.TargetID); err != nil {
		return nil, err
	}

	item := &store.ModerationItem{
		ID:          uuid.New().String(),
		TargetType:  string(req.TargetType),
		TargetID:    req.TargetID,
		Reason:      strings.TrimSpace(req.Reason),
		Source:      string(req.Source),
		RequestedBy: req.RequestedBy,
	}
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, apperr.Validation(op, apperr.ErrInvalidInput, "metadata: %v", err)
		}
		item.Metadata = datatypes.JSON(raw)
	}
	if err := dbc.DB().Create(item).Error; err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apperr.Conflict(op, apperr.ErrDuplicateOpenItem, "%s %s already has an open item", req.TargetType, req.TargetID)
		}
		return nil, err
	}
	return item, nil
}

// Resolve closes an open item and applies the decision to its target in one
// transaction.
func (q *Queue) Resolve(ctx context.Context, itemID string, res Resolution) (*store.ModerationItem, error) {
	const op = "moderation.Resolve"

	if !res.Decision.Valid() {
		return nil, apperr.Validation(op, apperr.ErrInvalidDecision, "decision %q", res.Decision)
	}
	if strings.TrimSpace(res.ModeratorID) == "" {
		return nil, apperr.Validation(op, apperr.ErrInvalidInput, "moderator id is required")
	}

	var item store.ModerationItem
	var h Handler
	err := store.Execute(ctx, q.runner, op, func(dbc dbctx.Context) error {
		if err := store.ForUpdate(dbc.DB()).First(&item, "id = ?", itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound(op, apperr.ErrNotFound, "item %s", itemID)
			}
			return err
		}
		if !item.Open() {
			return apperr.Conflict(op, apperr.ErrAlreadyResolved, "item %s resolved at %s", item.ID, item.ResolvedAt.Format(time.RFC3339))
		}
		h = q.handler(TargetType(item.TargetType))
		if h == nil {
			return apperr.Integrity(op, "no handler for target type %q", item.TargetType)
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"resolved_at":  now,
			"decision":     string(res.Decision),
			"moderator_id": res.ModeratorID,
			"note":         strings.TrimSpace(res.Note),
		}
		result := dbc.DB().Model(&store.ModerationItem{}).
			Where("id = ? AND resolved_at IS NULL", item.ID).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return apperr.Conflict(op, apperr.ErrAlreadyResolved, "item %s", item.ID)
		}
		item.ResolvedAt = &now
		item.Decision = string(res.Decision)
		item.ModeratorID = res.ModeratorID
		item.Note = updates["note"].(string)

		return h.Resolve(dbc, &item, res.Decision)
	})
	if err != nil {
		return nil, err
	}

	if hook, ok := h.(CommitHook); ok {
		hook.Committed(ctx, &item)
	}
	q.log.Info("moderation item resolved",
		"item_id", item.ID,
		"target_type", item.TargetType,
		"target_id", item.TargetID,
		"decision", item.Decision,
		"moderator_id", item.ModeratorID,
	)
	return &item, nil
}

func (q *Queue) Get(ctx context.Context, itemID string) (*store.ModerationItem, error) {
	var item store.ModerationItem
	err := q.db.WithContext(ctx).First(&item, "id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("moderation.Get", apperr.ErrNotFound, "item %s", itemID)
	}
	if err != nil {
		return nil, store.MapError("moderation.Get", err)
	}
	return &item, nil
}

// Pending returns open items oldest first. limit <= 0 means the maximum page.
func (q *Queue) Pending(ctx context.Context, limit int) ([]store.ModerationItem, error) {
	if limit <= 0 || limit > maxPending {
		limit = maxPending
	}
	var items []store.ModerationItem
	err := q.db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, store.MapError("moderation.Pending", err)
	}
	return items, nil
}
