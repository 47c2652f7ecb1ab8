package comments

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/logger"
	"github.com/alphabot-ai/trickbook/internal/moderation"
	"github.com/alphabot-ai/trickbook/internal/store"
)

const maxContentLength = 10000

// Renderer turns raw comment content into its display form.
type Renderer interface {
	Render(content string) (string, error)
}

// EscapeRenderer HTML-escapes content and keeps line breaks.
type EscapeRenderer struct{}

func (EscapeRenderer) Render(content string) (string, error) {
	return strings.ReplaceAll(html.EscapeString(content), "\n", "<br>"), nil
}

// Thread is the append-only discussion attached to submissions.
type Thread struct {
	db       *gorm.DB
	runner   store.TxRunner
	renderer Renderer
	log      *logger.Logger
}

// NewThread builds the thread and registers its comment handler with queue.
func NewThread(db *gorm.DB, queue *moderation.Queue, renderer Renderer, log *logger.Logger) *Thread {
	if renderer == nil {
		renderer = EscapeRenderer{}
	}
	t := &Thread{
		db:       db,
		runner:   store.NewTxRunner(db),
		renderer: renderer,
		log:      log.With("service", "CommentThread"),
	}
	queue.Register(moderation.TargetComment, commentHandler{})
	return t
}

// AddComment appends a comment, optionally as a reply to parentID.
func (t *Thread) AddComment(ctx context.Context, submissionID, userID, content, parentID string) (*store.Comment, error) {
	const op = "comments.AddComment"

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation(op, apperr.ErrInvalidInput, "content is required")
	}
	if len(content) > maxContentLength {
		return nil, apperr.Validation(op, apperr.ErrInvalidInput, "content exceeds %d characters", maxContentLength)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation(op, apperr.ErrInvalidInput, "user is required")
	}
	rendered, err := t.renderer.Render(content)
	if err != nil {
		return nil, apperr.Validation(op, apperr.ErrInvalidInput, "render: %v", err)
	}

	c := &store.Comment{
		ID:           uuid.New().String(),
		SubmissionID: submissionID,
		ParentID:     strings.TrimSpace(parentID),
		UserID:       userID,
		Content:      content,
		HTMLContent:  rendered,
	}
	err = store.Execute(ctx, t.runner, op, func(dbc dbctx.Context) error {
		var count int64
		if err := dbc.DB().Model(&store.Submission{}).Where("id = ?", submissionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperr.NotFound(op, apperr.ErrNotFound, "submission %s", submissionID)
		}
		if c.ParentID != "" {
			var parent store.Comment
			if err := dbc.DB().First(&parent, "id = ?", c.ParentID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.NotFound(op, apperr.ErrNotFound, "parent comment %s", c.ParentID)
				}
				return err
			}
			if parent.SubmissionID != submissionID {
				return apperr.Validation(op, apperr.ErrInvalidParent, "parent %s is on submission %s", parent.ID, parent.SubmissionID)
			}
		}
		return dbc.DB().Create(c).Error
	})
	if err != nil {
		return nil, err
	}

	t.log.Debug("comment added", "comment_id", c.ID, "submission_id", submissionID)
	return c, nil
}

// List returns the thread as a tree, oldest first. Removed comments keep
// their place and replies with blank content.
func (t *Thread) List(ctx context.Context, submissionID string) ([]*store.Comment, error) {
	var rows []*store.Comment
	err := t.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, store.MapError("comments.List", err)
	}
	for _, c := range rows {
		if c.RemovedAt != nil {
			c.Removed = true
			c.Content = ""
			c.HTMLContent = ""
		}
	}
	return buildTree(rows), nil
}

func (t *Thread) Get(ctx context.Context, id string) (*store.Comment, error) {
	var c store.Comment
	err := t.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("comments.Get", apperr.ErrNotFound, "comment %s", id)
	}
	if err != nil {
		return nil, store.MapError("comments.Get", err)
	}
	return &c, nil
}

func buildTree(rows []*store.Comment) []*store.Comment {
	byID := make(map[string]*store.Comment, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}
	var roots []*store.Comment
	for _, c := range rows {
		if c.ParentID == "" {
			roots = append(roots, c)
			continue
		}
		if parent, ok := byID[c.ParentID]; ok {
			parent.Replies = append(parent.Replies, c)
		} else {
			roots = append(roots, c)
		}
	}
	return roots
}

// commentHandler moderates single comments: accept keeps, reject tombstones.
type commentHandler struct{}

func (commentHandler) Enqueued(dbc dbctx.Context, commentID string) error {
	const op = "comments.Enqueued"

	var c store.Comment
	if err := dbc.DB().First(&c, "id = ?", commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(op, apperr.ErrNotFound, "comment %s", commentID)
		}
		return err
	}
	if c.RemovedAt != nil {
		return apperr.Conflict(op, apperr.ErrInvalidState, "comment %s already removed", commentID)
	}
	return nil
}

func (commentHandler) Resolve(dbc dbctx.Context, item *store.ModerationItem, decision moderation.Decision) error {
	const op = "comments.Resolve"

	var c store.Comment
	if err := dbc.DB().First(&c, "id = ?", item.TargetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Integrity(op, "item %s references missing comment %s", item.ID, item.TargetID)
		}
		return err
	}
	if c.RemovedAt != nil {
		return apperr.Integrity(op, "comment %s removed while item %s was open", c.ID, item.ID)
	}
	if decision == moderation.Accept {
		return nil
	}
	return dbc.DB().Model(&store.Comment{}).Where("id = ?", c.ID).Updates(map[string]any{
		"removed_at": time.Now().UTC(),
		"removed_by": item.ModeratorID,
	}).Error
}
