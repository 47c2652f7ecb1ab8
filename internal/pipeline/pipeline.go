package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/graph"
	"github.com/alphabot-ai/trickbook/internal/logger"
	"github.com/alphabot-ai/trickbook/internal/moderation"
	"github.com/alphabot-ai/trickbook/internal/store"
	"github.com/alphabot-ai/trickbook/internal/votes"
)

const (
	DefaultApprovalThreshold = 10
	DefaultVoteCeiling       = 50

	defaultListLimit = 30
	maxListLimit     = 100
)

type Config struct {
	// ApprovalThreshold escalates a submission once its score reaches it.
	ApprovalThreshold int
	// VoteCeiling escalates a submission once it has more votes than this,
	// whatever the score.
	VoteCeiling int
}

// Pipeline drives submissions from upload through processing and voting to a
// moderator's decision.
type Pipeline struct {
	db     *gorm.DB
	runner store.TxRunner
	log    *logger.Logger
	ledger *votes.Ledger
	queue  *moderation.Queue
	graph  *graph.Graph
	cfg    Config
}

// New builds the pipeline and registers its submission handler with queue.
func New(db *gorm.DB, ledger *votes.Ledger, queue *moderation.Queue, g *graph.Graph, log *logger.Logger, cfg Config) *Pipeline {
	if cfg.ApprovalThreshold <= 0 {
		cfg.ApprovalThreshold = DefaultApprovalThreshold
	}
	if cfg.VoteCeiling <= 0 {
		cfg.VoteCeiling = DefaultVoteCeiling
	}
	p := &Pipeline{
		db:     db,
		runner: store.NewTxRunner(db),
		log:    log.With("service", "SubmissionPipeline"),
		ledger: ledger,
		queue:  queue,
		graph:  g,
		cfg:    cfg,
	}
	queue.Register(moderation.TargetSubmission, &submissionHandler{pipeline: p})
	return p
}

type NewSubmission struct {
	TrickRef    string
	UserID      string
	Description string
	VideoRef    string
}

// Submit records an attempt at an active trick and hands it to video
// processing.
func (p *Pipeline) Submit(ctx context.Context, ns NewSubmission) (*store.Submission, error) {
	const op = "pipeline.Submit"

	ns.VideoRef = strings.TrimSpace(ns.VideoRef)
	if ns.VideoRef == "" {
		return nil, apperr.Validation(op, apperr.ErrInvalidInput, "video reference is required")
	}
	if strings.TrimSpace(ns.UserID) == "" {
		return nil, apperr.Validation(op, apperr.ErrInvalidInput, "user is required")
	}

	var sub *store.Submission
	err := store.Execute(ctx, p.runner, op, func(dbc dbctx.Context) error {
		trick, err := graph.ActiveTrickTx(dbc, op, ns.TrickRef)
		if err != nil {
			return err
		}
		sub = &store.Submission{
			ID:          uuid.New().String(),
			TrickID:     trick.ID,
			UserID:      ns.UserID,
			Description: strings.TrimSpace(ns.Description),
			VideoRef:    ns.VideoRef,
			Status:      store.StatusCreated,
		}
		if err := dbc.DB().Create(sub).Error; err != nil {
			return err
		}
		return p.transition(dbc, sub, []store.SubmissionStatus{store.StatusCreated}, store.StatusAwaitingProcessing, nil)
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("submission created", "submission_id", sub.ID, "trick_id", sub.TrickID, "user_id", sub.UserID)
	return sub, nil
}

// MarkProcessed records that the media pipeline finished with the video. It
// is idempotent. A submission still waiting on processing moves on to voting
// and the votes it already collected are evaluated immediately.
func (p *Pipeline) MarkProcessed(ctx context.Context, submissionID string) (*store.Submission, error) {
	const op = "pipeline.MarkProcessed"

	var sub *store.Submission
	var item *store.ModerationItem
	err := store.Execute(ctx, p.runner, op, func(dbc dbctx.Context) error {
		var err error
		sub, err = lockSubmission(dbc, op, submissionID)
		if err != nil {
			return err
		}
		if sub.VideoProcessed {
			return nil
		}
		if err := dbc.DB().Model(&store.Submission{}).Where("id = ?", sub.ID).Update("video_processed", true).Error; err != nil {
			return err
		}
		sub.VideoProcessed = true

		switch sub.Status {
		case store.StatusCreated, store.StatusAwaitingProcessing:
		default:
			return nil
		}
		from := []store.SubmissionStatus{store.StatusCreated, store.StatusAwaitingProcessing}
		if err := p.transition(dbc, sub, from, store.StatusAwaitingVotes, nil); err != nil {
			return err
		}
		tally, err := votes.TallyTx(dbc, sub.ID)
		if err != nil {
			return err
		}
		item, err = p.evaluate(dbc, sub, tally)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("submission video processed", "submission_id", sub.ID, "status", sub.Status)
	if item != nil {
		p.log.Info("submission escalated", "submission_id", sub.ID, "item_id", item.ID)
	}
	return sub, nil
}

// VoteResult is the state of a submission after a vote change.
type VoteResult struct {
	Score            int                    `json:"score"`
	Votes            int                    `json:"votes"`
	Status           store.SubmissionStatus `json:"status"`
	ModerationItemID string                 `json:"moderation_item_id,omitempty"`
}

// CastVote records a vote and, while the submission is collecting votes,
// escalates it to moderation once the threshold or ceiling is crossed.
func (p *Pipeline) CastVote(ctx context.Context, submissionID, userID string, value int) (*VoteResult, error) {
	return p.changeVote(ctx, "pipeline.CastVote", submissionID, func(dbc dbctx.Context) (votes.Tally, error) {
		return p.ledger.Cast(dbc, submissionID, userID, value)
	})
}

func (p *Pipeline) RetractVote(ctx context.Context, submissionID, userID string) (*VoteResult, error) {
	return p.changeVote(ctx, "pipeline.RetractVote", submissionID, func(dbc dbctx.Context) (votes.Tally, error) {
		tally, _, err := p.ledger.Retract(dbc, submissionID, userID)
		return tally, err
	})
}

func (p *Pipeline) changeVote(ctx context.Context, op, submissionID string, apply func(dbc dbctx.Context) (votes.Tally, error)) (*VoteResult, error) {
	var res VoteResult
	err := store.Execute(ctx, p.runner, op, func(dbc dbctx.Context) error {
		sub, err := lockSubmission(dbc, op, submissionID)
		if err != nil {
			return err
		}
		tally, err := apply(dbc)
		if err != nil {
			return err
		}
		tally = frozenTally(sub, tally)
		res = VoteResult{Score: tally.Score, Votes: tally.Votes, Status: sub.Status}

		// Opinions before processing or after escalation are recorded but inert.
		if sub.Status != store.StatusAwaitingVotes {
			return nil
		}
		item, err := p.evaluate(dbc, sub, tally)
		if err != nil {
			return err
		}
		if item != nil {
			res.Status = sub.Status
			res.ModerationItemID = item.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.ledger.Invalidate(ctx, submissionID)
	if res.ModerationItemID != "" {
		p.log.Info("submission escalated", "submission_id", submissionID, "item_id", res.ModerationItemID, "score", res.Score, "votes", res.Votes)
	}
	return &res, nil
}

// evaluate opens a threshold item when tally crosses either limit. sub must
// be locked and awaiting votes.
func (p *Pipeline) evaluate(dbc dbctx.Context, sub *store.Submission, tally votes.Tally) (*store.ModerationItem, error) {
	var reason string
	switch {
	case tally.Score >= p.cfg.ApprovalThreshold:
		reason = fmt.Sprintf("score %d reached approval threshold %d", tally.Score, p.cfg.ApprovalThreshold)
	case tally.Votes > p.cfg.VoteCeiling:
		reason = fmt.Sprintf("%d votes exceeded ceiling %d", tally.Votes, p.cfg.VoteCeiling)
	default:
		return nil, nil
	}
	item, err := p.queue.EnqueueTx(dbc, moderation.Request{
		TargetType: moderation.TargetSubmission,
		TargetID:   sub.ID,
		Reason:     reason,
		Source:     moderation.SourceThreshold,
		Metadata: map[string]any{
			"score": tally.Score,
			"votes": tally.Votes,
		},
	})
	if err != nil {
		return nil, err
	}
	sub.Status = store.StatusUnderModeration
	return item, nil
}

// Flag asks for moderator review of a submission.
func (p *Pipeline) Flag(ctx context.Context, submissionID, userID, reason string) (*store.ModerationItem, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("pipeline.Flag", apperr.ErrInvalidInput, "reason is required")
	}
	return p.queue.Enqueue(ctx, moderation.Request{
		TargetType:  moderation.TargetSubmission,
		TargetID:    submissionID,
		Reason:      reason,
		Source:      moderation.SourceFlag,
		RequestedBy: userID,
	})
}

// Get returns a submission with its live tally.
func (p *Pipeline) Get(ctx context.Context, submissionID string) (*store.Submission, error) {
	var sub store.Submission
	err := p.db.WithContext(ctx).First(&sub, "id = ?", submissionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("pipeline.Get", apperr.ErrNotFound, "submission %s", submissionID)
	}
	if err != nil {
		return nil, store.MapError("pipeline.Get", err)
	}
	if sub.Status.Resolved() {
		tally := frozenTally(&sub, votes.Tally{})
		sub.Score, sub.Votes = tally.Score, tally.Votes
		return &sub, nil
	}
	tally, err := p.ledger.Score(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	sub.Score, sub.Votes = tally.Score, tally.Votes
	return &sub, nil
}

// frozenTally replaces the live tally of a resolved submission with the one
// recorded when it was resolved. Later votes are stored but never counted.
func frozenTally(sub *store.Submission, live votes.Tally) votes.Tally {
	if !sub.Status.Resolved() || sub.FinalScore == nil || sub.FinalVotes == nil {
		return live
	}
	return votes.Tally{Score: *sub.FinalScore, Votes: *sub.FinalVotes}
}

// ListByTrick returns submissions for a trick identity, best or newest first.
func (p *Pipeline) ListByTrick(ctx context.Context, trickRef string, sort store.SortOrder, limit int) ([]store.Submission, error) {
	const op = "pipeline.ListByTrick"

	trick, err := p.graph.Lookup(ctx, trickRef)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	q := p.db.WithContext(ctx).
		Model(&store.Submission{}).
		Select("submissions.*, COALESCE(submissions.final_score, SUM(votes.value), 0) AS score, COALESCE(submissions.final_votes, COUNT(votes.id)) AS votes").
		Joins("LEFT JOIN votes ON votes.submission_id = submissions.id").
		Where("submissions.trick_id = ?", trick.ID).
		Group("submissions.id")
	switch sort {
	case store.SortNew:
		q = q.Order("submissions.created_at DESC")
	default:
		q = q.Order("score DESC").Order("submissions.created_at DESC")
	}

	var subs []store.Submission
	if err := q.Limit(limit).Find(&subs).Error; err != nil {
		return nil, store.MapError(op, err)
	}
	return subs, nil
}

// transition moves sub between states with a compare-and-set on its status.
func (p *Pipeline) transition(dbc dbctx.Context, sub *store.Submission, from []store.SubmissionStatus, to store.SubmissionStatus, extra map[string]any) error {
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	moved, err := store.UpdateByStatus(dbc, &store.Submission{}, sub.ID, from, updates)
	if err != nil {
		return err
	}
	if !moved {
		return apperr.Conflict("pipeline.transition", apperr.ErrInvalidState, "submission %s cannot move from %s to %s", sub.ID, sub.Status, to)
	}
	sub.Status = to
	return nil
}

func lockSubmission(dbc dbctx.Context, op, id string) (*store.Submission, error) {
	var sub store.Submission
	if err := store.ForUpdate(dbc.DB()).First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(op, apperr.ErrNotFound, "submission %s", id)
		}
		return nil, err
	}
	return &sub, nil
}

// UserVote returns the caller's current vote on a submission, 0 when none.
func (p *Pipeline) UserVote(ctx context.Context, submissionID, userID string) (int, error) {
	return p.ledger.UserVote(ctx, submissionID, userID)
}
