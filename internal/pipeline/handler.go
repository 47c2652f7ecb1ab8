package pipeline

import (
	"time"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/moderation"
	"github.com/alphabot-ai/trickbook/internal/store"
	"github.com/alphabot-ai/trickbook/internal/votes"
)

// submissionHandler ties submission state to its moderation item.
type submissionHandler struct {
	pipeline *Pipeline
}

// Enqueued moves any unresolved submission under moderation.
func (h *submissionHandler) Enqueued(dbc dbctx.Context, submissionID string) error {
	const op = "pipeline.Enqueued"

	sub, err := lockSubmission(dbc, op, submissionID)
	if err != nil {
		return err
	}
	if sub.Status.Resolved() {
		return apperr.Conflict(op, apperr.ErrInvalidState, "submission %s already %s", sub.ID, sub.Status)
	}
	// Only an open item moves a submission into moderation, so a concurrent
	// enqueue that lost the row lock lands here.
	if sub.Status == store.StatusUnderModeration {
		return apperr.Conflict(op, apperr.ErrDuplicateOpenItem, "submission %s already has an open item", sub.ID)
	}
	from := []store.SubmissionStatus{
		store.StatusCreated,
		store.StatusAwaitingProcessing,
		store.StatusAwaitingVotes,
	}
	return h.pipeline.transition(dbc, sub, from, store.StatusUnderModeration, nil)
}

// Resolve accepts or rejects the submission and freezes its tally.
func (h *submissionHandler) Resolve(dbc dbctx.Context, item *store.ModerationItem, decision moderation.Decision) error {
	const op = "pipeline.Resolve"

	sub, err := lockSubmission(dbc, op, item.TargetID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return apperr.Integrity(op, "item %s references missing submission %s", item.ID, item.TargetID)
		}
		return err
	}
	if sub.Status != store.StatusUnderModeration {
		return apperr.Integrity(op, "submission %s is %s while item %s is open", sub.ID, sub.Status, item.ID)
	}

	to := store.StatusRejected
	if decision == moderation.Accept {
		if !sub.VideoProcessed {
			return apperr.Conflict(op, apperr.ErrMediaPending, "submission %s", sub.ID)
		}
		to = store.StatusAccepted
	}

	tally, err := votes.TallyTx(dbc, sub.ID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = h.pipeline.transition(dbc, sub, []store.SubmissionStatus{store.StatusUnderModeration}, to, map[string]any{
		"final_score": tally.Score,
		"final_votes": tally.Votes,
		"resolved_at": now,
	})
	if apperr.IsCode(err, apperr.CodeConflict) {
		return apperr.Integrity(op, "submission %s changed state during resolution", sub.ID)
	}
	return err
}
