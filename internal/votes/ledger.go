package votes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/cache"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/logger"
	"github.com/alphabot-ai/trickbook/internal/store"
)

// Tally is the aggregate of all current votes on a submission.
type Tally struct {
	Score int `json:"score"`
	Votes int `json:"votes"`
}

// Ledger keeps at most one vote per user per submission. Writes run inside
// the caller's transaction so the caller can act on the new tally atomically.
type Ledger struct {
	db     *gorm.DB
	runner store.TxRunner
	cache  *cache.Cache
	log    *logger.Logger
}

func NewLedger(db *gorm.DB, scores *cache.Cache, log *logger.Logger) *Ledger {
	return &Ledger{
		db:     db,
		runner: store.NewTxRunner(db),
		cache:  scores,
		log:    log.With("service", "VoteLedger"),
	}
}

// Cast records userID's vote, overwriting any earlier one.
func (l *Ledger) Cast(dbc dbctx.Context, submissionID, userID string, value int) (Tally, error) {
	const op = "votes.Cast"

	if value != 1 && value != -1 {
		return Tally{}, apperr.Validation(op, apperr.ErrInvalidVoteValue, "got %d", value)
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(submissionID) == "" {
		return Tally{}, apperr.Validation(op, apperr.ErrInvalidInput, "submission and user are required")
	}

	now := time.Now().UTC()
	vote := &store.Vote{
		ID:           uuid.New().String(),
		SubmissionID: submissionID,
		UserID:       userID,
		Value:        value,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := dbc.DB().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "submission_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{"value": value, "updated_at": now}),
	}).Create(vote).Error
	if err != nil {
		return Tally{}, err
	}
	return TallyTx(dbc, submissionID)
}

// Retract removes userID's vote and reports whether there was one.
func (l *Ledger) Retract(dbc dbctx.Context, submissionID, userID string) (Tally, bool, error) {
	res := dbc.DB().Where("submission_id = ? AND user_id = ?", submissionID, userID).Delete(&store.Vote{})
	if res.Error != nil {
		return Tally{}, false, res.Error
	}
	t, err := TallyTx(dbc, submissionID)
	return t, res.RowsAffected > 0, err
}

// TallyTx sums the votes on submissionID as seen by dbc.
func TallyTx(dbc dbctx.Context, submissionID string) (Tally, error) {
	var t Tally
	err := dbc.DB().Model(&store.Vote{}).
		Select("COALESCE(SUM(value), 0) AS score, COUNT(*) AS votes").
		Where("submission_id = ?", submissionID).
		Scan(&t).Error
	return t, err
}

// Score reads the tally, served from cache when one is configured.
func (l *Ledger) Score(ctx context.Context, submissionID string) (Tally, error) {
	var t Tally
	if ok, err := l.cache.Get(ctx, submissionID, &t); err != nil {
		l.log.Warn("score cache read failed", "submission_id", submissionID, "error", err)
	} else if ok {
		return t, nil
	}

	loaded := false
	load := func() error {
		loaded = true
		return store.Execute(ctx, l.runner, "votes.Score", func(dbc dbctx.Context) error {
			var err error
			t, err = TallyTx(dbc, submissionID)
			return err
		})
	}
	var loadErr error
	err := l.cache.Fill(ctx, submissionID, func() (any, error) {
		loadErr = load()
		return t, loadErr
	})
	if !loaded {
		// Redis failed before the read started.
		loadErr = load()
	}
	if loadErr != nil {
		return Tally{}, loadErr
	}
	switch {
	case errors.Is(err, redis.TxFailedErr):
		l.log.Debug("score cache fill raced a vote, skipped", "submission_id", submissionID)
	case err != nil:
		l.log.Warn("score cache write failed", "submission_id", submissionID, "error", err)
	}
	return t, nil
}

// Invalidate drops the cached tally after a committed vote change.
func (l *Ledger) Invalidate(ctx context.Context, submissionID string) {
	if err := l.cache.Delete(ctx, submissionID); err != nil {
		l.log.Warn("score cache invalidate failed", "submission_id", submissionID, "error", err)
	}
}

// UserVote returns userID's current value on submissionID, or 0.
func (l *Ledger) UserVote(ctx context.Context, submissionID, userID string) (int, error) {
	var votes []store.Vote
	err := l.db.WithContext(ctx).
		Where("submission_id = ? AND user_id = ?", submissionID, userID).
		Limit(1).
		Find(&votes).Error
	if err != nil {
		return 0, store.MapError("votes.UserVote", err)
	}
	if len(votes) == 0 {
		return 0, nil
	}
	return votes[0].Value, nil
}
