package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/logger"
	"github.com/alphabot-ai/trickbook/internal/store"
	"github.com/alphabot-ai/trickbook/internal/store/storetest"
)

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := store.Open("mysql://localhost/trickbook", logger.Nop()); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestOpenItemIndex(t *testing.T) {
	db := storetest.Open(t)

	first := &store.ModerationItem{ID: "item-1", TargetType: "submission", TargetID: "sub-1", Source: "flag"}
	if err := db.Create(first).Error; err != nil {
		t.Fatalf("failed to create item: %v", err)
	}

	second := &store.ModerationItem{ID: "item-2", TargetType: "submission", TargetID: "sub-1", Source: "flag"}
	err := db.Create(second).Error
	if !store.IsUniqueViolation(err) {
		t.Fatalf("expected unique violation for second open item, got %v", err)
	}

	// Same target id under another type is a different target.
	other := &store.ModerationItem{ID: "item-3", TargetType: "comment", TargetID: "sub-1", Source: "flag"}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("failed to create item for other type: %v", err)
	}

	now := time.Now().UTC()
	if err := db.Model(first).Update("resolved_at", &now).Error; err != nil {
		t.Fatalf("failed to resolve item: %v", err)
	}
	if err := db.Create(second).Error; err != nil {
		t.Errorf("resolved items must not block new ones: %v", err)
	}
}

func TestVoteUniquePerUser(t *testing.T) {
	db := storetest.Open(t)

	if err := db.Create(&store.Vote{ID: "v1", SubmissionID: "s1", UserID: "u1", Value: 1}).Error; err != nil {
		t.Fatalf("failed to create vote: %v", err)
	}
	err := db.Create(&store.Vote{ID: "v2", SubmissionID: "s1", UserID: "u1", Value: -1}).Error
	if !store.IsUniqueViolation(err) {
		t.Errorf("expected unique violation, got %v", err)
	}
}

func TestUpdateByStatus(t *testing.T) {
	db := storetest.Open(t)
	runner := store.NewTxRunner(db)
	ctx := context.Background()

	sub := &store.Submission{ID: "s1", TrickID: "t1", UserID: "u1", VideoRef: "v.mp4", Status: store.StatusAwaitingVotes}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("failed to create submission: %v", err)
	}

	var moved []bool
	for i := 0; i < 2; i++ {
		err := runner.InTx(ctx, func(dbc dbctx.Context) error {
			ok, err := store.UpdateByStatus(dbc, &store.Submission{}, "s1",
				[]store.SubmissionStatus{store.StatusAwaitingVotes},
				map[string]any{"status": store.StatusUnderModeration})
			moved = append(moved, ok)
			return err
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
	}
	if !moved[0] || moved[1] {
		t.Errorf("expected exactly the first update to apply, got %v", moved)
	}
}

func TestLockGraph(t *testing.T) {
	db := storetest.Open(t)
	runner := store.NewTxRunner(db)

	// SQLite serializes writers itself; the lock must not break the transaction.
	err := store.Execute(context.Background(), runner, "test.lock", func(dbc dbctx.Context) error {
		if err := store.LockGraph(dbc); err != nil {
			return err
		}
		return dbc.DB().Create(&store.Trick{ID: "t1", Slug: "t1", UserID: "u1"}).Error
	})
	if err != nil {
		t.Fatalf("locked write failed: %v", err)
	}
	var count int64
	db.Model(&store.Trick{}).Count(&count)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestExecuteMapsErrors(t *testing.T) {
	db := storetest.Open(t)
	runner := store.NewTxRunner(db)
	ctx := context.Background()

	err := store.Execute(ctx, runner, "test.lookup", func(dbc dbctx.Context) error {
		var sub store.Submission
		return dbc.DB().First(&sub, "id = ?", "missing").Error
	})
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}

	err = store.Execute(ctx, runner, "test.coded", func(dbc dbctx.Context) error {
		return apperr.Conflict("inner", apperr.ErrCycleDetected, "a -> a")
	})
	if !errors.Is(err, apperr.ErrCycleDetected) {
		t.Errorf("coded errors must pass through, got %v", err)
	}

	err = store.Execute(ctx, runner, "test.rollback", func(dbc dbctx.Context) error {
		if err := dbc.DB().Create(&store.Difficulty{ID: "easy", Name: "Easy"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if !apperr.IsCode(err, apperr.CodeInternal) {
		t.Errorf("expected internal, got %v", err)
	}
	var count int64
	db.Model(&store.Difficulty{}).Count(&count)
	if count != 0 {
		t.Errorf("failed transaction must roll back, found %d rows", count)
	}
}

func TestMapErrorNil(t *testing.T) {
	if store.MapError("op", nil) != nil {
		t.Error("nil must map to nil")
	}
	if !apperr.IsCode(store.MapError("op", gorm.ErrRecordNotFound), apperr.CodeNotFound) {
		t.Error("record not found must map to not_found")
	}
}
