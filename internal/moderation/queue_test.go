package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/logger"
	"github.com/alphabot-ai/trickbook/internal/store"
	"github.com/alphabot-ai/trickbook/internal/store/storetest"
)

type stubHandler struct {
	mu          sync.Mutex
	known       map[string]bool
	resolved    map[string]Decision
	committed   []string
	failResolve error
}

func newStubHandler(ids ...string) *stubHandler {
	h := &stubHandler{known: map[string]bool{}, resolved: map[string]Decision{}}
	for _, id := range ids {
		h.known[id] = true
	}
	return h
}

func (h *stubHandler) Enqueued(dbc dbctx.Context, targetID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.known[targetID] {
		return apperr.NotFound("stub.Enqueued", apperr.ErrNotFound, "target %s", targetID)
	}
	return nil
}

func (h *stubHandler) Resolve(dbc dbctx.Context, item *store.ModerationItem, decision Decision) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failResolve != nil {
		return h.failResolve
	}
	h.resolved[item.TargetID] = decision
	return nil
}

func (h *stubHandler) Committed(ctx context.Context, item *store.ModerationItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.committed = append(h.committed, item.ID)
}

func setupQueue(t *testing.T, ids ...string) (*Queue, *stubHandler) {
	t.Helper()
	q := NewQueue(storetest.Open(t), logger.Nop())
	h := newStubHandler(ids...)
	q.Register(TargetSubmission, h)
	return q, h
}

func TestEnqueueAndPending(t *testing.T) {
	q, _ := setupQueue(t, "s1", "s2")
	ctx := context.Background()

	first, err := q.Enqueue(ctx, Request{TargetType: TargetSubmission, TargetID: "s1", Reason: "looks off", Source: SourceFlag, RequestedBy: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.True(t, first.Open())

	second, err := q.Enqueue(ctx, Request{TargetType: TargetSubmission, TargetID: "s2", Source: SourceThreshold, Metadata: map[string]any{"score": 10}})
	require.NoError(t, err)
	require.JSONEq(t, `{"score":10}`, string(second.Metadata))

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, second.ID, pending[1].ID)
}

func TestEnqueueValidation(t *testing.T) {
	q, _ := setupQueue(t, "s1")
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		code apperr.Code
		kind error
	}{
		{"missing target", Request{TargetType: TargetSubmission}, apperr.CodeValidation, apperr.ErrInvalidInput},
		{"unknown type", Request{TargetType: "story", TargetID: "s1"}, apperr.CodeValidation, apperr.ErrInvalidTargetType},
		{"unregistered type", Request{TargetType: TargetComment, TargetID: "s1"}, apperr.CodeValidation, apperr.ErrInvalidTargetType},
		{"bad source", Request{TargetType: TargetSubmission, TargetID: "s1", Source: "robot"}, apperr.CodeValidation, apperr.ErrInvalidInput},
		{"unknown target", Request{TargetType: TargetSubmission, TargetID: "nope"}, apperr.CodeNotFound, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, tt.req)
			require.Error(t, err)
			require.Equal(t, tt.code, apperr.CodeOf(err))
			require.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestEnqueueDuplicateOpenItem(t *testing.T) {
	q, _ := setupQueue(t, "s1")
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Request{TargetType: TargetSubmission, TargetID: "s1"})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, Request{TargetType: TargetSubmission, TargetID: "s1"})
	require.ErrorIs(t, err, apperr.ErrDuplicateOpenItem)
	require.True(t, apperr.IsCode(err, apperr.CodeConflict))
}

func TestConcurrentEnqueueSingleWinner(t *testing.T) {
	q, _ := setupQueue(t, "s1")
	ctx := context.Background()

	const workers = 8
	var (
		mu        sync.Mutex
		successes int
		dupes     int
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := q.Enqueue(gctx, Request{TargetType: TargetSubmission, TargetID: "s1", Source: SourceFlag})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrDuplicateOpenItem):
				dupes++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 1, successes)
	require.Equal(t, workers-1, dupes)

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestResolveExactlyOnce(t *testing.T) {
	q, h := setupQueue(t, "s1")
	ctx := context.Background()

	item, err := q.Enqueue(ctx, Request{TargetType: TargetSubmission, TargetID: "s1"})
	require.NoError(t, err)

	const workers = 6
	results := make([]error, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			_, results[i] = q.Resolve(gctx, item.ID, Resolution{Decision: Accept, ModeratorID: fmt.Sprintf("mod-%d", i)})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, already int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrAlreadyResolved):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, workers-1, already)
	require.Equal(t, Accept, h.resolved["s1"])
	require.Equal(t, []string{item.ID}, h.committed)

	got, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, got.Open())
	require.Equal(t, string(Accept), got.Decision)
	require.NotEmpty(t, got.ModeratorID)
	require.WithinDuration(t, time.Now(), *got.ResolvedAt, time.Minute)

	// A closed item frees the target for a new one.
	_, err = q.Enqueue(ctx, Request{TargetType: TargetSubmission, TargetID: "s1"})
	require.NoError(t, err)
}

func TestResolveHandlerFailureRollsBack(t *testing.T) {
	q, h := setupQueue(t, "s1")
	ctx := context.Background()

	item, err := q.Enqueue(ctx, Request{TargetType: TargetSubmission, TargetID: "s1"})
	require.NoError(t, err)

	h.failResolve = apperr.Integrity("stub.Resolve", "unexpected state")
	_, err = q.Resolve(ctx, item.ID, Resolution{Decision: Reject, ModeratorID: "mod"})
	require.True(t, apperr.IsCode(err, apperr.CodeIntegrityViolation))

	got, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, got.Open(), "item must stay open after a failed resolution")
	require.Empty(t, h.committed)
}

func TestResolveErrors(t *testing.T) {
	q, _ := setupQueue(t, "s1")
	ctx := context.Background()

	_, err := q.Resolve(ctx, "missing", Resolution{Decision: Accept, ModeratorID: "mod"})
	require.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	_, err = q.Resolve(ctx, "missing", Resolution{Decision: "maybe", ModeratorID: "mod"})
	require.ErrorIs(t, err, apperr.ErrInvalidDecision)

	_, err = q.Resolve(ctx, "missing", Resolution{Decision: Accept})
	require.True(t, apperr.IsCode(err, apperr.CodeValidation))

	_, err = q.Get(ctx, "missing")
	require.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}
