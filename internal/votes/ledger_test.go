package votes

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/cache"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/logger"
	"github.com/alphabot-ai/trickbook/internal/store"
	"github.com/alphabot-ai/trickbook/internal/store/storetest"
)

func setupLedger(t *testing.T) (*Ledger, store.TxRunner) {
	t.Helper()
	db := storetest.Open(t)
	return NewLedger(db, cache.New(nil, "score:", time.Minute), logger.Nop()), store.NewTxRunner(db)
}

func cast(t *testing.T, l *Ledger, runner store.TxRunner, user string, value int) (Tally, error) {
	t.Helper()
	var tally Tally
	err := runner.InTx(context.Background(), func(dbc dbctx.Context) error {
		var err error
		tally, err = l.Cast(dbc, "sub-1", user, value)
		return err
	})
	return tally, err
}

func TestCastOverwrites(t *testing.T) {
	l, runner := setupLedger(t)

	tally, err := cast(t, l, runner, "alice", 1)
	require.NoError(t, err)
	require.Equal(t, Tally{Score: 1, Votes: 1}, tally)

	// Same vote again is a no-op.
	tally, err = cast(t, l, runner, "alice", 1)
	require.NoError(t, err)
	require.Equal(t, Tally{Score: 1, Votes: 1}, tally)

	tally, err = cast(t, l, runner, "alice", -1)
	require.NoError(t, err)
	require.Equal(t, Tally{Score: -1, Votes: 1}, tally)

	tally, err = cast(t, l, runner, "bob", 1)
	require.NoError(t, err)
	require.Equal(t, Tally{Score: 0, Votes: 2}, tally)

	v, err := l.UserVote(context.Background(), "sub-1", "alice")
	require.NoError(t, err)
	require.Equal(t, -1, v)
}

func TestCastRejectsInvalidValue(t *testing.T) {
	l, runner := setupLedger(t)

	for _, value := range []int{0, 2, -5} {
		_, err := cast(t, l, runner, "alice", value)
		require.ErrorIs(t, err, apperr.ErrInvalidVoteValue)
		require.True(t, apperr.IsCode(err, apperr.CodeValidation))
	}

	tally, err := l.Score(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Equal(t, Tally{}, tally)
}

func TestRetract(t *testing.T) {
	l, runner := setupLedger(t)
	ctx := context.Background()

	_, err := cast(t, l, runner, "alice", 1)
	require.NoError(t, err)
	_, err = cast(t, l, runner, "bob", 1)
	require.NoError(t, err)

	var removed bool
	var tally Tally
	err = runner.InTx(ctx, func(dbc dbctx.Context) error {
		var err error
		tally, removed, err = l.Retract(dbc, "sub-1", "alice")
		return err
	})
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, Tally{Score: 1, Votes: 1}, tally)

	err = runner.InTx(ctx, func(dbc dbctx.Context) error {
		var err error
		_, removed, err = l.Retract(dbc, "sub-1", "alice")
		return err
	})
	require.NoError(t, err)
	require.False(t, removed)

	score, err := l.Score(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, Tally{Score: 1, Votes: 1}, score)
}

func TestScoreCacheFollowsVotes(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db := storetest.Open(t)
	l := NewLedger(db, cache.New(rdb, "score:", time.Minute), logger.Nop())
	runner := store.NewTxRunner(db)

	_, err := cast(t, l, runner, "alice", 1)
	require.NoError(t, err)
	tally, err := l.Score(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, Tally{Score: 1, Votes: 1}, tally)
	require.True(t, mr.Exists("score:sub-1"))

	_, err = cast(t, l, runner, "bob", 1)
	require.NoError(t, err)
	l.Invalidate(ctx, "sub-1")
	require.False(t, mr.Exists("score:sub-1"))

	tally, err = l.Score(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, Tally{Score: 2, Votes: 2}, tally)
}

func TestScoreWithoutRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	db := storetest.Open(t)
	l := NewLedger(db, cache.New(rdb, "score:", time.Minute), logger.Nop())
	runner := store.NewTxRunner(db)

	_, err := cast(t, l, runner, "alice", -1)
	require.NoError(t, err)
	tally, err := l.Score(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Equal(t, Tally{Score: -1, Votes: 1}, tally)
}
