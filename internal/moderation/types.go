package moderation

import (
	"context"

	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/store"
)

// TargetType tags which aggregate an item reviews.
type TargetType string

const (
	TargetTrick      TargetType = "trick"
	TargetSubmission TargetType = "submission"
	TargetComment    TargetType = "comment"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetTrick, TargetSubmission, TargetComment:
		return true
	}
	return false
}

type Decision string

const (
	Accept Decision = "accept"
	Reject Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == Accept || d == Reject
}

// Source records what opened an item.
type Source string

const (
	SourceThreshold Source = "threshold"
	SourceFlag      Source = "flag"
	SourceModerator Source = "moderator"
	SourceRevision  Source = "revision"
)

func (s Source) Valid() bool {
	switch s {
	case SourceThreshold, SourceFlag, SourceModerator, SourceRevision:
		return true
	}
	return false
}

// Handler applies queue events to one target type. Both methods run inside
// the queue's transaction; any error rolls the whole operation back.
type Handler interface {
	// Enqueued checks the target exists and moves it into review.
	Enqueued(dbc dbctx.Context, targetID string) error
	// Resolve applies the decision to the target.
	Resolve(dbc dbctx.Context, item *store.ModerationItem, decision Decision) error
}

// CommitHook is implemented by handlers that need to act after a resolution
// commits, such as refreshing a read-side mirror.
type CommitHook interface {
	Committed(ctx context.Context, item *store.ModerationItem)
}

// TargetResolver is implemented by handlers whose targets can be referenced
// in more than one way. The queue stores the canonical id it returns.
type TargetResolver interface {
	ResolveTarget(dbc dbctx.Context, ref string) (string, error)
}

type Request struct {
	TargetType  TargetType
	TargetID    string
	Reason      string
	Source      Source
	RequestedBy string
	Metadata    map[string]any
}

type Resolution struct {
	Decision    Decision
	ModeratorID string
	Note        string
}
