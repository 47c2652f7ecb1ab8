package graph

import "context"

// Snapshot is a trick's current position in the graph.
type Snapshot struct {
	ID            string
	Slug          string
	Name          string
	Version       int
	Active        bool
	Prerequisites []string
}

// Mirror receives the current edge set of a trick after every committed
// change. The relational store stays the source of truth.
type Mirror interface {
	SyncTrick(ctx context.Context, snap Snapshot) error
}

type NopMirror struct{}

func (NopMirror) SyncTrick(context.Context, Snapshot) error { return nil }
