package neo4jdb

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/alphabot-ai/trickbook/internal/graph"
	"github.com/alphabot-ai/trickbook/internal/logger"
)

func TestSnapshotParams(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := snapshotParams(graph.Snapshot{
		ID:            "t1",
		Slug:          "dive-roll",
		Name:          "Dive Roll",
		Version:       2,
		Active:        true,
		Prerequisites: []string{"jump", "roll"},
	}, now)

	want := map[string]any{
		"id":        "t1",
		"slug":      "dive-roll",
		"name":      "Dive Roll",
		"version":   int64(2),
		"active":    true,
		"synced_at": "2026-03-01T12:00:00Z",
		"prerequisites": []any{
			map[string]any{"id": "jump", "position": int64(0)},
			map[string]any{"id": "roll", "position": int64(1)},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestMirrorWithoutClient(t *testing.T) {
	m := NewPrerequisiteMirror(nil, logger.Nop())
	if err := m.SyncTrick(context.Background(), graph.Snapshot{ID: "t1"}); err != nil {
		t.Errorf("disabled mirror returned %v", err)
	}
}

func TestNewClientWithoutURI(t *testing.T) {
	c, err := NewClient(context.Background(), Config{}, logger.Nop())
	if err != nil || c != nil {
		t.Errorf("NewClient without URI = (%v, %v), want (nil, nil)", c, err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Errorf("closing a nil client returned %v", err)
	}
}
