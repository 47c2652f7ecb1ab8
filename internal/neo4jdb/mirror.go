package neo4jdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/alphabot-ai/trickbook/internal/graph"
	"github.com/alphabot-ai/trickbook/internal/logger"
)

// PrerequisiteMirror projects tricks as (:Trick) nodes joined by
// [:REQUIRES] relationships for graph traversal queries.
type PrerequisiteMirror struct {
	client     *Client
	log        *logger.Logger
	schemaOnce sync.Once
}

var _ graph.Mirror = (*PrerequisiteMirror)(nil)

func NewPrerequisiteMirror(client *Client, log *logger.Logger) *PrerequisiteMirror {
	return &PrerequisiteMirror{client: client, log: log.With("service", "PrerequisiteMirror")}
}

const (
	upsertTrickCypher = `
MERGE (t:Trick {id: $id})
SET t.slug = $slug, t.name = $name, t.version = $version, t.active = $active, t.synced_at = $synced_at
WITH t
OPTIONAL MATCH (t)-[r:REQUIRES]->()
DELETE r`

	linkPrerequisitesCypher = `
MATCH (t:Trick {id: $id})
UNWIND $prerequisites AS p
MERGE (q:Trick {id: p.id})
MERGE (t)-[r:REQUIRES]->(q)
SET r.position = p.position`
)

// SyncTrick replaces the trick's outgoing edges with snap's.
func (m *PrerequisiteMirror) SyncTrick(ctx context.Context, snap graph.Snapshot) error {
	if m == nil || m.client == nil || m.client.Driver == nil {
		return nil
	}
	if snap.ID == "" {
		return fmt.Errorf("neo4j prerequisite sync: missing trick id")
	}

	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	m.schemaOnce.Do(func() {
		res, err := session.Run(ctx, `CREATE CONSTRAINT trick_id_unique IF NOT EXISTS FOR (t:Trick) REQUIRE t.id IS UNIQUE`, nil)
		if err != nil {
			m.log.Warn("neo4j schema init failed (continuing)", "error", err)
			return
		}
		_, _ = res.Consume(ctx)
	})

	params := snapshotParams(snap, time.Now().UTC())
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, upsertTrickCypher, params)
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		if len(snap.Prerequisites) == 0 {
			return nil, nil
		}
		res, err = tx.Run(ctx, linkPrerequisitesCypher, params)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j prerequisite sync: %w", err)
	}
	m.log.Debug("trick mirrored", "trick_id", snap.ID, "prerequisites", len(snap.Prerequisites))
	return nil
}

func snapshotParams(snap graph.Snapshot, now time.Time) map[string]any {
	prereqs := make([]any, 0, len(snap.Prerequisites))
	for i, id := range snap.Prerequisites {
		prereqs = append(prereqs, map[string]any{
			"id":       id,
			"position": int64(i),
		})
	}
	return map[string]any{
		"id":            snap.ID,
		"slug":          snap.Slug,
		"name":          snap.Name,
		"version":       int64(snap.Version),
		"active":        snap.Active,
		"synced_at":     now.Format(time.RFC3339Nano),
		"prerequisites": prereqs,
	}
}
