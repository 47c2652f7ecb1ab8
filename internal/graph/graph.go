package graph

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/logger"
	"github.com/alphabot-ai/trickbook/internal/moderation"
	"github.com/alphabot-ai/trickbook/internal/store"
)

type Options struct {
	// ReviewRevisions stages revisions inactive behind a moderation item.
	ReviewRevisions bool
	InactivePolicy  InactivePolicy
	Mirror          Mirror
}

// Graph stores tricks as append-only version chains and keeps the
// prerequisite graph over active versions acyclic.
type Graph struct {
	db     *gorm.DB
	runner store.TxRunner
	log    *logger.Logger
	queue  *moderation.Queue
	opts   Options
}

// New builds the graph and registers its trick handler with queue.
func New(db *gorm.DB, queue *moderation.Queue, log *logger.Logger, opts Options) *Graph {
	if opts.Mirror == nil {
		opts.Mirror = NopMirror{}
	}
	if opts.InactivePolicy == "" {
		opts.InactivePolicy = PolicySatisfied
	}
	g := &Graph{
		db:     db,
		runner: store.NewTxRunner(db),
		log:    log.With("service", "GraphStore"),
		queue:  queue,
		opts:   opts,
	}
	queue.Register(moderation.TargetTrick, &trickHandler{graph: g})
	return g
}

func (g *Graph) Policy() InactivePolicy { return g.opts.InactivePolicy }

// Content is the versioned part of a trick.
type Content struct {
	Slug        string
	Name        string
	Description string
	Difficulty  string
	Categories  []string
	UserID      string
}

// AddTrick creates a trick identity with an active first version.
func (g *Graph) AddTrick(ctx context.Context, c Content, prerequisites []string) (*store.TrickVersion, error) {
	const op = "graph.AddTrick"

	if err := normalizeContent(op, &c); err != nil {
		return nil, err
	}
	slug := c.Slug
	if slug == "" {
		slug = Slugify(c.Name)
	}
	if slug == "" {
		return nil, apperr.Validation(op, apperr.ErrInvalidInput, "slug cannot be derived from name %q", c.Name)
	}

	var out *store.TrickVersion
	err := store.Execute(ctx, g.runner, op, func(dbc dbctx.Context) error {
		if err := store.LockGraph(dbc); err != nil {
			return err
		}
		var count int64
		if err := dbc.DB().Model(&store.Trick{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperr.Conflict(op, apperr.ErrDuplicateSlug, "slug %q", slug)
		}
		if err := checkCatalog(dbc, op, c); err != nil {
			return err
		}

		trick := &store.Trick{ID: uuid.New().String(), Slug: slug, UserID: c.UserID}
		prereqIDs, err := resolvePrerequisites(dbc, op, trick, prerequisites)
		if err != nil {
			return err
		}
		if err := checkAcyclic(dbc, op, trick.ID, prereqIDs); err != nil {
			return err
		}

		if err := dbc.DB().Create(trick).Error; err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Conflict(op, apperr.ErrDuplicateSlug, "slug %q", slug)
			}
			return err
		}
		out, err = insertVersion(dbc, trick, 1, c, prereqIDs, true)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.log.Info("trick added", "trick_id", out.TrickID, "slug", out.Slug, "prerequisites", len(prerequisites))
	g.syncMirror(ctx, out.TrickID)
	return out, nil
}

// ReviseTrick appends a new version with its own prerequisite set. Edges of
// earlier versions never carry over. With review enabled the version is
// stored inactive and queued for a moderator.
func (g *Graph) ReviseTrick(ctx context.Context, ref string, c Content, prerequisites []string) (*store.TrickVersion, error) {
	const op = "graph.ReviseTrick"

	if err := normalizeContent(op, &c); err != nil {
		return nil, err
	}

	var out *store.TrickVersion
	err := store.Execute(ctx, g.runner, op, func(dbc dbctx.Context) error {
		if err := store.LockGraph(dbc); err != nil {
			return err
		}
		trick, err := lookupTx(dbc, ref)
		if err != nil {
			return err
		}
		if trick == nil {
			return apperr.NotFound(op, apperr.ErrNotFound, "trick %q", ref)
		}
		if c.Slug != "" && c.Slug != trick.Slug {
			return apperr.Validation(op, apperr.ErrInvalidInput, "slug is immutable")
		}
		if err := checkCatalog(dbc, op, c); err != nil {
			return err
		}
		prereqIDs, err := resolvePrerequisites(dbc, op, trick, prerequisites)
		if err != nil {
			return err
		}
		if err := checkAcyclic(dbc, op, trick.ID, prereqIDs); err != nil {
			return err
		}

		var latest int
		err = dbc.DB().Model(&store.TrickVersion{}).
			Where("trick_id = ?", trick.ID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&latest).Error
		if err != nil {
			return err
		}

		if !g.opts.ReviewRevisions {
			if err := deactivateVersions(dbc, trick.ID, ""); err != nil {
				return err
			}
			out, err = insertVersion(dbc, trick, latest+1, c, prereqIDs, true)
			return err
		}

		out, err = insertVersion(dbc, trick, latest+1, c, prereqIDs, false)
		if err != nil {
			return err
		}
		_, err = g.queue.EnqueueTx(dbc, moderation.Request{
			TargetType:  moderation.TargetTrick,
			TargetID:    out.ID,
			Reason:      "revision",
			Source:      moderation.SourceRevision,
			RequestedBy: c.UserID,
			Metadata: map[string]any{
				"trick_id": trick.ID,
				"slug":     trick.Slug,
				"version":  out.Version,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	g.log.Info("trick revised", "trick_id", out.TrickID, "version", out.Version, "active", out.Active)
	if out.Active {
		g.syncMirror(ctx, out.TrickID)
	}
	return out, nil
}

// Deactivate marks every version of a trick inactive. Edges pointing at it
// stay in place and are read through the inactive prerequisite policy.
func (g *Graph) Deactivate(ctx context.Context, ref string) error {
	const op = "graph.Deactivate"

	var trickID string
	err := store.Execute(ctx, g.runner, op, func(dbc dbctx.Context) error {
		if err := store.LockGraph(dbc); err != nil {
			return err
		}
		trick, err := lookupTx(dbc, ref)
		if err != nil {
			return err
		}
		if trick == nil {
			return apperr.NotFound(op, apperr.ErrNotFound, "trick %q", ref)
		}
		trickID = trick.ID
		return deactivateVersions(dbc, trick.ID, "")
	})
	if err != nil {
		return err
	}

	g.log.Info("trick deactivated", "trick_id", trickID)
	g.syncMirror(ctx, trickID)
	return nil
}

// Lookup resolves a trick identity by id or slug.
func (g *Graph) Lookup(ctx context.Context, ref string) (*store.Trick, error) {
	trick, err := lookupTx(dbctx.Context{Ctx: ctx, Tx: g.db}, ref)
	if err != nil {
		return nil, store.MapError("graph.Lookup", err)
	}
	if trick == nil {
		return nil, apperr.NotFound("graph.Lookup", apperr.ErrNotFound, "trick %q", ref)
	}
	return trick, nil
}

// Current returns the highest active version of a trick.
func (g *Graph) Current(ctx context.Context, ref string) (*store.TrickVersion, error) {
	const op = "graph.Current"

	trick, err := g.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx, Tx: g.db}
	v, err := currentTx(dbc, trick.ID)
	if err != nil {
		return nil, store.MapError(op, err)
	}
	if v == nil {
		return nil, apperr.NotFound(op, apperr.ErrNotFound, "trick %q has no active version", ref)
	}
	versions := []store.TrickVersion{*v}
	if err := hydrate(dbc, versions); err != nil {
		return nil, store.MapError(op, err)
	}
	return &versions[0], nil
}

// History returns every version of a trick, oldest first.
func (g *Graph) History(ctx context.Context, ref string) ([]store.TrickVersion, error) {
	const op = "graph.History"

	trick, err := g.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx, Tx: g.db}
	var versions []store.TrickVersion
	if err := dbc.DB().Where("trick_id = ?", trick.ID).Order("version ASC").Find(&versions).Error; err != nil {
		return nil, store.MapError(op, err)
	}
	if err := hydrate(dbc, versions); err != nil {
		return nil, store.MapError(op, err)
	}
	return versions, nil
}

// List returns the current version of every active trick ordered by slug.
func (g *Graph) List(ctx context.Context) ([]store.TrickVersion, error) {
	const op = "graph.List"

	dbc := dbctx.Context{Ctx: ctx, Tx: g.db}
	var active []store.TrickVersion
	if err := dbc.DB().Where("active = ?", true).Order("trick_id, version DESC").Find(&active).Error; err != nil {
		return nil, store.MapError(op, err)
	}
	versions := make([]store.TrickVersion, 0, len(active))
	seen := make(map[string]bool)
	for _, v := range active {
		if seen[v.TrickID] {
			continue
		}
		seen[v.TrickID] = true
		versions = append(versions, v)
	}
	if err := hydrate(dbc, versions); err != nil {
		return nil, store.MapError(op, err)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Slug < versions[j].Slug })
	return versions, nil
}

// Requirement is one prerequisite of a trick's current version.
type Requirement struct {
	TrickID string `json:"trick_id"`
	Slug    string `json:"slug"`
	Active  bool   `json:"active"`
}

// Requirements lists the prerequisites of the current version of ref.
func (g *Graph) Requirements(ctx context.Context, ref string) (*store.Trick, []Requirement, error) {
	const op = "graph.Requirements"

	trick, err := g.Lookup(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	dbc := dbctx.Context{Ctx: ctx, Tx: g.db}
	v, err := currentTx(dbc, trick.ID)
	if err != nil {
		return nil, nil, store.MapError(op, err)
	}
	if v == nil {
		return trick, nil, nil
	}

	var edges []store.Prerequisite
	if err := dbc.DB().Where("version_id = ?", v.ID).Order("position ASC").Find(&edges).Error; err != nil {
		return nil, nil, store.MapError(op, err)
	}
	reqs := make([]Requirement, 0, len(edges))
	for _, e := range edges {
		var prereq store.Trick
		if err := dbc.DB().First(&prereq, "id = ?", e.PrerequisiteID).Error; err != nil {
			return nil, nil, store.MapError(op, err)
		}
		active, err := hasActiveVersion(dbc, e.PrerequisiteID)
		if err != nil {
			return nil, nil, store.MapError(op, err)
		}
		reqs = append(reqs, Requirement{TrickID: prereq.ID, Slug: prereq.Slug, Active: active})
	}
	return trick, reqs, nil
}

// ActiveTrickTx resolves ref inside dbc and requires an active version.
func ActiveTrickTx(dbc dbctx.Context, op, ref string) (*store.Trick, error) {
	trick, err := lookupTx(dbc, ref)
	if err != nil {
		return nil, err
	}
	if trick == nil {
		return nil, apperr.NotFound(op, apperr.ErrNotFound, "trick %q", ref)
	}
	active, err := hasActiveVersion(dbc, trick.ID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, apperr.NotFound(op, apperr.ErrNotFound, "trick %q is inactive", ref)
	}
	return trick, nil
}

func normalizeContent(op string, c *Content) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Description = strings.TrimSpace(c.Description)
	c.Difficulty = strings.TrimSpace(c.Difficulty)
	if c.Slug != "" {
		c.Slug = Slugify(c.Slug)
	}
	if c.Name == "" {
		return apperr.Validation(op, apperr.ErrInvalidInput, "name is required")
	}
	cats := make([]string, 0, len(c.Categories))
	seen := make(map[string]bool)
	for _, cat := range c.Categories {
		cat = strings.TrimSpace(cat)
		if cat == "" || seen[cat] {
			continue
		}
		seen[cat] = true
		cats = append(cats, cat)
	}
	c.Categories = cats
	return nil
}

// Slugify lowercases s and collapses every run of other characters to "-".
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func lookupTx(dbc dbctx.Context, ref string) (*store.Trick, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	var tricks []store.Trick
	if err := dbc.DB().Where("id = ? OR slug = ?", ref, ref).Limit(1).Find(&tricks).Error; err != nil {
		return nil, err
	}
	if len(tricks) == 0 {
		return nil, nil
	}
	return &tricks[0], nil
}

func hasActiveVersion(dbc dbctx.Context, trickID string) (bool, error) {
	var count int64
	err := dbc.DB().Model(&store.TrickVersion{}).
		Where("trick_id = ? AND active = ?", trickID, true).
		Count(&count).Error
	return count > 0, err
}

func currentTx(dbc dbctx.Context, trickID string) (*store.TrickVersion, error) {
	var versions []store.TrickVersion
	err := dbc.DB().
		Where("trick_id = ? AND active = ?", trickID, true).
		Order("version DESC").
		Limit(1).
		Find(&versions).Error
	if err != nil || len(versions) == 0 {
		return nil, err
	}
	return &versions[0], nil
}

func checkCatalog(dbc dbctx.Context, op string, c Content) error {
	if c.Difficulty != "" {
		var count int64
		if err := dbc.DB().Model(&store.Difficulty{}).Where("id = ?", c.Difficulty).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperr.NotFound(op, apperr.ErrNotFound, "difficulty %q", c.Difficulty)
		}
	}
	if len(c.Categories) > 0 {
		var count int64
		if err := dbc.DB().Model(&store.Category{}).Where("id IN ?", c.Categories).Count(&count).Error; err != nil {
			return err
		}
		if int(count) != len(c.Categories) {
			return apperr.NotFound(op, apperr.ErrNotFound, "unknown category in %v", c.Categories)
		}
	}
	return nil
}

// resolvePrerequisites maps refs to trick ids, rejecting self references,
// duplicates, unknown tricks and inactive tricks.
func resolvePrerequisites(dbc dbctx.Context, op string, trick *store.Trick, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, apperr.Validation(op, apperr.ErrInvalidInput, "empty prerequisite reference")
		}
		if ref == trick.ID || ref == trick.Slug {
			return nil, apperr.Validation(op, apperr.ErrSelfPrerequisite, "%q", ref)
		}
		prereq, err := lookupTx(dbc, ref)
		if err != nil {
			return nil, err
		}
		if prereq == nil {
			return nil, apperr.NotFound(op, apperr.ErrUnknownPrerequisite, "%q does not exist", ref)
		}
		if seen[prereq.ID] {
			return nil, apperr.Validation(op, apperr.ErrDuplicatePrereq, "%q listed twice", ref)
		}
		seen[prereq.ID] = true
		active, err := hasActiveVersion(dbc, prereq.ID)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, apperr.NotFound(op, apperr.ErrUnknownPrerequisite, "%q is inactive", ref)
		}
		ids = append(ids, prereq.ID)
	}
	return ids, nil
}

// checkAcyclic fails with CycleDetected if trickID taking prereqIDs would
// close a loop over the active edges of every other trick.
func checkAcyclic(dbc dbctx.Context, op, trickID string, prereqIDs []string) error {
	if len(prereqIDs) == 0 {
		return nil
	}
	var rows []store.Prerequisite
	err := dbc.DB().
		Where("active = ? AND trick_id <> ?", true, trickID).
		Order("trick_id, position").
		Find(&rows).Error
	if err != nil {
		return err
	}
	edges := make(map[string][]string)
	for _, r := range rows {
		edges[r.TrickID] = append(edges[r.TrickID], r.PrerequisiteID)
	}

	path := findCycle(edges, trickID, prereqIDs)
	if path == nil {
		return nil
	}
	return apperr.Conflict(op, apperr.ErrCycleDetected, "%s", describePath(dbc, path))
}

func describePath(dbc dbctx.Context, path []string) string {
	var tricks []store.Trick
	slugs := make(map[string]string)
	if err := dbc.DB().Where("id IN ?", path).Find(&tricks).Error; err == nil {
		for _, t := range tricks {
			slugs[t.ID] = t.Slug
		}
	}
	names := make([]string, len(path))
	for i, id := range path {
		if s, ok := slugs[id]; ok {
			names[i] = s
		} else {
			names[i] = id
		}
	}
	return strings.Join(names, " -> ")
}

func insertVersion(dbc dbctx.Context, trick *store.Trick, version int, c Content, prereqIDs []string, active bool) (*store.TrickVersion, error) {
	v := &store.TrickVersion{
		ID:           uuid.New().String(),
		TrickID:      trick.ID,
		Version:      version,
		Name:         c.Name,
		Description:  c.Description,
		DifficultyID: c.Difficulty,
		Active:       active,
		UserID:       c.UserID,
	}
	if err := dbc.DB().Create(v).Error; err != nil {
		return nil, err
	}

	if len(c.Categories) > 0 {
		rows := make([]store.TrickVersionCategory, len(c.Categories))
		for i, cat := range c.Categories {
			rows[i] = store.TrickVersionCategory{VersionID: v.ID, CategoryID: cat}
		}
		if err := dbc.DB().Create(&rows).Error; err != nil {
			return nil, err
		}
	}

	edges := make([]store.Prerequisite, len(prereqIDs))
	for i, id := range prereqIDs {
		edges[i] = store.Prerequisite{
			VersionID:      v.ID,
			PrerequisiteID: id,
			TrickID:        trick.ID,
			Position:       i,
			Active:         active,
		}
	}
	if len(edges) > 0 {
		if err := dbc.DB().Create(&edges).Error; err != nil {
			return nil, err
		}
	}

	v.Slug = trick.Slug
	v.Categories = c.Categories
	v.Prerequisites = edges
	return v, nil
}

// deactivateVersions turns off every version of trickID except keep, along
// with their edges.
func deactivateVersions(dbc dbctx.Context, trickID, keep string) error {
	versions := dbc.DB().Model(&store.TrickVersion{}).Where("trick_id = ? AND active = ?", trickID, true)
	edges := dbc.DB().Model(&store.Prerequisite{}).Where("trick_id = ? AND active = ?", trickID, true)
	if keep != "" {
		versions = versions.Where("id <> ?", keep)
		edges = edges.Where("version_id <> ?", keep)
	}
	if err := versions.Update("active", false).Error; err != nil {
		return err
	}
	return edges.Update("active", false).Error
}

func setVersionActive(dbc dbctx.Context, versionID string, active bool) error {
	err := dbc.DB().Model(&store.TrickVersion{}).Where("id = ?", versionID).Update("active", active).Error
	if err != nil {
		return err
	}
	return dbc.DB().Model(&store.Prerequisite{}).Where("version_id = ?", versionID).Update("active", active).Error
}

// hydrate fills slug, categories and edges on versions in place.
func hydrate(dbc dbctx.Context, versions []store.TrickVersion) error {
	if len(versions) == 0 {
		return nil
	}
	ids := make([]string, len(versions))
	trickIDs := make([]string, len(versions))
	for i, v := range versions {
		ids[i] = v.ID
		trickIDs[i] = v.TrickID
	}

	var tricks []store.Trick
	if err := dbc.DB().Where("id IN ?", trickIDs).Find(&tricks).Error; err != nil {
		return err
	}
	slugs := make(map[string]string, len(tricks))
	for _, t := range tricks {
		slugs[t.ID] = t.Slug
	}

	var cats []store.TrickVersionCategory
	if err := dbc.DB().Where("version_id IN ?", ids).Order("category_id").Find(&cats).Error; err != nil {
		return err
	}
	byVersion := make(map[string][]string)
	for _, c := range cats {
		byVersion[c.VersionID] = append(byVersion[c.VersionID], c.CategoryID)
	}

	var edges []store.Prerequisite
	if err := dbc.DB().Where("version_id IN ?", ids).Order("position ASC").Find(&edges).Error; err != nil {
		return err
	}
	edgesByVersion := make(map[string][]store.Prerequisite)
	for _, e := range edges {
		edgesByVersion[e.VersionID] = append(edgesByVersion[e.VersionID], e)
	}

	for i := range versions {
		versions[i].Slug = slugs[versions[i].TrickID]
		versions[i].Categories = byVersion[versions[i].ID]
		versions[i].Prerequisites = edgesByVersion[versions[i].ID]
	}
	return nil
}

func (g *Graph) snapshot(ctx context.Context, trickID string) (Snapshot, error) {
	dbc := dbctx.Context{Ctx: ctx, Tx: g.db}
	var trick store.Trick
	if err := dbc.DB().First(&trick, "id = ?", trickID).Error; err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{ID: trick.ID, Slug: trick.Slug}

	v, err := currentTx(dbc, trick.ID)
	if err != nil {
		return Snapshot{}, err
	}
	if v == nil {
		var latest store.TrickVersion
		err := dbc.DB().Where("trick_id = ?", trick.ID).Order("version DESC").First(&latest).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return Snapshot{}, err
		}
		snap.Name, snap.Version = latest.Name, latest.Version
		return snap, nil
	}

	snap.Name, snap.Version, snap.Active = v.Name, v.Version, true
	var edges []store.Prerequisite
	if err := dbc.DB().Where("version_id = ?", v.ID).Order("position ASC").Find(&edges).Error; err != nil {
		return Snapshot{}, err
	}
	for _, e := range edges {
		snap.Prerequisites = append(snap.Prerequisites, e.PrerequisiteID)
	}
	return snap, nil
}

func (g *Graph) syncMirror(ctx context.Context, trickID string) {
	snap, err := g.snapshot(ctx, trickID)
	if err != nil {
		g.log.Warn("graph mirror snapshot failed", "trick_id", trickID, "error", err)
		return
	}
	if err := g.opts.Mirror.SyncTrick(ctx, snap); err != nil {
		g.log.Warn("graph mirror sync failed", "trick_id", trickID, "error", err)
	}
}
