package graph

import (
	"context"
	"strings"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/store"
)

func (g *Graph) CreateDifficulty(ctx context.Context, d store.Difficulty) (*store.Difficulty, error) {
	const op = "graph.CreateDifficulty"

	id, name, err := catalogKey(op, d.ID, d.Name)
	if err != nil {
		return nil, err
	}
	d.ID, d.Name, d.Description = id, name, strings.TrimSpace(d.Description)
	err = store.Execute(ctx, g.runner, op, func(dbc dbctx.Context) error {
		if err := dbc.DB().Create(&d).Error; err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Conflict(op, apperr.ErrConflict, "difficulty %q exists", d.ID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (g *Graph) CreateCategory(ctx context.Context, c store.Category) (*store.Category, error) {
	const op = "graph.CreateCategory"

	id, name, err := catalogKey(op, c.ID, c.Name)
	if err != nil {
		return nil, err
	}
	c.ID, c.Name, c.Description = id, name, strings.TrimSpace(c.Description)
	err = store.Execute(ctx, g.runner, op, func(dbc dbctx.Context) error {
		if err := dbc.DB().Create(&c).Error; err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Conflict(op, apperr.ErrConflict, "category %q exists", c.ID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (g *Graph) Difficulties(ctx context.Context) ([]store.Difficulty, error) {
	var out []store.Difficulty
	if err := g.db.WithContext(ctx).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, store.MapError("graph.Difficulties", err)
	}
	return out, nil
}

func (g *Graph) Categories(ctx context.Context) ([]store.Category, error) {
	var out []store.Category
	if err := g.db.WithContext(ctx).Order("name ASC").Find(&out).Error; err != nil {
		return nil, store.MapError("graph.Categories", err)
	}
	return out, nil
}

func catalogKey(op, id, name string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", apperr.Validation(op, apperr.ErrInvalidInput, "name is required")
	}
	if id = Slugify(id); id == "" {
		id = Slugify(name)
	}
	if id == "" {
		return "", "", apperr.Validation(op, apperr.ErrInvalidInput, "id cannot be derived from %q", name)
	}
	return id, name, nil
}
