package pipeline

import (
	"context"

	"github.com/alphabot-ai/trickbook/internal/store"
)

type PrerequisiteProgress struct {
	TrickID   string `json:"trick_id"`
	Slug      string `json:"slug"`
	Active    bool   `json:"active"`
	Achieved  bool   `json:"achieved"`
	Satisfied bool   `json:"satisfied"`
}

// Progress is a user's standing against one trick.
type Progress struct {
	TrickID       string                 `json:"trick_id"`
	Slug          string                 `json:"slug"`
	Achieved      bool                   `json:"achieved"`
	Ready         bool                   `json:"ready"`
	Prerequisites []PrerequisiteProgress `json:"prerequisites"`
}

// Progress reports which prerequisites of ref userID has satisfied. A
// prerequisite is achieved by an accepted submission; an inactive one may
// count as satisfied depending on the graph's policy.
func (p *Pipeline) Progress(ctx context.Context, userID, ref string) (*Progress, error) {
	const op = "pipeline.Progress"

	trick, reqs, err := p.graph.Requirements(ctx, ref)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(reqs)+1)
	ids = append(ids, trick.ID)
	for _, r := range reqs {
		ids = append(ids, r.TrickID)
	}
	var achieved []string
	err = p.db.WithContext(ctx).
		Model(&store.Submission{}).
		Where("user_id = ? AND status = ? AND trick_id IN ?", userID, store.StatusAccepted, ids).
		Pluck("trick_id", &achieved).Error
	if err != nil {
		return nil, store.MapError(op, err)
	}
	done := make(map[string]bool, len(achieved))
	for _, id := range achieved {
		done[id] = true
	}

	policy := p.graph.Policy()
	out := &Progress{
		TrickID:       trick.ID,
		Slug:          trick.Slug,
		Achieved:      done[trick.ID],
		Ready:         true,
		Prerequisites: make([]PrerequisiteProgress, 0, len(reqs)),
	}
	for _, r := range reqs {
		pp := PrerequisiteProgress{
			TrickID:   r.TrickID,
			Slug:      r.Slug,
			Active:    r.Active,
			Achieved:  done[r.TrickID],
			Satisfied: policy.Satisfied(done[r.TrickID], r.Active),
		}
		out.Ready = out.Ready && pp.Satisfied
		out.Prerequisites = append(out.Prerequisites, pp)
	}
	return out, nil
}
