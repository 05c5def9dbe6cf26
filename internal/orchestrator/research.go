package orchestrator

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/proposer/internal/agent"
	"github.com/mohammad-safakhou/proposer/internal/events"
	"github.com/mohammad-safakhou/proposer/internal/proposal"
	"github.com/mohammad-safakhou/proposer/internal/session"
)

// researchAll runs the researcher once per section, at most
// ResearchParallelism at a time, and returns after every call has finished.
// During refinement it runs inside the REFINING stage.
func (r *run) researchAll(ctx context.Context, stage session.Stage, outline proposal.Outline) (err error) {
	if stage == session.StageResearching {
		var done func(error)
		ctx, done, err = r.enter(ctx, stage)
		if err != nil {
			return err
		}
		defer func() { done(err) }()
	}

	r.emit(ctx, stage, "research", events.StatusStarted, ResearchSummary{Sections: len(outline.Sections)})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ResearchParallelism)
	for _, section := range outline.Sections {
		if gctx.Err() != nil {
			break
		}
		section := section
		g.Go(func() error { return r.researchSection(gctx, stage, section) })
	}
	err = g.Wait()
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	if err != nil {
		if !errors.Is(err, ErrCancelled) {
			r.emitStageError(ctx, stage, "research", err)
		}
		return err
	}

	r.emit(ctx, stage, "research", events.StatusCompleted, ResearchSummary{
		Sections: len(outline.Sections),
		Findings: len(r.state.Findings()),
	})
	return nil
}

func (r *run) researchSection(ctx context.Context, stage session.Stage, section proposal.Section) error {
	label := "research:" + section.Title
	r.emit(ctx, stage, label, events.StatusStarted, ResearchBatch{Section: section.Title})
	res, err := r.invoke(ctx, stage, agent.RoleResearcher, agent.Input{Section: section}, nil)
	if err != nil {
		if !errors.Is(err, ErrCancelled) {
			r.emit(context.WithoutCancel(ctx), stage, label, events.StatusFailed, Failure{Stage: stage, Role: agent.RoleResearcher, Error: err.Error()})
		}
		return err
	}
	added := r.state.AddFindings(section.Title, res.Findings, findingKey)
	r.emit(ctx, stage, label, events.StatusCompleted, ResearchBatch{Section: section.Title, Findings: res.Findings, Added: added})
	return nil
}

// findingKey identifies a finding by its normalised source URL, falling back
// to its text for sourceless findings.
func findingKey(f proposal.Finding) string {
	u := strings.ToLower(strings.TrimSpace(f.Source.URL))
	u = strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	u = strings.TrimPrefix(u, "www.")
	u = strings.TrimRight(u, "/")
	if u != "" {
		return u
	}
	return strings.ToLower(strings.Join(strings.Fields(f.Source.Title+" "+f.Snippet), " "))
}
