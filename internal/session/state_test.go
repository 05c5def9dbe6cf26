package session

import (
	"testing"

	"github.com/mohammad-safakhou/proposer/internal/proposal"
)

func score(version int, v float64) proposal.Score {
	dims := make(map[proposal.Dimension]proposal.DimensionScore)
	for _, d := range proposal.Dimensions {
		dims[d] = proposal.DimensionScore{Value: v}
	}
	return proposal.Score{Version: version, Dimensions: dims, Aggregate: proposal.Mean(dims)}
}

func draft(version int) proposal.Draft {
	return proposal.Draft{Version: version, Sections: []proposal.SectionText{{Title: "A", Text: "text"}}}
}

func TestStateBestDraftTracking(t *testing.T) {
	t.Parallel()
	s := New(proposal.Request{Text: "x"})
	for i, v := range []float64{6, 7.5, 7.5, 5} {
		if err := s.RecordDraft(draft(i + 1)); err != nil {
			t.Fatalf("RecordDraft: %v", err)
		}
		if err := s.RecordScore(score(i+1, v)); err != nil {
			t.Fatalf("RecordScore: %v", err)
		}
	}
	best, bs, ok := s.Best()
	if !ok {
		t.Fatalf("no best draft")
	}
	if best.Version != 3 || bs.Aggregate != 7.5 {
		t.Fatalf("best = v%d (%v), want v3 (tie goes to newer)", best.Version, bs.Aggregate)
	}
	latest, _ := s.Latest()
	if latest.Version != 4 {
		t.Fatalf("latest = v%d", latest.Version)
	}
	if snap := s.Snapshot(); len(snap.Scores) != 4 || snap.Drafts != 4 {
		t.Fatalf("snapshot scores=%d drafts=%d", len(snap.Scores), snap.Drafts)
	}
}

func TestStateRejectsOutOfOrderArtifacts(t *testing.T) {
	t.Parallel()
	s := New(proposal.Request{Text: "x"})
	if err := s.RecordDraft(draft(2)); err == nil {
		t.Fatalf("expected version error for first draft v2")
	}
	if err := s.RecordScore(score(1, 5)); err == nil {
		t.Fatalf("expected error scoring before any draft")
	}
	if err := s.RecordDraft(draft(1)); err != nil {
		t.Fatalf("RecordDraft: %v", err)
	}
	if err := s.RecordScore(score(2, 5)); err == nil {
		t.Fatalf("expected mismatched score version error")
	}
}

func TestStateFindingsAppendOnly(t *testing.T) {
	t.Parallel()
	s := New(proposal.Request{Text: "x"})
	s.SetOutline(proposal.Outline{Sections: []proposal.Section{{Title: "A"}, {Title: "B"}}})
	key := func(f proposal.Finding) string { return f.Source.URL }

	if n := s.AddFindings("B", []proposal.Finding{{Source: proposal.Source{URL: "u1"}}}, key); n != 1 {
		t.Fatalf("added %d", n)
	}
	if n := s.AddFindings("A", []proposal.Finding{{Source: proposal.Source{URL: "u1"}}, {Source: proposal.Source{URL: "u2"}}}, key); n != 2 {
		t.Fatalf("added %d", n)
	}
	if n := s.AddFindings("A", []proposal.Finding{{Source: proposal.Source{URL: "u2"}}, {Source: proposal.Source{URL: "u3"}}}, key); n != 1 {
		t.Fatalf("duplicate re-added: %d", n)
	}
	got := s.Findings()
	if len(got) != 4 || got[0].Section != "B" || got[3].Source.URL != "u3" {
		t.Fatalf("findings not in recording order: %+v", got)
	}

	s.SetOutline(proposal.Outline{Sections: []proposal.Section{{Title: "A"}}})
	if got := s.Findings(); len(got) != 3 {
		t.Fatalf("re-plan reports %d findings, want 3", len(got))
	}
	if n := len(s.Snapshot().Findings["B"]); n != 1 {
		t.Fatalf("re-plan emptied section B: %d findings", n)
	}
	s.SetOutline(proposal.Outline{Sections: []proposal.Section{{Title: "A"}, {Title: "B"}}})
	if got := s.Findings(); len(got) != 4 {
		t.Fatalf("restored outline reports %d findings, want 4", len(got))
	}
}

func TestStateTerminalStage(t *testing.T) {
	t.Parallel()
	s := New(proposal.Request{Text: "x"})
	if err := s.SetStage(StageCancelled); err != nil {
		t.Fatalf("SetStage: %v", err)
	}
	if err := s.SetStage(StageDrafting); err == nil {
		t.Fatalf("left a terminal stage")
	}
	if s.Stage() != StageCancelled {
		t.Fatalf("stage = %s", s.Stage())
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	t.Parallel()
	s := New(proposal.Request{Text: "x"})
	s.SetOutline(proposal.Outline{Sections: []proposal.Section{{Title: "A"}}})
	snap := s.Snapshot()
	snap.Outline.Sections[0].Title = "changed"
	o, _ := s.Outline()
	if o.Sections[0].Title != "A" {
		t.Fatalf("snapshot aliases state")
	}
}
