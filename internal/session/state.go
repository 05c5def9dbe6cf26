package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/mohammad-safakhou/proposer/internal/proposal"
)

// Stage is a node of the orchestration state machine.
type Stage string

const (
	StagePlanning    Stage = "PLANNING"
	StageResearching Stage = "RESEARCHING"
	StageDrafting    Stage = "DRAFTING"
	StageEvaluating  Stage = "EVALUATING"
	StageRefining    Stage = "REFINING"
	StageDone        Stage = "DONE"
	StageFailed      Stage = "FAILED"
	StageCancelled   Stage = "CANCELLED"
)

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed || s == StageCancelled
}

// State is the working memory of one run. The orchestrator is its only
// writer; agents receive copies of the parts they need. Reads from other
// goroutines go through Snapshot.
type State struct {
	mu sync.RWMutex

	request   proposal.Request
	outline   *proposal.Outline
	findings  []proposal.Finding
	seen      map[string]map[string]struct{}
	latest    *proposal.Draft
	best      *proposal.Draft
	bestScore *proposal.Score
	scores    []proposal.Score
	drafts    int
	iteration int
	stage     Stage
	updatedAt time.Time
}

func New(req proposal.Request) *State {
	return &State{
		request:   req,
		seen:      make(map[string]map[string]struct{}),
		stage:     StagePlanning,
		updatedAt: time.Now().UTC(),
	}
}

func (s *State) touch() { s.updatedAt = time.Now().UTC() }

func (s *State) Request() proposal.Request { return s.request }

// SetStage moves the run to next. Leaving a terminal stage is an error.
func (s *State) SetStage(next Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage.Terminal() {
		return fmt.Errorf("run already %s", s.stage)
	}
	s.stage = next
	s.touch()
	return nil
}

func (s *State) Stage() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

// SetOutline replaces the outline wholesale. Findings are kept; Findings
// only reports those of sections in the current outline.
func (s *State) SetOutline(o proposal.Outline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyOutline(o)
	s.outline = &cp
	s.touch()
}

// Outline returns a copy of the current outline.
func (s *State) Outline() (proposal.Outline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.outline == nil {
		return proposal.Outline{}, false
	}
	return copyOutline(*s.outline), true
}

// AddFindings appends findings for a section, skipping any whose key was
// already recorded for that section. It returns how many were added.
func (s *State) AddFindings(section string, findings []proposal.Finding, key func(proposal.Finding) string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.seen[section]
	if seen == nil {
		seen = make(map[string]struct{})
		s.seen[section] = seen
	}
	added := 0
	for _, f := range findings {
		k := key(f)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		f.Section = section
		s.findings = append(s.findings, f)
		added++
	}
	if added > 0 {
		s.touch()
	}
	return added
}

// Findings returns the findings of the current outline's sections in the
// order they were recorded. Later findings only ever append, so citation
// numbers derived from this order stay stable across refinements.
func (s *State) Findings() []proposal.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.outline == nil {
		return nil
	}
	live := make(map[string]struct{}, len(s.outline.Sections))
	for _, sec := range s.outline.Sections {
		live[sec.Title] = struct{}{}
	}
	var out []proposal.Finding
	for _, f := range s.findings {
		if _, ok := live[f.Section]; ok {
			out = append(out, f)
		}
	}
	return out
}

// RecordDraft stores d as the latest draft. Versions must increase by one.
func (s *State) RecordDraft(d proposal.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := 1
	if s.latest != nil {
		want = s.latest.Version + 1
	}
	if d.Version != want {
		return fmt.Errorf("draft version %d out of order, expected %d", d.Version, want)
	}
	cp := copyDraft(d)
	s.latest = &cp
	s.drafts++
	s.touch()
	return nil
}

// RecordScore appends the score for the latest draft and updates the best
// draft. Ties go to the newer draft.
func (s *State) RecordScore(sc proposal.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil || sc.Version != s.latest.Version {
		return fmt.Errorf("score for version %d does not match latest draft", sc.Version)
	}
	s.scores = append(s.scores, copyScore(sc))
	if s.bestScore == nil || sc.Exact() >= s.bestScore.Exact() {
		best := s.latest
		bs := copyScore(sc)
		s.best, s.bestScore = best, &bs
	}
	s.touch()
	return nil
}

func (s *State) Latest() (proposal.Draft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return proposal.Draft{}, false
	}
	return copyDraft(*s.latest), true
}

// Best returns the highest-scoring draft and its score.
func (s *State) Best() (proposal.Draft, proposal.Score, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.best == nil {
		return proposal.Draft{}, proposal.Score{}, false
	}
	return copyDraft(*s.best), copyScore(*s.bestScore), true
}

// LatestScore returns the most recent evaluation.
func (s *State) LatestScore() (proposal.Score, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.scores) == 0 {
		return proposal.Score{}, false
	}
	return copyScore(s.scores[len(s.scores)-1]), true
}

// NextIteration increments the refinement counter and returns the new value.
func (s *State) NextIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iteration++
	s.touch()
	return s.iteration
}

func (s *State) Iteration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iteration
}

// Snapshot is a detached, JSON-friendly copy of the state for diagnostics.
type Snapshot struct {
	Request   proposal.Request              `json:"request"`
	Stage     Stage                         `json:"stage"`
	Outline   *proposal.Outline             `json:"outline,omitempty"`
	Findings  map[string][]proposal.Finding `json:"findings,omitempty"`
	Latest    *proposal.Draft               `json:"latest_draft,omitempty"`
	Best      *proposal.Draft               `json:"best_draft,omitempty"`
	BestScore *proposal.Score               `json:"best_score,omitempty"`
	Scores    []proposal.Score              `json:"scores,omitempty"`
	Drafts    int                           `json:"drafts"`
	Iteration int                           `json:"iteration"`
	UpdatedAt time.Time                     `json:"updated_at"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Request:   s.request,
		Stage:     s.stage,
		Drafts:    s.drafts,
		Iteration: s.iteration,
		UpdatedAt: s.updatedAt,
	}
	if s.outline != nil {
		o := copyOutline(*s.outline)
		snap.Outline = &o
	}
	if len(s.findings) > 0 {
		snap.Findings = make(map[string][]proposal.Finding)
		for _, f := range s.findings {
			snap.Findings[f.Section] = append(snap.Findings[f.Section], f)
		}
	}
	if s.latest != nil {
		d := copyDraft(*s.latest)
		snap.Latest = &d
	}
	if s.best != nil {
		d := copyDraft(*s.best)
		sc := copyScore(*s.bestScore)
		snap.Best, snap.BestScore = &d, &sc
	}
	for _, sc := range s.scores {
		snap.Scores = append(snap.Scores, copyScore(sc))
	}
	return snap
}

func copyOutline(o proposal.Outline) proposal.Outline {
	o.KeyFacts = append([]string(nil), o.KeyFacts...)
	o.Sections = append([]proposal.Section(nil), o.Sections...)
	o.Questions = append([]string(nil), o.Questions...)
	return o
}

func copyDraft(d proposal.Draft) proposal.Draft {
	d.Sections = append([]proposal.SectionText(nil), d.Sections...)
	return d
}

func copyScore(s proposal.Score) proposal.Score {
	dims := make(map[proposal.Dimension]proposal.DimensionScore, len(s.Dimensions))
	for k, v := range s.Dimensions {
		dims[k] = v
	}
	s.Dimensions = dims
	return s
}
