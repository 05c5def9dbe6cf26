package proposal

import (
	"fmt"
	"strings"
	"time"
)

// Type is the proposal category that drives prompt selection.
type Type string

const (
	Grant       Type = "Grant"
	Business    Type = "Business"
	Technical   Type = "Technical"
	Sales       Type = "Sales"
	Project     Type = "Project"
	Research    Type = "Research"
	Partnership Type = "Partnership"
	General     Type = "General"
)

// Types lists every recognised proposal type; General is the fallback.
var Types = []Type{Grant, Business, Technical, Sales, Project, Research, Partnership, General}

// ParseType resolves a case-insensitive tag. An empty tag yields "" with no error.
func ParseType(raw string) (Type, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	for _, t := range Types {
		if strings.EqualFold(string(t), raw) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown proposal type %q", raw)
}

// Request is the user's ask. It is never mutated once a run starts.
type Request struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Type      Type      `json:"type,omitempty"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the request is usable.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("request text is required")
	}
	if r.Type != "" {
		if _, err := ParseType(string(r.Type)); err != nil {
			return err
		}
	}
	return nil
}

// Section is one planned part of the proposal.
type Section struct {
	Title    string `json:"title"`
	Guidance string `json:"guidance"`
}

// Outline is produced once by the planner. A re-plan replaces it wholesale.
type Outline struct {
	ProposalType Type      `json:"proposal_type"`
	KeyFacts     []string  `json:"key_facts,omitempty"`
	Sections     []Section `json:"sections"`
	Questions    []string  `json:"questions_for_user,omitempty"`
}

// Titles returns section titles in outline order.
func (o Outline) Titles() []string {
	out := make([]string, 0, len(o.Sections))
	for _, s := range o.Sections {
		out = append(out, s.Title)
	}
	return out
}

// Source points to where a finding came from.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Finding is a piece of external evidence supporting one outline section.
type Finding struct {
	Section string `json:"section"`
	Query   string `json:"query"`
	Snippet string `json:"snippet"`
	Source  Source `json:"source"`
}

// SectionText is the written body for one outline section.
type SectionText struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Draft is one Writer output. Version starts at 1.
type Draft struct {
	Version  int           `json:"version"`
	Sections []SectionText `json:"sections"`
}

// Text returns the body written for title.
func (d Draft) Text(title string) (string, bool) {
	for _, s := range d.Sections {
		if s.Title == title {
			return s.Text, true
		}
	}
	return "", false
}

// Dimension is one of the fixed evaluation axes.
type Dimension string

const (
	Clarity            Dimension = "clarity"
	Persuasiveness     Dimension = "persuasiveness"
	EvidentiarySupport Dimension = "evidentiary_support"
	Completeness       Dimension = "completeness"
	Professionalism    Dimension = "professionalism"
)

// Dimensions is the fixed scoring rubric, in display order.
var Dimensions = []Dimension{Clarity, Persuasiveness, EvidentiarySupport, Completeness, Professionalism}

const (
	MinScore = 0.0
	MaxScore = 10.0
)

// DimensionScore is a value on one dimension with the evaluator's reasoning.
type DimensionScore struct {
	Value     float64 `json:"value"`
	Rationale string  `json:"rationale"`
}

// Score is the evaluation of exactly one draft version.
type Score struct {
	Version    int                          `json:"version"`
	Dimensions map[Dimension]DimensionScore `json:"dimensions"`
	Aggregate  float64                      `json:"aggregate"`
	Critique   string                       `json:"critique,omitempty"`
}

// Below returns the dimensions valued under threshold, in rubric order.
func (s Score) Below(threshold float64) []Dimension {
	var out []Dimension
	for _, d := range Dimensions {
		if v, ok := s.Dimensions[d]; ok && v.Value < threshold {
			out = append(out, d)
		}
	}
	return out
}
