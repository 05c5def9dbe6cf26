package proposal

import (
	"fmt"
	"math"
	"strings"
)

// ValidationError reports an artifact that does not match its required shape.
type ValidationError struct {
	Artifact string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Artifact, e.Reason)
}

func invalid(artifact, format string, args ...any) error {
	return &ValidationError{Artifact: artifact, Reason: fmt.Sprintf(format, args...)}
}

// Validate requires at least one section with unique, non-empty titles.
func (o Outline) Validate() error {
	if len(o.Sections) == 0 {
		return invalid("outline", "no sections")
	}
	seen := make(map[string]struct{}, len(o.Sections))
	for i, s := range o.Sections {
		key := normalizeTitle(s.Title)
		if key == "" {
			return invalid("outline", "section %d has an empty title", i+1)
		}
		if _, dup := seen[key]; dup {
			return invalid("outline", "duplicate section title %q", s.Title)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ValidateAgainst checks the draft covers exactly the outline's sections,
// each with a non-empty body.
func (d Draft) ValidateAgainst(o Outline) error {
	if d.Version < 1 {
		return invalid("draft", "version %d must be >= 1", d.Version)
	}
	want := make(map[string]struct{}, len(o.Sections))
	for _, s := range o.Sections {
		want[s.Title] = struct{}{}
	}
	got := make(map[string]struct{}, len(d.Sections))
	for _, s := range d.Sections {
		if _, ok := want[s.Title]; !ok {
			return invalid("draft", "unexpected section %q", s.Title)
		}
		if _, dup := got[s.Title]; dup {
			return invalid("draft", "section %q written twice", s.Title)
		}
		if strings.TrimSpace(s.Text) == "" {
			return invalid("draft", "section %q is empty", s.Title)
		}
		got[s.Title] = struct{}{}
	}
	for _, s := range o.Sections {
		if _, ok := got[s.Title]; !ok {
			return invalid("draft", "missing section %q", s.Title)
		}
	}
	return nil
}

// Validate requires all rubric dimensions, each within bounds, and no extras.
func (s Score) Validate() error {
	if len(s.Dimensions) != len(Dimensions) {
		for _, d := range Dimensions {
			if _, ok := s.Dimensions[d]; !ok {
				return invalid("score", "missing dimension %q", d)
			}
		}
		return invalid("score", "expected %d dimensions, got %d", len(Dimensions), len(s.Dimensions))
	}
	for _, d := range Dimensions {
		v, ok := s.Dimensions[d]
		if !ok {
			return invalid("score", "missing dimension %q", d)
		}
		if math.IsNaN(v.Value) || v.Value < MinScore || v.Value > MaxScore {
			return invalid("score", "dimension %q value %.2f out of range [%g, %g]", d, v.Value, MinScore, MaxScore)
		}
	}
	return nil
}

// Mean is the displayed aggregate, rounded to two decimals.
func Mean(dims map[Dimension]DimensionScore) float64 {
	return math.Round(exactMean(dims)*100) / 100
}

func exactMean(dims map[Dimension]DimensionScore) float64 {
	if len(dims) == 0 {
		return 0
	}
	var sum float64
	for _, d := range Dimensions {
		sum += dims[d].Value
	}
	return sum / float64(len(Dimensions))
}

// Exact is the unrounded mean that acceptance and best-draft comparisons
// use. A score without dimensions falls back to Aggregate.
func (s Score) Exact() float64 {
	if len(s.Dimensions) == 0 {
		return s.Aggregate
	}
	return exactMean(s.Dimensions)
}

func normalizeTitle(t string) string {
	return strings.ToLower(strings.Join(strings.Fields(t), " "))
}
