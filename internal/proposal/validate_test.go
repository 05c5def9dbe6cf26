package proposal

import (
	"errors"
	"testing"
)

func outline(titles ...string) Outline {
	o := Outline{ProposalType: Grant}
	for _, t := range titles {
		o.Sections = append(o.Sections, Section{Title: t, Guidance: "cover " + t})
	}
	return o
}

func fullScore(v float64) Score {
	dims := make(map[Dimension]DimensionScore, len(Dimensions))
	for _, d := range Dimensions {
		dims[d] = DimensionScore{Value: v, Rationale: "ok"}
	}
	return Score{Version: 1, Dimensions: dims, Aggregate: Mean(dims)}
}

func TestOutlineValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		outline Outline
		wantErr bool
	}{
		{"valid", outline("Summary", "Budget"), false},
		{"empty", Outline{}, true},
		{"blank title", outline("Summary", "  "), true},
		{"duplicate ignoring case", outline("Budget", "budget "), true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.outline.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
			var verr *ValidationError
			if err != nil && !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestDraftValidateAgainst(t *testing.T) {
	t.Parallel()
	o := outline("Summary", "Budget")
	ok := Draft{Version: 1, Sections: []SectionText{{"Summary", "a"}, {"Budget", "b"}}}
	if err := ok.ValidateAgainst(o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := []Draft{
		{Version: 0, Sections: ok.Sections},
		{Version: 1, Sections: []SectionText{{"Summary", "a"}}},
		{Version: 1, Sections: []SectionText{{"Summary", "a"}, {"Budget", " "}}},
		{Version: 1, Sections: []SectionText{{"Summary", "a"}, {"Budget", "b"}, {"Extra", "c"}}},
		{Version: 1, Sections: []SectionText{{"Summary", "a"}, {"Summary", "b"}}},
	}
	for i, d := range bad {
		if err := d.ValidateAgainst(o); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestScoreValidate(t *testing.T) {
	t.Parallel()
	s := fullScore(7)
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	missing := fullScore(7)
	delete(missing.Dimensions, Professionalism)
	if err := missing.Validate(); err == nil {
		t.Fatal("expected error for missing professionalism")
	}

	outOfRange := fullScore(7)
	outOfRange.Dimensions[Clarity] = DimensionScore{Value: 11}
	if err := outOfRange.Validate(); err == nil {
		t.Fatal("expected error for out-of-range value")
	}
}

func TestMeanAndBelow(t *testing.T) {
	t.Parallel()
	s := fullScore(8)
	s.Dimensions[EvidentiarySupport] = DimensionScore{Value: 3}
	if got := Mean(s.Dimensions); got != 7 {
		t.Fatalf("Mean() = %v, want 7", got)
	}
	s.Dimensions[Clarity] = DimensionScore{Value: 7.99}
	if got, exact := Mean(s.Dimensions), s.Exact(); got != 7 || exact >= 7 {
		t.Fatalf("Mean() = %v Exact() = %v, want 7 and below 7", got, exact)
	}
	if got := (Score{Aggregate: 6.5}).Exact(); got != 6.5 {
		t.Fatalf("Exact() without dimensions = %v, want 6.5", got)
	}
	below := s.Below(7.5)
	if len(below) != 1 || below[0] != EvidentiarySupport {
		t.Fatalf("Below() = %v", below)
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()
	got, err := ParseType("grant")
	if err != nil || got != Grant {
		t.Fatalf("ParseType(grant) = %q, %v", got, err)
	}
	if _, err := ParseType("novel"); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if got, err := ParseType(""); err != nil || got != "" {
		t.Fatalf("ParseType(\"\") = %q, %v", got, err)
	}
}
