package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/proposer/internal/proposal"
)

func sampleDoc() Document {
	return Document{
		Request: proposal.Request{Text: "Grant proposal for a community solar project"},
		Outline: proposal.Outline{ProposalType: proposal.Grant},
		Draft: proposal.Draft{Version: 2, Sections: []proposal.SectionText{
			{Title: "Executive Summary", Text: "Solar for **everyone**.<script>alert(1)</script>"},
			{Title: "Budget", Text: "| Item | Cost |\n|---|---|\n| Panels | $10 |"},
		}},
		Findings: []proposal.Finding{
			{Source: proposal.Source{Title: "NREL [report]", URL: "https://nrel.gov/a"}},
			{Source: proposal.Source{Title: "NREL again", URL: "https://nrel.gov/a"}},
			{Source: proposal.Source{URL: "https://doe.gov/b"}},
			{Source: proposal.Source{Title: "no url"}},
		},
	}
}

func TestMarkdown(t *testing.T) {
	t.Parallel()
	out := Markdown(sampleDoc())
	for _, want := range []string{
		"# Grant Proposal\n",
		"## Executive Summary\n\nSolar for **everyone**.",
		"## References\n\n1. [NREL \\[report\\]](https://nrel.gov/a)\n2. [https://doe.gov/b](https://doe.gov/b)\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Executive Summary") > strings.Index(out, "Budget") {
		t.Fatalf("sections out of order")
	}
}

func TestHTMLIsSanitized(t *testing.T) {
	t.Parallel()
	out, err := HTML(sampleDoc())
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	if strings.Contains(out, "<script") {
		t.Fatalf("script survived sanitizing:\n%s", out)
	}
	for _, want := range []string{"<strong>everyone</strong>", "<table>", "<title>Grant Proposal</title>", `href="https://nrel.gov/a"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("html missing %q:\n%s", want, out)
		}
	}
}

func TestSaveMarkdown(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "outputs")
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	path, err := SaveMarkdown(dir, sampleDoc(), at)
	if err != nil {
		t.Fatalf("SaveMarkdown: %v", err)
	}
	if filepath.Base(path) != "20250304_050607_Grant_Proposal.md" {
		t.Fatalf("file name = %s", filepath.Base(path))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(raw), "# Grant Proposal") {
		t.Fatalf("content = %q", raw)
	}
	if FileName("", at) != "20250304_050607_General_Proposal.md" {
		t.Fatalf("general fallback name = %s", FileName("", at))
	}
}

func TestScorecard(t *testing.T) {
	t.Parallel()
	dims := map[proposal.Dimension]proposal.DimensionScore{}
	for _, d := range proposal.Dimensions {
		dims[d] = proposal.DimensionScore{Value: 7, Rationale: "fine"}
	}
	out := Scorecard(proposal.Score{Version: 2, Dimensions: dims, Aggregate: 7, Critique: "add data"}, 2, 3)
	for _, want := range []string{"Draft v2 (revision 2/3)", "evidentiary_support", "overall", "7.00", "critique: add data"} {
		if !strings.Contains(out, want) {
			t.Fatalf("scorecard missing %q:\n%s", want, out)
		}
	}
}
