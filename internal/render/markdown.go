package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammad-safakhou/proposer/internal/proposal"
)

// Document is everything needed to render a finished proposal.
type Document struct {
	Request  proposal.Request
	Outline  proposal.Outline
	Draft    proposal.Draft
	Score    *proposal.Score
	Findings []proposal.Finding
}

// Markdown renders the proposal with a references section built from the
// distinct sources of its findings.
func Markdown(doc Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Proposal\n\n", proposalType(doc))
	for _, s := range doc.Draft.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Title, strings.TrimSpace(s.Text))
	}
	if refs := References(doc.Findings); len(refs) > 0 {
		b.WriteString("## References\n\n")
		for i, src := range refs {
			title := strings.TrimSpace(src.Title)
			if title == "" {
				title = src.URL
			}
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, escapeLinkText(title), src.URL)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// References returns the distinct sources in citation order.
func References(findings []proposal.Finding) []proposal.Source {
	refs, _ := proposal.Citations(findings)
	return refs
}

// Scorecard renders the evaluation as a short plain-text table.
func Scorecard(s proposal.Score, iteration, maxIterations int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft v%d", s.Version)
	if maxIterations > 0 {
		fmt.Fprintf(&b, " (revision %d/%d)", iteration, maxIterations)
	}
	b.WriteString("\n")
	for _, d := range proposal.Dimensions {
		ds := s.Dimensions[d]
		fmt.Fprintf(&b, "  %-20s %4.1f  %s\n", d, ds.Value, ds.Rationale)
	}
	fmt.Fprintf(&b, "  %-20s %4.2f\n", "overall", s.Aggregate)
	if c := strings.TrimSpace(s.Critique); c != "" {
		fmt.Fprintf(&b, "  critique: %s\n", c)
	}
	return b.String()
}

// FileName is the name a proposal is saved under.
func FileName(t proposal.Type, at time.Time) string {
	if t == "" {
		t = proposal.General
	}
	return fmt.Sprintf("%s_%s_Proposal.md", at.Format("20060102_150405"), t)
}

// SaveMarkdown writes the document into dir and returns the file path.
func SaveMarkdown(dir string, doc Document, at time.Time) (string, error) {
	if dir == "" {
		dir = "outputs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, FileName(proposalType(doc), at))
	if err := os.WriteFile(path, []byte(Markdown(doc)), 0o644); err != nil {
		return "", fmt.Errorf("write proposal: %w", err)
	}
	return path, nil
}

func proposalType(doc Document) proposal.Type {
	if doc.Outline.ProposalType != "" {
		return doc.Outline.ProposalType
	}
	if doc.Request.Type != "" {
		return doc.Request.Type
	}
	return proposal.General
}

func escapeLinkText(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}
