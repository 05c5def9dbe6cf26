package agent

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/proposer/internal/proposal"
)

const plannerSystemPrompt = `You are a lead proposal strategist with decades of experience writing winning proposals.
Analyse the proposal request and produce a plan.

1. Classify the proposal as one of: Grant, Business, Technical, Sales, Project, Research, Partnership, General.
2. Extract the key facts the user already provided (names, dates, goals, constraints).
3. Plan the proposal as an ordered list of sections. Tailor titles to the type
   (a Grant needs "Impact & Sustainability", a Sales proposal needs "ROI Analysis").
   Give each section one or two sentences of guidance for the writer, including what evidence to look for.
4. List questions only for information that cannot be found online (sender organisation,
   internal budget, confidential deadlines). Leave the list empty when the request is sufficient.

Section titles must be unique. Respond ONLY with JSON:
{"proposal_type": "...", "key_facts": ["..."], "sections": [{"title": "...", "guidance": "..."}], "questions_for_user": ["..."]}`

const queryWriterPrompt = `You are a research assistant preparing web searches for one section of a proposal.
Focus on recipient background, industry data and statistics, competitor benchmarks, and relevant regulations or standards.
Return at most %d specific search queries. Respond ONLY with JSON: {"queries": ["..."]}`

const writerCommonInstructions = `Using the plan and research brief below, write a full proposal draft.
Keep the tone professional, persuasive, and aligned with the proposal type.
Cite research inline using the bracketed source numbers from the brief where appropriate.
Follow the plan exactly: write one body for every section, using the section titles verbatim, and add no other sections.
Budget rule: if the plan includes a budget section, all line items must be numerically consistent and sum to the total requested. Double-check the arithmetic.

Respond ONLY with JSON: {"sections": [{"title": "...", "text": "..."}]}`

var writerPersonas = map[proposal.Type]string{
	proposal.Business:    "You are an expert business consultant.",
	proposal.Grant:       "You are a professional grant writer.",
	proposal.Technical:   "You are a technical solutions architect.",
	proposal.Sales:       "You are a top-tier sales executive.",
	proposal.Project:     "You are a senior project manager.",
	proposal.Research:    "You are an academic researcher.",
	proposal.Partnership: "You are a strategic partnerships lead.",
	proposal.General:     "You are a versatile proposal writer.",
}

func writerSystemPrompt(t proposal.Type) string {
	persona, ok := writerPersonas[t]
	if !ok {
		persona = writerPersonas[proposal.General]
	}
	return persona + "\n" + writerCommonInstructions
}

const evaluatorSystemPrompt = `You are a strict proposal evaluator. Review the draft against the original request and outline.

Score the draft from 0 to 10 on exactly these dimensions:
- clarity: clear language, easy to read
- persuasiveness: compelling arguments, benefits-focused
- evidentiary_support: claims backed by the cited research, specific data points
- completeness: every outline section fully addresses its guidance and the request
- professionalism: tone, structure, formatting, and arithmetic consistency

Give a short rationale for every score. If the mean is below 9, give exactly three specific improvements as the critique; otherwise leave it empty.
Respond ONLY with JSON:
{"scores": {"clarity": {"value": 0, "rationale": "..."}, "persuasiveness": {...}, "evidentiary_support": {...}, "completeness": {...}, "professionalism": {...}}, "critique": "..."}`

func plannerUserPrompt(req proposal.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REQUEST:\n%s\n", req.Text)
	if req.Type != "" {
		fmt.Fprintf(&b, "\nThe user tagged this as a %s proposal.\n", req.Type)
	}
	if c := strings.TrimSpace(req.Context); c != "" {
		fmt.Fprintf(&b, "\nADDITIONAL USER REQUIREMENTS:\n%s\n", c)
	}
	return b.String()
}

func queryUserPrompt(section proposal.Section, req proposal.Request) string {
	return fmt.Sprintf("PROPOSAL REQUEST:\n%s\n\nSECTION: %s\nGUIDANCE: %s\n", req.Text, section.Title, section.Guidance)
}

func writerUserPrompt(sc Context, in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REQUEST:\n%s\n", sc.Request.Text)
	if c := strings.TrimSpace(sc.Request.Context); c != "" {
		fmt.Fprintf(&b, "\nADDITIONAL USER REQUIREMENTS:\n%s\n", c)
	}

	b.WriteString("\nPLAN:\n")
	fmt.Fprintf(&b, "Proposal type: %s\n", in.Outline.ProposalType)
	if len(in.Outline.KeyFacts) > 0 {
		b.WriteString("Key facts:\n")
		for _, f := range in.Outline.KeyFacts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	for i, s := range in.Outline.Sections {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, s.Title, s.Guidance)
	}

	b.WriteString("\nRESEARCH BRIEF:\n")
	if len(in.Findings) == 0 {
		b.WriteString("(no external research available)\n")
	}
	_, cite := proposal.Citations(in.Findings)
	for _, f := range in.Findings {
		if n, ok := cite[strings.TrimSpace(f.Source.URL)]; ok {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", n, f.Section, formatSource(f))
		} else {
			fmt.Fprintf(&b, "- (%s) %s\n", f.Section, formatSource(f))
		}
	}

	if in.Prior != nil && in.Feedback != nil {
		fmt.Fprintf(&b, "\nREVISION %d. Rewrite the previous draft below and fix the evaluator's concerns.\n", in.Prior.Version+1)
		if len(in.Flagged) > 0 {
			names := make([]string, 0, len(in.Flagged))
			for _, d := range in.Flagged {
				names = append(names, string(d))
			}
			fmt.Fprintf(&b, "You MUST improve these dimensions: %s\n", strings.Join(names, ", "))
		}
		b.WriteString("EVALUATOR FEEDBACK:\n")
		for _, d := range proposal.Dimensions {
			ds := in.Feedback.Dimensions[d]
			fmt.Fprintf(&b, "- %s %.1f/10: %s\n", d, ds.Value, ds.Rationale)
		}
		if c := strings.TrimSpace(in.Feedback.Critique); c != "" {
			fmt.Fprintf(&b, "Critique:\n%s\n", c)
		}
		b.WriteString("PREVIOUS DRAFT:\n")
		for _, s := range in.Prior.Sections {
			fmt.Fprintf(&b, "## %s\n%s\n\n", s.Title, s.Text)
		}
	}
	return b.String()
}

func evaluatorUserPrompt(sc Context, outline []string, d proposal.Draft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REQUEST:\n%s\n\nOUTLINE: %s\n\nDRAFT (version %d):\n", sc.Request.Text, strings.Join(outline, " | "), d.Version)
	for _, s := range d.Sections {
		fmt.Fprintf(&b, "## %s\n%s\n\n", s.Title, s.Text)
	}
	return b.String()
}

// formatSource renders a finding as its title, the quoted snippet capped at
// 400 runes, and the URL in angle brackets.
func formatSource(f proposal.Finding) string {
	var parts []string
	if t := strings.TrimSpace(f.Source.Title); t != "" {
		parts = append(parts, t)
	}
	if s := strings.Join(strings.Fields(f.Snippet), " "); s != "" {
		if r := []rune(s); len(r) > 400 {
			s = string(r[:400]) + "…"
		}
		parts = append(parts, `"`+s+`"`)
	}
	if u := strings.TrimSpace(f.Source.URL); u != "" {
		parts = append(parts, "<"+u+">")
	}
	return strings.Join(parts, " ")
}
