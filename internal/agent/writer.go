package agent

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/proposer/internal/proposal"
	"github.com/mohammad-safakhou/proposer/provider"
)

// Writer produces a full draft from the outline and findings, and rewrites
// it when the orchestrator asks for a refinement.
type Writer struct {
	llmAgent
}

func NewWriter(client provider.Client, opts ModelOptions) *Writer {
	if opts.Temperature == nil {
		opts.Temperature = temperature(0.4)
	}
	return &Writer{llmAgent{role: RoleWriter, client: client, opts: opts}}
}

func (w *Writer) Role() Role { return RoleWriter }

type writerReply struct {
	Sections []struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"sections"`
}

func (w *Writer) Invoke(ctx context.Context, in Input, sc Context) (Output, error) {
	var reply writerReply
	if err := w.ask(ctx, writerSystemPrompt(in.Outline.ProposalType), writerUserPrompt(sc, in), &reply); err != nil {
		return Output{}, err
	}

	version := 1
	if in.Prior != nil {
		version = in.Prior.Version + 1
	}

	// Models drift on whitespace and case in titles; map replies back onto
	// the outline's exact titles and emit sections in outline order.
	canonical := make(map[string]string, len(in.Outline.Sections))
	for _, s := range in.Outline.Sections {
		canonical[titleKey(s.Title)] = s.Title
	}
	bodies := make(map[string]string, len(reply.Sections))
	draft := proposal.Draft{Version: version}
	for _, s := range reply.Sections {
		title, ok := canonical[titleKey(s.Title)]
		if !ok {
			title = strings.TrimSpace(s.Title)
		}
		if _, dup := bodies[title]; dup {
			// keep the duplicate so validation rejects it
			draft.Sections = append(draft.Sections, proposal.SectionText{Title: title, Text: strings.TrimSpace(s.Text)})
			continue
		}
		bodies[title] = strings.TrimSpace(s.Text)
	}
	ordered := make([]proposal.SectionText, 0, len(bodies))
	for _, s := range in.Outline.Sections {
		if text, ok := bodies[s.Title]; ok {
			ordered = append(ordered, proposal.SectionText{Title: s.Title, Text: text})
			delete(bodies, s.Title)
		}
	}
	for _, s := range reply.Sections {
		title := strings.TrimSpace(s.Title)
		if text, ok := bodies[title]; ok {
			ordered = append(ordered, proposal.SectionText{Title: title, Text: text})
			delete(bodies, title)
		}
	}
	draft.Sections = append(ordered, draft.Sections...)

	if err := draft.ValidateAgainst(in.Outline); err != nil {
		return Output{}, SchemaFailure(RoleWriter, err)
	}
	return Output{Draft: &draft}, nil
}

func titleKey(t string) string {
	return strings.ToLower(strings.Join(strings.Fields(t), " "))
}
