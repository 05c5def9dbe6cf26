package render

import (
	"bytes"
	"fmt"
	"html"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy

	md = goldmark.New(goldmark.WithExtensions(extension.GFM))
)

// proposalPolicy allows the formatting a proposal uses and nothing
// executable. Model output is untrusted, so raw HTML in it is stripped.
func proposalPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowURLSchemes("http", "https", "mailto")
		p.RequireParseableURLs(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)
		policy = p
	})
	return policy
}

// HTML renders the proposal as a standalone sanitized HTML page.
func HTML(doc Document) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(doc)), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	body := proposalPolicy().SanitizeBytes(buf.Bytes())
	title := html.EscapeString(fmt.Sprintf("%s Proposal", proposalType(doc)))
	return fmt.Sprintf("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n%s</body></html>\n", title, body), nil
}
