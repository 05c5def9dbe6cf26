package models

// Result is the readable content extracted from one page.
type Result struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline"`
	SiteName string `json:"site_name"`
	Excerpt  string `json:"excerpt"`
	Text     string `json:"text"`
	Status   int    `json:"status"`
	RenderMS int    `json:"render_ms"`
}
