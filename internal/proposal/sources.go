package proposal

import "strings"

// Citations numbers the distinct source URLs of findings from 1, in
// first-seen order. The writer's research brief and the rendered reference
// list both use it, so an inline [n] always names reference n.
func Citations(findings []Finding) ([]Source, map[string]int) {
	number := make(map[string]int)
	var sources []Source
	for _, f := range findings {
		u := strings.TrimSpace(f.Source.URL)
		if u == "" {
			continue
		}
		if _, ok := number[u]; ok {
			continue
		}
		sources = append(sources, Source{Title: f.Source.Title, URL: u})
		number[u] = len(sources)
	}
	return sources, number
}
