package agent

import (
	"net/url"
	"path"
	"strings"
)

var trackingParams = map[string]struct{}{
	"gclid": {}, "dclid": {}, "fbclid": {}, "msclkid": {}, "igshid": {}, "ref": {},
}

// canonicalURL normalises a source URL so the same page found by different
// queries is recognised as one finding. Unparseable input is returned trimmed.
func canonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return raw
	}
	if u.Scheme == "" && u.Host == "" {
		if u, err = url.Parse("https://" + strings.TrimPrefix(raw, "//")); err != nil {
			return raw
		}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = strings.TrimPrefix(host, "www.")
	u.Fragment = ""

	p := path.Clean("/" + u.Path)
	if p == "/" {
		p = ""
	}
	u.Path = p
	u.RawPath = ""

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if _, drop := trackingParams[lower]; drop || strings.HasPrefix(lower, "utm_") {
			q.Del(key)
		}
	}
	// Encode sorts keys.
	u.RawQuery = q.Encode()
	return u.String()
}
