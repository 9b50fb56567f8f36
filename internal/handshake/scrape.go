package handshake

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// The upstream server is not ours: the join page's shape is known only by
// observation, so each extraction is a small pure function that can be
// fuzzed and fixture-tested independently of live network access.

const brandingPrefix = "Foundry Virtual Tabletop"

// The accepted CSRF field markup has varied across server versions: the
// value attribute appears on either side of the name attribute.
var (
	csrfValueAfter  = regexp.MustCompile(`name=["']csrf[^"']*["'][^>]*\bvalue=["']([^"']+)["']`)
	csrfValueBefore = regexp.MustCompile(`value=["']([^"']+)["'][^>]*\bname=["']csrf[^"']*["']`)

	backgroundURL = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)

	setupMarkers = []string{`id="setup-configuration"`, `data-route="/setup"`, `id="setup-menu"`}

	userOption = regexp.MustCompile(`<option[^>]*\bvalue=["']([^"']+)["'][^>]*>([^<]+)</option>`)
)

// ExtractTitle pulls the page <title> and strips the application branding,
// leaving the world/system display title. Empty when no title remains.
func ExtractTitle(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}
	title := findTitle(doc)
	title = strings.TrimSpace(title)
	title = strings.TrimPrefix(title, brandingPrefix)
	title = strings.TrimSuffix(title, brandingPrefix)
	return strings.Trim(title, " \t\n•|-")
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return b.String()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// ExtractCSRF finds the CSRF token through either known pattern.
func ExtractCSRF(page string) string {
	if m := csrfValueAfter.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	if m := csrfValueBefore.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}

// ExtractBackground finds the world background image URL from inline CSS.
func ExtractBackground(page string) string {
	if m := backgroundURL.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}

// ContainsSetupMarker reports whether the body looks like the setup screen.
func ContainsSetupMarker(page string) bool {
	for _, marker := range setupMarkers {
		if strings.Contains(page, marker) {
			return true
		}
	}
	return false
}

// ExtractUserIDs builds the username → user-id map from the join page's
// user select options. The server requires a concrete id to join, not a
// username, so this discovery is what makes plain-username logins work.
func ExtractUserIDs(page string) map[string]string {
	out := make(map[string]string)
	for _, m := range userOption.FindAllStringSubmatch(page, -1) {
		id, name := m[1], strings.TrimSpace(m[2])
		if id == "" || name == "" {
			continue
		}
		out[name] = id
	}
	return out
}
