package handshake

import "strings"

// Cookie is one name=value pair harvested from a Set-Cookie header.
type Cookie struct {
	Name  string
	Value string
}

// Cookies preserves harvest order, which matters for the session-id
// fallback (first pair wins when no known session cookie is present).
type Cookies []Cookie

// Get returns the value for name.
func (cs Cookies) Get(name string) (string, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Set updates an existing cookie or appends a new one.
func (cs *Cookies) Set(name, value string) {
	for i, c := range *cs {
		if c.Name == name {
			(*cs)[i].Value = value
			return
		}
	}
	*cs = append(*cs, Cookie{Name: name, Value: value})
}

// Header renders the accumulated cookies as a Cookie request header value.
func (cs Cookies) Header() string {
	var b strings.Builder
	for i, c := range cs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(c.Value)
	}
	return b.String()
}

// SessionID extracts the socket session id: the cookie named "session" or
// "foundry" (first match), falling back to the first pair present.
func (cs Cookies) SessionID() string {
	for _, name := range []string{"session", "foundry"} {
		if v, ok := cs.Get(name); ok {
			return v
		}
	}
	if len(cs) > 0 {
		return cs[0].Value
	}
	return ""
}

// ParseSetCookies harvests cookie pairs from Set-Cookie header values. A
// single header value may bundle several cookies separated by commas, but
// commas also appear inside date-valued attributes (Expires=Wed, 21 Oct...),
// so a comma only starts a new cookie when the segment after it contains a
// key=value pair before the next semicolon.
func ParseSetCookies(headers []string) Cookies {
	var out Cookies
	for _, h := range headers {
		for _, part := range splitCombined(h) {
			// First attribute of each cookie is the name=value pair;
			// everything after the first ';' is metadata (Path, Expires...).
			if i := strings.IndexByte(part, ';'); i >= 0 {
				part = part[:i]
			}
			name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || name == "" {
				continue
			}
			out.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}
	return out
}

// splitCombined splits a combined Set-Cookie value on cookie-starting
// commas. Go's regexp has no lookahead, so the check is done by scanning:
// a comma is a boundary only if the text up to the next ';' (or ',' or end)
// contains '='.
func splitCombined(h string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(h); i++ {
		if h[i] != ',' {
			continue
		}
		rest := h[i+1:]
		if j := strings.IndexByte(rest, ';'); j >= 0 {
			rest = rest[:j]
		}
		if k := strings.IndexByte(rest, ','); k >= 0 {
			rest = rest[:k]
		}
		if strings.Contains(rest, "=") {
			parts = append(parts, h[start:i])
			start = i + 1
		}
	}
	parts = append(parts, h[start:])
	return parts
}
