// Package handshake performs the HTTP-level login dance against a
// Foundry-style server: fetch the join page, harvest cookies and the CSRF
// token, POST credentials, and verify the resulting session.
package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/foundrybridge/internal/worldcache"
)

const (
	joinPath = "/join"
	gamePath = "/game"
	setupPath = "/setup"

	requestTimeout = 15 * time.Second

	// Body marker the server includes in a 200 join response on success.
	joinSuccessMarker = `"status":"success"`
)

// AuthenticationError means the join POST produced neither a redirect, a
// success body, nor a session cookie. Fatal to the login attempt.
type AuthenticationError struct {
	StatusCode int
	Reason     string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed (HTTP %d): %s", e.StatusCode, e.Reason)
}

// SetupRedirectError means the authenticated verification fetch landed back
// on the setup screen: the credentials took, but there is no world.
type SetupRedirectError struct {
	Location string
}

func (e *SetupRedirectError) Error() string {
	return fmt.Sprintf("verification redirected to setup: %s", e.Location)
}

// Options tunes the handshake.
type Options struct {
	// FallbackUserID is used when the join page does not reveal a user id
	// for the username.
	FallbackUserID string
	// UserAgent overrides the request User-Agent.
	UserAgent string
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// Result is the acquired session.
type Result struct {
	Cookies         Cookies
	CookieHeader    string
	UserID          string
	WorldTitle      string
	WorldBackground string
	SetupMode       bool
	// UserIDs is the username → id map discovered on the join page.
	UserIDs map[string]string
}

// Acquirer performs handshakes and records what it scrapes into the
// world-info cache.
type Acquirer struct {
	client *http.Client
	worlds *worldcache.Cache
	ua     string
}

func NewAcquirer(worlds *worldcache.Cache, opts Options) *Acquirer {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: requestTimeout,
			// Redirects are state, not navigation, in this dance: a 302 is
			// itself the success/failure signal.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "foundrybridge"
	}
	return &Acquirer{client: client, worlds: worlds, ua: ua}
}

// Acquire runs the full dance. username may resolve through the join page's
// user list; otherwise opts.FallbackUserID is required.
func (a *Acquirer) Acquire(ctx context.Context, baseURL, username, password string, opts Options) (*Result, error) {
	baseURL = strings.TrimRight(baseURL, "/")

	// Step 1-4: join page fetch, cookie harvest, setup detection, scraping.
	res, page, err := a.fetchJoinPage(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	if res.SetupMode {
		// No world to log into; partial data is the whole result.
		res.CookieHeader = res.Cookies.Header()
		return res, nil
	}

	userID := res.UserIDs[username]
	if userID == "" {
		userID = opts.FallbackUserID
	}
	if userID == "" {
		return nil, &AuthenticationError{Reason: fmt.Sprintf("no user id known for %q; the server requires an id to join", username)}
	}
	res.UserID = userID

	// Step 5-6: POST join credentials.
	csrf := ExtractCSRF(page)
	if err := a.postJoin(ctx, baseURL, res, userID, username, password, csrf); err != nil {
		return nil, err
	}

	// Step 7: verify with an authenticated fetch.
	if err := a.verify(ctx, baseURL, res); err != nil {
		return nil, err
	}

	res.CookieHeader = res.Cookies.Header()
	return res, nil
}

// RefreshWorldTitle re-fetches the authenticated game page and updates the
// world cache. Used for guest sessions after a world launch, which cannot
// discover the title over document RPCs.
func (a *Acquirer) RefreshWorldTitle(ctx context.Context, baseURL, cookieHeader string) (string, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+gamePath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", a.ua)
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh world title: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read game page: %w", err)
	}

	title := ExtractTitle(string(body))
	if title != "" {
		a.worlds.Put(baseURL, worldcache.Entry{WorldTitle: title})
	}
	return title, nil
}

func (a *Acquirer) fetchJoinPage(ctx context.Context, baseURL string) (*Result, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+joinPath, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", a.ua)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch join page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read join page: %w", err)
	}
	page := string(body)

	res := &Result{
		Cookies: ParseSetCookies(resp.Header.Values("Set-Cookie")),
		UserIDs: ExtractUserIDs(page),
	}

	// Setup detection: redirect target or a DOM marker in the body.
	if loc := resp.Header.Get("Location"); strings.Contains(loc, setupPath) {
		res.SetupMode = true
	}
	if ContainsSetupMarker(page) {
		res.SetupMode = true
	}

	res.WorldTitle = ExtractTitle(page)
	res.WorldBackground = ExtractBackground(page)
	a.worlds.Put(baseURL, worldcache.Entry{
		WorldTitle:      res.WorldTitle,
		WorldBackground: res.WorldBackground,
	})

	return res, page, nil
}

func (a *Acquirer) postJoin(ctx context.Context, baseURL string, res *Result, userID, username, password, csrf string) error {
	payload := map[string]string{
		"userid":   userID,
		"username": username,
		"password": password,
		"action":   "join",
	}
	if csrf != "" {
		// The accepted key name has varied across server versions; sending
		// both is harmless on either.
		payload["csrf-token"] = csrf
		payload["csrf"] = csrf
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+joinPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", a.ua)
	// The server rejects requests that look cross-origin.
	req.Header.Set("Origin", baseURL)
	req.Header.Set("Referer", baseURL+joinPath)
	if h := res.Cookies.Header(); h != "" {
		req.Header.Set("Cookie", h)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("join post: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	newCookies := ParseSetCookies(resp.Header.Values("Set-Cookie"))
	for _, c := range newCookies {
		res.Cookies.Set(c.Name, c.Value)
	}

	// Provisional success: a redirect, a success marker in a 200 body, or
	// receipt of any new cookie. Anything else is a hard failure.
	switch {
	case resp.StatusCode == http.StatusFound:
	case resp.StatusCode == http.StatusOK && strings.Contains(string(respBody), joinSuccessMarker):
	case len(newCookies) > 0:
	default:
		reason := strings.TrimSpace(string(respBody))
		if len(reason) > 200 {
			reason = reason[:200]
		}
		return &AuthenticationError{StatusCode: resp.StatusCode, Reason: reason}
	}

	slog.Debug("join accepted", "status", resp.StatusCode, "cookies", len(res.Cookies))
	return nil
}

func (a *Acquirer) verify(ctx context.Context, baseURL string, res *Result) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+gamePath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", a.ua)
	if h := res.Cookies.Header(); h != "" {
		req.Header.Set("Cookie", h)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("verification fetch: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if loc := resp.Header.Get("Location"); strings.Contains(loc, setupPath) {
		return &SetupRedirectError{Location: loc}
	}

	for _, c := range ParseSetCookies(resp.Header.Values("Set-Cookie")) {
		res.Cookies.Set(c.Name, c.Value)
	}
	return nil
}
