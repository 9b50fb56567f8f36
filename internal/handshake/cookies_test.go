package handshake

import "testing"

func TestParseSetCookies_CombinedHeader(t *testing.T) {
	cs := ParseSetCookies([]string{"session=abc123; Path=/, foundry=xyz789; Path=/"})

	if v, ok := cs.Get("session"); !ok || v != "abc123" {
		t.Errorf("session = %q %v", v, ok)
	}
	if v, ok := cs.Get("foundry"); !ok || v != "xyz789" {
		t.Errorf("foundry = %q %v", v, ok)
	}
	if len(cs) != 2 {
		t.Errorf("len = %d, want 2", len(cs))
	}
}

func TestParseSetCookies_DateAttributeNotSplit(t *testing.T) {
	cs := ParseSetCookies([]string{
		"session=abc; Expires=Wed, 21 Oct 2026 07:28:00 GMT; Path=/, foundry=xyz; Path=/",
	})

	if v, _ := cs.Get("session"); v != "abc" {
		t.Errorf("session = %q, want abc (comma inside Expires must not split)", v)
	}
	if v, _ := cs.Get("foundry"); v != "xyz" {
		t.Errorf("foundry = %q, want xyz", v)
	}
	if len(cs) != 2 {
		t.Errorf("len = %d, want 2: %v", len(cs), cs)
	}
}

func TestParseSetCookies_MultipleHeaders(t *testing.T) {
	cs := ParseSetCookies([]string{"a=1; Path=/", "b=2; HttpOnly"})
	if v, _ := cs.Get("a"); v != "1" {
		t.Errorf("a = %q", v)
	}
	if v, _ := cs.Get("b"); v != "2" {
		t.Errorf("b = %q", v)
	}
}

func TestCookies_SetUpdatesInPlace(t *testing.T) {
	var cs Cookies
	cs.Set("session", "old")
	cs.Set("session", "new")
	if len(cs) != 1 {
		t.Fatalf("len = %d, want 1", len(cs))
	}
	if v, _ := cs.Get("session"); v != "new" {
		t.Errorf("session = %q, want new", v)
	}
}

func TestCookies_Header(t *testing.T) {
	cs := Cookies{{"session", "abc"}, {"foundry", "xyz"}}
	if got := cs.Header(); got != "session=abc; foundry=xyz" {
		t.Errorf("header = %q", got)
	}
}

func TestCookies_SessionID(t *testing.T) {
	cases := []struct {
		name string
		cs   Cookies
		want string
	}{
		{"session wins", Cookies{{"other", "x"}, {"session", "s1"}, {"foundry", "f1"}}, "s1"},
		{"foundry second", Cookies{{"other", "x"}, {"foundry", "f1"}}, "f1"},
		{"first pair fallback", Cookies{{"whatever", "w1"}, {"другое", "x"}}, "w1"},
		{"empty", nil, ""},
	}
	for _, tc := range cases {
		if got := tc.cs.SessionID(); got != tc.want {
			t.Errorf("%s: session id = %q, want %q", tc.name, got, tc.want)
		}
	}
}
