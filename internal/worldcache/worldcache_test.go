package worldcache

import "testing"

func TestGet_RequiresConfirmation(t *testing.T) {
	c := New()
	c.Put("http://a", Entry{WorldTitle: "Barovia"})

	if _, ok := c.Get("http://a"); ok {
		t.Error("unconfirmed entry must not be served as authoritative")
	}
	if e, ok := c.Peek("http://a"); !ok || e.WorldTitle != "Barovia" {
		t.Errorf("peek = %+v %v", e, ok)
	}

	c.Confirm("http://a")
	if e, ok := c.Get("http://a"); !ok || e.WorldTitle != "Barovia" {
		t.Errorf("confirmed get = %+v %v", e, ok)
	}
}

func TestPut_MergesNonEmpty(t *testing.T) {
	c := New()
	c.Put("http://a", Entry{WorldTitle: "Barovia", SystemID: "dnd5e"})
	c.Put("http://a", Entry{WorldBackground: "bg.webp"})
	c.Confirm("http://a")

	e, _ := c.Get("http://a")
	if e.WorldTitle != "Barovia" || e.SystemID != "dnd5e" || e.WorldBackground != "bg.webp" {
		t.Errorf("merged = %+v", e)
	}
}

func TestInvalidate_ClearsConfirmation(t *testing.T) {
	c := New()
	c.Put("http://a", Entry{WorldTitle: "Barovia"})
	c.Confirm("http://a")
	c.Invalidate("http://a")

	if _, ok := c.Get("http://a"); ok {
		t.Error("invalidated entry should be gone")
	}

	// A fresh scrape after invalidation starts unconfirmed again.
	c.Put("http://a", Entry{WorldTitle: "New World"})
	if _, ok := c.Get("http://a"); ok {
		t.Error("post-invalidation entry needs a fresh confirmation")
	}
}

func TestConfirmBeforePut(t *testing.T) {
	// A world-ready observation can precede the metadata scrape (guest
	// title refresh); the later Put must still be served.
	c := New()
	c.Confirm("http://a")
	c.Put("http://a", Entry{WorldTitle: "Barovia"})

	if e, ok := c.Get("http://a"); !ok || e.WorldTitle != "Barovia" {
		t.Errorf("get = %+v %v", e, ok)
	}
}

func TestKeyedByBaseURL(t *testing.T) {
	c := New()
	c.Put("http://a", Entry{WorldTitle: "A"})
	c.Put("http://b", Entry{WorldTitle: "B"})
	c.Confirm("http://a")

	if _, ok := c.Get("http://b"); ok {
		t.Error("confirmation of one URL must not leak to another")
	}
}
