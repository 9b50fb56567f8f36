package handshake

import "testing"

const joinPageFixture = `<!DOCTYPE html>
<html>
<head>
  <title>Foundry Virtual Tabletop • Curse of Strahd</title>
  <style>body { background-image: url("worlds/strahd/bg.webp"); }</style>
</head>
<body>
  <form id="join-game">
    <select name="userid">
      <option value="">Select player</option>
      <option value="aaaa1111bbbb2222">Gamemaster</option>
      <option value="cccc3333dddd4444">Ireena</option>
    </select>
    <input type="hidden" name="csrf-token" value="tok-12345">
  </form>
</body>
</html>`

func TestExtractTitle(t *testing.T) {
	if got := ExtractTitle(joinPageFixture); got != "Curse of Strahd" {
		t.Errorf("title = %q, want Curse of Strahd", got)
	}
}

func TestExtractTitle_BrandingOnly(t *testing.T) {
	page := `<html><head><title>Foundry Virtual Tabletop</title></head></html>`
	if got := ExtractTitle(page); got != "" {
		t.Errorf("title = %q, want empty for branding-only page", got)
	}
}

func TestExtractTitle_SuffixBranding(t *testing.T) {
	page := `<html><head><title>Barovia • Foundry Virtual Tabletop</title></head></html>`
	if got := ExtractTitle(page); got != "Barovia" {
		t.Errorf("title = %q, want Barovia", got)
	}
}

func TestExtractTitle_NotHTML(t *testing.T) {
	if got := ExtractTitle("just some text"); got != "" {
		t.Errorf("title = %q, want empty", got)
	}
}

func TestExtractCSRF_BothPatterns(t *testing.T) {
	nameFirst := `<input type="hidden" name="csrf-token" value="tok-a">`
	valueFirst := `<input type="hidden" value="tok-b" name="csrf">`

	if got := ExtractCSRF(nameFirst); got != "tok-a" {
		t.Errorf("name-first = %q, want tok-a", got)
	}
	if got := ExtractCSRF(valueFirst); got != "tok-b" {
		t.Errorf("value-first = %q, want tok-b", got)
	}
	if got := ExtractCSRF("<input name=\"other\" value=\"x\">"); got != "" {
		t.Errorf("no csrf field = %q, want empty", got)
	}
}

func TestExtractBackground(t *testing.T) {
	if got := ExtractBackground(joinPageFixture); got != "worlds/strahd/bg.webp" {
		t.Errorf("background = %q", got)
	}
	if got := ExtractBackground(`background-image: url(unquoted.png)`); got != "unquoted.png" {
		t.Errorf("unquoted background = %q", got)
	}
}

func TestExtractUserIDs(t *testing.T) {
	ids := ExtractUserIDs(joinPageFixture)
	if ids["Gamemaster"] != "aaaa1111bbbb2222" {
		t.Errorf("Gamemaster id = %q", ids["Gamemaster"])
	}
	if ids["Ireena"] != "cccc3333dddd4444" {
		t.Errorf("Ireena id = %q", ids["Ireena"])
	}
	if _, ok := ids["Select player"]; ok {
		t.Error("empty-value option must be skipped")
	}
}

func TestContainsSetupMarker(t *testing.T) {
	if !ContainsSetupMarker(`<div id="setup-configuration">`) {
		t.Error("setup marker should be detected")
	}
	if ContainsSetupMarker(joinPageFixture) {
		t.Error("join page is not a setup page")
	}
}
