package bridge

import "testing"

type upperAdapter struct{ genericAdapter }

func (upperAdapter) GetSystemData(raw map[string]any) map[string]any {
	return map[string]any{"wrapped": raw}
}

func TestResolveAdapterFallsBackToGeneric(t *testing.T) {
	a := ResolveAdapter("nobody-wrote-this")
	raw := map[string]any{
		"_id": "a1", "name": "Strahd", "type": "npc",
		"system": map[string]any{"hp": 120},
		"sort":   100, "permission": map[string]any{"default": 0},
	}

	got := a.GetActor(raw)
	if got["name"] != "Strahd" || got["_id"] != "a1" {
		t.Fatalf("actor = %v", got)
	}
	if _, ok := got["sort"]; ok {
		t.Fatal("generic adapter should trim unstable fields")
	}
	if sys, ok := got["system"].(map[string]any); !ok || sys["hp"] != 120 {
		t.Fatalf("system block lost: %v", got["system"])
	}
}

func TestRegisterAdapterWins(t *testing.T) {
	RegisterAdapter("testsys", upperAdapter{})
	t.Cleanup(func() {
		adapterMu.Lock()
		delete(adapters, "testsys")
		adapterMu.Unlock()
	})

	out := ResolveAdapter("testsys").GetSystemData(map[string]any{"id": "testsys"})
	if _, ok := out["wrapped"]; !ok {
		t.Fatalf("registered adapter not used: %v", out)
	}
}
