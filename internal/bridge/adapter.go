package bridge

import "sync"

// Adapter reshapes raw upstream documents for a particular game system.
// Game-system packages register themselves at init time; the bridge itself
// only consumes the contract.
type Adapter interface {
	// GetActor reshapes a raw actor document.
	GetActor(raw map[string]any) map[string]any
	// GetSystemData reshapes the raw system payload.
	GetSystemData(raw map[string]any) map[string]any
}

var (
	adapterMu sync.RWMutex
	adapters  = map[string]Adapter{}
)

// RegisterAdapter installs an adapter for a system id, replacing any
// previous registration.
func RegisterAdapter(systemID string, a Adapter) {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	adapters[systemID] = a
}

// ResolveAdapter returns the adapter registered for systemID, or the generic
// pass-through adapter when none is.
func ResolveAdapter(systemID string) Adapter {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	if a, ok := adapters[systemID]; ok {
		return a
	}
	return genericAdapter{}
}

// genericAdapter is the fallback for systems nobody wrote an adapter for.
// Actors are trimmed to the stable cross-system fields plus the raw system
// block; system data passes through untouched.
type genericAdapter struct{}

func (genericAdapter) GetActor(raw map[string]any) map[string]any {
	out := make(map[string]any, 8)
	for _, key := range []string{"_id", "name", "type", "img", "system", "items", "effects"} {
		if v, ok := raw[key]; ok {
			out[key] = v
		}
	}
	return out
}

func (genericAdapter) GetSystemData(raw map[string]any) map[string]any {
	return raw
}
