package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates an engine instance. Host gives the engine access to
// server-owned settings.
type Factory func(host Host) (Engine, error)

// Host is what a loaded engine may ask of the server.
type Host interface {
	EngineOption(engineID, key string) (string, bool)
}

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes an engine available by id. It is meant to be called from
// an init function in the engine's package and panics on duplicates.
func Register(id string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("engine: Register factory is nil")
	}
	if _, dup := factories[id]; dup {
		panic(fmt.Sprintf("engine: Register called twice for %q", id))
	}
	factories[id] = f
}

// Registered returns the sorted ids of every registered engine.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func lookupFactory(id string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[id]
	return f, ok
}
