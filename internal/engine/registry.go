package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"nimf/internal/keysym"
)

var (
	// ErrEngineLoad wraps a failure to instantiate a configured engine.
	ErrEngineLoad = errors.New("engine load failed")
	// ErrUnknownEngine is returned for ids that are not loaded.
	ErrUnknownEngine = errors.New("unknown engine id")
	// ErrEngineNotLoaded is returned by Next when the current engine is not
	// in the registry.
	ErrEngineNotLoaded = errors.New("current engine not loaded")
	// ErrNoDefaultEngine means neither the configured nor the reset default
	// engine is loaded.
	ErrNoDefaultEngine = errors.New("no default engine available")
)

// Settings supplies the default engine id and can restore it to its
// factory value.
type Settings interface {
	DefaultEngineID() string
	ResetDefaultEngine() error
}

type trigger struct {
	engine Engine
	keys   []keysym.Key
}

// Registry holds the loaded engines in load order plus the key tables.
// Like every other piece of server state it is owned by the reactor
// goroutine and is not safe for concurrent use.
type Registry struct {
	engines  []Engine
	settings Settings
	logger   *slog.Logger

	triggers []trigger
	hotkeys  []keysym.Key
}

// NewRegistry returns an empty registry.
func NewRegistry(settings Settings, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{settings: settings, logger: logger}
}

// Load instantiates each id in order. Engines that fail to load are logged
// and skipped; the joined errors are returned for the caller's information.
func (r *Registry) Load(ids []string, host Host) error {
	var errs []error
	for _, id := range ids {
		if _, ok := r.Instance(id); ok {
			continue
		}
		e, err := r.load(id, host)
		if err != nil {
			r.logger.Warn("skipping engine", "engine", id, "error", err)
			errs = append(errs, err)
			continue
		}
		r.engines = append(r.engines, e)
		r.logger.Info("engine loaded", "engine", id)
	}
	return errors.Join(errs...)
}

func (r *Registry) load(id string, host Host) (Engine, error) {
	f, ok := lookupFactory(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s: not registered", ErrEngineLoad, id)
	}
	e, err := f(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEngineLoad, id, err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s: factory returned nil", ErrEngineLoad, id)
	}
	if e.ID() != id {
		return nil, fmt.Errorf("%w: %s: engine reports id %q", ErrEngineLoad, id, e.ID())
	}
	return e, nil
}

// Add appends an already constructed engine.
func (r *Registry) Add(e Engine) {
	r.engines = append(r.engines, e)
}

// Instance finds a loaded engine by id.
func (r *Registry) Instance(id string) (Engine, bool) {
	for _, e := range r.engines {
		if e.ID() == id {
			return e, true
		}
	}
	return nil, false
}

// Engines returns the loaded engines in load order.
func (r *Registry) Engines() []Engine {
	out := make([]Engine, len(r.engines))
	copy(out, r.engines)
	return out
}

// IDs returns the loaded engine ids in load order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.engines))
	for i, e := range r.engines {
		ids[i] = e.ID()
	}
	return ids
}

// Len returns the number of loaded engines.
func (r *Registry) Len() int {
	return len(r.engines)
}

// Next returns the engine loaded after current, wrapping to the first.
func (r *Registry) Next(current Engine) (Engine, error) {
	if current == nil {
		return nil, ErrEngineNotLoaded
	}
	for i, e := range r.engines {
		if e == current {
			return r.engines[(i+1)%len(r.engines)], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEngineNotLoaded, current.ID())
}

// Default resolves the configured default engine. If it is not loaded the
// setting is reset once and the lookup retried.
func (r *Registry) Default() (Engine, error) {
	if r.settings == nil {
		return nil, ErrNoDefaultEngine
	}
	id := r.settings.DefaultEngineID()
	if e, ok := r.Instance(id); ok {
		return e, nil
	}

	r.logger.Warn("default engine not loaded, resetting", "engine", id)
	if err := r.settings.ResetDefaultEngine(); err != nil {
		return nil, fmt.Errorf("%w: reset default engine: %w", ErrNoDefaultEngine, err)
	}

	id = r.settings.DefaultEngineID()
	if e, ok := r.Instance(id); ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDefaultEngine, id)
}

// SetTriggerKeys replaces the whole trigger table. Entries for engines that
// are not loaded and keys that do not parse are logged and skipped.
func (r *Registry) SetTriggerKeys(table map[string][]string) {
	r.triggers = r.triggers[:0]
	for _, e := range r.engines {
		strs, ok := table[e.ID()]
		if !ok || len(strs) == 0 {
			continue
		}
		keys, err := keysym.ParseKeys(strs)
		if err != nil {
			r.logger.Warn("invalid trigger key", "engine", e.ID(), "error", err)
		}
		if len(keys) > 0 {
			r.triggers = append(r.triggers, trigger{engine: e, keys: keys})
		}
	}
	for id := range table {
		if _, ok := r.Instance(id); !ok {
			r.logger.Debug("trigger keys for engine that is not loaded", "engine", id)
		}
	}
}

// TriggerKeys returns the parsed trigger keys of an engine.
func (r *Registry) TriggerKeys(id string) []keysym.Key {
	for _, t := range r.triggers {
		if t.engine.ID() == id {
			return append([]keysym.Key(nil), t.keys...)
		}
	}
	return nil
}

// MatchTrigger returns the engine whose trigger key ev presses.
func (r *Registry) MatchTrigger(ev *keysym.Event) (Engine, bool) {
	for _, t := range r.triggers {
		if keysym.MatchAny(t.keys, ev) {
			return t.engine, true
		}
	}
	return nil, false
}

// SetHotkeys replaces the hotkey list.
func (r *Registry) SetHotkeys(list []string) {
	keys, err := keysym.ParseKeys(list)
	if err != nil {
		r.logger.Warn("invalid hotkey", "error", err)
	}
	r.hotkeys = keys
}

// Hotkeys returns the parsed hotkey list.
func (r *Registry) Hotkeys() []keysym.Key {
	return append([]keysym.Key(nil), r.hotkeys...)
}

// IsHotkey reports whether ev presses one of the hotkeys.
func (r *Registry) IsHotkey(ev *keysym.Event) bool {
	return keysym.MatchAny(r.hotkeys, ev)
}

// ResetAll resets every loaded engine across all of its contexts.
func (r *Registry) ResetAll() {
	for _, e := range r.engines {
		e.Reset(nil)
	}
}
