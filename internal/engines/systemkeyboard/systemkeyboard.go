// Package systemkeyboard provides the pass-through engine: every key goes
// to the application unchanged.
package systemkeyboard

import (
	"nimf/internal/engine"
	"nimf/internal/keysym"
)

// ID is the engine id used in configuration.
const ID = "nimf-system-keyboard"

func init() {
	engine.Register(ID, func(engine.Host) (engine.Engine, error) {
		return New(), nil
	})
}

// Engine never consumes events and has no per-context state.
type Engine struct{}

// New returns the pass-through engine.
func New() *Engine { return &Engine{} }

func (*Engine) ID() string       { return ID }
func (*Engine) IconName() string { return ID }

func (*Engine) FilterEvent(engine.Target, *keysym.Event) bool { return false }
func (*Engine) Reset(engine.Target)                           {}
func (*Engine) FocusIn(engine.Target)                         {}
func (*Engine) FocusOut(engine.Target)                        {}
