// Package engine defines the contract between the server and conversion
// engines, the init-time engine registration hook, and the Registry that
// holds loaded engine instances, trigger keys and hotkeys.
package engine

import (
	"nimf/internal/keysym"
)

// Target is the input context an engine operates on. Engines use it to emit
// preedit and commit notifications back to the owning client.
type Target interface {
	ID() uint16
	UsesPreedit() bool

	EmitPreeditStart()
	EmitPreeditChanged(text string, cursor int)
	EmitPreeditEnd()
	EmitCommit(text string)
	RetrieveSurrounding() bool
	DeleteSurrounding(offset, nChars int) bool
}

// Engine converts key events into preedit and commit text.
//
// A nil Target passed to Reset means every context the engine tracks.
type Engine interface {
	ID() string
	IconName() string

	FilterEvent(t Target, ev *keysym.Event) bool
	Reset(t Target)
	FocusIn(t Target)
	FocusOut(t Target)
}

// Rect is a cursor rectangle in screen coordinates.
type Rect struct {
	X, Y, Width, Height int32
}

// CandidatePager is implemented by engines with a candidate list.
type CandidatePager interface {
	PageUp(t Target) bool
	PageDown(t Target) bool
	CandidateClicked(t Target, text string, index int)
	CandidateScrolled(t Target, value float64)
}

// SurroundingHandler receives surrounding text pushed by the client.
type SurroundingHandler interface {
	SetSurrounding(t Target, text string, cursor int)
}

// SurroundingProvider supplies surrounding text for GetSurrounding requests.
type SurroundingProvider interface {
	GetSurrounding(t Target) (text string, cursor int, ok bool)
}

// CursorLocationHandler receives the client's cursor rectangle.
type CursorLocationHandler interface {
	SetCursorLocation(t Target, area Rect)
}

// PreeditHandler is told whether the client renders preedit itself.
type PreeditHandler interface {
	SetUsePreedit(t Target, use bool)
}

// ContextReleaser drops per-context state when a context goes away or moves
// to another engine.
type ContextReleaser interface {
	Release(t Target)
}
