// Package preedit tracks composition text for one input context and emits
// start, changed and end notifications with the right transitions.
package preedit

import (
	"unicode/utf8"

	"nimf/internal/engine"
)

// Tracker holds the current preedit string of one target.
//
// Start is emitted once when the preedit goes from empty to non-empty and End
// once on the way back. Changed is only emitted while text is present.
type Tracker struct {
	text   string
	cursor int
	active bool
}

// Text returns the current preedit string.
func (p *Tracker) Text() string { return p.text }

// Cursor returns the cursor position in characters.
func (p *Tracker) Cursor() int { return p.cursor }

// Active reports whether a preedit session is open.
func (p *Tracker) Active() bool { return p.active }

// Update replaces the preedit text and emits the matching notifications.
// The cursor is placed at the end of the text.
func (p *Tracker) Update(t engine.Target, text string) {
	p.UpdateCursor(t, text, utf8.RuneCountInString(text))
}

// UpdateCursor is Update with an explicit cursor position.
func (p *Tracker) UpdateCursor(t engine.Target, text string, cursor int) {
	if !p.active && text == "" {
		return
	}
	if text == p.text && cursor == p.cursor && p.active {
		return
	}

	if !p.active {
		p.active = true
		t.EmitPreeditStart()
	}

	p.text = text
	p.cursor = cursor
	if text == "" {
		p.active = false
		p.cursor = 0
		t.EmitPreeditEnd()
		return
	}
	t.EmitPreeditChanged(text, cursor)
}

// Commit clears the preedit and hands text to the client.
func (p *Tracker) Commit(t engine.Target, text string) {
	p.Update(t, "")
	if text != "" {
		t.EmitCommit(text)
	}
}

// Flush commits whatever is in the preedit.
func (p *Tracker) Flush(t engine.Target) {
	p.Commit(t, p.text)
}

// Clear drops the preedit without notifying anyone. It is used when the
// target is going away.
func (p *Tracker) Clear() {
	*p = Tracker{}
}
