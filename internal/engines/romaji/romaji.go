// Package romaji is a small romaji to hiragana engine. It keeps the
// composition in a preedit until Space, Return or a non-letter key commits it.
package romaji

import (
	"strings"
	"unicode/utf8"

	"nimf/internal/engine"
	"nimf/internal/keysym"
	"nimf/internal/preedit"
)

// ID is the engine id used in configuration.
const ID = "nimf-romaji"

// IconName is reported to agents when a context switches to this engine.
const IconName = "nimf-romaji"

func init() {
	engine.Register(ID, func(host engine.Host) (engine.Engine, error) {
		e := New()
		if host != nil {
			if v, ok := host.EngineOption(ID, "space_commits"); ok {
				e.spaceCommits = v != "false"
			}
		}
		return e, nil
	})
}

type composition struct {
	kana    string
	pending string
	preedit preedit.Tracker
}

func (c *composition) text() string {
	return c.kana + c.pending
}

// commitText is what the composition becomes when it is flushed. A lone
// trailing "n" is read as ん.
func (c *composition) commitText() string {
	if c.pending == "n" {
		return c.kana + "ん"
	}
	return c.text()
}

// Engine tracks one composition per target.
type Engine struct {
	contexts     map[engine.Target]*composition
	spaceCommits bool
}

// New returns an engine with no active compositions.
func New() *Engine {
	return &Engine{
		contexts:     make(map[engine.Target]*composition),
		spaceCommits: true,
	}
}

func (e *Engine) ID() string       { return ID }
func (e *Engine) IconName() string { return IconName }

func (e *Engine) composition(t engine.Target) *composition {
	c, ok := e.contexts[t]
	if !ok {
		c = &composition{}
		e.contexts[t] = c
	}
	return c
}

// FilterEvent implements engine.Engine.
func (e *Engine) FilterEvent(t engine.Target, ev *keysym.Event) bool {
	if ev.Type == keysym.KeyRelease {
		return false
	}
	c := e.composition(t)

	if ev.State&(keysym.ControlMask|keysym.Mod1Mask|keysym.SuperMask|keysym.Mod4Mask) != 0 {
		e.flush(t, c)
		return false
	}

	switch ev.Keyval {
	case keysym.Return, keysym.KPEnter:
		if !c.preedit.Active() {
			return false
		}
		e.flush(t, c)
		return true
	case keysym.Space:
		if !c.preedit.Active() {
			return false
		}
		e.flush(t, c)
		return e.spaceCommits
	case keysym.Escape:
		if !c.preedit.Active() {
			return false
		}
		c.kana, c.pending = "", ""
		c.preedit.Update(t, "")
		return true
	case keysym.BackSpace:
		switch {
		case c.pending != "":
			c.pending = c.pending[:len(c.pending)-1]
		case c.kana != "":
			_, size := utf8.DecodeLastRuneInString(c.kana)
			c.kana = c.kana[:len(c.kana)-size]
		default:
			return false
		}
		c.preedit.Update(t, c.text())
		return true
	}

	if ev.Keyval < 0x21 || ev.Keyval > 0x7e {
		e.flush(t, c)
		return false
	}

	c.feed(strings.ToLower(string(rune(ev.Keyval))))
	c.preedit.Update(t, c.text())
	return true
}

// feed appends one character and converts as much as the table allows.
func (c *composition) feed(ch string) {
	c.pending += ch
	for {
		if kana, ok := table[c.pending]; ok {
			if kana != "" {
				c.kana += kana
				c.pending = ""
			}
			return
		}
		if isSokuonPair(c.pending) {
			c.kana += "っ"
			c.pending = c.pending[1:]
			return
		}
		if len(c.pending) > 1 {
			head, last := c.pending[:len(c.pending)-1], c.pending[len(c.pending)-1:]
			if head == "n" {
				c.kana += "ん"
			} else {
				c.kana += head
			}
			c.pending = last
			continue
		}
		c.kana += c.pending
		c.pending = ""
		return
	}
}

func (e *Engine) flush(t engine.Target, c *composition) {
	text := c.commitText()
	c.kana, c.pending = "", ""
	c.preedit.Commit(t, text)
}

// Reset commits any pending composition. A nil target flushes every context.
func (e *Engine) Reset(t engine.Target) {
	if t == nil {
		for target, c := range e.contexts {
			e.flush(target, c)
		}
		return
	}
	if c, ok := e.contexts[t]; ok {
		e.flush(t, c)
	}
}

func (e *Engine) FocusIn(engine.Target) {}

// FocusOut commits the composition so nothing is left hanging in the
// unfocused widget.
func (e *Engine) FocusOut(t engine.Target) {
	e.Reset(t)
}

// Release forgets the target without emitting anything.
func (e *Engine) Release(t engine.Target) {
	delete(e.contexts, t)
}

// Pending reports the preedit text held for t.
func (e *Engine) Pending(t engine.Target) string {
	if c, ok := e.contexts[t]; ok {
		return c.text()
	}
	return ""
}
