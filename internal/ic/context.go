// Package ic holds input contexts and the hub that owns both context
// namespaces: contexts created by socket clients and contexts created by
// XIM clients.
package ic

import (
	"fmt"

	"nimf/internal/engine"
	"nimf/internal/keysym"
)

// Kind tags what created a context.
type Kind uint32

const (
	KindRegular Kind = iota
	KindAgent
	KindXim
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindAgent:
		return "agent"
	case KindXim:
		return "xim"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// Sink delivers engine notifications to whoever owns the context.
type Sink interface {
	PreeditStart(c *Context)
	PreeditChanged(c *Context, text string, cursor int)
	PreeditEnd(c *Context)
	Commit(c *Context, text string)
	RetrieveSurrounding(c *Context) bool
	DeleteSurrounding(c *Context, offset, nChars int) bool
	EngineChanged(c *Context, engineID, iconName string)
}

// Context is one text-entry session. It implements engine.Target.
type Context struct {
	id   uint16
	conn uint16
	kind Kind
	sink Sink
	hub  *Hub

	engine     engine.Engine
	usePreedit bool
	focused    bool

	surroundingText   string
	surroundingCursor int
	hasSurrounding    bool
	cursorArea        engine.Rect

	// XIM bookkeeping, unused for socket contexts.
	ConnectID    uint16
	IMID         uint16
	InputStyle   uint32
	ClientWindow uint32
	FocusWindow  uint32
}

var _ engine.Target = (*Context)(nil)

func (c *Context) ID() uint16                  { return c.id }
func (c *Context) Conn() uint16                { return c.conn }
func (c *Context) Kind() Kind                  { return c.kind }
func (c *Context) Engine() engine.Engine       { return c.engine }
func (c *Context) UsesPreedit() bool           { return c.usePreedit }
func (c *Context) Focused() bool               { return c.focused }
func (c *Context) CursorLocation() engine.Rect { return c.cursorArea }

func (c *Context) String() string {
	if c.kind == KindXim {
		return fmt.Sprintf("xim:%d", c.id)
	}
	return fmt.Sprintf("%s:%d/%d", c.kind, c.conn, c.id)
}

func (c *Context) EmitPreeditStart() { c.sink.PreeditStart(c) }

func (c *Context) EmitPreeditChanged(text string, cursor int) {
	c.sink.PreeditChanged(c, text, cursor)
}

func (c *Context) EmitPreeditEnd()        { c.sink.PreeditEnd(c) }
func (c *Context) EmitCommit(text string) { c.sink.Commit(c, text) }

func (c *Context) RetrieveSurrounding() bool { return c.sink.RetrieveSurrounding(c) }

func (c *Context) DeleteSurrounding(offset, nChars int) bool {
	return c.sink.DeleteSurrounding(c, offset, nChars)
}

// FilterEvent runs trigger keys, then hotkeys, then the bound engine.
func (c *Context) FilterEvent(ev *keysym.Event) bool {
	reg := c.hub.engines
	if c.engine == nil {
		if e, err := reg.Default(); err == nil {
			c.setEngine(e)
		}
	}

	if e, ok := reg.MatchTrigger(ev); ok {
		if e == c.engine {
			if def, err := reg.Default(); err == nil {
				e = def
			}
		}
		c.hub.SwitchEngine(c, e)
		return true
	}

	if reg.IsHotkey(ev) {
		next, err := reg.Next(c.engine)
		if err != nil {
			c.hub.logger.Debug("hotkey with engine not in registry, using default", "context", c.String(), "error", err)
			next, err = reg.Default()
			if err != nil {
				c.hub.logger.Warn("no engine to switch to", "context", c.String(), "error", err)
				return true
			}
		}
		c.hub.SwitchEngine(c, next)
		return true
	}

	if c.engine == nil {
		return false
	}
	return c.engine.FilterEvent(c, ev)
}

// Reset flushes the engine's composition for this context.
func (c *Context) Reset() {
	if c.engine != nil {
		c.engine.Reset(c)
	}
}

func (c *Context) FocusIn() {
	c.focused = true
	if c.engine != nil {
		c.engine.FocusIn(c)
	}
}

// FocusOut notifies the engine and then resets it, so the next FocusIn
// always starts from an empty composition.
func (c *Context) FocusOut() {
	c.focused = false
	if c.engine != nil {
		c.engine.FocusOut(c)
		c.engine.Reset(c)
	}
}

// SetSurrounding caches the text around the cursor and passes it on.
func (c *Context) SetSurrounding(text string, cursor int) {
	c.surroundingText = text
	c.surroundingCursor = cursor
	c.hasSurrounding = true
	if h, ok := c.engine.(engine.SurroundingHandler); ok {
		h.SetSurrounding(c, text, cursor)
	}
}

// Surrounding asks the engine first and falls back to the cached value.
func (c *Context) Surrounding() (string, int, bool) {
	if p, ok := c.engine.(engine.SurroundingProvider); ok {
		if text, cursor, ok := p.GetSurrounding(c); ok {
			return text, cursor, true
		}
	}
	return c.surroundingText, c.surroundingCursor, c.hasSurrounding
}

func (c *Context) SetCursorLocation(area engine.Rect) {
	c.cursorArea = area
	if h, ok := c.engine.(engine.CursorLocationHandler); ok {
		h.SetCursorLocation(c, area)
	}
}

func (c *Context) SetUsePreedit(use bool) {
	c.usePreedit = use
	if h, ok := c.engine.(engine.PreeditHandler); ok {
		h.SetUsePreedit(c, use)
	}
}

// setEngine rebinds the context. The old engine is reset so pending text is
// committed to the client, then told to forget the context.
func (c *Context) setEngine(e engine.Engine) bool {
	if e == nil || e == c.engine {
		return false
	}
	if old := c.engine; old != nil {
		old.Reset(c)
		release(old, c)
	}
	c.engine = e
	return true
}

// detach drops engine state without emitting anything.
func (c *Context) detach() {
	if c.engine != nil {
		release(c.engine, c)
		c.engine = nil
	}
}

func release(e engine.Engine, c *Context) {
	if r, ok := e.(engine.ContextReleaser); ok {
		r.Release(c)
	}
}
