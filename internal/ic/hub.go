package ic

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"nimf/internal/engine"
	"nimf/internal/idtable"
)

// ErrContextNotFound is returned for operations on ids that are not live.
var ErrContextNotFound = errors.New("context not found")

// Observer is told about context and engine changes. It is used for metrics
// and the bus signal.
type Observer interface {
	ContextCreated(kind Kind)
	ContextDestroyed(kind Kind)
	EngineSwitched(engineID string)
}

// Observers fans notifications out in order. Nil entries are skipped.
type Observers []Observer

func (obs Observers) ContextCreated(kind Kind) {
	for _, o := range obs {
		if o != nil {
			o.ContextCreated(kind)
		}
	}
}

func (obs Observers) ContextDestroyed(kind Kind) {
	for _, o := range obs {
		if o != nil {
			o.ContextDestroyed(kind)
		}
	}
}

func (obs Observers) EngineSwitched(engineID string) {
	for _, o := range obs {
		if o != nil {
			o.EngineSwitched(engineID)
		}
	}
}

type agentKey struct {
	conn uint16
	icid uint16
}

// Hub owns the per-connection client context tables, the XIM context table
// and the agents index. Only the reactor goroutine may call it.
type Hub struct {
	engines *engine.Registry
	logger  *slog.Logger

	clients map[uint16]*idtable.Table[*Context]
	xim     *idtable.Table[*Context]
	agents  map[agentKey]*Context

	singleton bool
	observer  Observer
}

// NewHub returns a hub with no connections and no contexts.
func NewHub(engines *engine.Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		engines: engines,
		logger:  logger,
		clients: make(map[uint16]*idtable.Table[*Context]),
		xim:     idtable.New[*Context](),
		agents:  make(map[agentKey]*Context),
	}
}

// Engines returns the shared engine registry.
func (h *Hub) Engines() *engine.Registry { return h.engines }

// SetObserver installs o; nil disables notifications.
func (h *Hub) SetObserver(o Observer) { h.observer = o }

// SetSingleton makes an engine switch on one context apply to all of them.
func (h *Hub) SetSingleton(on bool) { h.singleton = on }

// Singleton reports whether singleton mode is on.
func (h *Hub) Singleton() bool { return h.singleton }

func (h *Hub) newContext(kind Kind, sink Sink) *Context {
	c := &Context{kind: kind, sink: sink, hub: h}
	if e, err := h.engines.Default(); err == nil {
		c.engine = e
	} else {
		h.logger.Warn("context created without engine", "kind", kind.String(), "error", err)
	}
	return c
}

// AddConnection gives a socket connection its own context table.
func (h *Hub) AddConnection(conn uint16) {
	if _, ok := h.clients[conn]; !ok {
		h.clients[conn] = idtable.New[*Context]()
	}
}

// RemoveConnection destroys every context of conn and drops its table. It
// returns the number of contexts removed.
func (h *Hub) RemoveConnection(conn uint16) int {
	tbl, ok := h.clients[conn]
	if !ok {
		return 0
	}
	n := 0
	tbl.Each(func(id uint16, _ *Context) {
		if h.DestroyClient(conn, id) == nil {
			n++
		}
	})
	delete(h.clients, conn)
	return n
}

// CreateClient adds a context to conn's table. A non-zero want is used as
// the id when it is free; otherwise the table allocates one. Agent contexts
// are also added to the agents index.
func (h *Hub) CreateClient(conn, want uint16, kind Kind, sink Sink) (*Context, error) {
	if kind == KindXim {
		return nil, fmt.Errorf("create client context: invalid kind %s", kind)
	}
	tbl, ok := h.clients[conn]
	if !ok {
		return nil, fmt.Errorf("create client context: unknown connection %d", conn)
	}

	c := h.newContext(kind, sink)
	c.conn = conn
	if _, taken := tbl.Get(want); want != 0 && !taken {
		tbl.Set(want, c)
		c.id = want
	} else {
		id, err := tbl.Add(c)
		if err != nil {
			return nil, fmt.Errorf("create client context: %w", err)
		}
		c.id = id
	}

	if kind == KindAgent {
		h.agents[agentKey{conn, c.id}] = c
	}
	h.created(kind)
	return c, nil
}

// CreateXim allocates a context in the XIM namespace.
func (h *Hub) CreateXim(sink Sink, connectID uint16) (*Context, error) {
	c := h.newContext(KindXim, sink)
	c.ConnectID = connectID
	id, err := h.xim.Add(c)
	if err != nil {
		return nil, fmt.Errorf("create xim context: %w", err)
	}
	c.id = id
	h.created(KindXim)
	return c, nil
}

// Client looks up a context of conn.
func (h *Hub) Client(conn, id uint16) (*Context, error) {
	if tbl, ok := h.clients[conn]; ok {
		if c, ok := tbl.Get(id); ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: client %d/%d", ErrContextNotFound, conn, id)
}

// Xim looks up an XIM context.
func (h *Hub) Xim(id uint16) (*Context, error) {
	if c, ok := h.xim.Get(id); ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: xim %d", ErrContextNotFound, id)
}

// DestroyClient removes a context of conn. Engine state for it is dropped
// without emitting anything.
func (h *Hub) DestroyClient(conn, id uint16) error {
	tbl, ok := h.clients[conn]
	if !ok {
		return fmt.Errorf("%w: client %d/%d", ErrContextNotFound, conn, id)
	}
	c, ok := tbl.Remove(id)
	if !ok {
		return fmt.Errorf("%w: client %d/%d", ErrContextNotFound, conn, id)
	}
	delete(h.agents, agentKey{conn, id})
	c.detach()
	h.destroyed(c.kind)
	return nil
}

// DestroyXim removes an XIM context.
func (h *Hub) DestroyXim(id uint16) error {
	c, ok := h.xim.Remove(id)
	if !ok {
		return fmt.Errorf("%w: xim %d", ErrContextNotFound, id)
	}
	c.detach()
	h.destroyed(KindXim)
	return nil
}

// ClientCount returns the number of live socket-client contexts.
func (h *Hub) ClientCount() int {
	n := 0
	for _, tbl := range h.clients {
		n += tbl.Len()
	}
	return n
}

// XimCount returns the number of live XIM contexts.
func (h *Hub) XimCount() int { return h.xim.Len() }

// ClientContexts returns every socket-client context ordered by connection
// and then by id.
func (h *Hub) ClientContexts() []*Context {
	conns := make([]uint16, 0, len(h.clients))
	for id := range h.clients {
		conns = append(conns, id)
	}
	slices.Sort(conns)

	var out []*Context
	for _, conn := range conns {
		h.clients[conn].Each(func(_ uint16, c *Context) { out = append(out, c) })
	}
	return out
}

// XimContexts returns the live XIM contexts in id order.
func (h *Hub) XimContexts() []*Context {
	out := make([]*Context, 0, h.xim.Len())
	h.xim.Each(func(_ uint16, c *Context) { out = append(out, c) })
	return out
}

// Agents returns the agent contexts.
func (h *Hub) Agents() []*Context {
	out := make([]*Context, 0, len(h.agents))
	for _, c := range h.ClientContexts() {
		if _, ok := h.agents[agentKey{c.conn, c.id}]; ok {
			out = append(out, c)
		}
	}
	return out
}

// SetEngineByID binds every client context and every non-agent XIM context
// to the named engine.
func (h *Hub) SetEngineByID(id string) error {
	e, ok := h.engines.Instance(id)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownEngine, id)
	}
	h.rebindAll(e)
	h.engineChanged(e)
	return nil
}

// SwitchEngine rebinds c, or every context in singleton mode, and tells the
// agents.
func (h *Hub) SwitchEngine(c *Context, e engine.Engine) {
	if e == nil {
		return
	}
	if h.singleton {
		h.rebindAll(e)
	} else if !c.setEngine(e) {
		return
	}
	h.engineChanged(e)
}

func (h *Hub) rebindAll(e engine.Engine) {
	for _, c := range h.ClientContexts() {
		c.setEngine(e)
	}
	for _, c := range h.XimContexts() {
		if c.kind != KindAgent {
			c.setEngine(e)
		}
	}
}

func (h *Hub) engineChanged(e engine.Engine) {
	h.logger.Debug("engine changed", "engine", e.ID())
	if h.observer != nil {
		h.observer.EngineSwitched(e.ID())
	}
	for _, a := range h.Agents() {
		a.sink.EngineChanged(a, e.ID(), e.IconName())
	}
}

// ResetAllEngines resets every loaded engine for every context it tracks.
func (h *Hub) ResetAllEngines() {
	h.engines.ResetAll()
}

func (h *Hub) created(kind Kind) {
	if h.observer != nil {
		h.observer.ContextCreated(kind)
	}
}

func (h *Hub) destroyed(kind Kind) {
	if h.observer != nil {
		h.observer.ContextDestroyed(kind)
	}
}
