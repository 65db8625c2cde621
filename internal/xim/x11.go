package xim

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"

	"nimf/internal/reactor"
)

// Client messages carry at most this many bytes of XIM data.
const cmDataLimit = 20

// Options configures the X transport.
type Options struct {
	// Display is the X display name; empty means $DISPLAY.
	Display string
	// Name is advertised as @server=<Name>.
	Name string
	// Locales is advertised in answer to the LOCALES selection target.
	Locales string
}

// DefaultOptions returns the options used by the daemon.
func DefaultOptions() Options {
	return Options{Name: "nimf", Locales: "C,en,ko,ja"}
}

type atoms struct {
	servers   xproto.Atom
	server    xproto.Atom
	xconnect  xproto.Atom
	protocol  xproto.Atom
	moredata  xproto.Atom
	locales   xproto.Atom
	transport xproto.Atom
}

// X11 owns the display connection and routes XIM traffic between X clients
// and the Bridge. It is a reactor.Source: events are read on its own
// goroutine and handled on the loop.
type X11 struct {
	conn   *xgb.Conn
	root   xproto.Window
	window xproto.Window
	atoms  atoms
	opts   Options
	bridge *Bridge
	logger *slog.Logger

	// Reactor-owned, keyed by our per-client window and by the client's.
	byAccept map[xproto.Window]*xclient
	byClient map[xproto.Window]*xclient
}

var _ CoordinateTranslator = (*X11)(nil)

type xclient struct {
	x       *X11
	id      uint16
	window  xproto.Window
	accept  xproto.Window
	pending []byte
}

// Open connects to the display, claims the @server selection and registers
// in XIM_SERVERS. Every failure is reported as ErrBridgeUnavailable.
func Open(opts Options, bridge *Bridge, logger *slog.Logger) (*X11, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = DefaultOptions().Name
	}
	if opts.Locales == "" {
		opts.Locales = DefaultOptions().Locales
	}

	conn, err := xgb.NewConnDisplay(opts.Display)
	if err != nil {
		return nil, fmt.Errorf("%w: connect X11: %v", ErrBridgeUnavailable, err)
	}

	x := &X11{
		conn:     conn,
		opts:     opts,
		bridge:   bridge,
		logger:   logger,
		byAccept: make(map[xproto.Window]*xclient),
		byClient: make(map[xproto.Window]*xclient),
	}
	if err := x.setup(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
	}

	bridge.SetCoordinateTranslator(x)
	if err := x.loadKeymap(); err != nil {
		logger.Warn("xim keymap unavailable", "error", err)
	}
	logger.Info("xim bridge ready", "server", "@server="+opts.Name, "window", uint32(x.window))
	return x, nil
}

func (x *X11) setup() error {
	setup := xproto.Setup(x.conn)
	screen := setup.DefaultScreen(x.conn)
	x.root = screen.Root

	var err error
	if x.atoms, err = internAtoms(x.conn, x.opts.Name); err != nil {
		return err
	}

	owner, err := xproto.GetSelectionOwner(x.conn, x.atoms.server).Reply()
	if err != nil {
		return fmt.Errorf("get selection owner: %w", err)
	}
	if owner.Owner != xproto.WindowNone {
		return fmt.Errorf("@server=%s already owned by window %d", x.opts.Name, owner.Owner)
	}

	if x.window, err = xproto.NewWindowId(x.conn); err != nil {
		return fmt.Errorf("new window id: %w", err)
	}
	err = xproto.CreateWindowChecked(
		x.conn,
		0,
		x.window,
		x.root,
		0, 0, 1, 1,
		0,
		xproto.WindowClassInputOnly,
		screen.RootVisual,
		xproto.CwOverrideRedirect|xproto.CwEventMask,
		[]uint32{1, xproto.EventMaskPropertyChange},
	).Check()
	if err != nil {
		return fmt.Errorf("create server window: %w", err)
	}

	if err := xproto.SetSelectionOwnerChecked(x.conn, x.window, x.atoms.server, xproto.TimeCurrentTime).Check(); err != nil {
		return fmt.Errorf("set selection owner: %w", err)
	}
	return x.register()
}

func internAtoms(conn *xgb.Conn, name string) (atoms, error) {
	var a atoms
	for _, item := range []struct {
		dst  *xproto.Atom
		name string
	}{
		{&a.servers, "XIM_SERVERS"},
		{&a.server, "@server=" + name},
		{&a.xconnect, "_XIM_XCONNECT"},
		{&a.protocol, "_XIM_PROTOCOL"},
		{&a.moredata, "_XIM_MOREDATA"},
		{&a.locales, "LOCALES"},
		{&a.transport, "TRANSPORT"},
	} {
		reply, err := xproto.InternAtom(conn, false, uint16(len(item.name)), item.name).Reply()
		if err != nil {
			return atoms{}, fmt.Errorf("intern atom %s: %w", item.name, err)
		}
		*item.dst = reply.Atom
	}
	return a, nil
}

// register adds the server atom to the root window's XIM_SERVERS list, or
// rewrites the list if it is already there so clients see a change.
func (x *X11) register() error {
	reply, err := xproto.GetProperty(x.conn, false, x.root, x.atoms.servers, xproto.AtomAtom, 0, 1024).Reply()
	if err != nil {
		return fmt.Errorf("read XIM_SERVERS: %w", err)
	}

	var listed []xproto.Atom
	if reply.Format == 32 {
		for i := 0; i+4 <= len(reply.Value); i += 4 {
			listed = append(listed, xproto.Atom(xgb.Get32(reply.Value[i:])))
		}
	}

	if slices.Contains(listed, x.atoms.server) {
		err = xproto.ChangePropertyChecked(x.conn, xproto.PropModeReplace, x.root, x.atoms.servers,
			xproto.AtomAtom, 32, uint32(len(listed)), reply.Value).Check()
	} else {
		buf := make([]byte, 4)
		xgb.Put32(buf, uint32(x.atoms.server))
		err = xproto.ChangePropertyChecked(x.conn, xproto.PropModePrepend, x.root, x.atoms.servers,
			xproto.AtomAtom, 32, 1, buf).Check()
	}
	if err != nil {
		return fmt.Errorf("write XIM_SERVERS: %w", err)
	}
	return nil
}

func (x *X11) loadKeymap() error {
	setup := xproto.Setup(x.conn)
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)
	reply, err := xproto.GetKeyboardMapping(x.conn, setup.MinKeycode, count).Reply()
	if err != nil {
		return fmt.Errorf("get keyboard mapping: %w", err)
	}
	syms := make([]uint32, len(reply.Keysyms))
	for i, s := range reply.Keysyms {
		syms[i] = uint32(s)
	}
	x.bridge.SetKeymap(NewKeymap(uint8(setup.MinKeycode), int(reply.KeysymsPerKeycode), syms))
	return nil
}

// Name implements reactor.Source.
func (x *X11) Name() string { return "xim" }

// Run reads X events until ctx is cancelled or the display goes away. Losing
// the display disables XIM but does not stop the daemon.
func (x *X11) Run(ctx context.Context, loop *reactor.Loop) error {
	go func() {
		<-ctx.Done()
		x.Close()
	}()

	defer loop.Post(x.dropClients)

	for {
		ev, xerr := x.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			if ctx.Err() == nil {
				x.logger.Warn("display connection closed, xim disabled")
			}
			return nil
		}
		if xerr != nil {
			x.logger.Debug("x error", "error", xerr)
			continue
		}
		loop.Post(func() { x.handle(ev) })
	}
}

func (x *X11) dropClients() {
	for w, cl := range x.byClient {
		x.bridge.Disconnect(cl.id)
		delete(x.byClient, w)
		delete(x.byAccept, cl.accept)
	}
}

func (x *X11) handle(ev xgb.Event) {
	switch e := ev.(type) {
	case xproto.SelectionRequestEvent:
		x.selectionRequest(e)
	case xproto.ClientMessageEvent:
		x.clientMessage(e)
	case xproto.DestroyNotifyEvent:
		x.clientGone(e.Window)
	case xproto.MappingNotifyEvent:
		if e.Request == xproto.MappingKeyboard {
			if err := x.loadKeymap(); err != nil {
				x.logger.Warn("reload keymap", "error", err)
			}
		}
	}
}

// selectionRequest answers the LOCALES and TRANSPORT queries clients make
// before connecting.
func (x *X11) selectionRequest(e xproto.SelectionRequestEvent) {
	property := e.Property
	if property == xproto.AtomNone {
		property = e.Target
	}

	var value string
	switch {
	case e.Selection != x.atoms.server:
	case e.Target == x.atoms.locales:
		value = "@locale=" + x.opts.Locales
	case e.Target == x.atoms.transport:
		value = "@transport=X/"
	}

	notify := xproto.SelectionNotifyEvent{
		Time:      e.Time,
		Requestor: e.Requestor,
		Selection: e.Selection,
		Target:    e.Target,
		Property:  property,
	}
	if value == "" {
		notify.Property = xproto.AtomNone
	} else {
		xproto.ChangeProperty(x.conn, xproto.PropModeReplace, e.Requestor, property, e.Target, 8,
			uint32(len(value)), []byte(value))
	}
	xproto.SendEvent(x.conn, false, e.Requestor, xproto.EventMaskNoEvent, string(notify.Bytes()))
}

func (x *X11) clientMessage(e xproto.ClientMessageEvent) {
	switch {
	case e.Type == x.atoms.xconnect && e.Window == x.window:
		x.xconnect(xproto.Window(e.Data.Data32[0]))
	case e.Type == x.atoms.protocol || e.Type == x.atoms.moredata:
		if cl, ok := x.byAccept[e.Window]; ok {
			cl.receive(e)
		}
	}
}

// xconnect creates a window dedicated to one client and tells the client
// about it. Transport version 0.0: client messages, with _XIM_MOREDATA for
// longer data.
func (x *X11) xconnect(clientWin xproto.Window) {
	accept, err := xproto.NewWindowId(x.conn)
	if err != nil {
		x.logger.Warn("xim connect: new window id", "error", err)
		return
	}
	err = xproto.CreateWindowChecked(x.conn, 0, accept, x.root, 0, 0, 1, 1, 0,
		xproto.WindowClassInputOnly, 0, 0, nil).Check()
	if err != nil {
		x.logger.Warn("xim connect: create window", "error", err)
		return
	}

	cl := &xclient{x: x, window: clientWin, accept: accept}
	id, err := x.bridge.Connect(cl)
	if err != nil {
		x.logger.Warn("xim connect", "error", err)
		xproto.DestroyWindow(x.conn, accept)
		return
	}
	cl.id = id
	x.byAccept[accept] = cl
	x.byClient[clientWin] = cl

	xproto.ChangeWindowAttributes(x.conn, clientWin, xproto.CwEventMask, []uint32{xproto.EventMaskStructureNotify})

	reply := xproto.ClientMessageEvent{
		Format: 32,
		Window: clientWin,
		Type:   x.atoms.xconnect,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{uint32(accept), 0, 0, cmDataLimit, 0}),
	}
	xproto.SendEvent(x.conn, false, clientWin, xproto.EventMaskNoEvent, string(reply.Bytes()))
}

func (x *X11) clientGone(win xproto.Window) {
	cl, ok := x.byClient[win]
	if !ok {
		return
	}
	x.bridge.Disconnect(cl.id)
	delete(x.byClient, win)
	delete(x.byAccept, cl.accept)
	xproto.DestroyWindow(x.conn, cl.accept)
}

// receive collects one XIM message. Short messages arrive inline; long ones
// either as a run of _XIM_MOREDATA chunks or in a window property.
func (cl *xclient) receive(e xproto.ClientMessageEvent) {
	x := cl.x
	switch e.Format {
	case 32:
		if e.Type != x.atoms.protocol {
			return
		}
		length := e.Data.Data32[0]
		prop := xproto.Atom(e.Data.Data32[1])
		reply, err := xproto.GetProperty(x.conn, true, cl.accept, prop, xproto.GetPropertyTypeAny, 0, (length+3)/4).Reply()
		if err != nil {
			x.logger.Warn("read xim property", "connect_id", cl.id, "error", err)
			cl.pending = nil
			return
		}
		data := reply.Value
		if uint32(len(data)) > length {
			data = data[:length]
		}
		cl.pending = append(cl.pending, data...)
	case 8:
		cl.pending = append(cl.pending, e.Data.Data8...)
		if e.Type == x.atoms.moredata {
			return
		}
	default:
		return
	}

	msg := cl.pending
	cl.pending = nil
	x.bridge.Handle(cl.id, msg)
}

// Send implements Sender.
func (cl *xclient) Send(msg []byte) error {
	x := cl.x
	for len(msg) > 0 {
		n := min(len(msg), cmDataLimit)
		typ := x.atoms.moredata
		if n == len(msg) {
			typ = x.atoms.protocol
		}
		chunk := make([]byte, cmDataLimit)
		copy(chunk, msg[:n])
		msg = msg[n:]

		ev := xproto.ClientMessageEvent{
			Format: 8,
			Window: cl.window,
			Type:   typ,
			Data:   xproto.ClientMessageDataUnionData8New(chunk),
		}
		xproto.SendEvent(x.conn, false, cl.window, xproto.EventMaskNoEvent, string(ev.Bytes()))
	}
	return nil
}

// TranslateToRoot implements CoordinateTranslator.
func (x *X11) TranslateToRoot(window uint32, px, py int32) (int32, int32, error) {
	reply, err := xproto.TranslateCoordinates(x.conn, xproto.Window(window), x.root, int16(px), int16(py)).Reply()
	if err != nil {
		return 0, 0, err
	}
	return int32(reply.DstX), int32(reply.DstY), nil
}

// Close releases the server window and the display connection. Run calls
// it when its context ends.
func (x *X11) Close() {
	xproto.DestroyWindow(x.conn, x.window)
	x.conn.Close()
}
