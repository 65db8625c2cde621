package xim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"unicode/utf8"

	"nimf/internal/engine"
	"nimf/internal/ic"
	"nimf/internal/idtable"
	"nimf/internal/keysym"
	"nimf/internal/metrics"
)

// Sender delivers framed XIM messages to one client.
type Sender interface {
	Send(msg []byte) error
}

// CoordinateTranslator converts a point in a window to root coordinates.
type CoordinateTranslator interface {
	TranslateToRoot(window uint32, x, y int32) (int32, int32, error)
}

type client struct {
	id     uint16
	sender Sender
	order  binary.ByteOrder
	ims    map[uint16]bool
	nextIM uint16
}

func (cl *client) openIM() uint16 {
	for {
		cl.nextIM++
		if cl.nextIM != 0 && !cl.ims[cl.nextIM] {
			cl.ims[cl.nextIM] = true
			return cl.nextIM
		}
	}
}

// Bridge turns XIM requests into operations on XIM contexts of the hub and
// turns engine output for those contexts back into XIM messages. It is
// reactor-owned like the hub.
type Bridge struct {
	hub     *ic.Hub
	logger  *slog.Logger
	metrics *metrics.Metrics

	clients *idtable.Table[*client]
	keymap  *Keymap
	coords  CoordinateTranslator

	// Preedit length in characters last drawn for each callback-style context.
	drawn map[uint16]int
}

var _ ic.Sink = (*Bridge)(nil)

// NewBridge creates a bridge with no clients.
func NewBridge(hub *ic.Hub, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		hub:     hub,
		logger:  logger,
		metrics: m,
		clients: idtable.New[*client](),
		drawn:   make(map[uint16]int),
	}
}

// SetKeymap replaces the keyboard mapping used for FORWARD_EVENT.
func (b *Bridge) SetKeymap(k *Keymap) { b.keymap = k }

// SetCoordinateTranslator installs t for spot locations.
func (b *Bridge) SetCoordinateTranslator(t CoordinateTranslator) { b.coords = t }

// Connect registers a client transport and returns its connect id.
func (b *Bridge) Connect(s Sender) (uint16, error) {
	cl := &client{sender: s, ims: make(map[uint16]bool)}
	id, err := b.clients.Add(cl)
	if err != nil {
		return 0, fmt.Errorf("register xim client: %w", err)
	}
	cl.id = id
	b.logger.Debug("xim client connected", "connect_id", id)
	return id, nil
}

// Disconnect destroys every context of the client and forgets it.
func (b *Bridge) Disconnect(id uint16) {
	if _, ok := b.clients.Remove(id); !ok {
		return
	}
	n := b.destroyContexts(func(c *ic.Context) bool { return c.ConnectID == id })
	b.logger.Debug("xim client disconnected", "connect_id", id, "contexts", n)
}

// ClientCount returns the number of connected XIM clients.
func (b *Bridge) ClientCount() int { return b.clients.Len() }

func (b *Bridge) destroyContexts(match func(*ic.Context) bool) int {
	n := 0
	for _, c := range b.hub.XimContexts() {
		if !match(c) {
			continue
		}
		delete(b.drawn, c.ID())
		if b.hub.DestroyXim(c.ID()) == nil {
			n++
		}
	}
	return n
}

// Handle processes one complete XIM message from client id. Malformed
// requests are answered with XIM_ERROR and reported; requests for unknown
// contexts get their normal reply.
func (b *Bridge) Handle(id uint16, data []byte) error {
	cl, ok := b.clients.Get(id)
	if !ok {
		return fmt.Errorf("xim client %d is not connected", id)
	}

	if cl.order == nil {
		if len(data) < headerSize+1 || data[0] != opConnect {
			return fmt.Errorf("%w: request before XIM_CONNECT", ErrMalformed)
		}
		order, err := byteOrder(data[headerSize])
		if err != nil {
			return err
		}
		cl.order = order
	}

	msg, err := parseMessage(cl.order, data)
	if err != nil {
		b.logger.Warn("malformed xim message", "connect_id", id, "error", err)
		return err
	}
	b.metrics.XimRequest(opName(msg.major))

	err = b.dispatch(cl, msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformed):
		b.logger.Warn("malformed xim request", "connect_id", id, "request", opName(msg.major), "error", err)
		b.sendError(cl, errBadProtocol, err.Error())
	case errors.Is(err, ic.ErrContextNotFound):
		b.logger.Debug("xim request ignored", "connect_id", id, "request", opName(msg.major), "error", err)
		err = nil
	default:
		b.logger.Warn("xim request failed", "connect_id", id, "request", opName(msg.major), "error", err)
		b.sendError(cl, errBadSomething, err.Error())
	}
	return err
}

func (b *Bridge) dispatch(cl *client, msg message) error {
	r := newReader(cl.order, msg.body)

	switch msg.major {
	case opConnect:
		r.skip(2)
		major, minor := r.u16(), r.u16()
		if r.err != nil {
			return r.err
		}
		b.logger.Debug("xim connect", "connect_id", cl.id, "protocol", fmt.Sprintf("%d.%d", major, minor))
		w := newWriter(cl.order)
		w.u16(1)
		w.u16(0)
		b.send(cl, opConnectReply, w.buf)
		return nil

	case opDisconnect:
		b.destroyContexts(func(c *ic.Context) bool { return c.ConnectID == cl.id })
		clear(cl.ims)
		b.send(cl, opDisconnectReply, nil)
		return nil

	case opOpen:
		locale := r.str()
		if r.err != nil {
			return r.err
		}
		imid := cl.openIM()
		b.logger.Debug("xim open", "connect_id", cl.id, "imid", imid, "locale", locale)
		b.sendOpenReply(cl, imid)
		return nil

	case opClose:
		imid := r.u16()
		if r.err != nil {
			return r.err
		}
		delete(cl.ims, imid)
		b.destroyContexts(func(c *ic.Context) bool { return c.ConnectID == cl.id && c.IMID == imid })
		b.send(cl, opCloseReply, b.ids(cl, imid, 0))
		return nil

	case opQueryExtension:
		imid := r.u16()
		if r.err != nil {
			return r.err
		}
		w := newWriter(cl.order)
		w.u16(imid)
		w.u16(0)
		b.send(cl, opQueryExtensionReply, w.buf)
		return nil

	case opEncodingNegotiation:
		return b.encodingNegotiation(cl, r)

	case opSetIMValues:
		imid := r.u16()
		if r.err != nil {
			return r.err
		}
		b.send(cl, opSetIMValuesReply, b.ids(cl, imid, 0))
		return nil

	case opGetIMValues:
		return b.getIMValues(cl, r)

	case opCreateIC:
		return b.createIC(cl, r)

	case opDestroyIC:
		imid, icid := r.u16(), r.u16()
		if r.err != nil {
			return r.err
		}
		b.send(cl, opDestroyICReply, b.ids(cl, imid, icid))
		if _, err := b.context(cl, icid); err != nil {
			return err
		}
		delete(b.drawn, icid)
		return b.hub.DestroyXim(icid)

	case opSetICValues:
		return b.setICValues(cl, r)

	case opGetICValues:
		return b.getICValues(cl, r)

	case opSetICFocus, opUnsetICFocus:
		r.skip(2)
		icid := r.u16()
		if r.err != nil {
			return r.err
		}
		c, err := b.context(cl, icid)
		if err != nil {
			return err
		}
		if msg.major == opSetICFocus {
			c.FocusIn()
		} else {
			c.FocusOut()
		}
		return nil

	case opForwardEvent:
		return b.forwardEvent(cl, r)

	case opSync:
		imid, icid := r.u16(), r.u16()
		if r.err != nil {
			return r.err
		}
		b.send(cl, opSyncReply, b.ids(cl, imid, icid))
		return nil

	case opResetIC:
		imid, icid := r.u16(), r.u16()
		if r.err != nil {
			return r.err
		}
		c, err := b.context(cl, icid)
		if err == nil {
			c.Reset()
		}
		w := newWriter(cl.order)
		w.u16(imid)
		w.u16(icid)
		w.u16(0)
		w.zeros(2)
		b.send(cl, opResetICReply, w.buf)
		return err

	case opTriggerNotify:
		imid, icid := r.u16(), r.u16()
		if r.err != nil {
			return r.err
		}
		b.send(cl, opTriggerNotifyReply, b.ids(cl, imid, icid))
		return nil

	case opSyncReply, opPreeditStartReply, opPreeditCaretReply:
		return nil

	default:
		return fmt.Errorf("%w: unsupported request %d", ErrMalformed, msg.major)
	}
}

// context returns an XIM context owned by cl.
func (b *Bridge) context(cl *client, icid uint16) (*ic.Context, error) {
	c, err := b.hub.Xim(icid)
	if err != nil {
		return nil, err
	}
	if c.ConnectID != cl.id {
		return nil, fmt.Errorf("%w: xim %d belongs to another client", ic.ErrContextNotFound, icid)
	}
	return c, nil
}

func (b *Bridge) ids(cl *client, imid, icid uint16) []byte {
	w := newWriter(cl.order)
	w.u16(imid)
	w.u16(icid)
	return w.buf
}

func (b *Bridge) send(cl *client, op uint8, body []byte) {
	if err := cl.sender.Send(encodeMessage(cl.order, op, body)); err != nil {
		b.logger.Debug("xim send failed", "connect_id", cl.id, "op", op, "error", err)
	}
}

func (b *Bridge) sendError(cl *client, code uint16, detail string) {
	if cl.order == nil {
		return
	}
	w := newWriter(cl.order)
	w.u16(0)
	w.u16(0)
	w.u16(0)
	w.u16(code)
	w.u16(uint16(len(detail)))
	w.u16(0)
	w.bytes([]byte(detail))
	w.zeros(pad(len(detail)))
	b.send(cl, opError, w.buf)
}

func (b *Bridge) sendOpenReply(cl *client, imid uint16) {
	imList := encodeAttrList(cl.order, imAttrs)
	icList := encodeAttrList(cl.order, icAttrs)

	w := newWriter(cl.order)
	w.u16(imid)
	w.u16(uint16(len(imList)))
	w.bytes(imList)
	w.u16(uint16(len(icList)))
	w.u16(0)
	w.bytes(icList)
	b.send(cl, opOpenReply, w.buf)
}

func (b *Bridge) encodingNegotiation(cl *client, r *reader) error {
	imid := r.u16()
	n := int(r.u16())
	names := newReader(cl.order, r.bytes(n))
	if r.err != nil {
		return r.err
	}

	index := -1
	for i := 0; names.remaining() > 0; i++ {
		name := names.str()
		if names.err != nil {
			return names.err
		}
		if name == Encoding {
			index = i
			break
		}
	}

	w := newWriter(cl.order)
	w.u16(imid)
	w.u16(0)
	w.u16(uint16(int16(index)))
	w.u16(0)
	b.send(cl, opEncodingNegotiationReply, w.buf)
	return nil
}

func (b *Bridge) getIMValues(cl *client, r *reader) error {
	imid := r.u16()
	n := int(r.u16())
	ids := newReader(cl.order, r.bytes(n))
	if r.err != nil {
		return r.err
	}

	var values []attrValue
	for ids.remaining() >= 2 {
		id := ids.u16()
		if id != imAttrQueryInputStyle {
			b.logger.Info("xim im attribute ignored", "connect_id", cl.id, "attribute", id)
			continue
		}
		values = append(values, attrValue{id: id, value: encodeStyles(cl.order, SupportedStyles)})
	}

	list := encodeAttrValues(cl.order, values)
	w := newWriter(cl.order)
	w.u16(imid)
	w.u16(uint16(len(list)))
	w.bytes(list)
	b.send(cl, opGetIMValuesReply, w.buf)
	return nil
}

func (b *Bridge) createIC(cl *client, r *reader) error {
	imid := r.u16()
	n := int(r.u16())
	attrs, err := parseAttrValues(cl.order, r.bytes(n))
	if r.err != nil {
		return r.err
	}
	if err != nil {
		return err
	}

	c, err := b.hub.CreateXim(b, cl.id)
	if err != nil {
		return err
	}
	c.IMID = imid
	c.SetUsePreedit(true)
	if err := b.applyAttrs(cl, c, attrs); err != nil {
		delete(b.drawn, c.ID())
		b.hub.DestroyXim(c.ID())
		return err
	}
	b.logger.Debug("xim context created", "context", c.String(), "connect_id", cl.id, "style", fmt.Sprintf("0x%04x", c.InputStyle))

	b.send(cl, opCreateICReply, b.ids(cl, imid, c.ID()))

	mask := uint32(keyPressMask | keyReleaseMask)
	w := newWriter(cl.order)
	w.u16(imid)
	w.u16(c.ID())
	w.u32(mask)
	w.u32(^mask)
	b.send(cl, opSetEventMask, w.buf)
	return nil
}

func (b *Bridge) setICValues(cl *client, r *reader) error {
	imid, icid := r.u16(), r.u16()
	n := int(r.u16())
	r.skip(2)
	attrs, err := parseAttrValues(cl.order, r.bytes(n))
	if r.err != nil {
		return r.err
	}
	if err != nil {
		return err
	}

	c, lookupErr := b.context(cl, icid)
	if lookupErr == nil {
		if err := b.applyAttrs(cl, c, attrs); err != nil {
			return err
		}
	}
	b.send(cl, opSetICValuesReply, b.ids(cl, imid, icid))
	return lookupErr
}

// applyAttrs stores the recognized attributes on c. Others are logged and
// skipped.
func (b *Bridge) applyAttrs(cl *client, c *ic.Context, attrs []attrValue) error {
	for _, a := range attrs {
		switch a.id {
		case icInputStyle, icClientWindow, icFocusWindow:
			v, err := readCard32(cl.order, a.value)
			if err != nil {
				return err
			}
			switch a.id {
			case icInputStyle:
				c.InputStyle = v
			case icClientWindow:
				c.ClientWindow = v
			case icFocusWindow:
				c.FocusWindow = v
			}

		case icPreeditAttributes, icStatusAttributes:
			nested, err := parseAttrValues(cl.order, a.value)
			if err != nil {
				return err
			}
			if err := b.applyAttrs(cl, c, nested); err != nil {
				return err
			}

		case icSpotLocation:
			p, err := readPoint(cl.order, a.value)
			if err != nil {
				return err
			}
			b.setCursor(c, int32(p.x), int32(p.y), 0, 0)

		case icArea:
			rect, err := readRectangle(cl.order, a.value)
			if err != nil {
				return err
			}
			if c.InputStyle&PreeditPosition == 0 {
				b.setCursor(c, int32(rect.x), int32(rect.y), int32(rect.width), int32(rect.height))
			}

		case icPreeditState:
			v, err := readCard32(cl.order, a.value)
			if err != nil {
				return err
			}
			switch v {
			case preeditEnable:
				c.SetUsePreedit(true)
			case preeditDisable:
				c.SetUsePreedit(false)
			default:
				b.logger.Info("xim preedit state ignored", "context", c.String(), "state", v)
			}

		case icFontSet, icAreaNeeded, icColormap, icStdColormap, icForeground,
			icBackground, icBackgroundPixmap, icLineSpace, icSeparatorOfNestedList:

		default:
			b.logger.Warn("xim attribute ignored", "context", c.String(), "attribute", icAttrName(a.id))
		}
	}
	return nil
}

func (b *Bridge) setCursor(c *ic.Context, x, y, width, height int32) {
	win := c.FocusWindow
	if win == 0 {
		win = c.ClientWindow
	}
	if b.coords != nil && win != 0 {
		rx, ry, err := b.coords.TranslateToRoot(win, x, y)
		if err != nil {
			b.logger.Debug("translate spot location", "context", c.String(), "error", err)
		} else {
			x, y = rx, ry
		}
	}
	c.SetCursorLocation(engine.Rect{X: x, Y: y, Width: width, Height: height})
}

func (b *Bridge) getICValues(cl *client, r *reader) error {
	imid, icid := r.u16(), r.u16()
	n := int(r.u16())
	raw := newReader(cl.order, r.bytes(n))
	if r.err != nil {
		return r.err
	}
	var ids []uint16
	for raw.remaining() >= 2 {
		ids = append(ids, raw.u16())
	}

	c, lookupErr := b.context(cl, icid)
	var values []attrValue
	if lookupErr == nil {
		values = b.icValues(cl, c, ids)
	}

	list := encodeAttrValues(cl.order, values)
	w := newWriter(cl.order)
	w.u16(imid)
	w.u16(icid)
	w.u16(uint16(len(list)))
	w.u16(0)
	w.bytes(list)
	b.send(cl, opGetICValuesReply, w.buf)
	return lookupErr
}

// icValues answers a GET_IC_VALUES id list. The ids after a nested-list
// attribute, up to the separator, are answered inside it.
func (b *Bridge) icValues(cl *client, c *ic.Context, ids []uint16) []attrValue {
	var out []attrValue
	for i := 0; i < len(ids); i++ {
		id := ids[i]
		switch id {
		case icPreeditAttributes, icStatusAttributes:
			end := i + 1
			for end < len(ids) && ids[end] != icSeparatorOfNestedList {
				end++
			}
			nested := b.icValues(cl, c, ids[i+1:end])
			out = append(out, attrValue{id: id, value: encodeAttrValues(cl.order, nested)})
			i = end
		case icInputStyle:
			out = append(out, attrValue{id: id, value: card32(cl.order, c.InputStyle)})
		case icClientWindow:
			out = append(out, attrValue{id: id, value: card32(cl.order, c.ClientWindow)})
		case icFocusWindow:
			out = append(out, attrValue{id: id, value: card32(cl.order, c.FocusWindow)})
		case icFilterEvents:
			out = append(out, attrValue{id: id, value: card32(cl.order, keyPressMask|keyReleaseMask)})
		case icPreeditState:
			state := uint32(preeditDisable)
			if c.UsesPreedit() {
				state = preeditEnable
			}
			out = append(out, attrValue{id: id, value: card32(cl.order, state)})
		case icSeparatorOfNestedList:
		default:
			b.logger.Info("xim attribute not readable", "context", c.String(), "attribute", icAttrName(id))
		}
	}
	return out
}

func (b *Bridge) forwardEvent(cl *client, r *reader) error {
	imid, icid := r.u16(), r.u16()
	flag, serial := r.u16(), r.u16()
	raw := r.bytes(xEventSize)
	if r.err != nil {
		return r.err
	}
	kev, err := parseKeyEvent(cl.order, raw)
	if err != nil {
		return err
	}

	consumed := false
	c, lookupErr := b.context(cl, icid)
	if lookupErr == nil {
		consumed = c.FilterEvent(b.translate(kev))
	}

	if !consumed {
		w := newWriter(cl.order)
		w.u16(imid)
		w.u16(icid)
		w.u16(0)
		w.u16(serial)
		w.bytes(raw)
		b.send(cl, opForwardEvent, w.buf)
	}
	if flag&flagSynchronous != 0 {
		b.send(cl, opSyncReply, b.ids(cl, imid, icid))
	}
	return lookupErr
}

// translate resolves the keysym and drops the modifiers used to pick it.
func (b *Bridge) translate(kev keyEvent) *keysym.Event {
	state := keysym.ModifierType(kev.state)
	keyval, used := b.keymap.Lookup(kev.keycode, state)

	typ := keysym.KeyPress
	if kev.code == xKeyRelease {
		typ = keysym.KeyRelease
	}
	return &keysym.Event{
		Type:            typ,
		State:           state &^ used,
		Keyval:          keyval,
		HardwareKeycode: uint32(kev.keycode),
	}
}

func (b *Bridge) owner(c *ic.Context) (*client, bool) {
	cl, ok := b.clients.Get(c.ConnectID)
	if !ok || cl.order == nil {
		return nil, false
	}
	return cl, true
}

func callbacks(c *ic.Context) bool {
	return c.InputStyle&PreeditCallbacks != 0
}

// PreeditStart implements ic.Sink. Only callback-style clients draw preedit
// text themselves; for the other styles there is nothing to send.
func (b *Bridge) PreeditStart(c *ic.Context) {
	cl, ok := b.owner(c)
	if !ok || !callbacks(c) {
		return
	}
	b.drawn[c.ID()] = 0
	b.send(cl, opPreeditStart, b.ids(cl, c.IMID, c.ID()))
}

func (b *Bridge) PreeditChanged(c *ic.Context, text string, cursor int) {
	cl, ok := b.owner(c)
	if !ok || !callbacks(c) {
		return
	}

	prev := b.drawn[c.ID()]
	chars := utf8.RuneCountInString(text)

	w := newWriter(cl.order)
	w.u16(c.IMID)
	w.u16(c.ID())
	w.u32(uint32(cursor))
	w.u32(0)
	w.u32(uint32(prev))
	if text == "" {
		w.u32(drawNoString | drawNoFeedback)
		w.u16(0)
		w.zeros(2)
		w.u16(0)
		w.u16(0)
	} else {
		ct := EncodeCompoundText(text)
		w.u32(0)
		w.u16(uint16(len(ct)))
		w.bytes(ct)
		w.zeros(pad(2 + len(ct)))
		w.u16(uint16(4 * chars))
		w.u16(0)
		for range chars {
			w.u32(feedbackUnderline)
		}
	}
	b.drawn[c.ID()] = chars
	b.send(cl, opPreeditDraw, w.buf)
}

func (b *Bridge) PreeditEnd(c *ic.Context) {
	cl, ok := b.owner(c)
	if !ok || !callbacks(c) {
		return
	}
	if b.drawn[c.ID()] > 0 {
		b.PreeditChanged(c, "", 0)
	}
	delete(b.drawn, c.ID())
	b.send(cl, opPreeditDone, b.ids(cl, c.IMID, c.ID()))
}

// Commit sends text as XLookupChars.
func (b *Bridge) Commit(c *ic.Context, text string) {
	cl, ok := b.owner(c)
	if !ok {
		return
	}
	ct := EncodeCompoundText(text)
	w := newWriter(cl.order)
	w.u16(c.IMID)
	w.u16(c.ID())
	w.u16(flagLookupChars)
	w.u16(uint16(len(ct)))
	w.bytes(ct)
	w.zeros(pad(len(ct)))
	b.send(cl, opCommit, w.buf)
}

// RetrieveSurrounding implements ic.Sink. XIM has no surrounding text.
func (b *Bridge) RetrieveSurrounding(*ic.Context) bool { return false }

func (b *Bridge) DeleteSurrounding(*ic.Context, int, int) bool { return false }

// EngineChanged implements ic.Sink. XIM contexts are never agents.
func (b *Bridge) EngineChanged(*ic.Context, string, string) {}

// Contexts returns the ids of the XIM contexts owned by client id.
func (b *Bridge) Contexts(id uint16) []uint16 {
	var out []uint16
	for _, c := range b.hub.XimContexts() {
		if c.ConnectID == id {
			out = append(out, c.ID())
		}
	}
	slices.Sort(out)
	return out
}
