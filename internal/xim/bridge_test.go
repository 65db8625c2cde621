package xim

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimf/internal/engine"
	"nimf/internal/ic"
	"nimf/internal/keysym"
)

// scriptedEngine composes on 'a', commits on 'b' and passes everything else.
type scriptedEngine struct {
	events []keysym.Event
	resets int
}

func (e *scriptedEngine) ID() string       { return "scripted" }
func (e *scriptedEngine) IconName() string { return "scripted" }

func (e *scriptedEngine) FilterEvent(t engine.Target, ev *keysym.Event) bool {
	e.events = append(e.events, *ev)
	if ev.Type != keysym.KeyPress {
		return false
	}
	switch ev.Keyval {
	case 'a', 'A':
		t.EmitPreeditStart()
		t.EmitPreeditChanged("あ", 1)
		return true
	case 'b':
		t.EmitPreeditEnd()
		t.EmitCommit("가")
		return true
	}
	return false
}

func (e *scriptedEngine) Reset(engine.Target)    { e.resets++ }
func (e *scriptedEngine) FocusIn(engine.Target)  {}
func (e *scriptedEngine) FocusOut(engine.Target) {}

type fixedDefault string

func (f fixedDefault) DefaultEngineID() string   { return string(f) }
func (f fixedDefault) ResetDefaultEngine() error { return nil }

type recordingSender struct {
	sent [][]byte
	err  error
}

func (s *recordingSender) Send(msg []byte) error {
	s.sent = append(s.sent, append([]byte(nil), msg...))
	return s.err
}

func (s *recordingSender) take() [][]byte {
	out := s.sent
	s.sent = nil
	return out
}

type offsetTranslator struct{ dx, dy int32 }

func (o offsetTranslator) TranslateToRoot(_ uint32, x, y int32) (int32, int32, error) {
	return x + o.dx, y + o.dy, nil
}

type failingTranslator struct{}

func (failingTranslator) TranslateToRoot(uint32, int32, int32) (int32, int32, error) {
	return 0, 0, errors.New("bad window")
}

type testClient struct {
	t      *testing.T
	bridge *Bridge
	sender *recordingSender
	order  binary.ByteOrder
	id     uint16
	imid   uint16
}

func newTestBridge(t *testing.T) (*Bridge, *ic.Hub, *scriptedEngine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &scriptedEngine{}
	reg := engine.NewRegistry(fixedDefault(e.ID()), logger)
	reg.Add(e)
	hub := ic.NewHub(reg, logger)
	b := NewBridge(hub, logger, nil)
	// keycodes 38, 39, 40 are a, b, c
	b.SetKeymap(NewKeymap(38, 2, []uint32{'a', 'A', 'b', 'B', 'c', 'C'}))
	return b, hub, e
}

func (tc *testClient) request(major uint8, body []byte) [][]byte {
	tc.t.Helper()
	require.NoError(tc.t, tc.bridge.Handle(tc.id, encodeMessage(tc.order, major, body)))
	return tc.sender.take()
}

func (tc *testClient) parse(raw []byte) message {
	tc.t.Helper()
	msg, err := parseMessage(tc.order, raw)
	require.NoError(tc.t, err)
	return msg
}

func (tc *testClient) ops(sent [][]byte) []uint8 {
	out := make([]uint8, len(sent))
	for i, raw := range sent {
		out[i] = raw[0]
	}
	return out
}

// connect runs XIM_CONNECT and XIM_OPEN.
func connect(t *testing.T, b *Bridge, order binary.ByteOrder) *testClient {
	t.Helper()
	s := &recordingSender{}
	id, err := b.Connect(s)
	require.NoError(t, err)
	tc := &testClient{t: t, bridge: b, sender: s, order: order, id: id}

	marker := byte(orderLittleEndian)
	if order == binary.BigEndian {
		marker = orderBigEndian
	}
	w := newWriter(order)
	w.u8(marker)
	w.u8(0)
	w.u16(1)
	w.u16(0)
	w.u16(0)
	sent := tc.request(opConnect, w.buf)
	require.Len(t, sent, 1)
	reply := tc.parse(sent[0])
	assert.Equal(t, uint8(opConnectReply), reply.major)
	assert.Equal(t, uint16(1), order.Uint16(reply.body[0:2]))

	w = newWriter(order)
	w.u8(5)
	w.bytes([]byte("ko_KR"))
	w.zeros(pad(6))
	sent = tc.request(opOpen, w.buf)
	require.Len(t, sent, 1)
	reply = tc.parse(sent[0])
	require.Equal(t, uint8(opOpenReply), reply.major)
	tc.imid = order.Uint16(reply.body[0:2])
	assert.NotZero(t, tc.imid)
	return tc
}

func (tc *testClient) createIC(style, window uint32, extra ...attrValue) uint16 {
	tc.t.Helper()
	attrs := append([]attrValue{
		{id: icInputStyle, value: card32(tc.order, style)},
		{id: icClientWindow, value: card32(tc.order, window)},
	}, extra...)
	list := encodeAttrValues(tc.order, attrs)

	w := newWriter(tc.order)
	w.u16(tc.imid)
	w.u16(uint16(len(list)))
	w.bytes(list)
	sent := tc.request(opCreateIC, w.buf)
	require.Equal(tc.t, []uint8{opCreateICReply, opSetEventMask}, tc.ops(sent))

	reply := tc.parse(sent[0])
	icid := tc.order.Uint16(reply.body[2:4])

	mask := tc.parse(sent[1])
	assert.Equal(tc.t, uint32(keyPressMask|keyReleaseMask), tc.order.Uint32(mask.body[4:8]))
	return icid
}

func (tc *testClient) keyEvent(code, keycode uint8, state uint16) []byte {
	raw := make([]byte, xEventSize)
	raw[0] = code
	raw[1] = keycode
	tc.order.PutUint16(raw[28:30], state)
	return raw
}

func (tc *testClient) forward(icid uint16, flag uint16, raw []byte) [][]byte {
	tc.t.Helper()
	w := newWriter(tc.order)
	w.u16(tc.imid)
	w.u16(icid)
	w.u16(flag)
	w.u16(7)
	w.bytes(raw)
	return tc.request(opForwardEvent, w.buf)
}

func TestCreateICStoresAttributes(t *testing.T) {
	b, hub, _ := newTestBridge(t)
	b.SetCoordinateTranslator(offsetTranslator{dx: 100, dy: 200})
	tc := connect(t, b, binary.LittleEndian)

	spot := newWriter(tc.order)
	spot.u16(10)
	spot.u16(20)
	preedit := encodeAttrValues(tc.order, []attrValue{{id: icSpotLocation, value: spot.buf}})

	icid := tc.createIC(PreeditPosition|StatusNothing, 0x400001,
		attrValue{id: icPreeditAttributes, value: preedit},
		attrValue{id: 200, value: card32(tc.order, 1)},
	)

	c, err := hub.Xim(icid)
	require.NoError(t, err)
	assert.Equal(t, tc.id, c.ConnectID)
	assert.Equal(t, tc.imid, c.IMID)
	assert.Equal(t, uint32(PreeditPosition|StatusNothing), c.InputStyle)
	assert.Equal(t, uint32(0x400001), c.ClientWindow)
	assert.True(t, c.UsesPreedit())
	assert.Equal(t, engine.Rect{X: 110, Y: 220}, c.CursorLocation())
	assert.Equal(t, []uint16{icid}, b.Contexts(tc.id))
}

func TestSpotLocationKeptWhenTranslationFails(t *testing.T) {
	b, hub, _ := newTestBridge(t)
	b.SetCoordinateTranslator(failingTranslator{})
	tc := connect(t, b, binary.LittleEndian)
	icid := tc.createIC(PreeditPosition|StatusNothing, 1)

	spot := newWriter(tc.order)
	spot.u16(5)
	spot.u16(6)
	list := encodeAttrValues(tc.order, []attrValue{{id: icSpotLocation, value: spot.buf}})
	w := newWriter(tc.order)
	w.u16(tc.imid)
	w.u16(icid)
	w.u16(uint16(len(list)))
	w.u16(0)
	w.bytes(list)
	sent := tc.request(opSetICValues, w.buf)
	assert.Equal(t, []uint8{opSetICValuesReply}, tc.ops(sent))

	c, err := hub.Xim(icid)
	require.NoError(t, err)
	assert.Equal(t, engine.Rect{X: 5, Y: 6}, c.CursorLocation())
}

func TestForwardEventPassesUnconsumedKeysBack(t *testing.T) {
	b, _, e := newTestBridge(t)
	tc := connect(t, b, binary.LittleEndian)
	icid := tc.createIC(PreeditNothing|StatusNothing, 1)

	raw := tc.keyEvent(xKeyPress, 40, 0)
	sent := tc.forward(icid, flagSynchronous, raw)
	require.Equal(t, []uint8{opForwardEvent, opSyncReply}, tc.ops(sent))

	back := tc.parse(sent[0])
	assert.Equal(t, uint16(0), tc.order.Uint16(back.body[4:6]), "flag")
	assert.Equal(t, uint16(7), tc.order.Uint16(back.body[6:8]), "serial")
	assert.Equal(t, raw, back.body[8:8+xEventSize])

	require.Len(t, e.events, 1)
	assert.Equal(t, uint32('c'), e.events[0].Keyval)
	assert.Equal(t, uint32(40), e.events[0].HardwareKeycode)
}

func TestForwardEventDropsShiftUsedForKeysym(t *testing.T) {
	b, _, e := newTestBridge(t)
	tc := connect(t, b, binary.LittleEndian)
	icid := tc.createIC(PreeditNothing|StatusNothing, 1)

	tc.forward(icid, 0, tc.keyEvent(xKeyPress, 38, uint16(keysym.ShiftMask|keysym.ControlMask)))

	require.Len(t, e.events, 1)
	assert.Equal(t, uint32('A'), e.events[0].Keyval)
	assert.Equal(t, keysym.ControlMask, e.events[0].State)
}

func TestPreeditCallbacksSequence(t *testing.T) {
	b, _, _ := newTestBridge(t)
	tc := connect(t, b, binary.LittleEndian)
	icid := tc.createIC(PreeditCallbacks|StatusNothing, 1)

	sent := tc.forward(icid, 0, tc.keyEvent(xKeyPress, 38, 0))
	require.Equal(t, []uint8{opPreeditStart, opPreeditDraw}, tc.ops(sent))

	draw := tc.parse(sent[1])
	r := newReader(tc.order, draw.body)
	r.skip(4)
	assert.Equal(t, uint32(1), r.u32(), "caret")
	assert.Equal(t, uint32(0), r.u32(), "first")
	assert.Equal(t, uint32(0), r.u32(), "length")
	assert.Equal(t, uint32(0), r.u32(), "status")
	n := int(r.u16())
	assert.Equal(t, EncodeCompoundText("あ"), r.bytes(n))
	r.skip(pad(2 + n))
	assert.Equal(t, uint16(4), r.u16())
	r.skip(2)
	assert.Equal(t, uint32(feedbackUnderline), r.u32())
	require.NoError(t, r.err)

	sent = tc.forward(icid, 0, tc.keyEvent(xKeyPress, 39, 0))
	require.Equal(t, []uint8{opPreeditDraw, opPreeditDone, opCommit}, tc.ops(sent))

	clearing := tc.parse(sent[0])
	assert.Equal(t, uint32(1), tc.order.Uint32(clearing.body[12:16]), "replaces the drawn character")
	assert.Equal(t, uint32(drawNoString|drawNoFeedback), tc.order.Uint32(clearing.body[16:20]))

	commit := tc.parse(sent[2])
	assert.Equal(t, uint16(flagLookupChars), tc.order.Uint16(commit.body[4:6]))
	n = int(tc.order.Uint16(commit.body[6:8]))
	assert.Equal(t, EncodeCompoundText("가"), commit.body[8:8+n])
}

func TestPreeditNotSentForPositionStyle(t *testing.T) {
	b, _, _ := newTestBridge(t)
	tc := connect(t, b, binary.LittleEndian)
	icid := tc.createIC(PreeditPosition|StatusNothing, 1)

	sent := tc.forward(icid, 0, tc.keyEvent(xKeyPress, 38, 0))
	assert.Empty(t, sent)

	sent = tc.forward(icid, 0, tc.keyEvent(xKeyPress, 39, 0))
	assert.Equal(t, []uint8{opCommit}, tc.ops(sent))
}

func TestGetICValuesNested(t *testing.T) {
	b, _, _ := newTestBridge(t)
	tc := connect(t, b, binary.LittleEndian)
	icid := tc.createIC(PreeditCallbacks|StatusNothing, 42)

	ids := newWriter(tc.order)
	for _, id := range []uint16{icInputStyle, icPreeditAttributes, icPreeditState, icSeparatorOfNestedList, icFilterEvents} {
		ids.u16(id)
	}
	w := newWriter(tc.order)
	w.u16(tc.imid)
	w.u16(icid)
	w.u16(uint16(ids.len()))
	w.bytes(ids.buf)
	w.zeros(pad(ids.len()))
	sent := tc.request(opGetICValues, w.buf)
	require.Equal(t, []uint8{opGetICValuesReply}, tc.ops(sent))

	reply := tc.parse(sent[0])
	n := int(tc.order.Uint16(reply.body[4:6]))
	values, err := parseAttrValues(tc.order, reply.body[8:8+n])
	require.NoError(t, err)
	require.Len(t, values, 3)

	assert.Equal(t, icInputStyle, values[0].id)
	assert.Equal(t, card32(tc.order, PreeditCallbacks|StatusNothing), values[0].value)

	assert.Equal(t, icPreeditAttributes, values[1].id)
	nested, err := parseAttrValues(tc.order, values[1].value)
	require.NoError(t, err)
	require.Len(t, nested, 1)
	assert.Equal(t, icPreeditState, nested[0].id)
	assert.Equal(t, card32(tc.order, preeditEnable), nested[0].value)

	assert.Equal(t, icFilterEvents, values[2].id)
}

func TestEncodingNegotiationPicksCompoundText(t *testing.T) {
	b, _, _ := newTestBridge(t)
	tc := connect(t, b, binary.LittleEndian)

	names := newWriter(tc.order)
	for _, n := range []string{"UTF-8", Encoding} {
		names.u8(uint8(len(n)))
		names.bytes([]byte(n))
	}
	w := newWriter(tc.order)
	w.u16(tc.imid)
	w.u16(uint16(names.len()))
	w.bytes(names.buf)
	w.zeros(pad(names.len()))
	w.u16(0)
	w.u16(0)
	sent := tc.request(opEncodingNegotiation, w.buf)
	require.Equal(t, []uint8{opEncodingNegotiationReply}, tc.ops(sent))

	reply := tc.parse(sent[0])
	assert.Equal(t, uint16(1), tc.order.Uint16(reply.body[4:6]))
}

func TestBigEndianClient(t *testing.T) {
	b, hub, _ := newTestBridge(t)
	tc := connect(t, b, binary.BigEndian)
	icid := tc.createIC(PreeditNothing|StatusNothing, 0x01020304)

	c, err := hub.Xim(icid)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), c.ClientWindow)

	sent := tc.forward(icid, 0, tc.keyEvent(xKeyPress, 39, 0))
	require.Equal(t, []uint8{opCommit}, tc.ops(sent))
	commit := tc.parse(sent[0])
	assert.Equal(t, uint16(icid), binary.BigEndian.Uint16(commit.body[2:4]))
}

func TestDestroyICAndDisconnect(t *testing.T) {
	b, hub, _ := newTestBridge(t)
	tc := connect(t, b, binary.LittleEndian)
	first := tc.createIC(PreeditNothing|StatusNothing, 1)
	tc.createIC(PreeditNothing|StatusNothing, 2)

	other := connect(t, b, binary.LittleEndian)
	kept := other.createIC(PreeditNothing|StatusNothing, 3)

	w := newWriter(tc.order)
	w.u16(tc.imid)
	w.u16(first)
	sent := tc.request(opDestroyIC, w.buf)
	assert.Equal(t, []uint8{opDestroyICReply}, tc.ops(sent))
	_, err := hub.Xim(first)
	assert.ErrorIs(t, err, ic.ErrContextNotFound)

	b.Disconnect(tc.id)
	assert.Empty(t, b.Contexts(tc.id))
	assert.Equal(t, []uint16{kept}, b.Contexts(other.id))
	assert.Equal(t, 1, b.ClientCount())
	assert.Equal(t, 1, hub.XimCount())
}

func TestCloseDestroysOnlyThatIM(t *testing.T) {
	b, hub, _ := newTestBridge(t)
	tc := connect(t, b, binary.LittleEndian)
	tc.createIC(PreeditNothing|StatusNothing, 1)

	w := newWriter(tc.order)
	w.u16(tc.imid)
	w.zeros(2)
	sent := tc.request(opClose, w.buf)
	assert.Equal(t, []uint8{opCloseReply}, tc.ops(sent))
	assert.Zero(t, hub.XimCount())
}

func TestUnknownContextStillGetsReply(t *testing.T) {
	b, _, _ := newTestBridge(t)
	tc := connect(t, b, binary.LittleEndian)

	sent := tc.forward(99, flagSynchronous, tc.keyEvent(xKeyPress, 40, 0))
	assert.Equal(t, []uint8{opForwardEvent, opSyncReply}, tc.ops(sent))

	w := newWriter(tc.order)
	w.u16(tc.imid)
	w.u16(99)
	sent = tc.request(opResetIC, w.buf)
	assert.Equal(t, []uint8{opResetICReply}, tc.ops(sent))
}

func TestContextOfAnotherClientIsHidden(t *testing.T) {
	b, _, e := newTestBridge(t)
	owner := connect(t, b, binary.LittleEndian)
	icid := owner.createIC(PreeditNothing|StatusNothing, 1)

	intruder := connect(t, b, binary.LittleEndian)
	intruder.forward(icid, 0, intruder.keyEvent(xKeyPress, 39, 0))
	assert.Empty(t, e.events)
}

func TestMalformedRequestGetsError(t *testing.T) {
	b, _, _ := newTestBridge(t)
	tc := connect(t, b, binary.LittleEndian)

	err := b.Handle(tc.id, encodeMessage(tc.order, opCreateIC, []byte{1, 0, 8, 0}))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, []uint8{opError}, tc.ops(tc.sender.take()))

	err = b.Handle(tc.id, encodeMessage(tc.order, 99, nil))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, []uint8{opError}, tc.ops(tc.sender.take()))
}

func TestRequestBeforeConnect(t *testing.T) {
	b, _, _ := newTestBridge(t)
	s := &recordingSender{}
	id, err := b.Connect(s)
	require.NoError(t, err)

	err = b.Handle(id, encodeMessage(binary.LittleEndian, opOpen, []byte{0, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Empty(t, s.sent)

	assert.Error(t, b.Handle(id+1, nil))
}

func TestFocusOutResetsEngine(t *testing.T) {
	b, hub, e := newTestBridge(t)
	tc := connect(t, b, binary.LittleEndian)
	icid := tc.createIC(PreeditNothing|StatusNothing, 1)

	w := newWriter(tc.order)
	w.u16(tc.imid)
	w.u16(icid)
	assert.Empty(t, tc.request(opSetICFocus, w.buf))
	c, err := hub.Xim(icid)
	require.NoError(t, err)
	assert.True(t, c.Focused())

	assert.Empty(t, tc.request(opUnsetICFocus, w.buf))
	assert.False(t, c.Focused())
	assert.Equal(t, 1, e.resets)
}
