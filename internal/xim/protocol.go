// Package xim bridges the X Input Method protocol onto the context hub.
//
// The Bridge speaks XIM requests and replies as byte slices and is
// independent of how they travel. X11 carries them over client messages
// and window properties on a display connection opened with jezek/xgb.
package xim

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrBridgeUnavailable is returned when the display cannot be used for
	// XIM. The daemon logs it and runs without the bridge.
	ErrBridgeUnavailable = errors.New("xim bridge unavailable")

	// ErrMalformed is returned for requests that cannot be decoded.
	ErrMalformed = errors.New("malformed xim message")
)

// Major opcodes.
const (
	opConnect                  = 1
	opConnectReply             = 2
	opDisconnect               = 3
	opDisconnectReply          = 4
	opError                    = 20
	opOpen                     = 30
	opOpenReply                = 31
	opClose                    = 32
	opCloseReply               = 33
	opTriggerNotify            = 35
	opTriggerNotifyReply       = 36
	opSetEventMask             = 37
	opEncodingNegotiation      = 38
	opEncodingNegotiationReply = 39
	opQueryExtension           = 40
	opQueryExtensionReply      = 41
	opSetIMValues              = 42
	opSetIMValuesReply         = 43
	opGetIMValues              = 44
	opGetIMValuesReply         = 45
	opCreateIC                 = 50
	opCreateICReply            = 51
	opDestroyIC                = 52
	opDestroyICReply           = 53
	opSetICValues              = 54
	opSetICValuesReply         = 55
	opGetICValues              = 56
	opGetICValuesReply         = 57
	opSetICFocus               = 58
	opUnsetICFocus             = 59
	opForwardEvent             = 60
	opSync                     = 61
	opSyncReply                = 62
	opCommit                   = 63
	opResetIC                  = 64
	opResetICReply             = 65
	opPreeditStart             = 73
	opPreeditStartReply        = 74
	opPreeditDraw              = 75
	opPreeditCaretReply        = 77
	opPreeditDone              = 78
)

var opNames = map[uint8]string{
	opConnect:             "connect",
	opDisconnect:          "disconnect",
	opOpen:                "open",
	opClose:               "close",
	opTriggerNotify:       "trigger_notify",
	opEncodingNegotiation: "encoding_negotiation",
	opQueryExtension:      "query_extension",
	opSetIMValues:         "set_im_values",
	opGetIMValues:         "get_im_values",
	opCreateIC:            "create_ic",
	opDestroyIC:           "destroy_ic",
	opSetICValues:         "set_ic_values",
	opGetICValues:         "get_ic_values",
	opSetICFocus:          "set_ic_focus",
	opUnsetICFocus:        "unset_ic_focus",
	opForwardEvent:        "forward_event",
	opSync:                "sync",
	opSyncReply:           "sync_reply",
	opResetIC:             "reset_ic",
	opPreeditStartReply:   "preedit_start_reply",
	opPreeditCaretReply:   "preedit_caret_reply",
}

func opName(op uint8) string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return fmt.Sprintf("op%d", op)
}

// FORWARD_EVENT and COMMIT flags.
const (
	flagSynchronous = 0x0001
	flagLookupChars = 0x0002
)

// PREEDIT_DRAW status bits.
const (
	drawNoString   = 0x0001
	drawNoFeedback = 0x0002
)

const feedbackUnderline = 0x0002

// XIM_ERROR codes.
const (
	errBadProtocol  = 13
	errBadSomething = 999
)

// X event masks used for the filter and forward masks.
const (
	keyPressMask   = 1 << 0
	keyReleaseMask = 1 << 1
)

const headerSize = 4

// Byte order markers sent as the first byte of XIM_CONNECT.
const (
	orderBigEndian    = 0x42
	orderLittleEndian = 0x6c
)

func byteOrder(marker byte) (binary.ByteOrder, error) {
	switch marker {
	case orderBigEndian:
		return binary.BigEndian, nil
	case orderLittleEndian:
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("%w: byte order 0x%02x", ErrMalformed, marker)
	}
}

func pad(n int) int { return (4 - n%4) % 4 }

// message is one decoded XIM request.
type message struct {
	major uint8
	minor uint8
	body  []byte
}

// parseMessage checks the header and returns the body it announces. Bytes
// past the announced length are ignored; client-message transport pads the
// last chunk.
func parseMessage(order binary.ByteOrder, data []byte) (message, error) {
	if len(data) < headerSize {
		return message{}, fmt.Errorf("%w: %d byte message", ErrMalformed, len(data))
	}
	n := int(order.Uint16(data[2:4])) * 4
	if len(data)-headerSize < n {
		return message{}, fmt.Errorf("%w: header announces %d bytes, have %d", ErrMalformed, n, len(data)-headerSize)
	}
	return message{major: data[0], minor: data[1], body: data[headerSize : headerSize+n]}, nil
}

// encodeMessage frames body, padding it to a multiple of four.
func encodeMessage(order binary.ByteOrder, major uint8, body []byte) []byte {
	n := len(body) + pad(len(body))
	out := make([]byte, headerSize+n)
	out[0] = major
	order.PutUint16(out[2:4], uint16(n/4))
	copy(out[headerSize:], body)
	return out
}

type reader struct {
	order binary.ByteOrder
	buf   []byte
	off   int
	err   error
}

func newReader(order binary.ByteOrder, buf []byte) *reader {
	return &reader{order: order, buf: buf}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrMalformed, n, r.off, len(r.buf))
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := r.order.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := r.order.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) skip(n int) { r.bytes(n) }

// str reads a STR: a length byte followed by that many bytes.
func (r *reader) str() string {
	n := int(r.u8())
	return string(r.bytes(n))
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

type writer struct {
	order binary.ByteOrder
	buf   []byte
}

func newWriter(order binary.ByteOrder) *writer {
	return &writer{order: order}
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u16(v uint16) {
	var b [2]byte
	w.order.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	w.order.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) zeros(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) len() int { return len(w.buf) }

// xEventSize is the size of a wire-format X event.
const xEventSize = 32

// X core event codes for key events.
const (
	xKeyPress   = 2
	xKeyRelease = 3
)

// keyEvent is the part of a wire X key event the bridge reads.
type keyEvent struct {
	code    uint8
	keycode uint8
	state   uint16
}

func parseKeyEvent(order binary.ByteOrder, raw []byte) (keyEvent, error) {
	if len(raw) < xEventSize {
		return keyEvent{}, fmt.Errorf("%w: x event is %d bytes", ErrMalformed, len(raw))
	}
	ev := keyEvent{
		code:    raw[0] & 0x7f,
		keycode: raw[1],
		state:   order.Uint16(raw[28:30]),
	}
	if ev.code != xKeyPress && ev.code != xKeyRelease {
		return keyEvent{}, fmt.Errorf("%w: x event code %d is not a key event", ErrMalformed, ev.code)
	}
	return ev, nil
}
