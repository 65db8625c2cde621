package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"nimf/internal/engine"
	"nimf/internal/keysym"
)

// RecordSeparator joins string lists such as the loaded engine ids.
const RecordSeparator = 0x1E

// ContextKind is the CreateContext payload.
type ContextKind uint32

const (
	ContextRegular ContextKind = 0
	ContextAgent   ContextKind = 1
)

func putInt32(buf []byte, v int32) {
	binary.LittleEndian.PutUint32(buf, uint32(v))
}

func getInt32(buf []byte) int32 {
	return int32(binary.LittleEndian.Uint32(buf))
}

func malformed(what string, got, want int) error {
	return fmt.Errorf("%w: %s payload is %d bytes, need %d", ErrMalformed, what, got, want)
}

// EncodeString returns s followed by a NUL byte.
func EncodeString(s string) []byte {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return buf
}

// DecodeString reads up to the first NUL, or the whole payload if there is
// none.
func DecodeString(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		return string(p[:i])
	}
	return string(p)
}

// JoinStrings encodes a list joined by RecordSeparator and NUL-terminated.
func JoinStrings(list []string) []byte {
	return EncodeString(strings.Join(list, string(rune(RecordSeparator))))
}

// SplitStrings decodes a JoinStrings payload.
func SplitStrings(p []byte) []string {
	s := DecodeString(p)
	if s == "" {
		return nil
	}
	return strings.Split(s, string(rune(RecordSeparator)))
}

// EncodeBool encodes a boolean as a 32-bit integer.
func EncodeBool(b bool) []byte {
	buf := make([]byte, 4)
	if b {
		putInt32(buf, 1)
	}
	return buf
}

// DecodeBool decodes an EncodeBool payload.
func DecodeBool(p []byte) (bool, error) {
	if len(p) < 4 {
		return false, malformed("bool", len(p), 4)
	}
	return getInt32(p) != 0, nil
}

// EncodeKind encodes the CreateContext payload.
func EncodeKind(k ContextKind) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(k))
	return buf
}

// DecodeKind decodes a CreateContext payload. An empty payload is a
// regular context.
func DecodeKind(p []byte) (ContextKind, error) {
	if len(p) == 0 {
		return ContextRegular, nil
	}
	if len(p) < 4 {
		return 0, malformed("context kind", len(p), 4)
	}
	k := ContextKind(binary.LittleEndian.Uint32(p))
	if k != ContextRegular && k != ContextAgent {
		return 0, fmt.Errorf("%w: context kind %d", ErrMalformed, k)
	}
	return k, nil
}

const eventSize = 16

// EncodeEvent encodes type, state, keyval and hardware keycode.
func EncodeEvent(ev *keysym.Event) []byte {
	buf := make([]byte, eventSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ev.Type))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(ev.State))
	binary.LittleEndian.PutUint32(buf[8:12], ev.Keyval)
	binary.LittleEndian.PutUint32(buf[12:16], ev.HardwareKeycode)
	return buf
}

// DecodeEvent decodes an EncodeEvent payload.
func DecodeEvent(p []byte) (*keysym.Event, error) {
	if len(p) < eventSize {
		return nil, malformed("event", len(p), eventSize)
	}
	ev := &keysym.Event{
		Type:            keysym.EventType(binary.LittleEndian.Uint32(p[0:4])),
		State:           keysym.ModifierType(binary.LittleEndian.Uint32(p[4:8])),
		Keyval:          binary.LittleEndian.Uint32(p[8:12]),
		HardwareKeycode: binary.LittleEndian.Uint32(p[12:16]),
	}
	if ev.Type != keysym.KeyPress && ev.Type != keysym.KeyRelease {
		return nil, fmt.Errorf("%w: event type %d", ErrMalformed, ev.Type)
	}
	return ev, nil
}

const rectSize = 16

// EncodeRect encodes x, y, width, height.
func EncodeRect(r engine.Rect) []byte {
	buf := make([]byte, rectSize)
	putInt32(buf[0:4], r.X)
	putInt32(buf[4:8], r.Y)
	putInt32(buf[8:12], r.Width)
	putInt32(buf[12:16], r.Height)
	return buf
}

// DecodeRect decodes an EncodeRect payload.
func DecodeRect(p []byte) (engine.Rect, error) {
	if len(p) < rectSize {
		return engine.Rect{}, malformed("rect", len(p), rectSize)
	}
	return engine.Rect{
		X:      getInt32(p[0:4]),
		Y:      getInt32(p[4:8]),
		Width:  getInt32(p[8:12]),
		Height: getInt32(p[12:16]),
	}, nil
}

// EncodeSurrounding encodes a GetSurrounding reply:
// text NUL | cursor i32 | ok i32.
func EncodeSurrounding(text string, cursor int, ok bool) []byte {
	buf := make([]byte, len(text)+1+8)
	copy(buf, text)
	tail := buf[len(text)+1:]
	putInt32(tail[0:4], int32(cursor))
	copy(tail[4:8], EncodeBool(ok))
	return buf
}

// DecodeSurrounding decodes an EncodeSurrounding payload.
func DecodeSurrounding(p []byte) (text string, cursor int, ok bool, err error) {
	if len(p) < 9 {
		return "", 0, false, malformed("surrounding", len(p), 9)
	}
	tail := p[len(p)-8:]
	text = DecodeString(p[:len(p)-8])
	cursor = int(getInt32(tail[0:4]))
	ok = getInt32(tail[4:8]) != 0
	return text, cursor, ok, nil
}

// EncodeSetSurrounding encodes a SetSurrounding request:
// text NUL | byte length i32 | cursor i32.
func EncodeSetSurrounding(text string, cursor int) []byte {
	buf := make([]byte, len(text)+1+8)
	copy(buf, text)
	tail := buf[len(text)+1:]
	putInt32(tail[0:4], int32(len(text)))
	putInt32(tail[4:8], int32(cursor))
	return buf
}

// DecodeSetSurrounding decodes an EncodeSetSurrounding payload. A negative
// length means the text runs to its NUL.
func DecodeSetSurrounding(p []byte) (text string, cursor int, err error) {
	if len(p) < 9 {
		return "", 0, malformed("set surrounding", len(p), 9)
	}
	tail := p[len(p)-8:]
	text = DecodeString(p[:len(p)-8])
	if n := int(getInt32(tail[0:4])); n >= 0 && n < len(text) {
		text = text[:n]
	}
	return text, int(getInt32(tail[4:8])), nil
}

// EncodePreeditChanged encodes text NUL | cursor i32.
func EncodePreeditChanged(text string, cursor int) []byte {
	buf := make([]byte, len(text)+1+4)
	copy(buf, text)
	putInt32(buf[len(text)+1:], int32(cursor))
	return buf
}

// DecodePreeditChanged decodes an EncodePreeditChanged payload.
func DecodePreeditChanged(p []byte) (string, int, error) {
	if len(p) < 5 {
		return "", 0, malformed("preedit changed", len(p), 5)
	}
	return DecodeString(p[:len(p)-4]), int(getInt32(p[len(p)-4:])), nil
}

// EncodeDeleteSurrounding encodes offset i32 | n_chars i32.
func EncodeDeleteSurrounding(offset, nChars int) []byte {
	buf := make([]byte, 8)
	putInt32(buf[0:4], int32(offset))
	putInt32(buf[4:8], int32(nChars))
	return buf
}

// DecodeDeleteSurrounding decodes an EncodeDeleteSurrounding payload.
func DecodeDeleteSurrounding(p []byte) (offset, nChars int, err error) {
	if len(p) < 8 {
		return 0, 0, malformed("delete surrounding", len(p), 8)
	}
	return int(getInt32(p[0:4])), int(getInt32(p[4:8])), nil
}
