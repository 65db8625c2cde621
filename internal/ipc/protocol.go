// Package ipc implements the nimf socket protocol: the message codec, the
// server side connection registry and dispatcher, and a client.
//
// Every message is an 8-byte header followed by the payload:
//
//	opcode u32 | icid u16 | payload length u16
//
// All integers are little-endian.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// OpCode identifies a message. Replies are always request+1.
type OpCode uint32

const (
	OpCreateContext           OpCode = 1
	OpCreateContextReply      OpCode = 2
	OpDestroyContext          OpCode = 3
	OpDestroyContextReply     OpCode = 4
	OpFilterEvent             OpCode = 5
	OpFilterEventReply        OpCode = 6
	OpReset                   OpCode = 7
	OpResetReply              OpCode = 8
	OpFocusIn                 OpCode = 9
	OpFocusInReply            OpCode = 10
	OpFocusOut                OpCode = 11
	OpFocusOutReply           OpCode = 12
	OpSetSurrounding          OpCode = 13
	OpSetSurroundingReply     OpCode = 14
	OpGetSurrounding          OpCode = 15
	OpGetSurroundingReply     OpCode = 16
	OpSetCursorLocation       OpCode = 17
	OpSetCursorLocationReply  OpCode = 18
	OpSetUsePreedit           OpCode = 19
	OpSetUsePreeditReply      OpCode = 20
	OpGetLoadedEngineIDs      OpCode = 21
	OpGetLoadedEngineIDsReply OpCode = 22
	OpSetEngineByID           OpCode = 23
	OpSetEngineByIDReply      OpCode = 24

	// Server to client notifications.
	OpPreeditStart             OpCode = 25
	OpPreeditStartReply        OpCode = 26
	OpPreeditChanged           OpCode = 27
	OpPreeditChangedReply      OpCode = 28
	OpPreeditEnd               OpCode = 29
	OpPreeditEndReply          OpCode = 30
	OpCommit                   OpCode = 31
	OpCommitReply              OpCode = 32
	OpRetrieveSurrounding      OpCode = 33
	OpRetrieveSurroundingReply OpCode = 34
	OpDeleteSurrounding        OpCode = 35
	OpDeleteSurroundingReply   OpCode = 36
	OpEngineChanged            OpCode = 37
	OpEngineChangedReply       OpCode = 38

	opLast = OpEngineChangedReply
)

var opNames = map[OpCode]string{
	OpCreateContext:            "CreateContext",
	OpCreateContextReply:       "CreateContextReply",
	OpDestroyContext:           "DestroyContext",
	OpDestroyContextReply:      "DestroyContextReply",
	OpFilterEvent:              "FilterEvent",
	OpFilterEventReply:         "FilterEventReply",
	OpReset:                    "Reset",
	OpResetReply:               "ResetReply",
	OpFocusIn:                  "FocusIn",
	OpFocusInReply:             "FocusInReply",
	OpFocusOut:                 "FocusOut",
	OpFocusOutReply:            "FocusOutReply",
	OpSetSurrounding:           "SetSurrounding",
	OpSetSurroundingReply:      "SetSurroundingReply",
	OpGetSurrounding:           "GetSurrounding",
	OpGetSurroundingReply:      "GetSurroundingReply",
	OpSetCursorLocation:        "SetCursorLocation",
	OpSetCursorLocationReply:   "SetCursorLocationReply",
	OpSetUsePreedit:            "SetUsePreedit",
	OpSetUsePreeditReply:       "SetUsePreeditReply",
	OpGetLoadedEngineIDs:       "GetLoadedEngineIds",
	OpGetLoadedEngineIDsReply:  "GetLoadedEngineIdsReply",
	OpSetEngineByID:            "SetEngineById",
	OpSetEngineByIDReply:       "SetEngineByIdReply",
	OpPreeditStart:             "PreeditStart",
	OpPreeditStartReply:        "PreeditStartReply",
	OpPreeditChanged:           "PreeditChanged",
	OpPreeditChangedReply:      "PreeditChangedReply",
	OpPreeditEnd:               "PreeditEnd",
	OpPreeditEndReply:          "PreeditEndReply",
	OpCommit:                   "Commit",
	OpCommitReply:              "CommitReply",
	OpRetrieveSurrounding:      "RetrieveSurrounding",
	OpRetrieveSurroundingReply: "RetrieveSurroundingReply",
	OpDeleteSurrounding:        "DeleteSurrounding",
	OpDeleteSurroundingReply:   "DeleteSurroundingReply",
	OpEngineChanged:            "EngineChanged",
	OpEngineChangedReply:       "EngineChangedReply",
}

func (op OpCode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OpCode(%d)", uint32(op))
}

// Valid reports whether op is a known opcode.
func (op OpCode) Valid() bool {
	return op >= OpCreateContext && op <= opLast
}

// IsReply reports whether op is the reply half of a pair.
func (op OpCode) IsReply() bool {
	return op.Valid() && op%2 == 0
}

// Reply returns the reply opcode for a request.
func (op OpCode) Reply() OpCode {
	if op.IsReply() {
		return op
	}
	return op + 1
}

// HeaderSize is the size of the fixed header in bytes.
const HeaderSize = 8

// MaxPayload is the largest payload the length field can describe.
const MaxPayload = 1<<16 - 1

var (
	// ErrMalformed is returned for a header that was read completely but
	// does not describe a valid message. The payload has been consumed, so
	// the stream stays in frame.
	ErrMalformed = errors.New("malformed message")
	// ErrPayloadTooLarge is returned when encoding a payload over MaxPayload.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Header is the fixed-size message header.
type Header struct {
	Op     OpCode
	ICID   uint16
	Length uint16
}

// Message is a header plus its payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage builds a message; the length is taken from the payload.
func NewMessage(op OpCode, icid uint16, payload []byte) *Message {
	return &Message{
		Header: Header{
			Op:     op,
			ICID:   icid,
			Length: uint16(len(payload)),
		},
		Payload: payload,
	}
}

func (m *Message) String() string {
	return fmt.Sprintf("%s icid=%d len=%d", m.Header.Op, m.Header.ICID, len(m.Payload))
}

func (h *Header) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Op))
	binary.LittleEndian.PutUint16(buf[4:6], h.ICID)
	binary.LittleEndian.PutUint16(buf[6:8], h.Length)
}

// ReadHeader reads a header. An empty stream yields io.EOF and a partial
// header io.ErrUnexpectedEOF; both mean the peer has gone.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &Header{
		Op:     OpCode(binary.LittleEndian.Uint32(buf[0:4])),
		ICID:   binary.LittleEndian.Uint16(buf[4:6]),
		Length: binary.LittleEndian.Uint16(buf[6:8]),
	}, nil
}

// Write writes the whole message in a single call.
func (m *Message) Write(w io.Writer) error {
	if len(m.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(m.Payload))
	}
	m.Header.Length = uint16(len(m.Payload))
	buf := make([]byte, HeaderSize+len(m.Payload))
	m.Header.encode(buf)
	copy(buf[HeaderSize:], m.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads one message. For an unknown opcode it still consumes
// the payload and returns the message together with ErrMalformed.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	if !h.Op.Valid() {
		return m, fmt.Errorf("%w: unknown opcode %d", ErrMalformed, uint32(h.Op))
	}
	return m, nil
}

// IsDisconnect reports whether a read error means the peer hung up.
func IsDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
