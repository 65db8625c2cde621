package xim

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessagePads(t *testing.T) {
	msg := encodeMessage(binary.LittleEndian, opCommit, []byte{1, 2, 3, 4, 5})
	assert.Equal(t, []byte{opCommit, 0, 2, 0, 1, 2, 3, 4, 5, 0, 0, 0}, msg)

	msg = encodeMessage(binary.BigEndian, opSyncReply, nil)
	assert.Equal(t, []byte{opSyncReply, 0, 0, 0}, msg)
}

func TestParseMessage(t *testing.T) {
	// trailing bytes from a padded client message chunk are ignored
	data := []byte{opSync, 0, 0, 1, 7, 0, 9, 0, 0, 0, 0, 0}
	msg, err := parseMessage(binary.BigEndian, data)
	require.NoError(t, err)
	assert.Equal(t, uint8(opSync), msg.major)
	assert.Equal(t, []byte{7, 0, 9, 0}, msg.body)

	_, err = parseMessage(binary.LittleEndian, []byte{opSync, 0})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = parseMessage(binary.LittleEndian, []byte{opSync, 0, 2, 0, 1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestByteOrder(t *testing.T) {
	order, err := byteOrder('B')
	require.NoError(t, err)
	assert.Equal(t, binary.BigEndian, order)

	order, err = byteOrder('l')
	require.NoError(t, err)
	assert.Equal(t, binary.LittleEndian, order)

	_, err = byteOrder('x')
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReaderStopsAtFirstShortRead(t *testing.T) {
	r := newReader(binary.LittleEndian, []byte{2, 'h', 'i', 0x34, 0x12})
	assert.Equal(t, "hi", r.str())
	assert.Equal(t, uint16(0x1234), r.u16())
	assert.Zero(t, r.u32())
	assert.ErrorIs(t, r.err, ErrMalformed)
	assert.Zero(t, r.u8())
}

func TestAttrValuesRoundTripWithPadding(t *testing.T) {
	in := []attrValue{
		{id: icInputStyle, value: card32(binary.LittleEndian, PreeditCallbacks)},
		{id: icSpotLocation, value: []byte{1, 0, 2, 0}},
		{id: icFontSet, value: []byte("fixed")},
	}
	buf := encodeAttrValues(binary.LittleEndian, in)
	assert.Zero(t, len(buf)%4)

	out, err := parseAttrValues(binary.LittleEndian, buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeAttrListLayout(t *testing.T) {
	buf := encodeAttrList(binary.LittleEndian, imAttrs)
	// id, type, name length, "queryInputStyle", pad to 4
	assert.Equal(t, 6+len("queryInputStyle")+pad(2+len("queryInputStyle")), len(buf))
	assert.Equal(t, uint16(typeXIMStyles), binary.LittleEndian.Uint16(buf[2:4]))
}

func TestParseKeyEvent(t *testing.T) {
	raw := make([]byte, xEventSize)
	raw[0] = xKeyRelease | 0x80
	raw[1] = 38
	binary.BigEndian.PutUint16(raw[28:30], 0x0005)

	ev, err := parseKeyEvent(binary.BigEndian, raw)
	require.NoError(t, err)
	assert.Equal(t, keyEvent{code: xKeyRelease, keycode: 38, state: 5}, ev)

	raw[0] = 4
	_, err = parseKeyEvent(binary.BigEndian, raw)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = parseKeyEvent(binary.BigEndian, raw[:10])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeCompoundText(t *testing.T) {
	assert.Equal(t, []byte("hello"), EncodeCompoundText("hello"))
	assert.Equal(t, []byte("\x1b%G한\x1b%@"), EncodeCompoundText("한"))
	assert.Equal(t, []byte("\x1b%G\x1b\x1b%@"), EncodeCompoundText("\x1b"))
}
