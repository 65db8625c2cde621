package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimf/internal/engine"
	"nimf/internal/keysym"
)

func TestStringPayloads(t *testing.T) {
	assert.Equal(t, []byte("abc\x00"), EncodeString("abc"))
	assert.Equal(t, "abc", DecodeString([]byte("abc\x00trailing")))
	assert.Equal(t, "abc", DecodeString([]byte("abc")))
	assert.Nil(t, SplitStrings(JoinStrings(nil)))
	assert.Equal(t, []string{"only"}, SplitStrings(JoinStrings([]string{"only"})))
}

func TestKindPayload(t *testing.T) {
	k, err := DecodeKind(nil)
	require.NoError(t, err)
	assert.Equal(t, ContextRegular, k)

	k, err = DecodeKind(EncodeKind(ContextAgent))
	require.NoError(t, err)
	assert.Equal(t, ContextAgent, k)

	_, err = DecodeKind([]byte{7, 0, 0, 0})
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeKind([]byte{1})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEventPayload(t *testing.T) {
	ev := &keysym.Event{
		Type:            keysym.KeyRelease,
		State:           keysym.ShiftMask | keysym.ControlMask,
		Keyval:          keysym.Hangul,
		HardwareKeycode: 130,
	}
	got, err := DecodeEvent(EncodeEvent(ev))
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = DecodeEvent(make([]byte, 8))
	assert.ErrorIs(t, err, ErrMalformed)

	bad := EncodeEvent(ev)
	bad[0] = 5
	_, err = DecodeEvent(bad)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRectPayload(t *testing.T) {
	r := engine.Rect{X: -10, Y: 200, Width: 2, Height: 18}
	got, err := DecodeRect(EncodeRect(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = DecodeRect(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSurroundingPayloads(t *testing.T) {
	text, cursor, ok, err := DecodeSurrounding(EncodeSurrounding("한글 text", 3, true))
	require.NoError(t, err)
	assert.Equal(t, "한글 text", text)
	assert.Equal(t, 3, cursor)
	assert.True(t, ok)

	text, cursor, ok, err = DecodeSurrounding(EncodeSurrounding("", 0, false))
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Zero(t, cursor)
	assert.False(t, ok)

	text, cursor, err = DecodeSetSurrounding(EncodeSetSurrounding("hello", 2))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 2, cursor)

	_, _, err = DecodeSetSurrounding([]byte{0, 1})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSetSurroundingLengthTruncates(t *testing.T) {
	p := EncodeSetSurrounding("hello", 1)
	putInt32(p[6:10], 3)

	text, cursor, err := DecodeSetSurrounding(p)
	require.NoError(t, err)
	assert.Equal(t, "hel", text)
	assert.Equal(t, 1, cursor)
}

func TestNotificationPayloads(t *testing.T) {
	text, cursor, err := DecodePreeditChanged(EncodePreeditChanged("かな", 2))
	require.NoError(t, err)
	assert.Equal(t, "かな", text)
	assert.Equal(t, 2, cursor)

	offset, n, err := DecodeDeleteSurrounding(EncodeDeleteSurrounding(-2, 2))
	require.NoError(t, err)
	assert.Equal(t, -2, offset)
	assert.Equal(t, 2, n)

	b, err := DecodeBool(EncodeBool(true))
	require.NoError(t, err)
	assert.True(t, b)
	_, err = DecodeBool([]byte{1})
	assert.ErrorIs(t, err, ErrMalformed)
}
