package ipc

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpCodePairs(t *testing.T) {
	tests := []struct {
		op    OpCode
		reply OpCode
		name  string
	}{
		{OpCreateContext, OpCreateContextReply, "CreateContext"},
		{OpFilterEvent, OpFilterEventReply, "FilterEvent"},
		{OpGetLoadedEngineIDs, OpGetLoadedEngineIDsReply, "GetLoadedEngineIds"},
		{OpSetEngineByID, OpSetEngineByIDReply, "SetEngineById"},
		{OpCommit, OpCommitReply, "Commit"},
		{OpEngineChanged, OpEngineChangedReply, "EngineChanged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.op.IsReply())
			assert.True(t, tt.reply.IsReply())
			assert.Equal(t, tt.reply, tt.op.Reply())
			assert.Equal(t, tt.reply, tt.reply.Reply())
			assert.Equal(t, tt.name, tt.op.String())
		})
	}

	assert.False(t, OpCode(0).Valid())
	assert.False(t, OpCode(99).Valid())
	assert.Equal(t, "OpCode(99)", OpCode(99).String())
}

func TestHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewMessage(OpFilterEvent, 0x0102, []byte{9, 9, 9}).Write(&buf))

	raw := buf.Bytes()
	require.Len(t, raw, HeaderSize+3)
	assert.Equal(t, uint32(OpFilterEvent), binary.LittleEndian.Uint32(raw[0:4]))
	assert.Equal(t, []byte{0x02, 0x01}, raw[4:6])
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(raw[6:8]))
	assert.Equal(t, []byte{9, 9, 9}, raw[8:])
}

func TestLoadedEngineIDsRoundTrip(t *testing.T) {
	ids := []string{"hangul", "anthy", "system-keyboard"}

	var buf bytes.Buffer
	require.NoError(t, NewMessage(OpGetLoadedEngineIDsReply, 0, JoinStrings(ids)).Write(&buf))

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpGetLoadedEngineIDsReply, msg.Header.Op)
	assert.Equal(t, "hangul\x1eanthy\x1esystem-keyboard\x00", string(msg.Payload))
	assert.Equal(t, ids, SplitStrings(msg.Payload))
}

func TestReadMessageUnknownOpcodeKeepsFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewMessage(OpCode(500), 3, []byte("junk")).Write(&buf))
	require.NoError(t, NewMessage(OpReset, 3, nil).Write(&buf))

	msg, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrMalformed)
	require.NotNil(t, msg)
	assert.Equal(t, []byte("junk"), msg.Payload)

	msg, err = ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpReset, msg.Header.Op)
	assert.Equal(t, uint16(3), msg.Header.ICID)
}

func TestReadMessageDisconnect(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, IsDisconnect(err))

	_, err = ReadMessage(bytes.NewReader([]byte{1, 0, 0}))
	assert.True(t, IsDisconnect(err))

	var buf bytes.Buffer
	require.NoError(t, NewMessage(OpCommit, 1, []byte("abcdef")).Write(&buf))
	truncated := buf.Bytes()[:HeaderSize+2]
	_, err = ReadMessage(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, IsDisconnect(err))
}

func TestWriteRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := NewMessage(OpCommit, 1, make([]byte, MaxPayload+1)).Write(&buf)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Zero(t, buf.Len())
}
