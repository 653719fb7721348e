package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncoderDecoder(t *testing.T) {
	enc := NewEncoder()
	enc.PutInt64(-42)
	enc.PutInt32(7)
	enc.PutBool(true)
	enc.PutID([16]byte{1, 2, 3})
	enc.PutBytes([]byte("payload"))

	dec := NewDecoder(bytes.NewReader(enc.Bytes()))

	i64, err := dec.Int64()
	require.NoError(t, err)
	require.Equal(t, int64(-42), i64)

	i32, err := dec.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(7), i32)

	b, err := dec.Bool()
	require.NoError(t, err)
	require.True(t, b)

	id, err := dec.ID()
	require.NoError(t, err)
	require.Equal(t, [16]byte{1, 2, 3}, id)

	data, err := dec.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	_, err = dec.Byte()
	require.ErrorIs(t, err, ErrEndOfStream)
}

func TestDecoderShortRead(t *testing.T) {
	enc := NewEncoder()
	enc.PutBytes([]byte("truncated"))
	data := enc.Bytes()

	dec := NewDecoder(bytes.NewReader(data[:len(data)-2]))
	_, err := dec.Bytes()
	require.ErrorIs(t, err, ErrEndOfStream)
}

func TestReadFrame(t *testing.T) {
	var buf []byte
	buf = appendFrame(buf, []byte("first"))
	buf = appendFrame(buf, []byte("second"))

	r := bytes.NewReader(buf)
	payload, ok, err := readFrame(r)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("first"), payload)

	payload, ok, err = readFrame(r)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("second"), payload)

	_, ok, err = readFrame(r)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadFrameCorrupt(t *testing.T) {
	buf := appendFrame(nil, []byte("payload"))
	buf[frameHeaderSize] ^= 0x01

	_, ok, err := readFrame(bytes.NewReader(buf))
	require.NoError(t, err)
	require.False(t, ok)

	// A torn header is the end of the data, not an error.
	_, ok, err = readFrame(bytes.NewReader(buf[:frameHeaderSize-1]))
	require.NoError(t, err)
	require.False(t, ok)
}
