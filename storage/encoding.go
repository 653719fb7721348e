package storage

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrEndOfStream is returned by a Decoder that ran out of data. Marshals treat it
// as "no more valid entries" rather than as corruption.
var ErrEndOfStream = errors.New("end of stream")

// Encoder writes fixed-width big-endian primitives. State marshals use it to
// build the payload of a stored entry.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) PutInt64(v int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
}

func (e *Encoder) PutInt32(v int32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v))
}

func (e *Encoder) PutByte(v byte) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) PutBool(v bool) {
	if v {
		e.PutByte(1)
		return
	}
	e.PutByte(0)
}

// PutID writes a 16 byte identifier such as a member id or a session id.
func (e *Encoder) PutID(id [16]byte) {
	e.buf = append(e.buf, id[:]...)
}

// PutBytes writes a length-prefixed byte slice.
func (e *Encoder) PutBytes(b []byte) {
	e.PutInt32(int32(len(b)))
	e.buf = append(e.buf, b...)
}

// Bytes returns the encoded data.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Reset discards the encoded data, retaining the buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Decoder reads values written by an Encoder.
type Decoder struct {
	r       io.Reader
	scratch [16]byte
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

func (d *Decoder) read(n int) ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.scratch[:n]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrEndOfStream
		}
		return nil, err
	}
	return d.scratch[:n], nil
}

func (d *Decoder) Int64() (int64, error) {
	b, err := d.read(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (d *Decoder) Int32() (int32, error) {
	b, err := d.read(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (d *Decoder) Byte() (byte, error) {
	b, err := d.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) Bool() (bool, error) {
	b, err := d.Byte()
	return b != 0, err
}

func (d *Decoder) ID() ([16]byte, error) {
	var id [16]byte
	b, err := d.read(16)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Int32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrEndOfStream
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrEndOfStream
		}
		return nil, err
	}
	return b, nil
}
