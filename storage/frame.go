package storage

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
)

const (
	// frameHeaderSize is the size of the length and checksum preceding a payload.
	frameHeaderSize = 12

	// maxFrameSize bounds the payload length that is trusted during a scan, a
	// larger value can only come from a torn or corrupt header.
	maxFrameSize = 64 << 20
)

// appendFrame appends payload to dst framed as {length uint32, xxhash64 uint64, payload}.
func appendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	dst = binary.BigEndian.AppendUint64(dst, xxhash.Sum64(payload))
	return append(dst, payload...)
}

// readFrame reads the next frame from r. It returns ok == false when r holds no
// further complete and intact frame; err is only set for read failures other
// than running out of data.
func readFrame(r io.Reader) (payload []byte, ok bool, err error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, false, endOfData(err)
	}

	length := binary.BigEndian.Uint32(header[:4])
	checksum := binary.BigEndian.Uint64(header[4:])
	if length > maxFrameSize {
		return nil, false, nil
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, false, endOfData(err)
	}
	if xxhash.Sum64(payload) != checksum {
		return nil, false, nil
	}

	return payload, true, nil
}

func endOfData(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil
	}
	return err
}
