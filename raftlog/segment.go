package raftlog

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"

	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/internal/fileutil"
)

const (
	segmentPrefix  = "segment."
	segmentVersion = 1

	// {version int32, prevIndex int64, prevTerm int64, checksum uint64}
	segmentHeaderSize = 28

	// {term int64, flags byte, length uint32}
	entryHeaderSize = 13

	// xxhash64 of the entry header and payload.
	entryChecksumSize = 8

	// Set in the entry flags when the payload is snappy compressed.
	flagSnappy byte = 1 << 0

	maxEntrySize = 256 << 20
)

// segment is a single file of a SegmentedLog. It holds the entries after prevIndex
// up to and including lastIndex.
type segment struct {
	number int64
	path   string
	file   *os.File

	prevIndex int64
	prevTerm  int64
	lastIndex int64
	lastTerm  int64

	// The end of the valid data in the file.
	size int64
}

func segmentPath(dir string, number int64) string {
	return filepath.Join(dir, segmentPrefix+strconv.FormatInt(number, 10))
}

// parseSegmentNumber returns the number of a segment file name.
func parseSegmentNumber(name string) (int64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) {
		return 0, false
	}
	number, err := strconv.ParseInt(strings.TrimPrefix(name, segmentPrefix), 10, 64)
	if err != nil || number < 0 {
		return 0, false
	}
	return number, true
}

// createSegment creates an empty segment that continues the log after prevIndex.
// The segment is durable when the call returns.
func createSegment(dir string, number, prevIndex, prevTerm int64) (*segment, error) {
	path := segmentPath(dir, number)

	// The header is written to a temporary file first so that a crash never
	// leaves a segment without a valid header behind.
	tmpPath := filepath.Join(dir, fileutil.TmpPrefix+segmentPrefix+strconv.FormatInt(number, 10))
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.WrapError(err, errFailedSegmentCreate, path)
	}
	if _, err := tmp.Write(encodeSegmentHeader(prevIndex, prevTerm)); err != nil {
		tmp.Close()
		return nil, errors.WrapError(err, errFailedSegmentCreate, path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, errors.WrapError(err, errFailedSegmentCreate, path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		tmp.Close()
		return nil, errors.WrapError(err, errFailedSegmentCreate, path)
	}
	if err := fileutil.SyncDir(dir); err != nil {
		tmp.Close()
		return nil, errors.WrapError(err, errFailedSegmentCreate, path)
	}

	return &segment{
		number:    number,
		path:      path,
		file:      tmp,
		prevIndex: prevIndex,
		prevTerm:  prevTerm,
		lastIndex: prevIndex,
		lastTerm:  prevTerm,
		size:      segmentHeaderSize,
	}, nil
}

// openSegment opens an existing segment and reads its header. The entries are
// not scanned.
func openSegment(dir string, number int64) (*segment, error) {
	path := segmentPath(dir, number)
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.WrapError(err, errFailedSegmentOpen, path)
	}

	var header [segmentHeaderSize]byte
	if _, err := file.ReadAt(header[:], 0); err != nil {
		file.Close()
		if err == io.EOF {
			return nil, errors.WrapError(ErrCorruptLog, errInvalidSegmentHeader, path)
		}
		return nil, errors.WrapError(err, errFailedSegmentOpen, path)
	}
	prevIndex, prevTerm, ok := decodeSegmentHeader(header[:])
	if !ok {
		file.Close()
		return nil, errors.WrapError(ErrCorruptLog, errInvalidSegmentHeader, path)
	}

	return &segment{
		number:    number,
		path:      path,
		file:      file,
		prevIndex: prevIndex,
		prevTerm:  prevTerm,
		lastIndex: prevIndex,
		lastTerm:  prevTerm,
		size:      segmentHeaderSize,
	}, nil
}

func encodeSegmentHeader(prevIndex, prevTerm int64) []byte {
	buf := make([]byte, 0, segmentHeaderSize)
	buf = binary.BigEndian.AppendUint32(buf, segmentVersion)
	buf = binary.BigEndian.AppendUint64(buf, uint64(prevIndex))
	buf = binary.BigEndian.AppendUint64(buf, uint64(prevTerm))
	return binary.BigEndian.AppendUint64(buf, xxhash.Sum64(buf))
}

func decodeSegmentHeader(header []byte) (prevIndex, prevTerm int64, ok bool) {
	if binary.BigEndian.Uint32(header[0:4]) != segmentVersion {
		return 0, 0, false
	}
	if xxhash.Sum64(header[:20]) != binary.BigEndian.Uint64(header[20:28]) {
		return 0, 0, false
	}
	return int64(binary.BigEndian.Uint64(header[4:12])), int64(binary.BigEndian.Uint64(header[12:20])), true
}

// scan reads every intact entry of the segment, reporting each to visit, and
// returns whether the file holds data after the last intact entry.
func (s *segment) scan(visit func(index int64, position LogPosition)) (torn bool, err error) {
	info, err := s.file.Stat()
	if err != nil {
		return false, errors.WrapError(err, errFailedSegmentRead, s.path)
	}
	limit := info.Size()

	offset := int64(segmentHeaderSize)
	for {
		entry, next, ok, err := readEntryAt(s.file, offset, limit)
		if err != nil {
			return false, errors.WrapError(err, errFailedSegmentRead, s.path)
		}
		if !ok {
			break
		}
		s.lastIndex++
		s.lastTerm = entry.Term
		visit(s.lastIndex, LogPosition{Term: entry.Term, Segment: s.number, Offset: offset})
		offset = next
	}
	s.size = offset

	return offset < limit, nil
}

// locate finds the position of the entry at index by scanning the segment.
func (s *segment) locate(index int64) (LogPosition, error) {
	offset := int64(segmentHeaderSize)
	for i := s.prevIndex + 1; i <= s.lastIndex; i++ {
		entry, next, ok, err := readEntryAt(s.file, offset, s.size)
		if err != nil {
			return LogPosition{}, errors.WrapError(err, errFailedSegmentRead, s.path)
		}
		if !ok {
			return LogPosition{}, errors.WrapError(ErrCorruptLog, errMissingEntry, index, s.path)
		}
		if i == index {
			return LogPosition{Term: entry.Term, Segment: s.number, Offset: offset}, nil
		}
		offset = next
	}
	return LogPosition{}, errors.WrapError(ErrCorruptLog, errMissingEntry, index, s.path)
}

// truncate removes the data at and after offset.
func (s *segment) truncate(offset int64) error {
	if err := s.file.Truncate(offset); err != nil {
		return errors.WrapError(err, errFailedSegmentWrite, s.path)
	}
	if err := s.file.Sync(); err != nil {
		return errors.WrapError(err, errFailedSegmentWrite, s.path)
	}
	s.size = offset
	return nil
}

func (s *segment) entries() int64 {
	return s.lastIndex - s.prevIndex
}

func (s *segment) contains(index int64) bool {
	return index > s.prevIndex && index <= s.lastIndex
}

func (s *segment) close() error {
	if err := s.file.Close(); err != nil {
		return errors.WrapError(err, errFailedSegmentClose, s.path)
	}
	return nil
}

// remove closes and deletes the segment.
func (s *segment) remove() error {
	s.file.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.WrapError(err, errFailedSegmentRemove, s.path)
	}
	return nil
}

// appendEntryFrame appends the frame of entry to dst.
func appendEntryFrame(dst []byte, entry Entry, compressionThreshold int) []byte {
	payload := entry.Content
	var flags byte
	if len(payload) > compressionThreshold {
		if compressed := snappy.Encode(nil, payload); len(compressed) < len(payload) {
			payload = compressed
			flags |= flagSnappy
		}
	}

	start := len(dst)
	dst = binary.BigEndian.AppendUint64(dst, uint64(entry.Term))
	dst = append(dst, flags)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	return binary.BigEndian.AppendUint64(dst, xxhash.Sum64(dst[start:]))
}

// readEntryAt reads the entry stored at offset. ok is false when no intact entry
// ends at or before limit.
func readEntryAt(r io.ReaderAt, offset, limit int64) (entry Entry, next int64, ok bool, err error) {
	if offset+entryHeaderSize+entryChecksumSize > limit {
		return entry, offset, false, nil
	}

	var header [entryHeaderSize]byte
	if _, err := r.ReadAt(header[:], offset); err != nil {
		return entry, offset, false, endOfData(err)
	}
	term := int64(binary.BigEndian.Uint64(header[0:8]))
	flags := header[8]
	length := int64(binary.BigEndian.Uint32(header[9:13]))
	if length > maxEntrySize {
		return entry, offset, false, nil
	}

	next = offset + entryHeaderSize + length + entryChecksumSize
	if next > limit {
		return entry, offset, false, nil
	}

	body := make([]byte, length+entryChecksumSize)
	if _, err := r.ReadAt(body, offset+entryHeaderSize); err != nil {
		return entry, offset, false, endOfData(err)
	}

	digest := xxhash.New()
	digest.Write(header[:])
	digest.Write(body[:length])
	if digest.Sum64() != binary.BigEndian.Uint64(body[length:]) {
		return entry, offset, false, nil
	}

	content := body[:length:length]
	if flags&flagSnappy != 0 {
		if content, err = snappy.Decode(nil, content); err != nil {
			return entry, offset, false, nil
		}
	}

	return Entry{Term: term, Content: content}, next, true, nil
}

func endOfData(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil
	}
	return err
}
