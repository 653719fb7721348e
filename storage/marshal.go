package storage

import (
	"bytes"
)

// StateMarshal converts a state of type T to and from its stored form.
type StateMarshal[T any] interface {
	// StartState returns the state used when nothing has been stored yet.
	StartState() T

	// Ordinal returns the log index that a state was last updated at. Stored
	// states are ordered by their ordinal during recovery.
	Ordinal(state T) int64

	// Marshal writes state to the encoder.
	Marshal(state T, enc *Encoder) error

	// Unmarshal reads a state written by Marshal. Running out of data yields
	// ErrEndOfStream.
	Unmarshal(dec *Decoder) (T, error)
}

// marshalPayload encodes state into a standalone payload.
func marshalPayload[T any](marshal StateMarshal[T], state T) ([]byte, error) {
	enc := NewEncoder()
	if err := marshal.Marshal(state, enc); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

// unmarshalPayload decodes a payload produced by marshalPayload. ok is false for
// payloads the marshal cannot read, those are never interpreted as valid data.
func unmarshalPayload[T any](marshal StateMarshal[T], payload []byte) (state T, ok bool) {
	state, err := marshal.Unmarshal(NewDecoder(bytes.NewReader(payload)))
	if err != nil {
		var zero T
		return zero, false
	}
	return state, true
}

// Int64Marshal stores a single log index, the value is its own ordinal.
type Int64Marshal struct {
	// Start is the value used when nothing has been stored.
	Start int64
}

func (m Int64Marshal) StartState() int64 {
	return m.Start
}

func (Int64Marshal) Ordinal(state int64) int64 {
	return state
}

func (Int64Marshal) Marshal(state int64, enc *Encoder) error {
	enc.PutInt64(state)
	return nil
}

func (Int64Marshal) Unmarshal(dec *Decoder) (int64, error) {
	return dec.Int64()
}
