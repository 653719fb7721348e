package errors

import (
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapErrorUnwrap(t *testing.T) {
	err := WrapError(io.ErrUnexpectedEOF, "failed to read frame at offset %d", 42)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, "failed to read frame at offset 42: unexpected EOF", err.Error())
}

func TestWrapErrorNilCause(t *testing.T) {
	err := WrapError(nil, "log is closed: path = %s", "/tmp/log")
	require.Nil(t, err.Unwrap())
	require.Equal(t, "log is closed: path = /tmp/log", err.Error())

	var target *Error
	require.True(t, stderrors.As(error(err), &target))
}
