package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMinMax(t *testing.T) {
	require.Equal(t, int64(-1), Min[int64](-1, 3))
	require.Equal(t, int64(3), Max[int64](-1, 3))
	require.Equal(t, "a", Min("b", "a"))
}

func TestMinOf(t *testing.T) {
	require.Equal(t, int64(2), MinOf[int64](7))
	require.Equal(t, int64(-1), MinOf[int64](4, 9, -1, 2))
}
