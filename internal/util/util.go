package util

import (
	"golang.org/x/exp/constraints"
)

// Min returns the smaller of the two provided values.
// It uses generic type T, which must satisfy the ordered constraints (e.g., integers, floats).
func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of the two provided values.
// It uses generic type T, which must satisfy the ordered constraints (e.g., integers, floats).
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// MinOf returns the smallest of the provided values. It panics if no values are provided.
func MinOf[T constraints.Ordered](first T, rest ...T) T {
	smallest := first
	for _, value := range rest {
		smallest = Min(smallest, value)
	}
	return smallest
}
