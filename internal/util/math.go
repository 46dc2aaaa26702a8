package util

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// MaxOf returns maximum value of type T.
func MaxOf[T constraints.Integer]() T {
	if ^T(0) > 0 {
		return ^T(0)
	}
	var v T
	bits := 8 * unsafe.Sizeof(v)
	return 1<<(bits-1) - 1
}

// MinOf returns minimum value of type T.
func MinOf[T constraints.Integer]() T {
	if ^T(0) > 0 {
		return 0
	}
	var v T
	bits := 8 * unsafe.Sizeof(v)
	return (^v) << (bits - 1)
}

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SaturatingCast converts v to T, saturating at the bounds of T.
func SaturatingCast[T constraints.Integer](v int64) T {
	maxT, minT := MaxOf[T](), MinOf[T]()
	if uint64(maxT) <= uint64(MaxOf[int64]()) && v > int64(maxT) {
		return maxT
	}
	if v < int64(minT) {
		return minT
	}
	return T(v)
}
