package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntegerBounds(t *testing.T) {
	tests := []struct {
		name     string
		max, min any
		wantMax  any
		wantMin  any
	}{
		{"int8", MaxOf[int8](), MinOf[int8](), int8(math.MaxInt8), int8(math.MinInt8)},
		{"uint8", MaxOf[uint8](), MinOf[uint8](), uint8(math.MaxUint8), uint8(0)},
		{"int16", MaxOf[int16](), MinOf[int16](), int16(math.MaxInt16), int16(math.MinInt16)},
		{"uint16", MaxOf[uint16](), MinOf[uint16](), uint16(math.MaxUint16), uint16(0)},
		{"int32", MaxOf[int32](), MinOf[int32](), int32(math.MaxInt32), int32(math.MinInt32)},
		{"uint32", MaxOf[uint32](), MinOf[uint32](), uint32(math.MaxUint32), uint32(0)},
		{"int64", MaxOf[int64](), MinOf[int64](), int64(math.MaxInt64), int64(math.MinInt64)},
		{"uint64", MaxOf[uint64](), MinOf[uint64](), uint64(math.MaxUint64), uint64(0)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wantMax, tt.max, tt.name)
		assert.Equal(t, tt.wantMin, tt.min, tt.name)
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-0.5, 0, 1))
	assert.Equal(t, 1.0, Clamp(1.5, 0, 1))
	assert.Equal(t, 0.25, Clamp(0.25, 0, 1))
	assert.Equal(t, int64(10), Clamp[int64](10, 0, 100))
}

func TestSaturatingCast(t *testing.T) {
	assert.Equal(t, uint32(math.MaxUint32), SaturatingCast[uint32](math.MaxInt64))
	assert.Equal(t, uint32(0), SaturatingCast[uint32](-5))
	assert.Equal(t, uint32(300), SaturatingCast[uint32](300))
	assert.Equal(t, int8(math.MinInt8), SaturatingCast[int8](-1000))
	assert.Equal(t, int64(math.MaxInt64), SaturatingCast[int64](math.MaxInt64))
}
