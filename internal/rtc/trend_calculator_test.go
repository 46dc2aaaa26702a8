package rtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrendCalculator(t *testing.T) {
	tests := []struct {
		name    string
		factor  float64
		samples [][2]uint64 // value, nowMs
		want    uint32
	}{
		{"first sample", DefaultDecreaseFactor, [][2]uint64{{800, 10}}, 800},
		{"increase is immediate", DefaultDecreaseFactor, [][2]uint64{{100, 0}, {900, 5}}, 900},
		{"decay from peak", 0.5, [][2]uint64{{1000, 0}, {0, 1000}}, 500},
		{"decay is measured from the peak", 0.5, [][2]uint64{{1000, 0}, {0, 500}, {0, 1000}}, 500},
		{"decay stops at the sample", 0.5, [][2]uint64{{1000, 0}, {700, 1000}}, 700},
		{"fully decayed", 0.5, [][2]uint64{{1000, 0}, {0, 3000}}, 0},
		{"clock going back does not decay", 0.5, [][2]uint64{{1000, 500}, {0, 100}}, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := NewTrendCalculator(WithDecreaseFactor(tt.factor))
			for _, s := range tt.samples {
				tc.Update(uint32(s[0]), s[1])
			}
			require.Equal(t, tt.want, tc.GetValue())
		})
	}
}

func TestTrendCalculatorForceUpdateAndReset(t *testing.T) {
	tc := NewTrendCalculator(WithDecreaseFactor(0.5))
	tc.Update(2000, 0)
	tc.ForceUpdate(100, 1000)
	assert.Equal(t, uint32(100), tc.GetValue())

	// The forced value is the peak decay starts from.
	tc.Update(0, 2000)
	assert.Equal(t, uint32(50), tc.GetValue())

	tc.Reset()
	assert.Zero(t, tc.GetValue())
	tc.Update(300, 5000)
	assert.Equal(t, uint32(300), tc.GetValue())
	tc.Update(0, 6000)
	assert.Equal(t, uint32(150), tc.GetValue(), "reset keeps the decrease factor")
}
