package rtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqComparison(t *testing.T) {
	tests := []struct {
		lhs, rhs uint16
		mask     uint16
		higher   bool
		lower    bool
	}{
		{1, 0, 0xFFFF, true, false},
		{0, 1, 0xFFFF, false, true},
		{5, 5, 0xFFFF, false, false},
		{0, 65000, 0xFFFF, true, false},
		{65000, 0, 0xFFFF, false, true},
		{32767, 0, 0xFFFF, true, false},
		{32768, 0, 0xFFFF, false, true},
		{0, 32500, 1<<15 - 1, true, false},
		{100, 200, 1<<15 - 1, false, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.higher, IsSeqHigherThan(tt.lhs, tt.rhs, tt.mask), "%d > %d", tt.lhs, tt.rhs)
		assert.Equal(t, tt.lower, IsSeqLowerThan(tt.lhs, tt.rhs, tt.mask), "%d < %d", tt.lhs, tt.rhs)
	}

	assert.True(t, IsSeqHigherThan[uint32](10, 0xFFFFFFF0))
	assert.True(t, IsSeqLowerThan[uint32](0xFFFFF000, 1904))
}

func TestSeqManager(t *testing.T) {
	type step struct {
		input  uint16
		drop   bool
		output uint16
	}

	tests := []struct {
		name  string
		bits  []int
		steps []step
	}{
		{
			name:  "no drops",
			steps: []step{{input: 10, output: 10}, {input: 11, output: 11}, {input: 12, output: 12}},
		},
		{
			name: "dropped run is skipped",
			steps: []step{
				{input: 1, output: 1},
				{input: 2, drop: true},
				{input: 3, drop: true},
				{input: 4, output: 2},
				{input: 5, drop: true},
				{input: 6, output: 3},
			},
		},
		{
			name:  "drop before anything is sent",
			steps: []step{{input: 7, drop: true}, {input: 8, output: 7}},
		},
		{
			name: "wraps",
			steps: []step{
				{input: 65534, output: 65534},
				{input: 65535, drop: true},
				{input: 0, output: 65535},
				{input: 1, output: 0},
			},
		},
		{
			name: "fifteen bits",
			bits: []int{15},
			steps: []step{
				{input: 1<<15 - 1, output: 1<<15 - 1},
				{input: 0, drop: true},
				{input: 1, output: 0},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSeqManager[uint16](tt.bits...)
			for _, st := range tt.steps {
				if st.drop {
					s.Drop(st.input)
					continue
				}
				out, ok := s.Input(st.input)
				require.True(t, ok, "input %d", st.input)
				require.Equal(t, st.output, out, "input %d", st.input)
				require.Equal(t, st.output, s.GetMaxOutput())
			}
			last := tt.steps[len(tt.steps)-1].input
			require.Equal(t, last, s.GetMaxInput())
		})
	}
}

func TestSeqManagerRejectsOldInput(t *testing.T) {
	s := NewSeqManager[uint16]()

	_, ok := s.Input(100)
	require.True(t, ok)

	_, ok = s.Input(100)
	assert.False(t, ok)
	_, ok = s.Input(99)
	assert.False(t, ok)

	// Old drops do not move later outputs.
	s.Drop(50)
	out, ok := s.Input(101)
	require.True(t, ok)
	assert.Equal(t, uint16(101), out)
}
