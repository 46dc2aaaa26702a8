package rtc

import (
	"github.com/jiyeyuran/videoencoder/internal/util"
	"golang.org/x/exp/constraints"
)

func seqMask[T constraints.Unsigned](mask []T) T {
	if len(mask) > 0 {
		return mask[0]
	}
	return util.MaxOf[T]()
}

// IsSeqHigherThan compares wrapping sequence numbers or timestamps: lhs is
// higher when it is less than half the space ahead of rhs. mask limits the
// space to fewer bits than T has.
func IsSeqHigherThan[T constraints.Unsigned](lhs, rhs T, mask ...T) bool {
	m := seqMask(mask)
	return lhs != rhs && (lhs-rhs)&m <= m/2
}

func IsSeqLowerThan[T constraints.Unsigned](lhs, rhs T, mask ...T) bool {
	return lhs != rhs && !IsSeqHigherThan(lhs, rhs, mask...)
}

// SeqManager rewrites an increasing outgoing sequence so that inputs dropped
// before sending leave no gap in the output.
type SeqManager[T constraints.Unsigned] struct {
	mask    T
	started bool
	newest  T
	skipped T
	lastOut T
}

// NewSeqManager uses all bits of T unless bits says otherwise.
func NewSeqManager[T constraints.Unsigned](bits ...int) *SeqManager[T] {
	mask := util.MaxOf[T]()
	if len(bits) > 0 {
		mask = 1<<bits[0] - 1
	}
	return &SeqManager[T]{mask: mask}
}

// Drop records that input will never be sent. Inputs not newer than the
// newest one seen are ignored.
func (s *SeqManager[T]) Drop(input T) {
	if s.started && !IsSeqHigherThan(input, s.newest, s.mask) {
		return
	}
	s.started = true
	s.newest = input
	s.skipped = (s.skipped + 1) & s.mask
}

// Input maps input to its output number. It fails for inputs not newer than
// the newest one seen.
func (s *SeqManager[T]) Input(input T) (T, bool) {
	if s.started && !IsSeqHigherThan(input, s.newest, s.mask) {
		return 0, false
	}
	s.started = true
	s.newest = input
	s.lastOut = (input - s.skipped) & s.mask
	return s.lastOut, true
}

// GetMaxInput is the newest input seen, sent or dropped.
func (s *SeqManager[T]) GetMaxInput() T {
	return s.newest
}

func (s *SeqManager[T]) GetMaxOutput() T {
	return s.lastOut
}
