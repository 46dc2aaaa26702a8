package rtc

const DefaultDecreaseFactor float64 = 0.05

func WithDecreaseFactor(decreaseFactor float64) func(*TrendCalculator) {
	return func(tc *TrendCalculator) {
		tc.decreaseFactor = decreaseFactor
	}
}

// TrendCalculator follows increases immediately. Lower samples let the value
// decay from the last peak by decreaseFactor of the peak per second, never
// below the sample itself.
type TrendCalculator struct {
	value          uint32
	peak           uint32
	peakAtMs       uint64
	decreaseFactor float64
}

func NewTrendCalculator(options ...func(*TrendCalculator)) *TrendCalculator {
	tc := &TrendCalculator{
		decreaseFactor: DefaultDecreaseFactor,
	}
	for _, option := range options {
		option(tc)
	}
	return tc
}

func (tc *TrendCalculator) Update(value uint32, nowMs uint64) {
	if tc.value == 0 || value >= tc.value {
		tc.ForceUpdate(value, nowMs)
		return
	}

	var elapsedMs uint64
	if nowMs > tc.peakAtMs {
		elapsedMs = nowMs - tc.peakAtMs
	}
	decay := float64(tc.peak) * tc.decreaseFactor * float64(elapsedMs) / 1000
	if decayed := float64(tc.peak) - decay; decayed > float64(value) {
		tc.value = uint32(decayed)
	} else {
		tc.value = value
	}
}

// ForceUpdate makes value the new peak.
func (tc *TrendCalculator) ForceUpdate(value uint32, nowMs uint64) {
	tc.value = value
	tc.peak = value
	tc.peakAtMs = nowMs
}

func (tc TrendCalculator) GetValue() uint32 {
	return tc.value
}

func (tc *TrendCalculator) Reset() {
	*tc = TrendCalculator{decreaseFactor: tc.decreaseFactor}
}
