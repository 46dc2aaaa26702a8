package rtc

import "github.com/gammazero/deque"

type rateSample struct {
	atMs  uint64
	bytes uint64
}

// RateCalculator sums byte counts over a sliding window. Updates closer
// together than one bucket share a sample. Time comes from the caller so a
// frame clock can drive it.
type RateCalculator struct {
	windowMs uint64
	bucketMs uint64
	scale    float64

	samples  deque.Deque[rateSample]
	inWindow uint64
	total    uint64
}

// NewRateCalculator reports bytes*scale per windowMs. buckets is the number of
// samples the window is split into.
func NewRateCalculator(windowMs uint64, scale float64, buckets int) *RateCalculator {
	bucketMs := windowMs / uint64(max(buckets, 1))
	return &RateCalculator{
		windowMs: windowMs,
		bucketMs: max(bucketMs, 1),
		scale:    scale,
	}
}

func (r *RateCalculator) Update(size, nowMs uint64) {
	r.total += size
	r.expire(nowMs)

	if r.samples.Len() > 0 {
		newest := r.samples.Back()
		// Late updates and updates within the newest bucket join it.
		if nowMs < newest.atMs || nowMs-newest.atMs < r.bucketMs {
			r.samples.PopBack()
			newest.bytes += size
			r.samples.PushBack(newest)
			r.inWindow += size
			return
		}
	}
	r.samples.PushBack(rateSample{atMs: nowMs, bytes: size})
	r.inWindow += size
}

func (r *RateCalculator) GetRate(nowMs uint64) uint32 {
	r.expire(nowMs)
	return uint32(float64(r.inWindow)*r.scale/float64(r.windowMs) + 0.5)
}

// expire drops samples that started windowMs or more before nowMs.
func (r *RateCalculator) expire(nowMs uint64) {
	if nowMs < r.windowMs {
		return
	}
	cutoff := nowMs - r.windowMs
	for r.samples.Len() > 0 && r.samples.Front().atMs <= cutoff {
		r.inWindow -= r.samples.PopFront().bytes
	}
}

// GetBytes is the total number of bytes ever added.
func (r *RateCalculator) GetBytes() uint64 {
	return r.total
}

// Reset forgets the window but keeps the byte total.
func (r *RateCalculator) Reset() {
	r.samples.Clear()
	r.inWindow = 0
}

// EncodedDataCounter tracks output frames and bitrate of one encoded layer.
type EncodedDataCounter struct {
	rate   *RateCalculator
	frames uint64
}

// NewEncodedDataCounter reports rates in bps over windowMs.
func NewEncodedDataCounter(windowMs uint64) *EncodedDataCounter {
	return &EncodedDataCounter{
		rate: NewRateCalculator(windowMs, 8000, 100),
	}
}

func (c *EncodedDataCounter) Update(size int, nowMs uint64) {
	c.frames++
	c.rate.Update(uint64(size), nowMs)
}

// GetBitrate is the bps over the window ending at nowMs.
func (c *EncodedDataCounter) GetBitrate(nowMs uint64) uint32 {
	return c.rate.GetRate(nowMs)
}

func (c *EncodedDataCounter) GetFrameCount() uint64 {
	return c.frames
}

func (c *EncodedDataCounter) GetBytes() uint64 {
	return c.rate.GetBytes()
}

func (c *EncodedDataCounter) Reset() {
	c.rate.Reset()
}
