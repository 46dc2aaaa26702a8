package videoencoder

import (
	"fmt"
	"math"
)

// BitrateAllocation is a target bitrate in bps per spatial/temporal layer.
// A layer with 0 bps must not be encoded.
type BitrateAllocation struct {
	bitrates [MaxSpatialLayers][MaxTemporalStreams]int64
	set      [MaxSpatialLayers][MaxTemporalStreams]bool
}

// SetBitrate sets the bitrate of one layer. Out of range indices are ignored
// and reported as false.
func (a *BitrateAllocation) SetBitrate(spatialIndex, temporalIndex int, bps int64) bool {
	if spatialIndex < 0 || spatialIndex >= MaxSpatialLayers || temporalIndex < 0 || temporalIndex >= MaxTemporalStreams {
		return false
	}
	a.bitrates[spatialIndex][temporalIndex] = bps
	a.set[spatialIndex][temporalIndex] = true
	return true
}

func (a BitrateAllocation) GetBitrate(spatialIndex, temporalIndex int) int64 {
	if spatialIndex < 0 || spatialIndex >= MaxSpatialLayers || temporalIndex < 0 || temporalIndex >= MaxTemporalStreams {
		return 0
	}
	return a.bitrates[spatialIndex][temporalIndex]
}

// HasBitrate reports whether the layer was explicitly set, even to zero.
func (a BitrateAllocation) HasBitrate(spatialIndex, temporalIndex int) bool {
	if spatialIndex < 0 || spatialIndex >= MaxSpatialLayers || temporalIndex < 0 || temporalIndex >= MaxTemporalStreams {
		return false
	}
	return a.set[spatialIndex][temporalIndex]
}

// SpatialLayerSum is the bitrate of all temporal layers of one spatial layer.
func (a BitrateAllocation) SpatialLayerSum(spatialIndex int) int64 {
	if spatialIndex < 0 || spatialIndex >= MaxSpatialLayers {
		return 0
	}
	var sum int64
	for _, bps := range a.bitrates[spatialIndex] {
		sum += bps
	}
	return sum
}

// IsSpatialLayerUsed reports whether any temporal layer of the spatial layer
// has a positive bitrate.
func (a BitrateAllocation) IsSpatialLayerUsed(spatialIndex int) bool {
	return a.SpatialLayerSum(spatialIndex) > 0
}

func (a BitrateAllocation) SumBps() int64 {
	var sum int64
	for sid := range a.bitrates {
		sum += a.SpatialLayerSum(sid)
	}
	return sum
}

// Validate rejects negative layer bitrates.
func (a BitrateAllocation) Validate() error {
	for sid, layer := range a.bitrates {
		for tid, bps := range layer {
			if bps < 0 {
				return fmt.Errorf("%w: negative bitrate %d at layer %d/%d", ErrInvalidParameter, bps, sid, tid)
			}
		}
	}
	return nil
}

func (a BitrateAllocation) String() string {
	return fmt.Sprintf("BitrateAllocation{sum:%d, layers:%v}", a.SumBps(), a.bitrates)
}

// RateControlParameters is an instantaneous target. It replaces the previous
// one and applies from the next submitted frame until the next SetRates call.
type RateControlParameters struct {
	Bitrate BitrateAllocation
	// FramerateFps <= 0 means unspecified; the encoder falls back to the max
	// framerate of the last InitEncode.
	FramerateFps float64
	// BandwidthAllocationBps is the network bandwidth available for video,
	// at least Bitrate.SumBps().
	BandwidthAllocationBps int64
}

// NewLegacyRateControlParameters builds the degenerate single layer target of
// the scalar bitrate + framerate form.
func NewLegacyRateControlParameters(bitrateBps uint32, framerate uint32) RateControlParameters {
	var alloc BitrateAllocation
	alloc.SetBitrate(0, 0, int64(bitrateBps))
	return RateControlParameters{
		Bitrate:                alloc,
		FramerateFps:           float64(framerate),
		BandwidthAllocationBps: int64(bitrateBps),
	}
}

// Normalize fills an unset bandwidth with the bitrate sum.
func (p RateControlParameters) Normalize() RateControlParameters {
	if p.BandwidthAllocationBps == 0 {
		p.BandwidthAllocationBps = p.Bitrate.SumBps()
	}
	if math.IsNaN(p.FramerateFps) || math.IsInf(p.FramerateFps, 0) {
		p.FramerateFps = 0
	}
	return p
}

func (p RateControlParameters) Validate() error {
	if err := p.Bitrate.Validate(); err != nil {
		return err
	}
	if sum := p.Bitrate.SumBps(); p.BandwidthAllocationBps != 0 && p.BandwidthAllocationBps < sum {
		return fmt.Errorf("%w: bandwidth %d below bitrate sum %d", ErrInvalidParameter, p.BandwidthAllocationBps, sum)
	}
	return nil
}

// EffectiveFramerate resolves an unspecified framerate against the configured
// maximum.
func (p RateControlParameters) EffectiveFramerate(maxFramerate float64) float64 {
	if p.FramerateFps > 0 && !math.IsInf(p.FramerateFps, 0) {
		return p.FramerateFps
	}
	return maxFramerate
}

// RateSetter is the structured rate path every implementation provides.
type RateSetter interface {
	SetRates(params RateControlParameters) error
}

// SetRatesLegacy applies the scalar bitrate/framerate form through the
// structured path.
func SetRatesLegacy(enc RateSetter, bitrateBps uint32, framerate uint32) error {
	return enc.SetRates(NewLegacyRateControlParameters(bitrateBps, framerate))
}

// SetRateAllocation applies a layered allocation with a framerate, using the
// allocation sum as bandwidth.
func SetRateAllocation(enc RateSetter, allocation BitrateAllocation, framerate uint32) error {
	return enc.SetRates(RateControlParameters{
		Bitrate:                allocation,
		FramerateFps:           float64(framerate),
		BandwidthAllocationBps: allocation.SumBps(),
	})
}
