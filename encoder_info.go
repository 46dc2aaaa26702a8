package videoencoder

import (
	"fmt"
	"math"
)

const (
	// MaxSpatialLayers is the number of simulcast streams or SVC spatial layers.
	MaxSpatialLayers = 5
	// MaxTemporalStreams is the number of temporal layers per spatial layer.
	MaxTemporalStreams = 4
	// FullFramerateFraction means 100% of the frame rate.
	FullFramerateFraction uint8 = math.MaxUint8
)

// FpsAllocation holds, for each spatial layer, the cumulative frame rate
// fraction of each temporal layer. 0 means 0% and 255 means 100%.
//
// Spatial layers are independent, temporal layers are cumulative: the entry
// for temporal layer i is the fraction of frames at or below layer i. An empty
// slice means the frame rate of that spatial layer is undefined.
type FpsAllocation [MaxSpatialLayers][]uint8

// DefaultFpsAllocation is a single spatial layer with one temporal layer at
// full frame rate.
func DefaultFpsAllocation() FpsAllocation {
	var a FpsAllocation
	a[0] = []uint8{FullFramerateFraction}
	return a
}

// TemporalFpsAllocation returns the cumulative fractions of a dyadic temporal
// structure with numTemporalLayers layers, e.g. {64, 128, 255} for three.
func TemporalFpsAllocation(numTemporalLayers int) []uint8 {
	if numTemporalLayers < 1 {
		numTemporalLayers = 1
	}
	if numTemporalLayers > MaxTemporalStreams {
		numTemporalLayers = MaxTemporalStreams
	}
	fractions := make([]uint8, numTemporalLayers)
	for i := range fractions {
		divisor := 1 << (numTemporalLayers - 1 - i)
		fractions[i] = uint8((int(FullFramerateFraction) + divisor/2) / divisor)
	}
	fractions[numTemporalLayers-1] = FullFramerateFraction
	return fractions
}

// Validate checks that fractions never decrease across temporal layers.
func (a FpsAllocation) Validate() error {
	for sid, fractions := range a {
		if len(fractions) > MaxTemporalStreams {
			return fmt.Errorf("%w: spatial layer %d has %d temporal layers", ErrInvalidParameter, sid, len(fractions))
		}
		for tid := 1; tid < len(fractions); tid++ {
			if fractions[tid] < fractions[tid-1] {
				return fmt.Errorf("%w: spatial layer %d fraction decreases at temporal layer %d", ErrInvalidParameter, sid, tid)
			}
		}
	}
	return nil
}

// Clone deep-copies the per-layer slices.
func (a FpsAllocation) Clone() FpsAllocation {
	var out FpsAllocation
	for i, fractions := range a {
		if fractions != nil {
			out[i] = append([]uint8(nil), fractions...)
		}
	}
	return out
}

// EncoderInfo is a snapshot of what the active encoder can do and how it
// currently behaves. It may change between calls, for instance when a
// hardware encoder fails and the session continues in software.
type EncoderInfo struct {
	// Any implementation that wants quality scaling must populate this field.
	ScalingSettings ScalingSettings

	// SupportsNativeHandle is true if the encoder accepts native buffers
	// (e.g. textures) rather than requiring raw I420.
	SupportsNativeHandle bool

	// HasTrustedRateController is true when the encoder keeps close to the
	// target bitrate on its own, dropping frames if needed. Callers then
	// disable their own frame dropper.
	HasTrustedRateController bool

	IsHardwareAccelerated bool

	// HasInternalSource is true if the encoder captures frames itself and
	// does not expect Encode calls.
	HasInternalSource bool

	ImplementationName string

	FpsAllocation FpsAllocation
}

// DefaultEncoderInfo returns the capabilities assumed before anything is known
// about the implementation.
func DefaultEncoderInfo() EncoderInfo {
	return EncoderInfo{
		ScalingSettings: ScalingSettingsOff,
		FpsAllocation:   DefaultFpsAllocation(),
	}
}

// Clone returns a copy that shares no memory with info.
func (info EncoderInfo) Clone() EncoderInfo {
	info.ScalingSettings = info.ScalingSettings.Normalize()
	info.FpsAllocation = info.FpsAllocation.Clone()
	return info
}
