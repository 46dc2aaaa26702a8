package videoencoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRateSetter struct {
	params []RateControlParameters
}

func (r *recordingRateSetter) SetRates(params RateControlParameters) error {
	r.params = append(r.params, params)
	return nil
}

func TestBitrateAllocation(t *testing.T) {
	var alloc BitrateAllocation
	require.True(t, alloc.SetBitrate(0, 0, 100000))
	require.True(t, alloc.SetBitrate(0, 1, 50000))
	require.True(t, alloc.SetBitrate(1, 0, 0))
	require.False(t, alloc.SetBitrate(MaxSpatialLayers, 0, 1))
	require.False(t, alloc.SetBitrate(0, -1, 1))

	assert.Equal(t, int64(150000), alloc.SpatialLayerSum(0))
	assert.Equal(t, int64(150000), alloc.SumBps())
	assert.True(t, alloc.IsSpatialLayerUsed(0))
	assert.False(t, alloc.IsSpatialLayerUsed(1))
	assert.True(t, alloc.HasBitrate(1, 0))
	assert.False(t, alloc.HasBitrate(2, 0))
	assert.NoError(t, alloc.Validate())

	alloc.SetBitrate(2, 0, -1)
	assert.ErrorIs(t, alloc.Validate(), ErrInvalidParameter)
}

func TestRateControlParameters(t *testing.T) {
	t.Run("bandwidth below sum is invalid", func(t *testing.T) {
		var alloc BitrateAllocation
		alloc.SetBitrate(0, 0, 300000)
		params := RateControlParameters{Bitrate: alloc, FramerateFps: 30, BandwidthAllocationBps: 200000}
		assert.ErrorIs(t, params.Validate(), ErrInvalidParameter)

		params.BandwidthAllocationBps = 500000
		assert.NoError(t, params.Validate())
	})

	t.Run("unset bandwidth becomes sum", func(t *testing.T) {
		var alloc BitrateAllocation
		alloc.SetBitrate(0, 0, 300000)
		params := RateControlParameters{Bitrate: alloc}.Normalize()
		assert.Equal(t, int64(300000), params.BandwidthAllocationBps)
	})

	t.Run("framerate fallback", func(t *testing.T) {
		assert.Equal(t, 30.0, RateControlParameters{FramerateFps: -1}.EffectiveFramerate(30))
		assert.Equal(t, 30.0, RateControlParameters{}.EffectiveFramerate(30))
		assert.Equal(t, 15.0, RateControlParameters{FramerateFps: 15}.EffectiveFramerate(30))
	})

	t.Run("all zero is valid", func(t *testing.T) {
		var alloc BitrateAllocation
		alloc.SetBitrate(0, 0, 0)
		alloc.SetBitrate(1, 0, 0)
		assert.NoError(t, RateControlParameters{Bitrate: alloc}.Validate())
	})
}

func TestLegacyRates(t *testing.T) {
	setter := &recordingRateSetter{}

	require.NoError(t, SetRatesLegacy(setter, 250000, 15))
	require.Len(t, setter.params, 1)
	params := setter.params[0]
	assert.Equal(t, int64(250000), params.Bitrate.GetBitrate(0, 0))
	assert.Equal(t, int64(250000), params.Bitrate.SumBps())
	assert.Equal(t, int64(250000), params.BandwidthAllocationBps)
	assert.Equal(t, 15.0, params.FramerateFps)

	var alloc BitrateAllocation
	alloc.SetBitrate(0, 0, 100000)
	alloc.SetBitrate(1, 0, 400000)
	require.NoError(t, SetRateAllocation(setter, alloc, 30))
	require.Len(t, setter.params, 2)
	assert.Equal(t, int64(500000), setter.params[1].BandwidthAllocationBps)
	assert.Equal(t, alloc, setter.params[1].Bitrate)
}
