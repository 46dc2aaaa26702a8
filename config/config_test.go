package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jiyeyuran/videoencoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	settings := cfg.CodecSettings()
	assert.Equal(t, videoencoder.CodecVP8, settings.CodecType)
	assert.Equal(t, 1, settings.NumSpatialLayers())
	assert.Equal(t, videoencoder.RealtimeVideo, settings.Mode)

	data, err := cfg.Marshal()
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
codec: h264
width: 1280
height: 720
frames: 60
encoder:
  async: true
  screenshare: true
layers:
  - width: 640
    height: 360
    temporal_layers: 2
    target_bitrate_kbps: 500
  - width: 1280
    height: 720
    target_bitrate_kbps: 1500
    active: false
rates:
  - at_frame: 30
    bitrates_kbps: [[0]]
  - at_frame: 0
    bitrates_kbps: [[300, 200], [1000]]
    framerate: 15
feedback:
  - at_frame: 10
    packet_loss: 0.5
  - at_frame: 5
    rtt_ms: 120
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Frames)
	assert.True(t, cfg.Encoder.Async)
	assert.Equal(t, 8, cfg.Encoder.QueueSize, "defaults survive")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	settings := cfg.CodecSettings()
	assert.Equal(t, videoencoder.CodecH264, settings.CodecType)
	assert.Equal(t, videoencoder.Screensharing, settings.Mode)
	require.Len(t, settings.SpatialLayers, 2)
	assert.True(t, settings.SpatialLayers[0].Active)
	assert.False(t, settings.SpatialLayers[1].Active)
	assert.Equal(t, 2, settings.SpatialLayers[0].NumTemporalLayers)

	steps := cfg.RateSteps()
	require.Len(t, steps, 2)
	assert.Zero(t, steps[0].AtFrame)

	params := steps[0].Parameters()
	assert.Equal(t, int64(300000), params.Bitrate.GetBitrate(0, 0))
	assert.Equal(t, int64(200000), params.Bitrate.GetBitrate(0, 1))
	assert.Equal(t, int64(1000000), params.Bitrate.GetBitrate(1, 0))
	assert.Equal(t, float64(15), params.FramerateFps)
	require.NoError(t, params.Validate())

	assert.Zero(t, steps[1].Parameters().Bitrate.SumBps())

	feedback := cfg.FeedbackSteps()
	require.Len(t, feedback, 2)
	require.NotNil(t, feedback[0].RttMs)
	assert.Equal(t, int64(120), *feedback[0].RttMs)
	require.NotNil(t, feedback[1].PacketLoss)
	assert.InDelta(t, 0.5, *feedback[1].PacketLoss, 1e-6)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	tests := []struct {
		name string
		data string
	}{
		{"malformed", "width: [1"},
		{"negative frames", "frames: -1"},
		{"zero width", "width: 0"},
		{"layer larger than frame", "layers: [{width: 1920, height: 1080}]"},
		{"too many temporal layers", "rates: [{bitrates_kbps: [[1, 2, 3, 4, 5]]}]"},
		{"negative step", "rates: [{at_frame: -3}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.ErrorIs(t, err, videoencoder.ErrInvalidParameter)
		})
	}
}
