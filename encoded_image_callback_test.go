package videoencoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dropCountingCallback struct {
	dropNext bool
	drops    []DropReason
}

func (c *dropCountingCallback) OnEncodedImage(image *EncodedImage, info *CodecSpecificInfo) EncodedImageCallbackResult {
	result := NewResult(image.TimestampRTP)
	result.DropNextFrame = c.dropNext
	return result
}

func (c *dropCountingCallback) OnDroppedFrame(reason DropReason) {
	c.drops = append(c.drops, reason)
}

func TestResult(t *testing.T) {
	ok := NewResult(42)
	assert.True(t, ok.OK())
	assert.Equal(t, uint32(42), ok.FrameID)

	failed := NewSendFailedResult()
	assert.False(t, failed.OK())
	assert.Zero(t, failed.FrameID)
	assert.False(t, failed.DropNextFrame)
}

func TestDropReason(t *testing.T) {
	assert.Equal(t, "rate-limited by external allocator", DroppedByMediaOptimizations.String())
	assert.Equal(t, "rate-limited by encoder", DroppedByEncoder.String())
}

func TestNotifyDropped(t *testing.T) {
	cb := &dropCountingCallback{}
	NotifyDropped(cb, DroppedByEncoder)
	require.Equal(t, []DropReason{DroppedByEncoder}, cb.drops)

	// Sinks without the optional observer are accepted silently.
	NotifyDropped(nopCallback{}, DroppedByEncoder)
}

func TestFrameGate(t *testing.T) {
	cb := &dropCountingCallback{}
	gate := NewFrameGate(cb)

	require.True(t, gate.Admit())

	cb.dropNext = true
	result := gate.OnEncodedImage(&EncodedImage{TimestampRTP: 9000}, &CodecSpecificInfo{})
	require.True(t, result.DropNextFrame)
	require.Equal(t, uint32(9000), result.FrameID)

	// Only the very next frame is suppressed.
	require.False(t, gate.Admit())
	require.True(t, gate.Admit())
	require.Equal(t, uint64(1), gate.Suppressed())

	gate.OnDroppedFrame(DroppedByMediaOptimizations)
	require.Equal(t, []DropReason{DroppedByMediaOptimizations}, cb.drops)
}

func TestIsKeyFrameRequested(t *testing.T) {
	assert.False(t, IsKeyFrameRequested(nil, 0))
	assert.True(t, IsKeyFrameRequested([]VideoFrameType{VideoFrameKey}, 2))
	assert.False(t, IsKeyFrameRequested([]VideoFrameType{VideoFrameDelta, VideoFrameKey}, 0))
	assert.True(t, IsKeyFrameRequested([]VideoFrameType{VideoFrameDelta, VideoFrameKey}, 1))
	assert.False(t, IsKeyFrameRequested([]VideoFrameType{VideoFrameDelta, VideoFrameKey}, 3))
}
