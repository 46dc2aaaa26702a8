package videoencoder

// VideoEncoder is implemented by every concrete encoder, software or hardware.
//
// Encode must not be called concurrently with itself. SetRates, the feedback
// hooks and GetEncoderInfo may be called concurrently with Encode and with
// each other; rate changes apply at the next frame boundary.
// RegisterEncodeCompleteCallback and Release require the caller to quiesce
// Encode first.
type VideoEncoder interface {
	RateSetter

	// InitEncode validates and stores settings. It can be called again after
	// Release to reconfigure.
	InitEncode(settings *CodecSettings, numberOfCores int, maxPayloadSize int) error

	// RegisterEncodeCompleteCallback installs the single output sink,
	// replacing any previous one.
	RegisterEncodeCompleteCallback(callback EncodedImageCallback) error

	// Release frees everything tied to the current configuration. Idempotent.
	Release() error

	// Encode admits one frame. Every admitted frame produces exactly one
	// completion or drop notification per configured spatial layer. The
	// returned error only covers admission.
	Encode(frame *VideoFrame, frameTypes []VideoFrameType) error

	// OnPacketLossRateUpdate takes a loss rate in [0, 1]. Advisory.
	OnPacketLossRateUpdate(packetLossRate float32)

	// OnRttUpdate takes the round trip time in milliseconds. Advisory.
	OnRttUpdate(rttMs int64)

	// GetEncoderInfo describes the current behaviour. Safe in any state.
	GetEncoderInfo() EncoderInfo
}

// IsKeyFrameRequested reports whether frameTypes asks for a key frame on the
// given spatial layer. A single entry applies to all layers.
func IsKeyFrameRequested(frameTypes []VideoFrameType, spatialIndex int) bool {
	switch {
	case len(frameTypes) == 0:
		return false
	case len(frameTypes) == 1:
		return frameTypes[0] == VideoFrameKey
	case spatialIndex < len(frameTypes):
		return frameTypes[spatialIndex] == VideoFrameKey
	default:
		return false
	}
}
