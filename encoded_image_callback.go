package videoencoder

import "sync/atomic"

type ResultError int

const (
	ResultOK ResultError = iota
	// ResultSendFailed means the sink failed to send the frame.
	ResultSendFailed
)

// EncodedImageCallbackResult is returned by the sink for every completed frame.
type EncodedImageCallbackResult struct {
	Error ResultError

	// FrameID must equal the id the receiver sees for this frame (the RTP
	// timestamp when sending over RTP). Only meaningful when Error is ResultOK.
	FrameID uint32

	// DropNextFrame asks the caller to suppress the next input frame. The
	// caller enforces it, see FrameGate.
	DropNextFrame bool
}

func NewResult(frameID uint32) EncodedImageCallbackResult {
	return EncodedImageCallbackResult{Error: ResultOK, FrameID: frameID}
}

// NewSendFailedResult never carries a frame id.
func NewSendFailedResult() EncodedImageCallbackResult {
	return EncodedImageCallbackResult{Error: ResultSendFailed}
}

// OK reports a successful send.
func (r EncodedImageCallbackResult) OK() bool {
	return r.Error == ResultOK
}

type DropReason uint8

const (
	// DroppedByMediaOptimizations means rate limited by the external allocator.
	DroppedByMediaOptimizations DropReason = iota
	// DroppedByEncoder means dropped by the encoder's internal rate limiter.
	DroppedByEncoder
)

func (r DropReason) String() string {
	switch r {
	case DroppedByMediaOptimizations:
		return "rate-limited by external allocator"
	case DroppedByEncoder:
		return "rate-limited by encoder"
	default:
		return "unknown"
	}
}

// EncodedImage is the output of one spatial layer of one input frame.
type EncodedImage struct {
	Data          []byte
	TimestampRTP  uint32
	CaptureTimeUs int64
	Width         int
	Height        int
	FrameType     VideoFrameType
	SpatialIndex  int
	TemporalIndex int
	Qp            int
}

// CodecSpecificInfo travels with every EncodedImage.
type CodecSpecificInfo struct {
	CodecType CodecType
	// EndOfPicture is set on the last spatial layer of a frame.
	EndOfPicture bool
	// LayerSync marks a temporal layer switching point.
	LayerSync bool
}

// EncodedImageCallback receives completed frames. Implementations must not
// block indefinitely: the encoder may call it from its own worker.
type EncodedImageCallback interface {
	OnEncodedImage(image *EncodedImage, info *CodecSpecificInfo) EncodedImageCallbackResult
}

// DroppedFrameObserver is optionally implemented by an EncodedImageCallback
// to learn about dropped frames.
type DroppedFrameObserver interface {
	OnDroppedFrame(reason DropReason)
}

// NotifyDropped forwards a drop to cb if it observes drops.
func NotifyDropped(cb EncodedImageCallback, reason DropReason) {
	if observer, ok := cb.(DroppedFrameObserver); ok {
		observer.OnDroppedFrame(reason)
	}
}

// EncodedImageCallbackFunc adapts a function to EncodedImageCallback.
type EncodedImageCallbackFunc func(image *EncodedImage, info *CodecSpecificInfo) EncodedImageCallbackResult

func (f EncodedImageCallbackFunc) OnEncodedImage(image *EncodedImage, info *CodecSpecificInfo) EncodedImageCallbackResult {
	return f(image, info)
}

// FrameGate applies the DropNextFrame hint on the caller side. Register the
// gate as the encoder's callback and ask Admit before every Encode.
type FrameGate struct {
	next       EncodedImageCallback
	dropNext   atomic.Bool
	suppressed atomic.Uint64
}

func NewFrameGate(next EncodedImageCallback) *FrameGate {
	return &FrameGate{next: next}
}

// OnEncodedImage forwards to the wrapped sink and records its hint.
func (g *FrameGate) OnEncodedImage(image *EncodedImage, info *CodecSpecificInfo) EncodedImageCallbackResult {
	result := g.next.OnEncodedImage(image, info)
	if result.DropNextFrame {
		g.dropNext.Store(true)
	}
	return result
}

func (g *FrameGate) OnDroppedFrame(reason DropReason) {
	NotifyDropped(g.next, reason)
}

// Admit reports whether the next frame may be submitted. A pending drop hint
// is consumed by the call that returns false.
func (g *FrameGate) Admit() bool {
	if g.dropNext.CompareAndSwap(true, false) {
		g.suppressed.Add(1)
		return false
	}
	return true
}

// Suppressed counts frames held back because of the hint.
func (g *FrameGate) Suppressed() uint64 {
	return g.suppressed.Load()
}
