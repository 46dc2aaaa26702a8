package videoencoder

import "fmt"

type VideoFrameType int

const (
	VideoFrameEmpty VideoFrameType = iota
	VideoFrameKey
	VideoFrameDelta
)

func (t VideoFrameType) String() string {
	switch t {
	case VideoFrameKey:
		return "key"
	case VideoFrameDelta:
		return "delta"
	default:
		return "empty"
	}
}

// FrameBuffer is either a raw planar buffer or an opaque native handle.
type FrameBuffer interface {
	Width() int
	Height() int
	IsNative() bool
}

// I420Buffer is a raw planar YUV 4:2:0 buffer.
type I420Buffer struct {
	width, height int
	Y, U, V       []byte
}

// NewI420Buffer allocates planes for a width x height picture.
func NewI420Buffer(width, height int) *I420Buffer {
	chromaW, chromaH := (width+1)/2, (height+1)/2
	return &I420Buffer{
		width:  width,
		height: height,
		Y:      make([]byte, width*height),
		U:      make([]byte, chromaW*chromaH),
		V:      make([]byte, chromaW*chromaH),
	}
}

func (b *I420Buffer) Width() int     { return b.width }
func (b *I420Buffer) Height() int    { return b.height }
func (b *I420Buffer) IsNative() bool { return false }

// Size is the total number of plane bytes.
func (b *I420Buffer) Size() int {
	return len(b.Y) + len(b.U) + len(b.V)
}

func (b *I420Buffer) validate() error {
	chroma := ((b.width + 1) / 2) * ((b.height + 1) / 2)
	if len(b.Y) < b.width*b.height || len(b.U) < chroma || len(b.V) < chroma {
		return fmt.Errorf("%w: i420 planes too small for %dx%d", ErrInvalidParameter, b.width, b.height)
	}
	return nil
}

// NativeBuffer wraps a platform handle such as a GPU texture.
type NativeBuffer struct {
	width, height int
	Handle        any
}

func NewNativeBuffer(width, height int, handle any) *NativeBuffer {
	return &NativeBuffer{width: width, height: height, Handle: handle}
}

func (b *NativeBuffer) Width() int     { return b.width }
func (b *NativeBuffer) Height() int    { return b.height }
func (b *NativeBuffer) IsNative() bool { return true }

// VideoFrame is one input picture.
type VideoFrame struct {
	ID uint16
	// TimestampRTP is the 90kHz media timestamp.
	TimestampRTP uint32
	// TimestampUs is the capture time in microseconds.
	TimestampUs int64
	Buffer      FrameBuffer
}

func (f *VideoFrame) Width() int {
	if f.Buffer == nil {
		return 0
	}
	return f.Buffer.Width()
}

func (f *VideoFrame) Height() int {
	if f.Buffer == nil {
		return 0
	}
	return f.Buffer.Height()
}

// Validate checks the frame against the configured resolution. Native
// buffers are rejected when acceptsNative is false.
func (f *VideoFrame) Validate(settings *CodecSettings, acceptsNative bool) error {
	if f == nil || f.Buffer == nil {
		return fmt.Errorf("%w: empty frame", ErrInvalidParameter)
	}
	if f.Width() <= 0 || f.Height() <= 0 {
		return fmt.Errorf("%w: frame geometry %dx%d", ErrInvalidParameter, f.Width(), f.Height())
	}
	if settings != nil && (f.Width() != settings.Width || f.Height() != settings.Height) {
		return fmt.Errorf("%w: frame %dx%d does not match configured %dx%d",
			ErrInvalidParameter, f.Width(), f.Height(), settings.Width, settings.Height)
	}
	switch buf := f.Buffer.(type) {
	case *I420Buffer:
		return buf.validate()
	case *NativeBuffer:
		if !acceptsNative {
			return fmt.Errorf("%w: native buffer not supported", ErrInvalidParameter)
		}
	}
	return nil
}
