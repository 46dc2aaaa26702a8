package fallback

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jiyeyuran/videoencoder"
	"github.com/jiyeyuran/videoencoder/passthrough"
	"github.com/stretchr/testify/require"
)

// faultyEncoder is a hardware encoder that breaks after a number of frames or
// refuses to initialize.
type faultyEncoder struct {
	*passthrough.Encoder
	initErr     error
	failAfter   int
	encodeCalls int
}

func (f *faultyEncoder) InitEncode(settings *videoencoder.CodecSettings, numberOfCores int, maxPayloadSize int) error {
	if f.initErr != nil {
		return f.initErr
	}
	return f.Encoder.InitEncode(settings, numberOfCores, maxPayloadSize)
}

func (f *faultyEncoder) Encode(frame *videoencoder.VideoFrame, frameTypes []videoencoder.VideoFrameType) error {
	f.encodeCalls++
	if f.failAfter > 0 && f.encodeCalls > f.failAfter {
		return fmt.Errorf("%w: device lost", videoencoder.ErrInternal)
	}
	return f.Encoder.Encode(frame, frameTypes)
}

type sink struct {
	sync.Mutex
	images []*videoencoder.EncodedImage
}

func (s *sink) OnEncodedImage(image *videoencoder.EncodedImage, info *videoencoder.CodecSpecificInfo) videoencoder.EncodedImageCallbackResult {
	s.Lock()
	defer s.Unlock()
	s.images = append(s.images, image)
	return videoencoder.NewResult(image.TimestampRTP)
}

type fallbackListener struct {
	sync.Mutex
	reasons []error
	infos   []videoencoder.EncoderInfo
}

func (l *fallbackListener) OnFallback(encoder *Encoder, reason error) {
	l.Lock()
	defer l.Unlock()
	l.reasons = append(l.reasons, reason)
	l.infos = append(l.infos, encoder.GetEncoderInfo())
}

func newFrame(settings videoencoder.CodecSettings, i int) *videoencoder.VideoFrame {
	return &videoencoder.VideoFrame{
		TimestampRTP: uint32(i * 3000),
		Buffer:       videoencoder.NewI420Buffer(settings.Width, settings.Height),
	}
}

func newPair(failAfter int, initErr error) (*faultyEncoder, *passthrough.Encoder) {
	hw := &faultyEncoder{
		Encoder:   passthrough.New(passthrough.WithHardware("fake-hw")),
		failAfter: failAfter,
		initErr:   initErr,
	}
	return hw, passthrough.New(passthrough.WithImplementationName("software"))
}

func TestFallbackOnInternalError(t *testing.T) {
	settings := videoencoder.DefaultH264Settings()
	hw, sw := newPair(3, nil)
	listener := &fallbackListener{}
	enc := New(hw, sw, WithListener(listener))
	out := &sink{}

	require.True(t, enc.GetEncoderInfo().IsHardwareAccelerated)

	require.NoError(t, enc.InitEncode(&settings, 1, 1200))
	require.NoError(t, enc.RegisterEncodeCompleteCallback(out))
	require.NoError(t, videoencoder.SetRatesLegacy(enc, 400000, 25))
	enc.OnRttUpdate(80)

	for i := 0; i < 5; i++ {
		require.NoError(t, enc.Encode(newFrame(settings, i), nil))
	}

	require.True(t, enc.UsingFallback())
	info := enc.GetEncoderInfo()
	require.False(t, info.IsHardwareAccelerated)
	require.Equal(t, "software", info.ImplementationName)

	require.Len(t, listener.reasons, 1)
	require.ErrorIs(t, listener.reasons[0], videoencoder.ErrInternal)
	require.False(t, listener.infos[0].IsHardwareAccelerated)

	// Every frame reached the sink, the failed one re-encoded as a key frame
	// by the software encoder with the rates set before the switch.
	require.Len(t, out.images, 5)
	failed := out.images[3]
	require.Equal(t, uint32(9000), failed.TimestampRTP)
	require.Equal(t, videoencoder.VideoFrameKey, failed.FrameType)
	require.Equal(t, 400000/8/25*passthrough.DefaultKeyFrameSizeFactor, len(failed.Data))
	require.Equal(t, 400000/8/25, len(out.images[4].Data))
	require.Equal(t, int64(80), sw.Stats().RttMs)

	require.NoError(t, enc.Release())
	require.NoError(t, enc.Release())
}

func TestFallbackOnInitFailure(t *testing.T) {
	settings := videoencoder.DefaultVP8Settings()
	hw, sw := newPair(0, fmt.Errorf("%w: no hardware session left", videoencoder.ErrInsufficientResources))
	listener := &fallbackListener{}
	enc := New(hw, sw, WithListener(listener))
	out := &sink{}

	require.NoError(t, enc.RegisterEncodeCompleteCallback(out))
	require.NoError(t, enc.InitEncode(&settings, 1, 1200))
	require.True(t, enc.UsingFallback())
	require.Len(t, listener.reasons, 1)
	require.ErrorIs(t, listener.reasons[0], videoencoder.ErrInsufficientResources)

	require.NoError(t, enc.Encode(newFrame(settings, 0), nil))
	require.Len(t, out.images, 1)
	require.NoError(t, enc.Release())
}

func TestFallbackInvalidParametersAreNotRetried(t *testing.T) {
	settings := videoencoder.DefaultVP8Settings()
	settings.MaxFramerate = 0
	hw, sw := newPair(0, nil)
	enc := New(hw, sw)

	require.ErrorIs(t, enc.InitEncode(&settings, 1, 1200), videoencoder.ErrInvalidParameter)
	require.False(t, enc.UsingFallback())
	require.ErrorIs(t, enc.Encode(newFrame(settings, 0), nil), videoencoder.ErrInvalidState)
	require.False(t, enc.UsingFallback())
}

func TestFallbackReinitTriesPrimaryAgain(t *testing.T) {
	settings := videoencoder.DefaultVP8Settings()
	hw, sw := newPair(1, nil)
	enc := New(hw, sw)
	out := &sink{}

	require.NoError(t, enc.InitEncode(&settings, 1, 1200))
	require.NoError(t, enc.RegisterEncodeCompleteCallback(out))
	require.NoError(t, enc.Encode(newFrame(settings, 0), nil))
	require.NoError(t, enc.Encode(newFrame(settings, 1), nil))
	require.True(t, enc.UsingFallback())

	require.NoError(t, enc.Release())
	hw.failAfter = 0
	require.NoError(t, enc.InitEncode(&settings, 1, 1200))
	require.False(t, enc.UsingFallback())
	require.True(t, enc.GetEncoderInfo().IsHardwareAccelerated)
	require.NoError(t, enc.RegisterEncodeCompleteCallback(out))
	require.NoError(t, enc.Encode(newFrame(settings, 2), nil))
	require.Len(t, out.images, 3)
	require.NoError(t, enc.Release())
}
