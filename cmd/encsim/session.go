package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/jiyeyuran/videoencoder"
	"github.com/jiyeyuran/videoencoder/config"
	"github.com/jiyeyuran/videoencoder/factory"
	"github.com/jiyeyuran/videoencoder/fallback"
	"github.com/jiyeyuran/videoencoder/passthrough"
	"github.com/jiyeyuran/videoencoder/rtpsink"
	"github.com/pion/rtp"
)

const hardwareName = "simulated-hw"

// flakyEncoder stands in for a hardware encoder that stops working after a
// number of frames.
type flakyEncoder struct {
	*passthrough.Encoder
	failAfter int64
	frames    atomic.Int64
}

func (e *flakyEncoder) Encode(frame *videoencoder.VideoFrame, frameTypes []videoencoder.VideoFrameType) error {
	if e.failAfter > 0 && e.frames.Add(1) > e.failAfter {
		return fmt.Errorf("%w: simulated hardware fault after %d frames", videoencoder.ErrInternal, e.failAfter)
	}
	return e.Encoder.Encode(frame, frameTypes)
}

// countingTransport serializes every packet like a socket writer would.
type countingTransport struct {
	mu      sync.Mutex
	packets uint64
	bytes   uint64
	ssrcs   map[uint32]uint64
}

func (t *countingTransport) WriteRTP(packet *rtp.Packet) error {
	raw, err := packet.Marshal()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.packets++
	t.bytes += uint64(len(raw))
	if t.ssrcs == nil {
		t.ssrcs = make(map[uint32]uint64)
	}
	t.ssrcs[packet.SSRC]++
	return nil
}

type encoderReport struct {
	Implementation string   `yaml:"implementation"`
	Hardware       bool     `yaml:"hardware"`
	FramesEncoded  uint64   `yaml:"frames_encoded"`
	KeyFrames      uint64   `yaml:"key_frames"`
	LayerBitrates  []uint32 `yaml:"layer_bitrates_bps,omitempty"`
}

type report struct {
	Codec          string            `yaml:"codec"`
	Implementation string            `yaml:"implementation"`
	Fallback       bool              `yaml:"fallback"`
	FramesIn       int               `yaml:"frames_in"`
	Suppressed     uint64            `yaml:"frames_suppressed"`
	Rejected       int               `yaml:"frames_rejected"`
	FramesSent     uint64            `yaml:"frames_sent"`
	FramesDiscard  uint64            `yaml:"frames_discarded"`
	KeyFramesSent  uint64            `yaml:"key_frames_sent"`
	Dropped        map[string]uint64 `yaml:"dropped"`
	PacketsSent    uint64            `yaml:"packets_sent"`
	BytesSent      uint64            `yaml:"bytes_sent"`
	Streams        int               `yaml:"streams"`
	Encoders       []encoderReport   `yaml:"encoders"`
}

// session drives one encoder through the frames, rate steps and feedback of
// a configuration.
type session struct {
	cfg    config.Config
	logger logr.Logger

	software *passthrough.Encoder
	hardware *flakyEncoder
}

func newSession(cfg config.Config, logger logr.Logger) *session {
	return &session{cfg: cfg, logger: logger.WithName("encsim")}
}

func (s *session) newRegistry(codec videoencoder.CodecType) (*factory.Registry, error) {
	registry := factory.NewRegistry(factory.WithLogger(s.logger))

	options := []func(*passthrough.Options){passthrough.WithLogger(s.logger)}
	if s.cfg.Encoder.Async {
		options = append(options, passthrough.WithAsync(s.cfg.Encoder.QueueSize))
	}
	if s.cfg.Encoder.QpLow > 0 && s.cfg.Encoder.QpHigh > 0 {
		options = append(options, passthrough.WithQualityScaling(s.cfg.Encoder.QpLow, s.cfg.Encoder.QpHigh))
	}

	err := registry.Register(factory.Format{Name: passthrough.DefaultImplementationName, CodecType: codec}, func() videoencoder.VideoEncoder {
		s.software = passthrough.New(options...)
		return s.software
	})
	if err != nil {
		return nil, err
	}

	if s.cfg.Encoder.Hardware {
		hwOptions := append(options[:len(options):len(options)], passthrough.WithHardware(hardwareName))
		err = registry.Register(factory.Format{Name: hardwareName, CodecType: codec, Hardware: true}, func() videoencoder.VideoEncoder {
			s.hardware = &flakyEncoder{
				Encoder:   passthrough.New(hwOptions...),
				failAfter: int64(s.cfg.Encoder.FailAfterFrames),
			}
			return s.hardware
		})
		if err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (s *session) run(ctx context.Context) (*report, error) {
	settings := s.cfg.CodecSettings()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	registry, err := s.newRegistry(settings.CodecType)
	if err != nil {
		return nil, err
	}
	enc, err := registry.Create(settings.CodecType)
	if err != nil {
		return nil, err
	}

	transport := &countingTransport{}
	sinkOptions := []func(*rtpsink.Options){
		rtpsink.WithMTU(s.cfg.RTP.MTU),
		rtpsink.WithQueueLimits(s.cfg.RTP.HighWatermark, s.cfg.RTP.MaxQueued),
		rtpsink.WithLogger(s.logger),
	}
	if s.cfg.RTP.SSRC != 0 {
		sinkOptions = append(sinkOptions, rtpsink.WithSSRC(s.cfg.RTP.SSRC))
	}
	sink := rtpsink.New(settings.CodecType, transport, sinkOptions...)
	gate := videoencoder.NewFrameGate(sink)

	if err := enc.InitEncode(settings, s.cfg.Encoder.Cores, s.cfg.Encoder.MaxPayloadSize); err != nil {
		return nil, fmt.Errorf("init encoder: %w", err)
	}
	defer enc.Release()

	if err := enc.RegisterEncodeCompleteCallback(gate); err != nil {
		return nil, err
	}

	info := enc.GetEncoderInfo()
	s.logger.Info("session started",
		"codec", settings.CodecType,
		"implementation", info.ImplementationName,
		"hardware", info.IsHardwareAccelerated,
		"layers", settings.NumSpatialLayers(),
		"frames", s.cfg.Frames)

	rates := s.cfg.RateSteps()
	feedback := s.cfg.FeedbackSteps()
	rep := &report{Codec: string(settings.CodecType)}

	ticks := uint32(rtpsink.DefaultClockRate / settings.MaxFramerate)
	frameUs := int64(1e6 / settings.MaxFramerate)

	for i := 0; i < s.cfg.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for len(rates) > 0 && rates[0].AtFrame <= i {
			params := rates[0].Parameters()
			if err := enc.SetRates(params); err != nil {
				return nil, fmt.Errorf("rates at frame %d: %w", rates[0].AtFrame, err)
			}
			s.logger.V(1).Info("rates updated", "frame", i, "bitrate", params.Bitrate.String(), "fps", params.FramerateFps)
			rates = rates[1:]
		}
		for len(feedback) > 0 && feedback[0].AtFrame <= i {
			if feedback[0].PacketLoss != nil {
				enc.OnPacketLossRateUpdate(*feedback[0].PacketLoss)
			}
			if feedback[0].RttMs != nil {
				enc.OnRttUpdate(*feedback[0].RttMs)
			}
			feedback = feedback[1:]
		}

		rep.FramesIn++
		if !gate.Admit() {
			continue
		}

		frame := &videoencoder.VideoFrame{
			ID:           uint16(i),
			TimestampRTP: uint32(i) * ticks,
			TimestampUs:  int64(i) * frameUs,
			Buffer:       syntheticPicture(settings.Width, settings.Height, i),
		}
		err := enc.Encode(frame, nil)
		switch {
		case errors.Is(err, videoencoder.ErrResourceExhausted):
			rep.Rejected++
		case err != nil:
			return nil, fmt.Errorf("encode frame %d: %w", i, err)
		}

		if _, err := sink.Drain(s.cfg.RTP.DrainPerFrame); err != nil {
			return nil, err
		}
		if stats := sink.Stats(); stats.Queued == 0 {
			sink.Acknowledge(sink.FrameID(frame.TimestampRTP))
		}
	}

	if f, ok := enc.(interface{ Flush() }); ok {
		f.Flush()
	}
	if _, err := sink.Drain(0); err != nil {
		return nil, err
	}

	info = enc.GetEncoderInfo()
	rep.Implementation = info.ImplementationName
	if fb, ok := enc.(*fallback.Encoder); ok {
		rep.Fallback = fb.UsingFallback()
	}
	rep.Suppressed = gate.Suppressed()

	stats := sink.Stats()
	rep.FramesSent = stats.FramesSent
	rep.FramesDiscard = stats.FramesDiscarded
	rep.KeyFramesSent = stats.KeyFramesSent
	rep.PacketsSent = stats.PacketsSent
	rep.BytesSent = stats.BytesSent
	rep.Dropped = make(map[string]uint64, len(stats.DroppedFrames))
	for reason, n := range stats.DroppedFrames {
		rep.Dropped[reason.String()] = n
	}

	transport.mu.Lock()
	rep.Streams = len(transport.ssrcs)
	transport.mu.Unlock()

	if s.hardware != nil {
		rep.Encoders = append(rep.Encoders, newEncoderReport(s.hardware.Encoder))
	}
	if s.software != nil {
		rep.Encoders = append(rep.Encoders, newEncoderReport(s.software))
	}

	s.logger.Info("session finished",
		"implementation", rep.Implementation,
		"fallback", rep.Fallback,
		"framesSent", rep.FramesSent,
		"packetsSent", rep.PacketsSent)
	return rep, nil
}

func newEncoderReport(enc *passthrough.Encoder) encoderReport {
	info := enc.GetEncoderInfo()
	stats := enc.Stats()
	return encoderReport{
		Implementation: info.ImplementationName,
		Hardware:       info.IsHardwareAccelerated,
		FramesEncoded:  stats.FramesEncoded,
		KeyFrames:      stats.KeyFrames,
		LayerBitrates:  stats.LayerBitrates,
	}
}

// syntheticPicture is a moving luma gradient.
func syntheticPicture(width, height, index int) *videoencoder.I420Buffer {
	buf := videoencoder.NewI420Buffer(width, height)
	for y := 0; y < height; y++ {
		row := buf.Y[y*width : (y+1)*width]
		for x := range row {
			row[x] = byte(x + y + index)
		}
	}
	for i := range buf.U {
		buf.U[i], buf.V[i] = 128, 128
	}
	return buf
}
