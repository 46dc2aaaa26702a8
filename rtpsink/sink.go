// Package rtpsink is an EncodedImageCallback that packetizes encoded frames
// into RTP and queues them for a transport. It reports the RTP timestamp as
// the frame id and asks the encoder's caller to skip frames while the send
// queue is backed up.
package rtpsink

import (
	"fmt"
	"sync"

	"github.com/gammazero/deque"
	"github.com/go-logr/logr"
	"github.com/google/btree"
	"github.com/jiyeyuran/videoencoder"
	"github.com/jiyeyuran/videoencoder/internal/rtc"
	"github.com/jiyeyuran/videoencoder/internal/util"
	"github.com/pion/randutil"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const (
	DefaultMTU            = 1200
	DefaultPayloadType    = 96
	DefaultClockRate      = 90000
	DefaultHighWatermark  = 256
	DefaultMaxQueued      = 1024
	DefaultMaxOutstanding = 512
)

type Transport interface {
	WriteRTP(packet *rtp.Packet) error
}

type TransportFunc func(packet *rtp.Packet) error

func (f TransportFunc) WriteRTP(packet *rtp.Packet) error {
	return f(packet)
}

type Options struct {
	MTU         int
	PayloadType uint8
	// SSRC of spatial layer 0; layer i is sent with SSRC+i.
	SSRC      uint32
	ClockRate uint32
	// TimestampOffset is added to every frame timestamp. Random by default.
	TimestampOffset *uint32
	// HighWatermark is the queued packet count above which the encoder's
	// caller is asked to drop the next frame.
	HighWatermark int
	// MaxQueued is the queued packet count a frame may not exceed; such a
	// frame is discarded and reported as not sent.
	MaxQueued      int
	MaxOutstanding int
	Logger         logr.Logger
}

func WithMTU(mtu int) func(*Options) {
	return func(o *Options) {
		o.MTU = mtu
	}
}

func WithSSRC(ssrc uint32) func(*Options) {
	return func(o *Options) {
		o.SSRC = ssrc
	}
}

func WithTimestampOffset(offset uint32) func(*Options) {
	return func(o *Options) {
		o.TimestampOffset = &offset
	}
}

func WithQueueLimits(highWatermark, maxQueued int) func(*Options) {
	return func(o *Options) {
		o.HighWatermark = highWatermark
		o.MaxQueued = maxQueued
	}
}

func WithLogger(logger logr.Logger) func(*Options) {
	return func(o *Options) {
		o.Logger = logger
	}
}

type Stats struct {
	PacketsSent     uint64
	BytesSent       uint64
	FramesSent      uint64
	FramesDiscarded uint64
	// KeyFramesSent counts key frames whose last packet was written.
	KeyFramesSent    uint64
	LayerPacketsSent [videoencoder.MaxSpatialLayers]uint64
	// DroppedFrames counts encoder drop notifications per reason.
	DroppedFrames map[videoencoder.DropReason]uint64
	Queued        int
	Outstanding   int
}

type layerStream struct {
	packetizer rtp.Packetizer
	seq        *rtc.SeqManager[uint16]
}

type Sink struct {
	codec     videoencoder.CodecType
	options   Options
	transport Transport
	logger    logr.Logger
	offset    uint32

	mu          sync.Mutex
	layers      [videoencoder.MaxSpatialLayers]*layerStream
	queue       deque.Deque[*rtc.RtpPacket]
	outstanding *btree.BTreeG[uint32]
	stats       Stats
}

func New(codec videoencoder.CodecType, transport Transport, options ...func(*Options)) *Sink {
	opts := Options{
		MTU:            DefaultMTU,
		PayloadType:    DefaultPayloadType,
		SSRC:           randutil.NewMathRandomGenerator().Uint32(),
		ClockRate:      DefaultClockRate,
		HighWatermark:  DefaultHighWatermark,
		MaxQueued:      DefaultMaxQueued,
		MaxOutstanding: DefaultMaxOutstanding,
		Logger:         videoencoder.Logger,
	}
	for _, option := range options {
		option(&opts)
	}

	s := &Sink{
		codec:     codec,
		options:   opts,
		transport: transport,
		logger:    opts.Logger.WithName("rtpsink").WithValues("codec", codec),
		outstanding: btree.NewG(8, func(a, b uint32) bool {
			return rtc.IsSeqLowerThan(a, b)
		}),
		stats: Stats{DroppedFrames: make(map[videoencoder.DropReason]uint64)},
	}
	if opts.TimestampOffset != nil {
		s.offset = *opts.TimestampOffset
	} else {
		s.offset = randutil.NewMathRandomGenerator().Uint32()
	}
	return s
}

func newPayloader(codec videoencoder.CodecType) rtp.Payloader {
	switch codec {
	case videoencoder.CodecVP8:
		return &codecs.VP8Payloader{EnablePictureID: true}
	case videoencoder.CodecVP9:
		return &codecs.VP9Payloader{}
	case videoencoder.CodecH264:
		return &codecs.H264Payloader{}
	default:
		return fragmentPayloader{}
	}
}

// fragmentPayloader splits a frame into MTU sized pieces without a payload
// header.
type fragmentPayloader struct{}

func (fragmentPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if mtu == 0 || len(payload) == 0 {
		return nil
	}
	var out [][]byte
	for len(payload) > 0 {
		n := min(int(mtu), len(payload))
		out = append(out, append([]byte(nil), payload[:n]...))
		payload = payload[n:]
	}
	return out
}

func (s *Sink) layer(spatialIndex int) (*layerStream, error) {
	if spatialIndex < 0 || spatialIndex >= videoencoder.MaxSpatialLayers {
		return nil, fmt.Errorf("%w: spatial index %d", videoencoder.ErrInvalidParameter, spatialIndex)
	}
	if l := s.layers[spatialIndex]; l != nil {
		return l, nil
	}
	l := &layerStream{
		packetizer: rtp.NewPacketizer(
			util.SaturatingCast[uint16](int64(s.options.MTU)),
			s.options.PayloadType,
			s.options.SSRC+uint32(spatialIndex),
			newPayloader(s.codec),
			rtp.NewRandomSequencer(),
			s.options.ClockRate,
		),
		seq: rtc.NewSeqManager[uint16](),
	}
	s.layers[spatialIndex] = l
	return l, nil
}

// FrameID is the RTP timestamp a frame with the given media timestamp is sent
// with.
func (s *Sink) FrameID(timestampRTP uint32) uint32 {
	return s.offset + timestampRTP
}

func (s *Sink) OnEncodedImage(image *videoencoder.EncodedImage, info *videoencoder.CodecSpecificInfo) videoencoder.EncodedImageCallbackResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, err := s.layer(image.SpatialIndex)
	if err != nil {
		s.logger.Error(err, "cannot send frame")
		return videoencoder.NewSendFailedResult()
	}

	packets := stream.packetizer.Packetize(image.Data, 0)
	if len(packets) == 0 {
		s.stats.FramesDiscarded++
		s.logger.V(1).Info("frame produced no packets", "timestamp", image.TimestampRTP, "size", len(image.Data))
		return videoencoder.NewSendFailedResult()
	}

	if s.queue.Len()+len(packets) > s.options.MaxQueued {
		// Keep the outgoing sequence contiguous.
		for _, packet := range packets {
			stream.seq.Drop(packet.SequenceNumber)
		}
		s.stats.FramesDiscarded++
		s.logger.V(1).Info("send queue full, frame discarded", "queued", s.queue.Len(), "packets", len(packets))
		result := videoencoder.NewSendFailedResult()
		result.DropNextFrame = true
		return result
	}

	frameID := s.FrameID(image.TimestampRTP)
	keyFrame := image.FrameType == videoencoder.VideoFrameKey
	for _, packet := range packets {
		packet.Timestamp = frameID
		if seq, ok := stream.seq.Input(packet.SequenceNumber); ok {
			packet.SequenceNumber = seq
		}
		s.queue.PushBack(rtc.NewRtpPacket(packet, image.SpatialIndex, image.TemporalIndex, keyFrame))
	}

	s.outstanding.ReplaceOrInsert(frameID)
	for s.outstanding.Len() > s.options.MaxOutstanding {
		s.outstanding.DeleteMin()
	}
	s.stats.FramesSent++

	result := videoencoder.NewResult(frameID)
	result.DropNextFrame = s.queue.Len() > s.options.HighWatermark
	return result
}

func (s *Sink) OnDroppedFrame(reason videoencoder.DropReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.DroppedFrames[reason]++
}

// Drain writes up to limit queued packets to the transport, all of them when
// limit <= 0. It stops at the first write error; the failed packet is lost.
func (s *Sink) Drain(limit int) (int, error) {
	sent := 0
	for limit <= 0 || sent < limit {
		s.mu.Lock()
		if s.queue.Len() == 0 {
			s.mu.Unlock()
			break
		}
		packet := s.queue.PopFront()
		s.mu.Unlock()

		if err := s.transport.WriteRTP(packet.Packet); err != nil {
			s.logger.Error(err, "write rtp",
				"ssrc", packet.GetSsrc(),
				"seq", packet.GetSequenceNumber(),
				"frameId", packet.GetFrameID(),
				"spatialIndex", packet.SpatialIndex,
				"temporalIndex", packet.TemporalIndex)
			return sent, err
		}

		s.mu.Lock()
		s.stats.PacketsSent++
		s.stats.BytesSent += uint64(packet.Size())
		s.stats.LayerPacketsSent[packet.SpatialIndex]++
		if packet.IsKeyFrame() && packet.Marker {
			s.stats.KeyFramesSent++
		}
		s.mu.Unlock()
		sent++
	}
	return sent, nil
}

// Acknowledge marks frameID and every older frame as delivered.
func (s *Sink) Acknowledge(frameID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		oldest, ok := s.outstanding.Min()
		if !ok || rtc.IsSeqHigherThan(oldest, frameID) {
			return
		}
		s.outstanding.DeleteMin()
	}
}

// OutstandingFrames lists the frame ids sent and not acknowledged, oldest
// first.
func (s *Sink) OutstandingFrames() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint32, 0, s.outstanding.Len())
	s.outstanding.Ascend(func(id uint32) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.DroppedFrames = make(map[videoencoder.DropReason]uint64, len(s.stats.DroppedFrames))
	for reason, n := range s.stats.DroppedFrames {
		stats.DroppedFrames[reason] = n
	}
	stats.Queued = s.queue.Len()
	stats.Outstanding = s.outstanding.Len()
	return stats
}
