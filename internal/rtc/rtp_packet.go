package rtc

import (
	"github.com/pion/rtp"
)

// RtpPacket is an outgoing packet together with the encoder metadata of the
// frame it carries.
type RtpPacket struct {
	*rtp.Packet
	SpatialIndex  int
	TemporalIndex int
	keyFrame      bool
}

func NewRtpPacket(packet *rtp.Packet, spatialIndex, temporalIndex int, keyFrame bool) *RtpPacket {
	return &RtpPacket{
		Packet:        packet,
		SpatialIndex:  spatialIndex,
		TemporalIndex: temporalIndex,
		keyFrame:      keyFrame,
	}
}

func (p RtpPacket) GetSequenceNumber() uint16 {
	return p.SequenceNumber
}

func (p RtpPacket) GetSsrc() uint32 {
	return p.SSRC
}

// GetFrameID is the RTP timestamp, the id the receiver reports frames by.
func (p RtpPacket) GetFrameID() uint32 {
	return p.Timestamp
}

func (p RtpPacket) IsKeyFrame() bool {
	return p.keyFrame
}

func (p RtpPacket) Size() int {
	return p.MarshalSize()
}
