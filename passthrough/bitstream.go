package passthrough

import (
	"github.com/jiyeyuran/videoencoder"
)

const (
	h264NalIDR   = 0x65 // nal_ref_idc 3, type 5
	h264NalSlice = 0x41 // nal_ref_idc 2, type 1

	emulationPrevention = 0x03
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// payload fills size bytes with the luma plane, framed the way the codec's
// RTP payloader expects to find it.
func payload(codec videoencoder.CodecType, frame *videoencoder.VideoFrame, size int, keyFrame bool) []byte {
	var picture []byte
	if buf, ok := frame.Buffer.(*videoencoder.I420Buffer); ok {
		picture = buf.Y
	}

	switch codec {
	case videoencoder.CodecH264:
		header := byte(h264NalSlice)
		if keyFrame {
			header = h264NalIDR
		}
		return annexB(header, picture, size)
	default:
		data := make([]byte, size)
		copy(data, picture)
		return data
	}
}

// annexB writes one NAL unit of size bytes behind a start code. The body is
// escaped so that it never contains a start code of its own.
func annexB(header byte, body []byte, size int) []byte {
	size = max(size, len(annexBStartCode)+2)

	data := make([]byte, 0, size)
	data = append(data, annexBStartCode...)
	data = append(data, header)

	zeros := 0
	for i := 0; len(data) < size; {
		var b byte
		if i < len(body) {
			b = body[i]
		}
		if zeros == 2 && b <= emulationPrevention {
			data = append(data, emulationPrevention)
			zeros = 0
			continue
		}
		data = append(data, b)
		i++
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return data
}
