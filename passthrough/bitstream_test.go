package passthrough

import (
	"bytes"
	"testing"

	"github.com/jiyeyuran/videoencoder"
	"github.com/stretchr/testify/require"
)

func TestPayloadH264(t *testing.T) {
	frame := &videoencoder.VideoFrame{Buffer: videoencoder.NewI420Buffer(16, 16)}
	buf := frame.Buffer.(*videoencoder.I420Buffer)
	for i := range buf.Y {
		buf.Y[i] = byte(i % 5)
	}

	testCases := []struct {
		name     string
		size     int
		keyFrame bool
		header   byte
	}{
		{"key frame", 300, true, h264NalIDR},
		{"delta frame", 300, false, h264NalSlice},
		{"longer than the picture", 1000, false, h264NalSlice},
		{"tiny budget", 1, true, h264NalIDR},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := payload(videoencoder.CodecH264, frame, tc.size, tc.keyFrame)

			require.Equal(t, max(tc.size, 6), len(data))
			require.Equal(t, annexBStartCode, data[:4])
			require.Equal(t, tc.header, data[4])

			body := data[5:]
			require.Equal(t, -1, bytes.Index(body, []byte{0, 0, 1}))
			require.Equal(t, -1, bytes.Index(body, []byte{0, 0, 0}))
		})
	}
}

func TestPayloadEscapesStartCodes(t *testing.T) {
	data := annexB(h264NalSlice, []byte{0, 0, 1, 7, 0, 0, 0, 9}, 5+11)
	require.Equal(t, []byte{0, 0, 3, 1, 7, 0, 0, 3, 0, 9, 0}, data[5:])
}

func TestPayloadOtherCodecs(t *testing.T) {
	frame := &videoencoder.VideoFrame{Buffer: videoencoder.NewI420Buffer(4, 4)}
	buf := frame.Buffer.(*videoencoder.I420Buffer)
	for i := range buf.Y {
		buf.Y[i] = byte(i + 1)
	}

	for _, codec := range []videoencoder.CodecType{videoencoder.CodecVP8, videoencoder.CodecVP9, videoencoder.CodecAV1} {
		data := payload(codec, frame, 20, true)
		require.Len(t, data, 20, "%s", codec)
		require.Equal(t, buf.Y, data[:16], "%s", codec)
		require.Equal(t, make([]byte, 4), data[16:], "%s", codec)
	}
}
