package videoencoder

import (
	"fmt"
	"strings"
)

type CodecType string

const (
	CodecVP8     CodecType = "VP8"
	CodecVP9     CodecType = "VP9"
	CodecH264    CodecType = "H264"
	CodecAV1     CodecType = "AV1"
	CodecGeneric CodecType = "Generic"
)

// ParseCodecType is case insensitive; unknown names map to CodecGeneric.
func ParseCodecType(name string) CodecType {
	for _, c := range []CodecType{CodecVP8, CodecVP9, CodecH264, CodecAV1} {
		if strings.EqualFold(name, string(c)) {
			return c
		}
	}
	return CodecGeneric
}

type CodecMode int

const (
	RealtimeVideo CodecMode = iota
	Screensharing
)

// SpatialLayer describes one simulcast stream or SVC spatial layer.
type SpatialLayer struct {
	Width             int
	Height            int
	MaxFramerate      float64
	NumTemporalLayers int
	MaxBitrateKbps    int
	TargetBitrateKbps int
	MinBitrateKbps    int
	Active            bool
}

// CodecSettings is the configuration passed to InitEncode. It is held by the
// encoder until the next InitEncode or Release.
type CodecSettings struct {
	CodecType        CodecType
	Width            int
	Height           int
	StartBitrateKbps int
	MaxBitrateKbps   int
	MinBitrateKbps   int
	MaxFramerate     float64
	// QpMax is the highest quantizer the encoder may use.
	QpMax            int
	KeyFrameInterval int
	Mode             CodecMode
	// SpatialLayers lists simulcast streams or SVC layers, lowest first. An
	// empty list means a single layer matching Width x Height.
	SpatialLayers []SpatialLayer
}

// DefaultVP8Settings returns a single layer 320x240 VP8 configuration.
func DefaultVP8Settings() CodecSettings {
	return defaultSettings(CodecVP8, 3000)
}

// DefaultVP9Settings returns a single layer 320x240 VP9 configuration.
func DefaultVP9Settings() CodecSettings {
	return defaultSettings(CodecVP9, 3000)
}

// DefaultH264Settings returns a single layer 320x240 H.264 configuration.
func DefaultH264Settings() CodecSettings {
	return defaultSettings(CodecH264, 3000)
}

func defaultSettings(codec CodecType, keyFrameInterval int) CodecSettings {
	return CodecSettings{
		CodecType:        codec,
		Width:            320,
		Height:           240,
		StartBitrateKbps: 300,
		MaxBitrateKbps:   2000,
		MinBitrateKbps:   30,
		MaxFramerate:     30,
		QpMax:            56,
		KeyFrameInterval: keyFrameInterval,
	}
}

// NumSpatialLayers is at least 1.
func (s *CodecSettings) NumSpatialLayers() int {
	if len(s.SpatialLayers) == 0 {
		return 1
	}
	return len(s.SpatialLayers)
}

// Layer returns the effective description of spatial layer i, deriving it
// from the top level fields when no layers are listed.
func (s *CodecSettings) Layer(i int) SpatialLayer {
	if len(s.SpatialLayers) == 0 {
		if i != 0 {
			return SpatialLayer{}
		}
		return SpatialLayer{
			Width:             s.Width,
			Height:            s.Height,
			MaxFramerate:      s.MaxFramerate,
			NumTemporalLayers: 1,
			MaxBitrateKbps:    s.MaxBitrateKbps,
			TargetBitrateKbps: s.StartBitrateKbps,
			MinBitrateKbps:    s.MinBitrateKbps,
			Active:            true,
		}
	}
	if i < 0 || i >= len(s.SpatialLayers) {
		return SpatialLayer{}
	}
	layer := s.SpatialLayers[i]
	if layer.NumTemporalLayers < 1 {
		layer.NumTemporalLayers = 1
	}
	if layer.MaxFramerate <= 0 {
		layer.MaxFramerate = s.MaxFramerate
	}
	return layer
}

// Clone deep-copies the layer list.
func (s *CodecSettings) Clone() *CodecSettings {
	out := *s
	out.SpatialLayers = append([]SpatialLayer(nil), s.SpatialLayers...)
	return &out
}

func (s *CodecSettings) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil codec settings", ErrInvalidParameter)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidParameter, s.Width, s.Height)
	}
	if s.MaxFramerate <= 0 {
		return fmt.Errorf("%w: max framerate %v", ErrInvalidParameter, s.MaxFramerate)
	}
	if s.MinBitrateKbps < 0 || s.StartBitrateKbps < 0 || s.MaxBitrateKbps < 0 {
		return fmt.Errorf("%w: negative bitrate", ErrInvalidParameter)
	}
	if s.MaxBitrateKbps > 0 && s.MinBitrateKbps > s.MaxBitrateKbps {
		return fmt.Errorf("%w: min bitrate %d above max %d", ErrInvalidParameter, s.MinBitrateKbps, s.MaxBitrateKbps)
	}
	if len(s.SpatialLayers) > MaxSpatialLayers {
		return fmt.Errorf("%w: %d spatial layers, max %d", ErrInvalidParameter, len(s.SpatialLayers), MaxSpatialLayers)
	}
	for i, layer := range s.SpatialLayers {
		if layer.Width <= 0 || layer.Height <= 0 || layer.Width > s.Width || layer.Height > s.Height {
			return fmt.Errorf("%w: spatial layer %d resolution %dx%d", ErrInvalidParameter, i, layer.Width, layer.Height)
		}
		if layer.NumTemporalLayers < 0 || layer.NumTemporalLayers > MaxTemporalStreams {
			return fmt.Errorf("%w: spatial layer %d has %d temporal layers", ErrInvalidParameter, i, layer.NumTemporalLayers)
		}
		if layer.MaxBitrateKbps < 0 || layer.MinBitrateKbps < 0 || layer.TargetBitrateKbps < 0 {
			return fmt.Errorf("%w: spatial layer %d negative bitrate", ErrInvalidParameter, i)
		}
	}
	return nil
}
