// Package config describes an encoding session in YAML.
package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/jiyeyuran/videoencoder"
	"gopkg.in/yaml.v3"
)

// Config represents a full encoding session.
type Config struct {
	// Source
	Codec     string  `yaml:"codec"`
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	Framerate float64 `yaml:"framerate"`
	Frames    int     `yaml:"frames"`

	// Encoder
	Encoder EncoderConfig `yaml:"encoder"`
	Layers  []LayerConfig `yaml:"layers,omitempty"`

	// Rate and feedback changes, applied before the frame they name.
	Rates    []RateStep     `yaml:"rates,omitempty"`
	Feedback []FeedbackStep `yaml:"feedback,omitempty"`

	// Output
	RTP RTPConfig `yaml:"rtp"`
	Log LogConfig `yaml:"log"`
}

type EncoderConfig struct {
	Cores            int  `yaml:"cores"`
	MaxPayloadSize   int  `yaml:"max_payload_size"`
	StartBitrateKbps int  `yaml:"start_bitrate_kbps"`
	MaxBitrateKbps   int  `yaml:"max_bitrate_kbps"`
	MinBitrateKbps   int  `yaml:"min_bitrate_kbps"`
	QpMax            int  `yaml:"qp_max"`
	KeyFrameInterval int  `yaml:"key_frame_interval"`
	Screenshare      bool `yaml:"screenshare"`
	Async            bool `yaml:"async"`
	QueueSize        int  `yaml:"queue_size"`
	// Hardware puts a hardware encoder in front of the software one.
	Hardware bool `yaml:"hardware"`
	// FailAfterFrames makes the hardware encoder fail, 0 means never.
	FailAfterFrames int `yaml:"fail_after_frames"`
	QpLow           int `yaml:"qp_low"`
	QpHigh          int `yaml:"qp_high"`
}

type LayerConfig struct {
	Width             int     `yaml:"width"`
	Height            int     `yaml:"height"`
	MaxFramerate      float64 `yaml:"max_framerate"`
	TemporalLayers    int     `yaml:"temporal_layers"`
	TargetBitrateKbps int     `yaml:"target_bitrate_kbps"`
	MaxBitrateKbps    int     `yaml:"max_bitrate_kbps"`
	MinBitrateKbps    int     `yaml:"min_bitrate_kbps"`
	Active            *bool   `yaml:"active"`
}

// RateStep sets the target from AtFrame on. Bitrates holds kbps per spatial
// layer, then per temporal layer.
type RateStep struct {
	AtFrame   int       `yaml:"at_frame"`
	Bitrates  [][]int64 `yaml:"bitrates_kbps"`
	Framerate float64   `yaml:"framerate"`
}

type FeedbackStep struct {
	AtFrame    int      `yaml:"at_frame"`
	PacketLoss *float32 `yaml:"packet_loss"`
	RttMs      *int64   `yaml:"rtt_ms"`
}

type RTPConfig struct {
	MTU           int    `yaml:"mtu"`
	SSRC          uint32 `yaml:"ssrc"`
	HighWatermark int    `yaml:"high_watermark"`
	MaxQueued     int    `yaml:"max_queued"`
	// DrainPerFrame is how many packets the pacer sends per frame interval,
	// 0 sends everything.
	DrainPerFrame int `yaml:"drain_per_frame"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a single layer VP8 session at 640x360.
func Defaults() Config {
	return Config{
		Codec:     string(videoencoder.CodecVP8),
		Width:     640,
		Height:    360,
		Framerate: 30,
		Frames:    300,

		Encoder: EncoderConfig{
			Cores:            1,
			MaxPayloadSize:   1200,
			StartBitrateKbps: 500,
			MaxBitrateKbps:   2000,
			MinBitrateKbps:   30,
			QpMax:            56,
			KeyFrameInterval: 3000,
			QueueSize:        8,
		},

		RTP: RTPConfig{
			MTU:           1200,
			HighWatermark: 256,
			MaxQueued:     1024,
		},

		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", videoencoder.ErrInvalidParameter, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Frames < 0 {
		return fmt.Errorf("%w: frames %d", videoencoder.ErrInvalidParameter, c.Frames)
	}
	for i, step := range c.Rates {
		if step.AtFrame < 0 {
			return fmt.Errorf("%w: rate step %d at frame %d", videoencoder.ErrInvalidParameter, i, step.AtFrame)
		}
		if len(step.Bitrates) > videoencoder.MaxSpatialLayers {
			return fmt.Errorf("%w: rate step %d has %d spatial layers", videoencoder.ErrInvalidParameter, i, len(step.Bitrates))
		}
		for _, layer := range step.Bitrates {
			if len(layer) > videoencoder.MaxTemporalStreams {
				return fmt.Errorf("%w: rate step %d has %d temporal layers", videoencoder.ErrInvalidParameter, i, len(layer))
			}
		}
		if err := step.Parameters().Validate(); err != nil {
			return fmt.Errorf("rate step %d: %w", i, err)
		}
	}
	settings := c.CodecSettings()
	return settings.Validate()
}

// CodecSettings is the InitEncode configuration of the session.
func (c Config) CodecSettings() *videoencoder.CodecSettings {
	settings := &videoencoder.CodecSettings{
		CodecType:        videoencoder.ParseCodecType(c.Codec),
		Width:            c.Width,
		Height:           c.Height,
		StartBitrateKbps: c.Encoder.StartBitrateKbps,
		MaxBitrateKbps:   c.Encoder.MaxBitrateKbps,
		MinBitrateKbps:   c.Encoder.MinBitrateKbps,
		MaxFramerate:     c.Framerate,
		QpMax:            c.Encoder.QpMax,
		KeyFrameInterval: c.Encoder.KeyFrameInterval,
		Mode:             videoencoder.RealtimeVideo,
	}
	if c.Encoder.Screenshare {
		settings.Mode = videoencoder.Screensharing
	}
	for _, layer := range c.Layers {
		active := layer.Active == nil || *layer.Active
		settings.SpatialLayers = append(settings.SpatialLayers, videoencoder.SpatialLayer{
			Width:             layer.Width,
			Height:            layer.Height,
			MaxFramerate:      layer.MaxFramerate,
			NumTemporalLayers: layer.TemporalLayers,
			MaxBitrateKbps:    layer.MaxBitrateKbps,
			TargetBitrateKbps: layer.TargetBitrateKbps,
			MinBitrateKbps:    layer.MinBitrateKbps,
			Active:            active,
		})
	}
	return settings
}

// Parameters converts the step to a rate target.
func (s RateStep) Parameters() videoencoder.RateControlParameters {
	var alloc videoencoder.BitrateAllocation
	for sid, layer := range s.Bitrates {
		for tid, kbps := range layer {
			alloc.SetBitrate(sid, tid, kbps*1000)
		}
	}
	return videoencoder.RateControlParameters{
		Bitrate:      alloc,
		FramerateFps: s.Framerate,
	}.Normalize()
}

// RateSteps returns the rate steps ordered by frame.
func (c Config) RateSteps() []RateStep {
	steps := append([]RateStep(nil), c.Rates...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].AtFrame < steps[j].AtFrame })
	return steps
}

// FeedbackSteps returns the feedback steps ordered by frame.
func (c Config) FeedbackSteps() []FeedbackStep {
	steps := append([]FeedbackStep(nil), c.Feedback...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].AtFrame < steps[j].AtFrame })
	return steps
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
