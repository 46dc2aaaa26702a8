package passthrough

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/jiyeyuran/videoencoder"
)

const (
	DefaultImplementationName    = "passthrough"
	DefaultQueueSize             = 8
	DefaultKeyFrameLossThreshold = 0.3
	DefaultOvershootFactor       = 2.0
	// DefaultKeyFrameSizeFactor is how much larger than a delta frame budget
	// a key frame payload is.
	DefaultKeyFrameSizeFactor = 3
	// DefaultRateWindowMs is the window of the internal rate limiter.
	DefaultRateWindowMs = 1000
)

type Options struct {
	ImplementationName    string
	Hardware              bool
	SupportsNativeHandle  bool
	TrustedRateController bool
	ScalingSettings       videoencoder.ScalingSettings

	// Async defers encoding to one worker goroutine. The callback is then
	// invoked from that goroutine.
	Async     bool
	QueueSize int

	// MinCores is the number of cores InitEncode requires.
	MinCores int
	// MaxBufferedBytes limits the raw bytes the encoder may hold, 0 means
	// unlimited.
	MaxBufferedBytes int

	KeyFrameRequestDelay  time.Duration
	KeyFrameLossThreshold float32
	KeyFrameSizeFactor    int
	OvershootFactor       float64
	RateWindowMs          uint64

	Logger logr.Logger
}

func defaultOptions() Options {
	return Options{
		ImplementationName:    DefaultImplementationName,
		ScalingSettings:       videoencoder.ScalingSettingsOff,
		QueueSize:             DefaultQueueSize,
		MinCores:              1,
		KeyFrameLossThreshold: DefaultKeyFrameLossThreshold,
		KeyFrameSizeFactor:    DefaultKeyFrameSizeFactor,
		OvershootFactor:       DefaultOvershootFactor,
		RateWindowMs:          DefaultRateWindowMs,
		Logger:                videoencoder.Logger,
	}
}

func WithAsync(queueSize int) func(*Options) {
	return func(o *Options) {
		o.Async = true
		if queueSize > 0 {
			o.QueueSize = queueSize
		}
	}
}

func WithHardware(implementationName string) func(*Options) {
	return func(o *Options) {
		o.Hardware = true
		o.SupportsNativeHandle = true
		o.TrustedRateController = true
		if implementationName != "" {
			o.ImplementationName = implementationName
		}
	}
}

func WithImplementationName(name string) func(*Options) {
	return func(o *Options) {
		o.ImplementationName = name
	}
}

// WithQualityScaling enables QP based scaling with the given thresholds.
func WithQualityScaling(low, high int) func(*Options) {
	return func(o *Options) {
		o.ScalingSettings = videoencoder.NewScalingSettings(low, high)
	}
}

func WithResourceLimits(minCores, maxBufferedBytes int) func(*Options) {
	return func(o *Options) {
		o.MinCores = minCores
		o.MaxBufferedBytes = maxBufferedBytes
	}
}

func WithKeyFrameRequestDelay(delay time.Duration) func(*Options) {
	return func(o *Options) {
		o.KeyFrameRequestDelay = delay
	}
}

func WithLogger(logger logr.Logger) func(*Options) {
	return func(o *Options) {
		o.Logger = logger
	}
}
