// Package fallback switches a session from a primary (usually hardware)
// encoder to a software one when the primary fails.
package fallback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/jiyeyuran/videoencoder"
)

type Listener interface {
	OnFallback(encoder *Encoder, reason error)
}

// Encoder forwards to the primary encoder until it reports ErrInternal, or
// fails InitEncode for any reason other than bad parameters. From then on the
// fallback encoder is configured with the same settings, callback, rates and
// feedback, and serves the session until Release. GetEncoderInfo always
// describes the encoder currently in use.
type Encoder struct {
	primary   videoencoder.VideoEncoder
	secondary videoencoder.VideoEncoder
	listener  Listener
	logger    logr.Logger

	mu            sync.Mutex
	active        videoencoder.VideoEncoder
	usingFallback atomic.Bool
	config        *videoencoder.EncoderConfig
	callback      videoencoder.EncodedImageCallback
	rates         *videoencoder.RateControlParameters
	lossRate      *float32
	rttMs         *int64
}

func WithListener(listener Listener) func(*Encoder) {
	return func(e *Encoder) {
		e.listener = listener
	}
}

func WithLogger(logger logr.Logger) func(*Encoder) {
	return func(e *Encoder) {
		e.logger = logger
	}
}

func New(primary, secondary videoencoder.VideoEncoder, options ...func(*Encoder)) *Encoder {
	e := &Encoder{
		primary:   primary,
		secondary: secondary,
		active:    primary,
		logger:    videoencoder.Logger,
	}
	for _, option := range options {
		option(e)
	}
	e.logger = e.logger.WithName("fallback")
	return e
}

// UsingFallback reports whether the secondary encoder is serving the session.
func (e *Encoder) UsingFallback() bool {
	return e.usingFallback.Load()
}

func (e *Encoder) current() videoencoder.VideoEncoder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Encoder) InitEncode(settings *videoencoder.CodecSettings, numberOfCores int, maxPayloadSize int) error {
	e.mu.Lock()

	// Every new configuration gives the primary another chance.
	if e.usingFallback.Load() {
		_ = e.secondary.Release()
		e.active = e.primary
		e.usingFallback.Store(false)
	}

	err := e.primary.InitEncode(settings, numberOfCores, maxPayloadSize)
	if errors.Is(err, videoencoder.ErrInvalidParameter) {
		e.mu.Unlock()
		return err
	}

	e.config = &videoencoder.EncoderConfig{
		Settings:       settings.Clone(),
		NumberOfCores:  numberOfCores,
		MaxPayloadSize: maxPayloadSize,
	}
	e.rates = nil
	if err == nil {
		e.mu.Unlock()
		return nil
	}

	switchErr := e.switchToFallbackLocked(err)
	if switchErr != nil {
		e.config = nil
	}
	e.mu.Unlock()

	if switchErr != nil {
		return switchErr
	}
	e.notifyFallback(err)
	return nil
}

func (e *Encoder) RegisterEncodeCompleteCallback(callback videoencoder.EncodedImageCallback) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.active.RegisterEncodeCompleteCallback(callback); err != nil {
		return err
	}
	e.callback = callback
	return nil
}

func (e *Encoder) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.primary.Release()
	if e.usingFallback.Load() {
		err = errors.Join(err, e.secondary.Release())
	}
	e.config = nil
	e.callback = nil
	e.rates = nil
	return err
}

func (e *Encoder) Encode(frame *videoencoder.VideoFrame, frameTypes []videoencoder.VideoFrameType) error {
	active := e.current()
	err := active.Encode(frame, frameTypes)
	if err == nil || !videoencoder.IsFatal(err) || active != e.primary {
		return err
	}

	e.mu.Lock()
	switchErr := e.switchToFallbackLocked(err)
	e.mu.Unlock()
	if switchErr != nil {
		return switchErr
	}
	e.notifyFallback(err)

	// The fallback starts its stream with this frame.
	return e.secondary.Encode(frame, []videoencoder.VideoFrameType{videoencoder.VideoFrameKey})
}

// switchToFallbackLocked moves the stored session state to the secondary
// encoder. e.mu must be held.
func (e *Encoder) switchToFallbackLocked(reason error) error {
	if e.usingFallback.Load() {
		return nil
	}
	if e.config == nil {
		return fmt.Errorf("%w: no configuration to fall back with: %v", videoencoder.ErrInternal, reason)
	}

	e.logger.Info("switching to fallback encoder",
		"reason", reason.Error(),
		"from", e.primary.GetEncoderInfo().ImplementationName,
		"to", e.secondary.GetEncoderInfo().ImplementationName)

	_ = e.primary.Release()

	config := e.config
	if err := e.secondary.InitEncode(config.Settings, config.NumberOfCores, config.MaxPayloadSize); err != nil {
		e.logger.Error(err, "fallback encoder failed to initialize")
		return fmt.Errorf("%w: fallback init failed after %v: %v", videoencoder.ErrInternal, reason, err)
	}
	if e.callback != nil {
		if err := e.secondary.RegisterEncodeCompleteCallback(e.callback); err != nil {
			_ = e.secondary.Release()
			return fmt.Errorf("%w: fallback callback: %v", videoencoder.ErrInternal, err)
		}
	}
	if e.rates != nil {
		if err := e.secondary.SetRates(*e.rates); err != nil {
			e.logger.Error(err, "fallback encoder rejected rates")
		}
	}
	if e.lossRate != nil {
		e.secondary.OnPacketLossRateUpdate(*e.lossRate)
	}
	if e.rttMs != nil {
		e.secondary.OnRttUpdate(*e.rttMs)
	}

	e.active = e.secondary
	e.usingFallback.Store(true)
	return nil
}

func (e *Encoder) notifyFallback(reason error) {
	if e.listener != nil {
		e.listener.OnFallback(e, reason)
	}
}

func (e *Encoder) SetRates(params videoencoder.RateControlParameters) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.active.SetRates(params); err != nil {
		return err
	}
	e.rates = &params
	return nil
}

func (e *Encoder) OnPacketLossRateUpdate(packetLossRate float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lossRate = &packetLossRate
	e.active.OnPacketLossRateUpdate(packetLossRate)
}

func (e *Encoder) OnRttUpdate(rttMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rttMs = &rttMs
	e.active.OnRttUpdate(rttMs)
}

func (e *Encoder) GetEncoderInfo() videoencoder.EncoderInfo {
	return e.current().GetEncoderInfo()
}

// Flush waits for frames queued in the active encoder, when it queues any.
func (e *Encoder) Flush() {
	if f, ok := e.current().(interface{ Flush() }); ok {
		f.Flush()
	}
}
