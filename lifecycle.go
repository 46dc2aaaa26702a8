package videoencoder

import (
	"fmt"
	"sync"
)

type State int

const (
	StateUninitialized State = iota
	StateConfigured
	StateRunning
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EncoderConfig is what InitEncode stores until the next InitEncode or
// Release.
type EncoderConfig struct {
	Settings       *CodecSettings
	NumberOfCores  int
	MaxPayloadSize int
}

// Lifecycle is the legality guard shared by encoder implementations:
//
//	Uninitialized --InitEncode--> Configured --RegisterCallback--> Running
//	any --Release--> Released --InitEncode--> Configured
//
// A callback registered before the first InitEncode is kept, so the encoder
// goes straight to Running. Release drops both the configuration and the
// callback.
type Lifecycle struct {
	mu       sync.RWMutex
	state    State
	config   EncoderConfig
	callback EncodedImageCallback
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Configure validates the configuration and moves to Configured, or Running
// when a callback is already installed.
func (l *Lifecycle) Configure(settings *CodecSettings, numberOfCores int, maxPayloadSize int) (EncoderConfig, error) {
	if err := settings.Validate(); err != nil {
		return EncoderConfig{}, err
	}
	if numberOfCores < 1 {
		return EncoderConfig{}, fmt.Errorf("%w: number of cores %d", ErrInvalidParameter, numberOfCores)
	}
	if maxPayloadSize < 1 {
		return EncoderConfig{}, fmt.Errorf("%w: max payload size %d", ErrInvalidParameter, maxPayloadSize)
	}

	config := EncoderConfig{
		Settings:       settings.Clone(),
		NumberOfCores:  numberOfCores,
		MaxPayloadSize: maxPayloadSize,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.config = config
	if l.callback != nil {
		l.state = StateRunning
	} else {
		l.state = StateConfigured
	}
	return config, nil
}

// RegisterCallback installs the output sink, replacing any previous one.
func (l *Lifecycle) RegisterCallback(callback EncodedImageCallback) error {
	if callback == nil {
		return fmt.Errorf("%w: nil callback", ErrInvalidParameter)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateReleased:
		return fmt.Errorf("%w: callback registered after release", ErrInvalidState)
	case StateConfigured:
		l.state = StateRunning
	}
	l.callback = callback
	return nil
}

// BeginEncode checks that frames may be submitted and returns the current
// configuration and sink.
func (l *Lifecycle) BeginEncode() (EncoderConfig, EncodedImageCallback, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.state != StateRunning {
		return EncoderConfig{}, nil, fmt.Errorf("%w: encode while %s", ErrInvalidState, l.state)
	}
	return l.config, l.callback, nil
}

// Config returns the stored configuration, ok is false when none is held.
func (l *Lifecycle) Config() (config EncoderConfig, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.state != StateConfigured && l.state != StateRunning {
		return EncoderConfig{}, false
	}
	return l.config, true
}

func (l *Lifecycle) Callback() EncodedImageCallback {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.callback
}

// Release moves to Released. It reports whether anything was held so callers
// can skip freeing twice.
func (l *Lifecycle) Release() (wasActive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	wasActive = l.state == StateConfigured || l.state == StateRunning
	l.state = StateReleased
	l.config = EncoderConfig{}
	l.callback = nil
	return wasActive
}
