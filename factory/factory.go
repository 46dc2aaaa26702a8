// Package factory keeps the encoder implementations available to a session
// and creates encoders by codec or by implementation name.
package factory

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/jiyeyuran/videoencoder"
	"github.com/jiyeyuran/videoencoder/fallback"
	"github.com/jiyeyuran/videoencoder/passthrough"
	"github.com/zhangyunhao116/skipmap"
)

var ErrUnsupportedCodec = errors.New("factory: unsupported codec")

type Constructor func() videoencoder.VideoEncoder

// Format describes one registered implementation.
type Format struct {
	Name      string
	CodecType videoencoder.CodecType
	Hardware  bool
}

func (f Format) key() string {
	return string(f.CodecType) + "/" + f.Name
}

type entry struct {
	format      Format
	constructor Constructor
}

// Registry is safe for concurrent use. Formats are listed ordered by codec
// then name.
type Registry struct {
	entries *skipmap.StringMap[*entry]
	logger  logr.Logger
}

func WithLogger(logger logr.Logger) func(*Registry) {
	return func(r *Registry) {
		r.logger = logger
	}
}

func NewRegistry(options ...func(*Registry)) *Registry {
	r := &Registry{
		entries: skipmap.NewString[*entry](),
		logger:  videoencoder.Logger,
	}
	for _, option := range options {
		option(r)
	}
	r.logger = r.logger.WithName("factory")
	return r
}

// NewDefaultRegistry has the passthrough software encoder for every codec.
func NewDefaultRegistry(options ...func(*Registry)) *Registry {
	r := NewRegistry(options...)
	for _, codec := range []videoencoder.CodecType{
		videoencoder.CodecVP8,
		videoencoder.CodecVP9,
		videoencoder.CodecH264,
		videoencoder.CodecAV1,
	} {
		_ = r.Register(Format{Name: passthrough.DefaultImplementationName, CodecType: codec}, func() videoencoder.VideoEncoder {
			return passthrough.New(passthrough.WithLogger(r.logger))
		})
	}
	return r
}

// Register adds an implementation. Names are unique per codec.
func (r *Registry) Register(format Format, constructor Constructor) error {
	if format.Name == "" || constructor == nil {
		return fmt.Errorf("%w: format needs a name and a constructor", videoencoder.ErrInvalidParameter)
	}
	if _, loaded := r.entries.LoadOrStore(format.key(), &entry{format: format, constructor: constructor}); loaded {
		return fmt.Errorf("%w: %s already registered", videoencoder.ErrInvalidParameter, format.key())
	}
	r.logger.V(1).Info("encoder registered", "codec", format.CodecType, "name", format.Name, "hardware", format.Hardware)
	return nil
}

func (r *Registry) Unregister(codec videoencoder.CodecType, name string) {
	r.entries.Delete(Format{Name: name, CodecType: codec}.key())
}

func (r *Registry) SupportedFormats() []Format {
	formats := make([]Format, 0, r.entries.Len())
	r.entries.Range(func(key string, value *entry) bool {
		formats = append(formats, value.format)
		return true
	})
	return formats
}

// Create returns an encoder for codec. When both a hardware and a software
// implementation exist, the hardware one is wrapped with a software fallback.
func (r *Registry) Create(codec videoencoder.CodecType) (videoencoder.VideoEncoder, error) {
	var hardware, software *entry
	r.entries.Range(func(key string, value *entry) bool {
		if value.format.CodecType != codec {
			return true
		}
		if value.format.Hardware && hardware == nil {
			hardware = value
		} else if !value.format.Hardware && software == nil {
			software = value
		}
		return true
	})

	switch {
	case hardware != nil && software != nil:
		return fallback.New(hardware.constructor(), software.constructor(), fallback.WithLogger(r.logger)), nil
	case hardware != nil:
		return hardware.constructor(), nil
	case software != nil:
		return software.constructor(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}
}

// CreateByName returns the named implementation without any fallback.
func (r *Registry) CreateByName(codec videoencoder.CodecType, name string) (videoencoder.VideoEncoder, error) {
	e, ok := r.entries.Load(Format{Name: name, CodecType: codec}.key())
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedCodec, codec, name)
	}
	return e.constructor(), nil
}
