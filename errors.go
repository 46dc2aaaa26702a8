package videoencoder

import (
	"errors"

	"github.com/go-logr/logr"
)

// Logger is used by the package when a component is not given its own logger.
var Logger logr.Logger = logr.Discard()

var (
	// ErrInvalidParameter reports malformed input: bad settings, malformed frame,
	// negative bitrate.
	ErrInvalidParameter = errors.New("videoencoder: invalid parameter")

	// ErrInvalidState reports an operation that is illegal in the current
	// lifecycle state.
	ErrInvalidState = errors.New("videoencoder: invalid state")

	// ErrResourceExhausted is transient, the caller may retry after backoff.
	ErrResourceExhausted = errors.New("videoencoder: resource exhausted")

	// ErrInsufficientResources is returned by InitEncode when memory or cores
	// can't satisfy the configuration.
	ErrInsufficientResources = errors.New("videoencoder: insufficient resources")

	// ErrInternal is an implementation fault. Repeated internal errors mean the
	// instance should be released and initialized again.
	ErrInternal = errors.New("videoencoder: internal error")
)

// IsFatal reports whether err means the encoder instance is no longer usable
// without Release followed by InitEncode.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInternal)
}
