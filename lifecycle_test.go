package videoencoder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type nopCallback struct{}

func (nopCallback) OnEncodedImage(*EncodedImage, *CodecSpecificInfo) EncodedImageCallbackResult {
	return NewResult(0)
}

func TestLifecycle(t *testing.T) {
	settings := DefaultVP8Settings()

	t.Run("encode before init is invalid state", func(t *testing.T) {
		var l Lifecycle
		_, _, err := l.BeginEncode()
		require.ErrorIs(t, err, ErrInvalidState)
		require.Equal(t, StateUninitialized, l.State())
	})

	t.Run("encode before callback is invalid state", func(t *testing.T) {
		var l Lifecycle
		_, err := l.Configure(&settings, 1, 1200)
		require.NoError(t, err)
		require.Equal(t, StateConfigured, l.State())

		_, _, err = l.BeginEncode()
		require.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("configure then register runs", func(t *testing.T) {
		var l Lifecycle
		_, err := l.Configure(&settings, 2, 1200)
		require.NoError(t, err)
		require.NoError(t, l.RegisterCallback(nopCallback{}))
		require.Equal(t, StateRunning, l.State())

		config, cb, err := l.BeginEncode()
		require.NoError(t, err)
		require.NotNil(t, cb)
		require.Equal(t, 2, config.NumberOfCores)
		require.Equal(t, 1200, config.MaxPayloadSize)
	})

	t.Run("callback registered first is kept", func(t *testing.T) {
		var l Lifecycle
		require.NoError(t, l.RegisterCallback(nopCallback{}))
		require.Equal(t, StateUninitialized, l.State())

		_, err := l.Configure(&settings, 1, 1200)
		require.NoError(t, err)
		require.Equal(t, StateRunning, l.State())
	})

	t.Run("register after release is invalid state", func(t *testing.T) {
		var l Lifecycle
		_, err := l.Configure(&settings, 1, 1200)
		require.NoError(t, err)
		require.True(t, l.Release())
		require.ErrorIs(t, l.RegisterCallback(nopCallback{}), ErrInvalidState)
	})

	t.Run("release is idempotent and reusable", func(t *testing.T) {
		var l Lifecycle
		for i := 0; i < 3; i++ {
			_, err := l.Configure(&settings, 1, 1200)
			require.NoError(t, err)
			require.True(t, l.Release())
			require.False(t, l.Release())
			require.Equal(t, StateReleased, l.State())
		}
		_, err := l.Configure(&settings, 1, 1200)
		require.NoError(t, err)
		require.Equal(t, StateConfigured, l.State())
		require.Nil(t, l.Callback())
	})

	t.Run("invalid configuration", func(t *testing.T) {
		var l Lifecycle
		bad := settings
		bad.Width = 0

		_, err := l.Configure(&bad, 1, 1200)
		require.ErrorIs(t, err, ErrInvalidParameter)
		_, err = l.Configure(nil, 1, 1200)
		require.ErrorIs(t, err, ErrInvalidParameter)
		_, err = l.Configure(&settings, 0, 1200)
		require.ErrorIs(t, err, ErrInvalidParameter)
		_, err = l.Configure(&settings, 1, 0)
		require.ErrorIs(t, err, ErrInvalidParameter)
		require.Equal(t, StateUninitialized, l.State())
	})

	t.Run("stored settings are a copy", func(t *testing.T) {
		var l Lifecycle
		s := DefaultVP9Settings()
		s.SpatialLayers = []SpatialLayer{{Width: 160, Height: 120, Active: true}}
		_, err := l.Configure(&s, 1, 1200)
		require.NoError(t, err)

		s.SpatialLayers[0].Width = 1
		config, ok := l.Config()
		require.True(t, ok)
		require.Equal(t, 160, config.Settings.SpatialLayers[0].Width)
	})
}
