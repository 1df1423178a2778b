package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		logger, err := New(Config{Level: "info", Format: "json"})
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("test entry")
	})

	t.Run("console format", func(t *testing.T) {
		logger, err := New(Config{Level: "debug", Format: "console"})
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("empty format defaults to json", func(t *testing.T) {
		_, err := New(Config{Level: "warn"})
		assert.NoError(t, err)
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(Config{Level: "verbose", Format: "json"})
		assert.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := New(Config{Level: "info", Format: "xml"})
		assert.Error(t, err)
	})
}

func TestSync(t *testing.T) {
	logger, err := New(Config{Level: "info", Format: "json"})
	require.NoError(t, err)
	// Syncing stderr returns EINVAL on Linux; Sync must swallow it.
	assert.NoError(t, Sync(logger))
}
