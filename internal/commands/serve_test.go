package commands

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

func TestNewLogger_DefaultsToInfo(t *testing.T) {
	logger := newLogger(carrottypes.LoggingConfig{})
	assert.True(t, logger.Enabled(nil, slog.LevelInfo))
	assert.False(t, logger.Enabled(nil, slog.LevelDebug))
}

func TestNewLogger_HonorsDebugLevel(t *testing.T) {
	logger := newLogger(carrottypes.LoggingConfig{DefaultLevel: "debug"})
	assert.True(t, logger.Enabled(nil, slog.LevelDebug))
}

func TestNewLogger_HonorsErrorLevel(t *testing.T) {
	logger := newLogger(carrottypes.LoggingConfig{DefaultLevel: "error"})
	assert.False(t, logger.Enabled(nil, slog.LevelWarn))
	assert.True(t, logger.Enabled(nil, slog.LevelError))
}
