package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		logger, err := New("warn", format)
		require.NoError(t, err, format)
		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("chatty", "json")
	assert.Error(t, err)

	_, err = New("info", "xml")
	assert.Error(t, err)

	assert.Panics(t, func() { Must("info", "xml") })
}
