package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		development bool
		level       string
		debug       bool
		info        bool
	}{
		{name: "development logs debug", development: true, debug: true, info: true},
		{name: "production starts at info", info: true},
		{name: "level override", development: true, level: "warn"},
		{name: "production debug", level: "debug", debug: true, info: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := New(tt.development, tt.level)
			require.NoError(t, err)
			require.Equal(t, tt.debug, logger.Core().Enabled(zapcore.DebugLevel))
			require.Equal(t, tt.info, logger.Core().Enabled(zapcore.InfoLevel))
			require.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New(false, "chatty")
	require.ErrorContains(t, err, "parse log level")
}
