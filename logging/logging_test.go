package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/station-ledger/config"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level string
		min   zapcore.Level
	}{
		{"debug", zap.DebugLevel},
		{"warn", zap.WarnLevel},
		{"error", zap.ErrorLevel},
		{"", zap.InfoLevel},
		{"verbose", zap.InfoLevel},
	}
	for _, tt := range tests {
		for _, format := range []string{"json", "console"} {
			t.Run(tt.level+"/"+format, func(t *testing.T) {
				logger, err := New(config.Log{Level: tt.level, Format: format})
				require.NoError(t, err)
				assert.True(t, logger.Core().Enabled(tt.min))
				assert.False(t, logger.Core().Enabled(tt.min-1))
			})
		}
	}
}
