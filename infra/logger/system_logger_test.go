package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSystemLogger(t *testing.T) {
	sl := NewSystemLogger(nil, SystemLoggerConfig{
		EnableConsole:    true,
		EnableOpenSearch: true,
		MinLevel:         LevelWarn,
		Service:          "paygate",
		Version:          "1.0.0",
		Environment:      "test",
	})

	assert.True(t, sl.enableConsole)
	// OpenSearch sink requires a logger, so it stays off without one.
	assert.False(t, sl.enableOpenSearch)
	assert.Equal(t, LevelWarn, sl.minLevel)
	assert.Equal(t, "paygate", sl.service)
}

func TestLogLevel_Severity(t *testing.T) {
	ordered := []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i].severity(), ordered[i-1].severity(),
			"%s must outrank %s", ordered[i], ordered[i-1])
	}

	// Unknown levels default to info severity.
	assert.Equal(t, LevelInfo.severity(), LogLevel("trace").severity())
}

func TestComponentFromPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{
			name:     "provider_package",
			path:     "/home/dev/paygate/provider/dibs/dibs.go",
			expected: "provider/dibs",
		},
		{
			name:     "infra_package",
			path:     "/home/dev/paygate/infra/config/conf.go",
			expected: "infra/config",
		},
		{
			name:     "top_level_file",
			path:     "/home/dev/paygate/main.go",
			expected: "main.go",
		},
		{
			name:     "outside_module",
			path:     "/usr/local/go/src/net/http/server.go",
			expected: "http",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, componentFromPath(tt.path))
		})
	}
}

func TestSystemLogger_MinLevelFilter(t *testing.T) {
	// Nothing should reach the sinks below the configured level; with both
	// sinks disabled this exercises the severity gate without output.
	sl := NewSystemLogger(nil, SystemLoggerConfig{MinLevel: LevelError})

	assert.NotPanics(t, func() {
		sl.Debug("dropped")
		sl.Info("dropped")
		sl.Warn("dropped")
		sl.Error("kept", assert.AnError)
	})
}

func TestContextLogger_AddField(t *testing.T) {
	sl := NewSystemLogger(nil, SystemLoggerConfig{MinLevel: LevelInfo})

	cl := sl.WithContext(LogContext{TenantID: "7", Provider: "stripe"})
	cl.AddField("payment_id", "pay-1").AddField("attempt", 2)

	assert.Equal(t, "7", cl.context.TenantID)
	assert.Equal(t, "stripe", cl.context.Provider)
	assert.Equal(t, "pay-1", cl.context.Fields["payment_id"])
	assert.Equal(t, 2, cl.context.Fields["attempt"])
}

func TestSystemLogger_ErrorAttachesField(t *testing.T) {
	sl := NewSystemLogger(nil, SystemLoggerConfig{MinLevel: LevelInfo})

	ctx := LogContext{TenantID: "7"}
	assert.NotPanics(t, func() {
		sl.Error("payment failed", assert.AnError, ctx)
	})
	// The caller's context must not be mutated in place.
	assert.Nil(t, ctx.Fields)
}
