package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{"info", LogLevelInfo},
		{"warn", LogLevelWarn},
		{"error", LogLevelError},
		{"none", LogLevelNone},
		{"verbose", LogLevelInfo},
		{"", LogLevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "ParseLevel(%q)", tt.in)
	}
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "NONE", LogLevelNone.String())
	assert.Contains(t, LogLevel(42).String(), "UNKNOWN")
}

func TestGologLoggerLevel(t *testing.T) {
	l := NewGologLogger()
	assert.Equal(t, LogLevelInfo, l.GetLevel())

	l.SetLevel(LogLevelError)
	assert.Equal(t, LogLevelError, l.GetLevel())
	l.Warn("suppressed at error level")
}

func TestSetDefaultLogger(t *testing.T) {
	orig := GetDefaultLogger()
	defer SetDefaultLogger(orig)

	noop := &NoOpLogger{}
	SetDefaultLogger(noop)
	assert.Same(t, noop, GetDefaultLogger())
}
