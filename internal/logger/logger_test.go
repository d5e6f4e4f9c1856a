package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "jo**@doe.com", MaskEmail("john@doe.com"))
	assert.Equal(t, "**@doe.com", MaskEmail("jo@doe.com"))
	assert.Equal(t, "****", MaskEmail("not-an-email"))
	assert.Equal(t, "****", MaskEmail("@doe.com"))
}

func TestNew_Level(t *testing.T) {
	l := New("debug", "development")
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l = New("warn", "production")
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l = New("bogus", "production")
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}
