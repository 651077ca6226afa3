package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("unknown"))
}

func TestSetupWithWriter(t *testing.T) {
	defaultLogger := slog.Default()
	defer slog.SetDefault(defaultLogger)

	t.Run("json格式带module", func(t *testing.T) {
		buf := &bytes.Buffer{}
		SetupWithWriter(buf, "info", "json")
		WithModule("engine").Info("hello")
		assert.Contains(t, buf.String(), `"module":"engine"`)
		assert.Contains(t, buf.String(), `"msg":"hello"`)
	})

	t.Run("级别过滤", func(t *testing.T) {
		buf := &bytes.Buffer{}
		SetupWithWriter(buf, "warn", "text")
		slog.Info("dropped")
		slog.Warn("kept")
		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})
}
