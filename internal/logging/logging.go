package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup 设置默认的 slog handler, format 为 json 时输出json, 其他输出文本
func Setup(logLevel string, format string) {
	SetupWithWriter(os.Stderr, logLevel, format)
}

func SetupWithWriter(w io.Writer, logLevel string, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(logLevel)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
