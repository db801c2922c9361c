package tui

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logBuffer = 256

// logWriter hands encoded log lines to the UI goroutine. Lines are dropped
// when the pane falls behind, the logger must never block a caller holding
// the panel lock.
type logWriter struct {
	lines chan string
}

func newLogWriter() *logWriter {
	return &logWriter{lines: make(chan string, logBuffer)}
}

func (w *logWriter) Write(p []byte) (int, error) {
	select {
	case w.lines <- string(p):
	default:
	}
	return len(p), nil
}

func (w *logWriter) Sync() error { return nil }

// newLogger builds a console logger writing into w.
func newLogger(w *logWriter, level zapcore.Level) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	enc.CallerKey = ""

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), w, level)
	return zap.New(core)
}
