package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// testWriter forwards encoded log lines to the underlying `testing.TB` so they are attributed to
// the right test when tests run in parallel.
type testWriter struct {
	tb testing.TB
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.tb.Helper()
	tw.tb.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Sync is a no-op.
func (tw testWriter) Sync() error {
	return nil
}

func newTestCore(tb testing.TB, level zap.AtomicLevel) zapcore.Core {
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(NewEncoderConfig(false, false)),
		testWriter{tb},
		level,
	)
}
