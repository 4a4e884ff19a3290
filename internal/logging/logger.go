package logging

import (
	"context"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels used with logger.V(...).
const (
	DEFAULT = 0
	VERBOSE = 1
	DEBUG   = 2
	TRACE   = 3
)

// New builds a zap-backed logr.Logger. level is a logr verbosity (0..TRACE).
func New(level int, development bool) logr.Logger {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	if level < 0 {
		level = 0
	}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-1 * level))

	z, err := cfg.Build(zap.AddCaller())
	if err != nil {
		// Config is built from constants above; a failure here means stderr is unusable.
		return logr.Discard()
	}
	return zapr.NewLogger(z)
}

// NewTestLogger creates a new Zap logger using the dev mode.
func NewTestLogger() logr.Logger {
	z := zap.New(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.AddSync(os.Stderr),
			zap.NewAtomicLevelAt(zapcore.Level(-1*TRACE)),
		),
		zap.AddCaller(),
	)
	return zapr.NewLogger(z)
}

// NewTestLoggerIntoContext creates a new Zap logger using the dev mode and inserts it into the given context.
func NewTestLoggerIntoContext(ctx context.Context) context.Context {
	return logr.NewContext(ctx, NewTestLogger())
}

// Fatal calls logger.Error followed by os.Exit(1).
func Fatal(logger logr.Logger, err error, msg string, keysAndValues ...interface{}) {
	logger.Error(err, msg, keysAndValues...)
	os.Exit(1)
}
