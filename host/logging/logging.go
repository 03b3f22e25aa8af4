// Package logging hands out named zap loggers that share one level, so
// host tools can change verbosity after their loggers were created.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	root  = newRoot()
)

func newRoot() *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

// New returns a logger for the named component.
func New(name string) *zap.Logger {
	return root.Named(name)
}

// SetLevel parses and applies a level name such as "debug" or "warn".
func SetLevel(name string) error {
	return level.UnmarshalText([]byte(name))
}
