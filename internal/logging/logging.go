// Package logging builds the process-wide zap logger. It tees to both
// stdout and a rotating log file, rotating the previous file aside at
// boot rather than appending to it, using a zapcore.Tee rather than a
// bespoke io.Writer.
package logging

import (
	"os"
	"path/filepath"

	"github.com/go-logr/zapr"
	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logDir    = "log"
	latestLog = "log/latest.txt"
	lastLog   = "log/last.txt"
)

// New builds a *zap.Logger that writes to stdout and to log/latest.txt,
// rotating the previous latest.txt to last.txt first (teacher's newLogger
// rename-on-boot convention).
func New(debug bool) (*zap.Logger, error) {
	if err := os.MkdirAll(logDir, 0o777); err != nil {
		return nil, err
	}
	_ = os.Rename(filepath.Clean(latestLog), filepath.Clean(lastLog))

	f, err := os.OpenFile(latestLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, err
	}

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), level)
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level)

	core := zapcore.NewTee(consoleCore, fileCore)
	return zap.New(core, zap.AddCaller()), nil
}

// AsLogr adapts l to the logr.Logger shape, for any component (metrics
// exporters, viper) that wants that interface rather than a concrete zap
// call.
func AsLogr(l *zap.Logger) logr.Logger {
	return zapr.NewLogger(l)
}
