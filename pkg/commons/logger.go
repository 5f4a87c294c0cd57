// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide structured logger contract. Every component
// receives one through its constructor; no package-level logger state.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Sync() error
}

type applicationLogger struct {
	*zap.SugaredLogger
}

// LoggerOption customises logger construction.
type LoggerOption func(*loggerConfig)

type loggerConfig struct {
	level    zapcore.Level
	filePath string
}

// WithLogLevel sets the minimum level ("debug", "info", "warn", "error").
func WithLogLevel(level string) LoggerOption {
	return func(c *loggerConfig) {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			c.level = parsed
		}
	}
}

// WithLogFile mirrors log output into a size-rotated file.
func WithLogFile(path string) LoggerOption {
	return func(c *loggerConfig) {
		c.filePath = path
	}
}

// NewApplicationLogger creates the standard application logger: JSON encoding,
// ISO8601 timestamps, stdout sink, optional lumberjack-rotated file sink.
func NewApplicationLogger(opts ...LoggerOption) (Logger, error) {
	cfg := &loggerConfig{level: zapcore.InfoLevel}
	for _, opt := range opts {
		opt(cfg)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), cfg.level),
	}
	if cfg.filePath != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.filePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotated), cfg.level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return &applicationLogger{logger.Sugar()}, nil
}
