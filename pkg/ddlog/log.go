// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ddlog provides the structured logger used across the bpftuned
// core. It wraps a single *zap.SugaredLogger behind package-level functions
// so call sites never need to thread a logger value through every function
// signature, matching the ambient logging style of pkg/util/log.
package ddlog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.SugaredLogger
)

func init() {
	l, _ := zap.NewProduction()
	logger = l.Sugar()
}

// Setup replaces the package logger. debug enables DEBUG-level output;
// otherwise INFO and above is logged, matching the level set {DEBUG, INFO,
// WARN, ERROR} from the daemon's logging surface.
func Setup(debug bool) error {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
	return nil
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// WithTuner returns a child logger tagged with the owning tuner's name, the
// "tuner name (when known)" required field from the daemon's logging
// surface.
func WithTuner(name string) *zap.SugaredLogger {
	return current().With("tuner", name)
}

// Debugf logs at DEBUG level.
func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }

// Infof logs at INFO level.
func Infof(format string, args ...interface{}) { current().Infof(format, args...) }

// Warnf logs at WARN level.
func Warnf(format string, args ...interface{}) { current().Warnf(format, args...) }

// Errorf logs at ERROR level.
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	_ = current().Sync()
}
