// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logger

import (
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFileEnv names an optional file that receives a copy of every log line.
const LogFileEnv = "UBRINGUP_LOG"

var (
	LogContainer     logContainer
	loggerInit       sync.Once
	simpleLoggerInit sync.Once
)

type logContainer struct {
	logger       *zap.Logger
	simpleLogger *zap.SugaredLogger
	level        zap.AtomicLevel
	levelInit    sync.Once
}

// GetLogger returns the pointer to the logger and creates one if none exists
func (l *logContainer) GetLogger() *zap.Logger {
	loggerInit.Do(func() {
		l.logger = zap.New(l.core())
	})
	return l.logger
}

// GetSimpleLogger returns the pointer to the sugared logger and creates one
// if none exists
func (l *logContainer) GetSimpleLogger() *zap.SugaredLogger {
	simpleLoggerInit.Do(func() {
		l.simpleLogger = l.GetLogger().Sugar()
	})
	return l.simpleLogger
}

// SetLevel changes the level of every core handed out by the container.
func (l *logContainer) SetLevel(lvl zapcore.Level) {
	l.atomicLevel().SetLevel(lvl)
}

// String mirrors zap.String
func (l *logContainer) String(key string, val string) zap.Field {
	return zap.String(key, val)
}

// Int mirrors zap.Int
func (l *logContainer) Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

// Hex formats val as a hexadecimal register value.
func (l *logContainer) Hex(key string, val uint64) zap.Field {
	return zap.String(key, "0x"+strconv.FormatUint(val, 16))
}

func (l *logContainer) atomicLevel() zap.AtomicLevel {
	l.levelInit.Do(func() {
		l.level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	})
	return l.level
}

// encoder renders colored console lines for the operator, or JSON with
// epoch timestamps for the log file.
func encoder(json bool) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	if json {
		cfg.EncodeTime = zapcore.EpochTimeEncoder
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func openLogFile(path string) (zapcore.WriteSyncer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}

func (l *logContainer) core() zapcore.Core {
	console := zapcore.NewCore(encoder(false), zapcore.Lock(os.Stdout), l.atomicLevel())
	path := os.Getenv(LogFileEnv)
	if path == "" {
		return console
	}
	w, err := openLogFile(path)
	if err != nil {
		// Early boot may not have a writable filesystem yet.
		return console
	}
	return zapcore.NewTee(console, zapcore.NewCore(encoder(true), w, l.atomicLevel()))
}
