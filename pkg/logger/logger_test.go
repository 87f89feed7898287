// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSingleton(t *testing.T) {
	a := LogContainer.GetSimpleLogger()
	b := LogContainer.GetSimpleLogger()
	if a != b {
		t.Errorf("GetSimpleLogger returned two different loggers")
	}
	if LogContainer.GetLogger() == nil {
		t.Errorf("GetLogger returned nil")
	}
}

func TestSetLevel(t *testing.T) {
	l := LogContainer.GetLogger()
	LogContainer.SetLevel(zapcore.WarnLevel)
	defer LogContainer.SetLevel(zapcore.InfoLevel)
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Errorf("info level still enabled after SetLevel(warn)")
	}
	if !l.Core().Enabled(zapcore.ErrorLevel) {
		t.Errorf("error level disabled after SetLevel(warn)")
	}
}

func TestHex(t *testing.T) {
	for v, want := range map[uint64]string{
		0:          "0x0",
		0x1f:       "0x1f",
		0x87920010: "0x87920010",
	} {
		if got := LogContainer.Hex("reg", v).String; got != want {
			t.Errorf("Hex(%d) = %q, want %q", v, got, want)
		}
	}
}
