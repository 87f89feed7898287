// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errcode holds the error codes shared by the bring-up components.
//
// A Code is comparable and implements error, so callers test for a class of
// failure with errors.Is(err, errcode.Timeout) regardless of how much
// context has been wrapped around it.
package errcode

import (
	"errors"
)

type Code string

func (c Code) Error() string { return string(c) }

const (
	OK Code = "ok"

	// Expected hardware feature absent. Callers proceed with defaults.
	NotFound Code = "not found"

	// Transient protocol conditions. Retrying is up to the caller.
	Busy    Code = "busy"
	Timeout Code = "timeout"

	// Capacity violations. Fatal to the one device being enabled.
	TableFull   Code = "table full"
	DuplicateID Code = "duplicate id"

	// Fault reported by hardware or the coprocessor, passed through verbatim.
	DeviceError Code = "device error"

	Error Code = "error"
)

// E attaches the failing operation and an optional cause to a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func New(c Code, op, msg string) *E {
	return &E{C: c, Op: op, Msg: msg}
}

func Wrap(c Code, op string, err error) *E {
	return &E{C: c, Op: op, Err: err}
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }

func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts the Code from err, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	// The outermost *E decides, even when its cause carries a Code.
	var e *E
	if errors.As(err, &e) {
		return e.C
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}
