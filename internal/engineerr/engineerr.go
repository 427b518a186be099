/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package engineerr defines the engine's discriminated error type. Every
// failure that can cross a component boundary is a Code plus an optional
// wrapped cause; nothing communicates control flow through panics.
package engineerr

import (
	"errors"
	"fmt"
)

// Code enumerates the closed set of engine exit signals.
type Code string

const (
	Ok                Code = "Ok"
	SchemaViolation   Code = "SchemaViolation"
	MissingProps      Code = "MissingProps"
	VariableRefError  Code = "VariableRefError"
	UnknownStep       Code = "UnknownStep"
	UnknownCustom     Code = "UnknownCustom"
	NestingExceeded   Code = "NestingExceeded"
	Timeout           Code = "Timeout"
	MemoryExceeded    Code = "MemoryExceeded"
	CapabilityDenied  Code = "CapabilityDenied"
	PoolExhausted     Code = "PoolExhausted"
	YamlSecurityError Code = "YamlSecurityError"
	ProviderError     Code = "ProviderError"
	Internal          Code = "Internal"
)

// Error is the engine's single discriminated error shape. Paths holds the
// offending JSON-pointer-like paths for SchemaViolation; Cause carries
// the wrapped failure for ProviderError.
type Error struct {
	Code    Code
	Message string
	Paths   []string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error carrying only a message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that wraps an upstream cause.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

// WithPaths attaches offending paths (used for SchemaViolation) and
// returns the receiver for chaining.
func (e *Error) WithPaths(paths []string) *Error {
	e.Paths = paths
	return e
}

// CodeOf extracts the Code from any error, defaulting to Internal for
// errors that did not originate in this package.
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return Internal
}

// Severe reports whether a code is security-relevant for threat scoring
// weighting purposes (see internal/threat).
func Severe(c Code) bool {
	switch c {
	case CapabilityDenied, YamlSecurityError, NestingExceeded:
		return true
	default:
		return false
	}
}
