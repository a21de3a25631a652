// Package skerr provides error wrapping that records the call site of the
// wrap, so that errors bubbling up through several layers still point at the
// code that first saw them.
package skerr

import (
	"errors"
	"fmt"
	"runtime"
)

// wrappedError annotates an underlying error with an optional message and
// the file:line of the wrap site.
type wrappedError struct {
	msg      string
	callSite string
	wrapped  error
}

// Error implements the error interface.
func (w *wrappedError) Error() string {
	if w.msg == "" {
		return fmt.Sprintf("%s (at %s)", w.wrapped.Error(), w.callSite)
	}
	return fmt.Sprintf("%s: %s (at %s)", w.msg, w.wrapped.Error(), w.callSite)
}

// Unwrap supports errors.Is and errors.As.
func (w *wrappedError) Unwrap() error {
	return w.wrapped
}

// callSite returns the file:line of the caller skip+1 levels up.
func callSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "???"
	}
	// Trim the path down to the last two elements for readability.
	slashes := 0
	for i := len(file) - 1; i >= 0; i-- {
		if file[i] == '/' {
			slashes++
			if slashes == 2 {
				file = file[i+1:]
				break
			}
		}
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// Wrap adds call site context to the given error. Returns nil if err is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		callSite: callSite(1),
		wrapped:  err,
	}
}

// Wrapf adds a formatted message and call site context to the given error.
// Returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg:      fmt.Sprintf(format, args...),
		callSite: callSite(1),
		wrapped:  err,
	}
}

// Fmt creates a new error with call site context, analogous to fmt.Errorf.
func Fmt(format string, args ...interface{}) error {
	return &wrappedError{
		callSite: callSite(1),
		wrapped:  fmt.Errorf(format, args...),
	}
}

// Unwrap returns the innermost error if err was produced by this package,
// otherwise err itself.
func Unwrap(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
