// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import "github.com/pkg/errors"

// A FatalError reports a broken invariant the server cannot repair.
// It unwinds the whole server: every dispatch path returns it unchanged
// and Run stops when it sees one.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return "devio: fatal: " + e.err.Error() }

func (e *FatalError) Cause() error { return e.err }

func (e *FatalError) Unwrap() error { return e.err }

func fatalf(format string, args ...any) error {
	return &FatalError{errors.Errorf(format, args...)}
}

func fatal(err error, msg string) error {
	return &FatalError{errors.Wrap(err, msg)}
}

// IsFatal reports whether err, or an error it wraps, is a FatalError.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
